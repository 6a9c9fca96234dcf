package consumer

import (
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/protocol"
)

// Subscriptions manages the subjects to which a consumer is subscribed.
// It's not safe for concurrent use.
type Subscriptions struct {
	address  string
	policy   OffsetPolicy
	receiver Receiver
	subjects []string
}

// NewSubscriptions returns Subscriptions of the consumer |address|, which
// registers Filters with the Receiver.
func NewSubscriptions(address string, policy OffsetPolicy, receiver Receiver) *Subscriptions {
	return &Subscriptions{address: address, policy: policy, receiver: receiver}
}

// Subscribe to messages and heads of |subject|, returning Envelopes which
// should be sent as a result. Under the Earliest policy, a GET_HEADS asks
// producers of |subject| for their current heads, so that streams which
// are quiet may still be recovered from their beginning.
//
// Subscribing to a subject more than once is permitted, and repeats its
// effects.
func (s *Subscriptions) Subscribe(subject string) []protocol.Envelope {
	s.receiver.Subscribe(protocol.Filter{Kind: protocol.Kind_MSG, Prefix: subject})
	s.receiver.Subscribe(protocol.Filter{Kind: protocol.Kind_HEAD, Prefix: subject})
	s.subjects = append(s.subjects, subject)

	log.WithFields(log.Fields{
		"subject": subject,
		"policy":  s.policy,
	}).Info("subscribed to subject")

	if s.policy != Earliest {
		return nil
	}
	return []protocol.Envelope{{
		Kind:    protocol.Kind_GET_HEADS,
		Topic:   subject,
		Address: s.address,
	}}
}

// Subjects returns subscribed subjects, in subscription order.
func (s *Subscriptions) Subjects() []string {
	return append([]string(nil), s.subjects...)
}

// Hello returns the CONSUMER_HELLO answering a STORE_HELLO of the store
// |storeAddress|. It declares the subjects the store should replay, which
// are all subscribed subjects under the Earliest policy, and none otherwise.
func (s *Subscriptions) Hello(storeAddress string) protocol.Envelope {
	var env = protocol.Envelope{
		Kind:    protocol.Kind_CONSUMER_HELLO,
		Topic:   storeAddress,
		Address: s.address,
	}
	if s.policy == Earliest {
		env.Subjects = s.Subjects()
	}
	return env
}
