// Package consumer is the protocol engine of a dafka consumer: it tracks the
// sequence of each (subject, producer) stream, delivers messages of a stream
// strictly in order, and recovers gaps by fetching missing sequences from
// their producer (or a store which replays it).
package consumer

import (
	"go.dafka.dev/core/protocol"
)

// Receiver is the inbound transport of a Consumer. transport.Subscriber is
// the canonical implementation.
type Receiver interface {
	// Subscribe to received frames matching the Filter.
	Subscribe(protocol.Filter)
	// Attach to a publisher Endpoint. Attaching an attached Endpoint is a no-op.
	Attach(protocol.Endpoint) error
	// Detach from a publisher Endpoint. Detaching an unknown Endpoint is a no-op.
	Detach(protocol.Endpoint) error
	// Envelopes received from attached publishers which match a Filter.
	Envelopes() <-chan protocol.Envelope
	// Close the Receiver.
	Close()
}

// Sender is the outbound transport of a Consumer, to which FETCH, GET_HEADS
// and CONSUMER_HELLO messages are broadcast. Send must not block, and need not
// deliver. transport.Publisher is the canonical implementation.
type Sender interface {
	Send(protocol.Envelope) error
}

// Sink receives the messages of each stream in sequence order. A returned
// error is fatal to the Consumer.
type Sink interface {
	Deliver(Delivery) error
}

// Delivery is a message delivered to a Sink.
type Delivery struct {
	Subject  string
	Address  string
	Sequence int64
	Payload  []byte
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Delivery) error

// Deliver invokes the SinkFunc.
func (fn SinkFunc) Deliver(d Delivery) error { return fn(d) }

// ChannelSink is a Sink which sends each Delivery to the channel. Deliver
// blocks until the channel has capacity.
type ChannelSink chan Delivery

// Deliver sends to the ChannelSink.
func (ch ChannelSink) Deliver(d Delivery) error {
	ch <- d
	return nil
}
