package consumer

import (
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/protocol"
)

// Outcome describes the effect of a dispatched Envelope.
type Outcome string

const (
	// OutcomeDelivered is a message which was next in its stream.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeFetched is a message or head which revealed missing sequences.
	OutcomeFetched Outcome = "fetched"
	// OutcomeStale is a message which was already delivered.
	OutcomeStale Outcome = "stale"
	// OutcomeBaseline is a head which began a stream under the Latest policy.
	OutcomeBaseline Outcome = "baseline"
	// OutcomeCurrent is a head through which the stream was already delivered.
	OutcomeCurrent Outcome = "current"
	// OutcomeHello is a STORE_HELLO, which was answered.
	OutcomeHello Outcome = "hello"
	// OutcomeIgnored is an Envelope of a Kind which consumers don't handle.
	OutcomeIgnored Outcome = "ignored"
)

// Step is the effect of dispatching an Envelope, beyond its update of
// the Tracker.
type Step struct {
	// Deliver, if non-nil, is to be delivered to the Sink.
	Deliver *Delivery
	// Send is Envelopes to be sent.
	Send []protocol.Envelope
	// Outcome of the dispatch.
	Outcome Outcome
}

// Dispatcher maps received Envelopes to Tracker updates and Steps.
// It's not safe for concurrent use.
type Dispatcher struct {
	address       string
	policy        OffsetPolicy
	tracker       *Tracker
	subscriptions *Subscriptions
}

// NewDispatcher returns a Dispatcher of the consumer |address|.
func NewDispatcher(address string, policy OffsetPolicy, tracker *Tracker, subscriptions *Subscriptions) *Dispatcher {
	return &Dispatcher{
		address:       address,
		policy:        policy,
		tracker:       tracker,
		subscriptions: subscriptions,
	}
}

// Dispatch the Envelope.
func (d *Dispatcher) Dispatch(env protocol.Envelope) Step {
	var step Step

	switch {
	case env.Kind.IsMessage():
		step = d.onMessage(env)
	case env.Kind.IsHead():
		step = d.onHead(env)
	case env.Kind == protocol.Kind_STORE_HELLO:
		step = Step{
			Send:    []protocol.Envelope{d.subscriptions.Hello(env.Address)},
			Outcome: OutcomeHello,
		}
	default:
		step = Step{Outcome: OutcomeIgnored}
	}
	envelopesTotal.WithLabelValues(env.Kind.String(), string(step.Outcome)).Inc()

	if entry := log.WithFields(log.Fields{
		"kind":     env.Kind,
		"subject":  env.Subject,
		"address":  env.Address,
		"sequence": env.Sequence,
		"outcome":  step.Outcome,
	}); step.Outcome == OutcomeIgnored {
		entry.Warn("ignoring envelope of unexpected kind")
	} else if log.IsLevelEnabled(log.DebugLevel) {
		entry.Debug("dispatched envelope")
	}
	return step
}

func (d *Dispatcher) onMessage(env protocol.Envelope) Step {
	var key = StreamKey{Subject: env.Subject, Address: env.Address}
	var last, known = d.tracker.Observe(key)

	if !known {
		if d.policy == Earliest {
			last = -1
		} else {
			last = env.Sequence - 1
		}
		d.tracker.Advance(key, last)
		trackedStreams.Set(float64(d.tracker.Len()))
	}

	if req, ok := DetectGap(key, last, env.Sequence); ok {
		return d.fetch(req)
	} else if env.Sequence <= last {
		return Step{Outcome: OutcomeStale}
	}

	d.tracker.Advance(key, env.Sequence)
	deliveredBytesTotal.Add(float64(len(env.Payload)))

	return Step{
		Deliver: &Delivery{
			Subject:  env.Subject,
			Address:  env.Address,
			Sequence: env.Sequence,
			Payload:  env.Payload,
		},
		Outcome: OutcomeDelivered,
	}
}

func (d *Dispatcher) onHead(env protocol.Envelope) Step {
	var key = StreamKey{Subject: env.Subject, Address: env.Address}
	var last, known = d.tracker.Observe(key)

	if !known && d.policy == Latest {
		// Consumption begins after the current head.
		d.tracker.Advance(key, env.Sequence)
		trackedStreams.Set(float64(d.tracker.Len()))
		return Step{Outcome: OutcomeBaseline}
	}

	if req, ok := DetectHeadGap(key, last, known, env.Sequence); ok {
		return d.fetch(req)
	}
	return Step{Outcome: OutcomeCurrent}
}

func (d *Dispatcher) fetch(req FetchRequest) Step {
	fetchesTotal.Inc()
	fetchedSequencesTotal.Add(float64(req.Count))

	return Step{
		Send:    []protocol.Envelope{req.Envelope(d.address)},
		Outcome: OutcomeFetched,
	}
}
