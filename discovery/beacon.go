package discovery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/protocol"
)

// SignalKind enumerates the closed vocabulary of discovery Signals.
type SignalKind int

const (
	// PeerUp announces a publisher Endpoint which should be attached.
	PeerUp SignalKind = iota + 1
	// PeerDown announces a publisher Endpoint which should be detached.
	PeerDown
	// Ready is emitted once by a started Beacon.
	Ready
	// Terminate asks a Beacon to stop.
	Terminate
	// Ack is emitted by a Beacon in answer to Terminate, and is its final Signal.
	Ack
)

func (k SignalKind) String() string {
	switch k {
	case PeerUp:
		return "PeerUp"
	case PeerDown:
		return "PeerDown"
	case Ready:
		return "Ready"
	case Terminate:
		return "Terminate"
	case Ack:
		return "Ack"
	}
	return fmt.Sprintf("SignalKind(%d)", int(k))
}

// Signal is a control message exchanged with a Beacon.
type Signal struct {
	Kind SignalKind
	// Endpoint of PeerUp and PeerDown Signals.
	Endpoint protocol.Endpoint
}

func (s Signal) String() string {
	if s.Endpoint != "" {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Endpoint)
	}
	return s.Kind.String()
}

// Identity is announced by a consumer to its Beacon.
type Identity struct {
	// Address of the consumer, which directly-addressed messages are sent to.
	Address string
	// Endpoint at which the consumer publishes its own frames (FETCH,
	// GET_HEADS and CONSUMER_HELLO) to publishers which attach to it.
	Endpoint protocol.Endpoint
}

// Validate returns an error if the Identity is not well-formed.
func (id Identity) Validate() error {
	if id.Address == "" {
		return errors.New("expected Identity Address")
	}
	return errors.WithMessage(id.Endpoint.Validate(), "Identity Endpoint")
}

// Beacon discovers publishers on behalf of a consumer.
type Beacon interface {
	// Start the Beacon with the consumer's Identity, and block until it's Ready.
	Start(context.Context, Identity) error
	// Signals returns the channel of PeerUp and PeerDown Signals of a
	// started Beacon.
	Signals() <-chan Signal
	// Terminate the Beacon, and block until it Acks. Signals must not be
	// concurrently read by another goroutine.
	Terminate() error
}

// actor implements the Signal exchange common to Beacons. The actor loop is
// handed a function to emit Signals, and the channel of Signals sent to the
// actor by its owner. Signals is closed when the loop returns.
type actor struct {
	name     string
	signals  chan Signal
	commands chan Signal
	cancel   context.CancelFunc
	started  bool
}

func newActor(name string) actor {
	return actor{
		name:     name,
		signals:  make(chan Signal, 16),
		commands: make(chan Signal, 16),
	}
}

func (a *actor) Signals() <-chan Signal { return a.signals }

// start |run| on a new goroutine and await its Ready Signal.
func (a *actor) start(ctx context.Context, run func(ctx context.Context, emit func(Signal) bool, commands <-chan Signal)) error {
	if a.started {
		return errors.Errorf("%s beacon already started", a.name)
	}
	a.started = true

	var actorCtx, cancel = context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		defer close(a.signals)

		run(actorCtx, func(s Signal) bool {
			select {
			case a.signals <- s:
				signalsTotal.WithLabelValues(s.Kind.String()).Inc()
				return true
			case <-actorCtx.Done():
				return false
			}
		}, a.commands)
	}()

	select {
	case s, ok := <-a.signals:
		if !ok {
			return errors.Errorf("%s beacon exited before Ready", a.name)
		} else if s.Kind != Ready {
			cancel()
			return errors.WithMessagef(ErrUnexpectedSignal, "awaiting Ready, got %s", s)
		}
		log.WithField("beacon", a.name).Debug("beacon is ready")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// terminate sends Terminate to the actor, and discards further Signals
// until its Ack is read.
func (a *actor) terminate() error {
	if !a.started {
		return errors.Errorf("%s beacon not started", a.name)
	}
	defer a.cancel()

	a.commands <- Signal{Kind: Terminate}

	for s := range a.signals {
		switch s.Kind {
		case Ack:
			log.WithField("beacon", a.name).Debug("beacon acknowledged termination")
			return nil
		case PeerUp, PeerDown:
			// Discard peer changes racing with termination.
		default:
			return errors.WithMessagef(ErrUnexpectedSignal, "awaiting Ack, got %s", s)
		}
	}
	return errors.Errorf("%s beacon exited without Ack", a.name)
}
