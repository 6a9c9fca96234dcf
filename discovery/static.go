package discovery

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/protocol"
)

// Static is a Beacon of a fixed set of publisher Endpoints, which are
// announced as PeerUp upon Start. Further peer changes may be made with
// Up and Down.
type Static struct {
	actor
	peers []protocol.Endpoint
}

// NewStatic returns a Static Beacon of the given publisher Endpoints.
func NewStatic(peers ...protocol.Endpoint) *Static {
	return &Static{actor: newActor("static"), peers: peers}
}

// Start the Static Beacon.
func (s *Static) Start(ctx context.Context, id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return s.start(ctx, s.run)
}

// Terminate the Static Beacon.
func (s *Static) Terminate() error { return s.terminate() }

// Up announces a publisher Endpoint.
func (s *Static) Up(ep protocol.Endpoint) { s.commands <- Signal{Kind: PeerUp, Endpoint: ep} }

// Down announces the departure of a publisher Endpoint.
func (s *Static) Down(ep protocol.Endpoint) { s.commands <- Signal{Kind: PeerDown, Endpoint: ep} }

// Relay the Signal verbatim to the Beacon's owner. It lets tests of owners
// exercise Signals which a well-behaved Beacon never emits.
func (s *Static) Relay(sig Signal) { s.commands <- sig }

func (s *Static) run(ctx context.Context, emit func(Signal) bool, commands <-chan Signal) {
	if !emit(Signal{Kind: Ready}) {
		return
	}
	for _, ep := range s.peers {
		if !emit(Signal{Kind: PeerUp, Endpoint: ep}) {
			return
		}
	}
	for {
		select {
		case cmd := <-commands:
			if cmd.Kind == Terminate {
				emit(Signal{Kind: Ack})
				return
			}
			log.WithField("signal", cmd).Debug("static beacon relaying signal")

			if !emit(cmd) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
