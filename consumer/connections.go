package consumer

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/discovery"
)

// Connections applies discovery Signals to a Receiver.
type Connections struct {
	receiver Receiver
}

// NewConnections returns Connections of the Receiver.
func NewConnections(receiver Receiver) *Connections {
	return &Connections{receiver: receiver}
}

// Apply the Signal. PeerUp attaches the Receiver to the Signal Endpoint, and
// PeerDown detaches it. A failure to do so is returned, and may be retried
// by the caller. Any other Signal is a contract violation of the Beacon, and
// discovery.ErrUnexpectedSignal is returned.
func (c *Connections) Apply(sig discovery.Signal) error {
	var err error

	switch sig.Kind {
	case discovery.PeerUp:
		err = errors.WithMessagef(c.receiver.Attach(sig.Endpoint), "attaching %s", sig.Endpoint)
	case discovery.PeerDown:
		err = errors.WithMessagef(c.receiver.Detach(sig.Endpoint), "detaching %s", sig.Endpoint)
	default:
		peerChangesTotal.WithLabelValues(sig.Kind.String(), "unexpected").Inc()
		return errors.WithMessagef(discovery.ErrUnexpectedSignal, "applying %s", sig)
	}

	if err != nil {
		peerChangesTotal.WithLabelValues(sig.Kind.String(), "failed").Inc()
		return err
	}
	peerChangesTotal.WithLabelValues(sig.Kind.String(), "ok").Inc()

	log.WithFields(log.Fields{
		"signal":   sig.Kind,
		"endpoint": sig.Endpoint,
	}).Info("applied peer change")

	return nil
}
