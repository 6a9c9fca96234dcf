package protocol

import (
	"github.com/pkg/errors"
)

// Envelope is a decoded protocol message. Envelopes are values: once decoded
// they're not modified, and consumers treat them as read-only.
type Envelope struct {
	// Kind of the message.
	Kind Kind
	// Topic is the wire-level key over which subscribers filter. It's the
	// subject of broadcast messages, and the recipient address of directed ones.
	Topic string
	// Address of the sender.
	Address string
	// Subject of the message stream.
	Subject string
	// Sequence number of the message within its (Subject, Address) stream.
	// For HEAD messages it's the producer's highest sequence, and for FETCH
	// it's the first sequence requested.
	Sequence int64
	// Count of sequences requested by a FETCH.
	Count int64
	// Subjects declared by a CONSUMER_HELLO.
	Subjects []string
	// Payload is opaque message content.
	Payload []byte
}

// Validate returns an error if the Envelope is not well-formed.
func (m *Envelope) Validate() error {
	if err := m.Kind.Validate(); err != nil {
		return errors.WithMessagef(err, "Kind %s", m.Kind)
	} else if m.Sequence < 0 {
		return errors.Errorf("invalid Sequence (%d; expected >= 0)", m.Sequence)
	} else if m.Kind == Kind_FETCH && m.Count <= 0 {
		return errors.Errorf("invalid FETCH Count (%d; expected > 0)", m.Count)
	} else if m.Kind != Kind_FETCH && m.Count != 0 {
		return errors.Errorf("unexpected Count (%d) of %s", m.Count, m.Kind)
	} else if m.Kind != Kind_CONSUMER_HELLO && len(m.Subjects) != 0 {
		return errors.Errorf("unexpected Subjects of %s", m.Kind)
	}
	return nil
}
