package consumer

import (
	"github.com/pkg/errors"
)

// OffsetPolicy determines where consumption begins of a stream which the
// Consumer hasn't seen before.
type OffsetPolicy int

const (
	// Latest begins a stream with the first message or head which is
	// observed, and declares no subjects to stores.
	Latest OffsetPolicy = iota
	// Earliest begins each stream at sequence zero, fetching all prior messages
	// of observed streams, and asks stores to replay all subscribed subjects.
	Earliest
)

// ParseOffsetPolicy parses "latest" or "earliest".
func ParseOffsetPolicy(s string) (OffsetPolicy, error) {
	switch s {
	case "latest":
		return Latest, nil
	case "earliest":
		return Earliest, nil
	}
	return Latest, errors.Errorf("invalid offset policy %q (expected latest or earliest)", s)
}

func (p OffsetPolicy) String() string {
	if p == Earliest {
		return "earliest"
	}
	return "latest"
}

// UnmarshalFlag parses an OffsetPolicy command-line flag.
func (p *OffsetPolicy) UnmarshalFlag(value string) (err error) {
	*p, err = ParseOffsetPolicy(value)
	return
}

// MarshalFlag returns the OffsetPolicy flag value.
func (p OffsetPolicy) MarshalFlag() (string, error) { return p.String(), nil }
