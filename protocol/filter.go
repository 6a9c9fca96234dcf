package protocol

import "strings"

// Filter is a subscription to Envelopes of a Kind having Topics which are
// prefixed by Prefix. An empty Prefix matches all Topics of the Kind.
type Filter struct {
	Kind   Kind
	Prefix string
}

// Matches returns true if the Envelope is matched by the Filter.
func (f Filter) Matches(env *Envelope) bool {
	return env.Kind == f.Kind && strings.HasPrefix(env.Topic, f.Prefix)
}

// Filters is a set of Filter, which matches an Envelope if any Filter does.
type Filters []Filter

// Matches returns true if any Filter of the Filters matches the Envelope.
func (fs Filters) Matches(env *Envelope) bool {
	for _, f := range fs {
		if f.Matches(env) {
			return true
		}
	}
	return false
}
