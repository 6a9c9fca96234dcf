package consumer

import (
	"fmt"
	"sort"
)

// StreamKey identifies the stream of messages of a subject sent by a producer.
type StreamKey struct {
	Subject string
	// Address of the producer.
	Address string
}

func (k StreamKey) String() string { return k.Subject + "/" + k.Address }

// StreamState is the tracked state of a stream.
type StreamState struct {
	StreamKey
	// LastKnown is the greatest sequence known to have been delivered, or
	// -1 if no sequence has been delivered but the stream begins at zero.
	LastKnown int64
}

// Tracker tracks the last known sequence of each stream. It's not safe for
// concurrent use. Streams are never forgotten.
type Tracker struct {
	last map[StreamKey]int64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[StreamKey]int64)}
}

// Observe returns the last known sequence of the stream, and whether the
// stream is known at all.
func (t *Tracker) Observe(key StreamKey) (lastKnown int64, known bool) {
	lastKnown, known = t.last[key]
	return
}

// Advance the last known sequence of the stream, which becomes known.
// Advance panics if |sequence| is less than the current last known sequence.
func (t *Tracker) Advance(key StreamKey, sequence int64) {
	if last, ok := t.last[key]; ok && sequence < last {
		panic(fmt.Sprintf("stream %s sequence regression (%d < %d)", key, sequence, last))
	}
	t.last[key] = sequence
}

// Len is the number of known streams.
func (t *Tracker) Len() int { return len(t.last) }

// Streams returns the state of all known streams, ordered on StreamKey.
func (t *Tracker) Streams() []StreamState {
	var out = make([]StreamState, 0, len(t.last))
	for k, v := range t.last {
		out = append(out, StreamState{StreamKey: k, LastKnown: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Address < out[j].Address
	})
	return out
}
