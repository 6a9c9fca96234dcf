package consumer

import (
	"go.dafka.dev/core/protocol"
)

// FetchRequest is a request to a producer for a range of the sequences of
// one of its streams.
type FetchRequest struct {
	StreamKey
	// From is the first requested sequence.
	From int64
	// Count of requested sequences.
	Count int64
}

// DetectGap returns the FetchRequest which recovers the sequences of a
// stream skipped by message |current|, if there are any. The request spans
// through |current|, so that it's received again in order.
func DetectGap(key StreamKey, lastKnown, current int64) (FetchRequest, bool) {
	// Compared as current-1 so that lastKnown of MaxInt64 cannot overflow.
	if current-1 <= lastKnown {
		return FetchRequest{}, false
	}
	return FetchRequest{StreamKey: key, From: lastKnown + 1, Count: current - lastKnown}, true
}

// DetectHeadGap returns the FetchRequest which recovers the sequences of a
// stream through head |current|, if any are missing. A stream which isn't
// known is fetched from sequence zero.
func DetectHeadGap(key StreamKey, lastKnown int64, known bool, current int64) (FetchRequest, bool) {
	if !known {
		lastKnown = -1
	}
	if current <= lastKnown {
		return FetchRequest{}, false
	}
	return FetchRequest{StreamKey: key, From: lastKnown + 1, Count: current - lastKnown}, true
}

// Envelope returns the FETCH of the FetchRequest, sent on behalf of the
// consumer |address|. It's addressed to the producer of the stream.
func (r FetchRequest) Envelope(address string) protocol.Envelope {
	return protocol.Envelope{
		Kind:     protocol.Kind_FETCH,
		Topic:    r.Address,
		Subject:  r.Subject,
		Sequence: r.From,
		Count:    r.Count,
		Address:  address,
	}
}
