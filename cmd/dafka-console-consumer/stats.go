package main

import (
	"io"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"go.dafka.dev/core/consumer"
)

// stats is a consumer.Sink which counts the deliveries of each stream.
type stats struct {
	mu      sync.Mutex
	streams map[consumer.StreamKey]*streamStats
}

type streamStats struct {
	messages int64
	bytes    uint64
}

func newStats() *stats {
	return &stats{streams: make(map[consumer.StreamKey]*streamStats)}
}

func (s *stats) Deliver(d consumer.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key = consumer.StreamKey{Subject: d.Subject, Address: d.Address}
	var st, ok = s.streams[key]
	if !ok {
		st = new(streamStats)
		s.streams[key] = st
	}
	st.messages++
	st.bytes += uint64(len(d.Payload))
	return nil
}

// WriteTable of the StreamStates, with the messages and bytes
// delivered of each.
func (s *stats) WriteTable(w io.Writer, states []consumer.StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var table = tablewriter.NewWriter(w)
	table.Header("Subject", "Producer", "Last Sequence", "Messages", "Bytes")

	for _, state := range states {
		var st = s.streams[state.StreamKey]
		if st == nil {
			st = new(streamStats)
		}
		_ = table.Append([]string{
			state.Subject,
			state.Address,
			strconv.FormatInt(state.LastKnown, 10),
			strconv.FormatInt(st.messages, 10),
			humanize.IBytes(st.bytes),
		})
	}
	_ = table.Render()
}
