package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	envelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dafka_consumer_envelopes_total",
		Help: "Cumulative number of envelopes dispatched, by kind and outcome.",
	}, []string{"kind", "outcome"})
	fetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dafka_consumer_fetches_total",
		Help: "Cumulative number of FETCH requests sent to recover stream gaps.",
	})
	fetchedSequencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dafka_consumer_fetched_sequences_total",
		Help: "Cumulative number of sequences requested by FETCH requests.",
	})
	deliveredBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dafka_consumer_delivered_bytes_total",
		Help: "Cumulative number of payload bytes delivered to the sink.",
	})
	peerChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dafka_consumer_peer_changes_total",
		Help: "Cumulative number of publisher attachments & detachments, by signal and status.",
	}, []string{"signal", "status"})
	trackedStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dafka_consumer_tracked_streams",
		Help: "Number of streams tracked by the consumer.",
	})
)
