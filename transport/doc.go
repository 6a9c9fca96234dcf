// Package transport implements the broadcast transport of the dafka protocol.
//
// A Publisher accepts connections of remote Subscribers and writes each
// sent frame to every one of them. It never blocks: each connection has a
// bounded queue, and frames which don't fit are dropped, exactly as if they
// had been lost in transit. Recipients filter what they receive.
//
// A Subscriber dials the Publisher Endpoints to which it's Attached,
// reconnecting with backoff until Detached, and emits decoded Envelopes
// matching its Filters. Attach and Detach are idempotent.
package transport

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrClosed is returned by operations of a closed Subscriber.
var ErrClosed = errors.New("transport closed")

var (
	framesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dafka_transport_frames_sent_total",
		Help: "Cumulative number of frames queued to subscriber connections, by status.",
	}, []string{"kind", "status"})
	framesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dafka_transport_frames_received_total",
		Help: "Cumulative number of frames read from publisher connections, by status.",
	}, []string{"status"})
	publisherConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dafka_transport_publisher_connections",
		Help: "Number of subscriber connections currently served by publishers.",
	})
	subscriberConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dafka_transport_subscriber_connections",
		Help: "Number of publisher connections currently established by subscribers.",
	})
)

const (
	statusOK        = "ok"
	statusDropped   = "dropped"
	statusFiltered  = "filtered"
	statusMalformed = "malformed"
)
