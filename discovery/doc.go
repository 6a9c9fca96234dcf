// Package discovery finds the publishers (producers and stores) which a
// consumer should attach to, and tells it of their arrival and departure.
//
// A Beacon is an actor. It runs on its own goroutine and communicates with
// its owner only by Signals. Exactly five Signal kinds exist: a Beacon emits
// Ready once started, then PeerUp and PeerDown as publishers come and go,
// and finally Ack in answer to the owner's Terminate. Any other Signal
// observed by an owner is a contract violation (ErrUnexpectedSignal).
package discovery

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrUnexpectedSignal is returned when a Signal arrives which the receiver
// doesn't expect in its current state.
var ErrUnexpectedSignal = errors.New("unexpected discovery signal")

var signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dafka_discovery_signals_total",
	Help: "Cumulative number of discovery signals emitted by beacons, by kind.",
}, []string{"kind"})
