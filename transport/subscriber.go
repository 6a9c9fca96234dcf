package transport

import (
	"bufio"
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/keepalive"
	"go.dafka.dev/core/protocol"
)

// Subscriber receives frames from attached publisher Endpoints.
type Subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	envCh  chan protocol.Envelope
	wg     sync.WaitGroup

	mu      sync.RWMutex
	filters protocol.Filters
	peers   map[protocol.Endpoint]*subscriberPeer
	closed  bool
}

type subscriberPeer struct {
	cancel    context.CancelFunc
	connected bool
}

// Backoff bounds of Subscriber reconnection attempts.
var (
	MinReconnectBackoff = 100 * time.Millisecond
	MaxReconnectBackoff = 5 * time.Second
)

// NewSubscriber returns a Subscriber which buffers up to |buffer| decoded
// Envelopes not yet read from Envelopes.
func NewSubscriber(buffer int) *Subscriber {
	var ctx, cancel = context.WithCancel(context.Background())

	return &Subscriber{
		ctx:    ctx,
		cancel: cancel,
		envCh:  make(chan protocol.Envelope, buffer),
		peers:  make(map[protocol.Endpoint]*subscriberPeer),
	}
}

// Envelopes returns a channel of received Envelopes matching the Subscriber's
// Filters. The channel is closed by Close.
func (s *Subscriber) Envelopes() <-chan protocol.Envelope { return s.envCh }

// Subscribe adds the Filter. It applies to frames of all attached
// Endpoints, including those read after Subscribe returns. Adding a
// Filter more than once has no further effect.
func (s *Subscriber) Subscribe(f protocol.Filter) {
	s.mu.Lock()
	s.filters = append(s.filters, f)
	s.mu.Unlock()
}

// Attach the Subscriber to a publisher Endpoint. Connections are made
// asynchronously, and are re-established until the Endpoint is Detached.
// Attaching an already-attached Endpoint is a no-op. An error is returned if
// the Endpoint is invalid or the Subscriber is closed.
func (s *Subscriber) Attach(ep protocol.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	} else if _, ok := s.peers[ep]; ok {
		return nil
	}
	var ctx, cancel = context.WithCancel(s.ctx)
	var peer = &subscriberPeer{cancel: cancel}
	s.peers[ep] = peer
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.serve(ctx, ep, peer)
	}()
	return nil
}

// Detach the Subscriber from a publisher Endpoint, closing its connection.
// Detaching an Endpoint which isn't attached is a no-op.
func (s *Subscriber) Detach(ep protocol.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	} else if peer, ok := s.peers[ep]; ok {
		peer.cancel()
		delete(s.peers, ep)
	}
	return nil
}

// Attached returns the sorted Endpoints to which the Subscriber is attached.
func (s *Subscriber) Attached() []protocol.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out = make([]protocol.Endpoint, 0, len(s.peers))
	for ep := range s.peers {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsConnected returns whether a connection to the Endpoint is established.
func (s *Subscriber) IsConnected(ep protocol.Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var peer, ok = s.peers[ep]
	return ok && peer.connected
}

// Close all connections of the Subscriber, and then close its Envelopes channel.
func (s *Subscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	close(s.envCh)
}

func (s *Subscriber) serve(ctx context.Context, ep protocol.Endpoint, peer *subscriberPeer) {
	var backoff = MinReconnectBackoff

	for {
		var conn, err = keepalive.DialEndpoint(ctx, ep)
		if err == nil {
			backoff = MinReconnectBackoff
			err = s.read(ctx, ep, peer, conn)
		}
		if ctx.Err() != nil {
			return
		}
		log.WithFields(log.Fields{
			"endpoint": ep,
			"err":      err,
			"backoff":  backoff,
		}).Debug("publisher connection failed (will retry)")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff *= 2; backoff > MaxReconnectBackoff {
			backoff = MaxReconnectBackoff
		}
	}
}

func (s *Subscriber) read(ctx context.Context, ep protocol.Endpoint, peer *subscriberPeer, conn net.Conn) error {
	// Close |conn| upon cancellation, which aborts a blocking read.
	var done = make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	if _, err := conn.Write([]byte(protocol.SubscriberGreeting)); err != nil {
		return errors.Wrap(err, "writing greeting")
	}
	s.setConnected(peer, true)
	defer s.setConnected(peer, false)

	log.WithField("endpoint", ep).Debug("connected to publisher")
	var br = bufio.NewReaderSize(conn, 1<<15)

	for {
		var frame, err = protocol.UnpackFrame(br)
		if err != nil {
			return err
		}
		env, err := protocol.Decode(frame)

		if err != nil {
			framesReceivedTotal.WithLabelValues(statusMalformed).Inc()
			log.WithFields(log.Fields{
				"endpoint": ep,
				"err":      err,
			}).Warn("discarding malformed frame")
			continue
		}

		s.mu.RLock()
		var matched = s.filters.Matches(&env)
		s.mu.RUnlock()

		if !matched {
			framesReceivedTotal.WithLabelValues(statusFiltered).Inc()
			continue
		}
		framesReceivedTotal.WithLabelValues(statusOK).Inc()

		select {
		case s.envCh <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscriber) setConnected(peer *subscriberPeer, connected bool) {
	s.mu.Lock()
	peer.connected = connected
	s.mu.Unlock()

	if connected {
		subscriberConnections.Inc()
	} else {
		subscriberConnections.Dec()
	}
}
