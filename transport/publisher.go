package transport

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/codecs"
	"go.dafka.dev/core/protocol"
)

// Publisher broadcasts frames to connected subscribers.
type Publisher struct {
	endpoint protocol.Endpoint
	codec    codecs.Codec
	queue    int

	mu      sync.Mutex
	conns   map[*publisherConn]struct{}
	changed chan struct{} // Closed and replaced upon each change of |conns|.
}

type publisherConn struct {
	conn  net.Conn
	queue chan []byte
	done  chan struct{}
}

// GreetingTimeout bounds the time a connecting subscriber has to send
// its protocol.SubscriberGreeting.
var GreetingTimeout = 10 * time.Second

// NewPublisher returns a Publisher reachable at Endpoint |ep|, which compresses
// payloads with Codec and queues up to |queue| frames for each subscriber.
func NewPublisher(ep protocol.Endpoint, codec codecs.Codec, queue int) *Publisher {
	if queue <= 0 {
		queue = 1
	}
	return &Publisher{
		endpoint: ep,
		codec:    codec,
		queue:    queue,
		conns:    make(map[*publisherConn]struct{}),
		changed:  make(chan struct{}),
	}
}

// Endpoint at which the Publisher may be reached.
func (p *Publisher) Endpoint() protocol.Endpoint { return p.endpoint }

// Serve subscriber connections accepted from Listener |ln| until |ctx| is
// cancelled. An error is returned only if |ln| fails before |ctx| is done.
func (p *Publisher) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var conn, err = ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "publisher Accept")
		}
		wg.Add(1)

		go func() {
			defer wg.Done()
			p.serveConn(ctx, conn)
		}()
	}
}

// Send encodes the Envelope and queues it to each connected subscriber.
// Send never blocks. Frames are dropped for subscribers whose queue is full.
// An error is returned only if the Envelope can't be encoded.
func (p *Publisher) Send(env protocol.Envelope) error {
	var frame, err = protocol.AppendFrame(nil, &env, p.codec)
	if err != nil {
		return errors.WithMessagef(err, "encoding %s", env.Kind)
	}
	var kind = env.Kind.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	for c := range p.conns {
		select {
		case c.queue <- frame:
			framesSentTotal.WithLabelValues(kind, statusOK).Inc()
		default:
			framesSentTotal.WithLabelValues(kind, statusDropped).Inc()
			log.WithFields(log.Fields{
				"kind":   kind,
				"remote": c.conn.RemoteAddr().String(),
			}).Debug("subscriber queue is full; dropping frame")
		}
	}
	return nil
}

// NumSubscribers returns the number of currently connected subscribers.
func (p *Publisher) NumSubscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// WaitForSubscribers blocks until at least |n| subscribers are connected,
// or until |ctx| is done.
func (p *Publisher) WaitForSubscribers(ctx context.Context, n int) error {
	for {
		p.mu.Lock()
		var l, ch = len(p.conns), p.changed
		p.mu.Unlock()

		if l >= n {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Publisher) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var greeting = make([]byte, len(protocol.SubscriberGreeting))
	_ = conn.SetReadDeadline(time.Now().Add(GreetingTimeout))

	if _, err := io.ReadFull(conn, greeting); err != nil || string(greeting) != protocol.SubscriberGreeting {
		log.WithFields(log.Fields{
			"remote": conn.RemoteAddr().String(),
			"err":    err,
		}).Warn("invalid subscriber greeting")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var c = &publisherConn{
		conn:  conn,
		queue: make(chan []byte, p.queue),
		done:  make(chan struct{}),
	}
	p.update(func() { p.conns[c] = struct{}{} })
	publisherConnections.Inc()

	defer func() {
		p.update(func() { delete(p.conns, c) })
		publisherConnections.Dec()
	}()

	// Subscribers send nothing further. A read returns only when the
	// connection is closed or broken.
	go func() {
		_, _ = io.Copy(ioutil.Discard, conn)
		close(c.done)
	}()

	var bw = bufio.NewWriter(conn)
	for {
		select {
		case frame := <-c.queue:
			if err := writeQueued(bw, frame, c.queue); err != nil {
				log.WithFields(log.Fields{
					"remote": conn.RemoteAddr().String(),
					"err":    err,
				}).Debug("failed to write to subscriber")
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// writeQueued writes |frame| and all further frames which are immediately
// available from |queue|, and then flushes.
func writeQueued(bw *bufio.Writer, frame []byte, queue <-chan []byte) error {
	for {
		if _, err := bw.Write(frame); err != nil {
			return err
		}
		select {
		case frame = <-queue:
			continue
		default:
		}
		return bw.Flush()
	}
}

func (p *Publisher) update(fn func()) {
	p.mu.Lock()
	fn()
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}
