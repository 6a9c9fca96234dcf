package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.dafka.dev/core/discovery"
	"go.dafka.dev/core/protocol"
)

func TestConsumerLifecycle(t *testing.T) {
	var rx, tx, beacon = newTestReceiver(), newTestSender(), discovery.NewStatic("tcp://producer:1")
	var sink = make(ChannelSink, 16)

	var c = New(Config{Address: "C1", Endpoint: "tcp://consumer:2"}, rx, tx, beacon, sink)
	require.Equal(t, discovery.Identity{Address: "C1", Endpoint: "tcp://consumer:2"}, c.Identity())
	require.EqualError(t, c.Stop(), "consumer not started")

	require.NoError(t, c.Start(context.Background()))
	require.EqualError(t, c.Start(context.Background()), "consumer already started")

	// Direct filters are scoped to the consumer address.
	require.Equal(t, []protocol.Filter{
		{Kind: protocol.Kind_DIRECT_MSG, Prefix: "C1"},
		{Kind: protocol.Kind_DIRECT_HEAD, Prefix: "C1"},
		{Kind: protocol.Kind_STORE_HELLO, Prefix: "C1"},
	}, rx.Filters())

	// The Beacon's static peer is attached.
	require.Eventually(t, func() bool { return rx.IsAttached("tcp://producer:1") }, time.Second, time.Millisecond)

	require.NoError(t, c.Subscribe(context.Background(), "orders"))
	require.Len(t, rx.Filters(), 5)
	tx.requireNone(t) // No GET_HEADS under Latest.

	rx.envCh <- msg("orders", "P1", 5)
	rx.envCh <- msg("orders", "P1", 7)
	require.Equal(t, Delivery{Subject: "orders", Address: "P1", Sequence: 5, Payload: []byte("payload")}, <-sink)
	require.Equal(t, fetch("orders", "P1", 6, 2), tx.next(t))

	rx.envCh <- direct("orders", "P1", 6)
	rx.envCh <- direct("orders", "P1", 7)
	require.Equal(t, int64(6), (<-sink).Sequence)
	require.Equal(t, int64(7), (<-sink).Sequence)

	require.Equal(t, []StreamState{
		{StreamKey: StreamKey{Subject: "orders", Address: "P1"}, LastKnown: 7},
	}, c.Streams())

	// Departed peers are detached.
	beacon.Down("tcp://producer:1")
	require.Eventually(t, func() bool { return !rx.IsAttached("tcp://producer:1") }, time.Second, time.Millisecond)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	require.True(t, rx.IsClosed())

	require.Equal(t, ErrStopped, c.Subscribe(context.Background(), "late"))
	require.Len(t, c.Streams(), 1)
}

func TestConsumerRequiresStart(t *testing.T) {
	var rx, tx = newTestReceiver(), newTestSender()
	var c = New(Config{Address: "C1", Endpoint: "tcp://consumer:2"}, rx, tx, discovery.NewStatic(), make(ChannelSink))

	// Nothing blocks on a Consumer which isn't started.
	var ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Equal(t, ErrNotStarted, c.Subscribe(ctx, "orders"))
	require.Empty(t, c.Streams())
	require.Equal(t, ErrNotStarted, c.Stop())
	require.Len(t, rx.Filters(), 0)

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Subscribe(ctx, "orders"))
	require.Empty(t, c.Streams())
	require.NoError(t, c.Stop())
}

func TestConsumerEarliestHandshake(t *testing.T) {
	var rx, tx, beacon = newTestReceiver(), newTestSender(), discovery.NewStatic()
	var c = New(Config{Policy: Earliest, Endpoint: "tcp://consumer:2"}, rx, tx, beacon, make(ChannelSink))
	var addr = c.Identity().Address
	require.Len(t, addr, 36)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), "HELLO"))

	require.Equal(t, protocol.Envelope{Kind: protocol.Kind_GET_HEADS, Topic: "HELLO", Address: addr}, tx.next(t))

	rx.envCh <- protocol.Envelope{Kind: protocol.Kind_STORE_HELLO, Topic: addr, Address: "S1"}
	require.Equal(t, protocol.Envelope{
		Kind:     protocol.Kind_CONSUMER_HELLO,
		Topic:    "S1",
		Address:  addr,
		Subjects: []string{"HELLO"},
	}, tx.next(t))

	require.NoError(t, c.Stop())
}

func TestConsumerFailsOnUnexpectedSignal(t *testing.T) {
	var rx, beacon = newTestReceiver(), discovery.NewStatic()
	var c = New(Config{Endpoint: "tcp://consumer:2"}, rx, newTestSender(), beacon, make(ChannelSink))

	require.NoError(t, c.Start(context.Background()))
	beacon.Relay(discovery.Signal{Kind: discovery.Ready})

	<-c.Done()
	require.Equal(t, discovery.ErrUnexpectedSignal, errors.Cause(c.Err()))
	require.EqualError(t, c.Stop(), "applying Ready: unexpected discovery signal")
	require.True(t, rx.IsClosed())
}

func TestConsumerToleratesAttachFailure(t *testing.T) {
	var rx, beacon = newTestReceiver(), discovery.NewStatic()
	rx.attachErr = errors.New("whoops")

	var sink = make(ChannelSink, 1)
	var c = New(Config{Endpoint: "tcp://consumer:2"}, rx, newTestSender(), beacon, sink)
	require.NoError(t, c.Start(context.Background()))

	beacon.Up("tcp://producer:1")
	rx.envCh <- msg("s", "P", 1)
	require.Equal(t, int64(1), (<-sink).Sequence)

	require.NoError(t, c.Stop())
}

func TestConsumerFailsOnSinkError(t *testing.T) {
	var rx = newTestReceiver()
	var c = New(Config{Endpoint: "tcp://consumer:2"}, rx, newTestSender(), discovery.NewStatic(),
		SinkFunc(func(Delivery) error { return errors.New("disk full") }))
	require.NoError(t, c.Start(context.Background()))

	rx.envCh <- msg("s", "P", 1)

	<-c.Done()
	require.EqualError(t, c.Err(), "delivering s/P@1: disk full")
}

func TestConsumerStartFailsWithBeacon(t *testing.T) {
	var c = New(Config{Endpoint: "not-an-endpoint"}, newTestReceiver(), newTestSender(),
		discovery.NewStatic(), make(ChannelSink))
	require.EqualError(t, c.Start(context.Background()),
		"starting beacon: Identity Endpoint: unsupported Endpoint scheme (; expected tcp)")
}

func TestConnectionsApply(t *testing.T) {
	var rx = newTestReceiver()
	var conns = NewConnections(rx)

	require.NoError(t, conns.Apply(discovery.Signal{Kind: discovery.PeerUp, Endpoint: "tcp://a:1"}))
	require.True(t, rx.IsAttached("tcp://a:1"))
	require.NoError(t, conns.Apply(discovery.Signal{Kind: discovery.PeerDown, Endpoint: "tcp://a:1"}))
	require.False(t, rx.IsAttached("tcp://a:1"))

	rx.attachErr = errors.New("whoops")
	require.EqualError(t, conns.Apply(discovery.Signal{Kind: discovery.PeerUp, Endpoint: "tcp://a:1"}),
		"attaching tcp://a:1: whoops")

	for _, kind := range []discovery.SignalKind{discovery.Ready, discovery.Terminate, discovery.Ack, 0} {
		var err = conns.Apply(discovery.Signal{Kind: kind})
		require.Equal(t, discovery.ErrUnexpectedSignal, errors.Cause(err))
	}
}

type testReceiver struct {
	mu        sync.Mutex
	filters   []protocol.Filter
	attached  map[protocol.Endpoint]bool
	attachErr error
	closed    bool
	envCh     chan protocol.Envelope
}

func newTestReceiver() *testReceiver {
	return &testReceiver{
		attached: make(map[protocol.Endpoint]bool),
		envCh:    make(chan protocol.Envelope, 16),
	}
}

func (r *testReceiver) Subscribe(f protocol.Filter) {
	r.mu.Lock()
	r.filters = append(r.filters, f)
	r.mu.Unlock()
}

func (r *testReceiver) Attach(ep protocol.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attachErr != nil {
		return r.attachErr
	}
	r.attached[ep] = true
	return nil
}

func (r *testReceiver) Detach(ep protocol.Endpoint) error {
	r.mu.Lock()
	delete(r.attached, ep)
	r.mu.Unlock()
	return nil
}

func (r *testReceiver) Envelopes() <-chan protocol.Envelope { return r.envCh }

func (r *testReceiver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *testReceiver) Filters() []protocol.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Filter(nil), r.filters...)
}

func (r *testReceiver) IsAttached(ep protocol.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached[ep]
}

func (r *testReceiver) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type testSender struct {
	sentCh chan protocol.Envelope
}

func newTestSender() *testSender { return &testSender{sentCh: make(chan protocol.Envelope, 16)} }

func (s *testSender) Send(env protocol.Envelope) error {
	s.sentCh <- env
	return nil
}

func (s *testSender) next(t *testing.T) protocol.Envelope {
	select {
	case env := <-s.sentCh:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for sent Envelope")
	}
	return protocol.Envelope{}
}

func (s *testSender) requireNone(t *testing.T) {
	select {
	case env := <-s.sentCh:
		t.Fatalf("unexpected sent Envelope %#v", env)
	default:
	}
}
