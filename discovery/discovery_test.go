package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.dafka.dev/core/etcdtest"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var testID = Identity{Address: "C1", Endpoint: "tcp://127.0.0.1:9000"}

func TestStaticLifecycle(t *testing.T) {
	var b = NewStatic("tcp://p1:1", "tcp://p2:2")
	var ctx = context.Background()

	require.EqualError(t, b.Terminate(), "static beacon not started")
	require.NoError(t, b.Start(ctx, testID))
	require.EqualError(t, b.Start(ctx, testID), "static beacon already started")

	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://p1:1"}, next(t, b))
	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://p2:2"}, next(t, b))

	b.Down("tcp://p1:1")
	b.Up("tcp://p3:3")
	require.Equal(t, Signal{Kind: PeerDown, Endpoint: "tcp://p1:1"}, next(t, b))
	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://p3:3"}, next(t, b))

	// Peer changes racing with termination are discarded.
	b.Up("tcp://p4:4")
	require.NoError(t, b.Terminate())

	// Signals is closed after the Ack.
	var _, ok = <-b.Signals()
	require.False(t, ok)
}

func TestStaticRejectsInvalidIdentity(t *testing.T) {
	var b = NewStatic()
	require.EqualError(t, b.Start(context.Background(), Identity{Endpoint: "tcp://a:1"}),
		"expected Identity Address")
	require.EqualError(t, b.Start(context.Background(), Identity{Address: "C1", Endpoint: "udp://a:1"}),
		"Identity Endpoint: unsupported Endpoint scheme (udp; expected tcp)")
}

func TestTerminateFailsOnUnexpectedSignal(t *testing.T) {
	var b = NewStatic()
	require.NoError(t, b.Start(context.Background(), testID))

	b.Relay(Signal{Kind: Ready})

	var err = b.Terminate()
	require.Equal(t, ErrUnexpectedSignal, errors.Cause(err))
	require.EqualError(t, err, "awaiting Ack, got Ready: unexpected discovery signal")
}

func TestStartIsCancelable(t *testing.T) {
	var b = &Static{actor: newActor("blocked")}
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	// |run| never emits Ready.
	var err = b.start(ctx, func(ctx context.Context, _ func(Signal) bool, _ <-chan Signal) { <-ctx.Done() })
	require.Equal(t, context.Canceled, err)
}

func TestSignalFormatting(t *testing.T) {
	require.Equal(t, "PeerUp(tcp://a:1)", Signal{Kind: PeerUp, Endpoint: "tcp://a:1"}.String())
	require.Equal(t, "Ack", Signal{Kind: Ack}.String())
	require.Equal(t, "SignalKind(42)", SignalKind(42).String())
}

func TestEtcdBeacon(t *testing.T) {
	var client = etcdtest.TestClient(t)
	defer etcdtest.Cleanup()

	var ctx = context.Background()
	var b = NewEtcd(client, "/dafka", 10*time.Second)

	for k, v := range map[string]string{
		"/dafka/publishers/producer-a": "tcp://a:1",
		"/dafka/publishers/store-b":    "tcp://b:2",
		"/dafka/publishers/broken":     "not an endpoint",
	} {
		var _, err = client.Put(ctx, k, v)
		require.NoError(t, err)
	}
	require.NoError(t, b.Start(ctx, testID))

	// The consumer is registered.
	var resp, err = client.Get(ctx, b.ConsumerKey("C1"))
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	require.Equal(t, "tcp://127.0.0.1:9000", string(resp.Kvs[0].Value))

	// Publishers are emitted in key order. The invalid Endpoint is skipped.
	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://a:1"}, next(t, b))
	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://b:2"}, next(t, b))

	_, err = client.Put(ctx, "/dafka/publishers/producer-c", "tcp://c:3")
	require.NoError(t, err)
	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://c:3"}, next(t, b))

	// A changed Endpoint is taken down before the new one comes up.
	_, err = client.Put(ctx, "/dafka/publishers/producer-a", "tcp://a:11")
	require.NoError(t, err)
	require.Equal(t, Signal{Kind: PeerDown, Endpoint: "tcp://a:1"}, next(t, b))
	require.Equal(t, Signal{Kind: PeerUp, Endpoint: "tcp://a:11"}, next(t, b))

	_, err = client.Delete(ctx, "/dafka/publishers/store-b")
	require.NoError(t, err)
	require.Equal(t, Signal{Kind: PeerDown, Endpoint: "tcp://b:2"}, next(t, b))

	// Terminate revokes the registration.
	require.NoError(t, b.Terminate())

	resp, err = client.Get(ctx, b.ConsumerKey("C1"))
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 0)

	resp, err = client.Get(ctx, b.PublisherPrefix(), clientv3.WithPrefix(), clientv3.WithCountOnly())
	require.NoError(t, err)
	require.Equal(t, int64(3), resp.Count)
}

func TestMain(m *testing.M) { etcdtest.TestMainWithEtcd(m) }

func next(t *testing.T, b Beacon) Signal {
	select {
	case s := <-b.Signals():
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Signal")
	}
	return Signal{}
}
