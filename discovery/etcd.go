package discovery

import (
	"context"
	"path"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/protocol"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd is a Beacon which registers the consumer under
// "<Root>/consumers/<address>" and watches "<Root>/publishers/", whose
// values are publisher Endpoints. A publisher key which is created (or
// changes its Endpoint) produces PeerUp, and a deleted key produces PeerDown.
//
// The consumer registration is bound to an Etcd lease, which is revoked
// upon Terminate and otherwise expires after LeaseTTL.
type Etcd struct {
	actor

	Client   *clientv3.Client
	Root     string
	LeaseTTL time.Duration

	lease clientv3.LeaseID
}

// NewEtcd returns an Etcd Beacon.
func NewEtcd(client *clientv3.Client, root string, leaseTTL time.Duration) *Etcd {
	return &Etcd{
		actor:    newActor("etcd"),
		Client:   client,
		Root:     root,
		LeaseTTL: leaseTTL,
	}
}

// ConsumerKey returns the Etcd key of a consumer Address.
func (e *Etcd) ConsumerKey(address string) string {
	return path.Join(e.Root, "consumers", address)
}

// PublisherPrefix returns the Etcd key prefix of publisher registrations.
func (e *Etcd) PublisherPrefix() string {
	return path.Join(e.Root, "publishers") + "/"
}

// Start the Etcd Beacon. It blocks until the consumer is registered, and
// PeerUp Signals of all current publishers are queued.
func (e *Etcd) Start(ctx context.Context, id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	var ttl = int64(e.LeaseTTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	var grant, err = e.Client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "granting lease")
	}
	e.lease = grant.ID

	if _, err = e.Client.Put(ctx, e.ConsumerKey(id.Address), id.Endpoint.String(),
		clientv3.WithLease(e.lease)); err != nil {
		return errors.Wrap(err, "registering consumer")
	}
	resp, err := e.Client.Get(ctx, e.PublisherPrefix(), clientv3.WithPrefix())
	if err != nil {
		return errors.Wrap(err, "listing publishers")
	}

	log.WithFields(log.Fields{
		"key":        e.ConsumerKey(id.Address),
		"lease":      e.lease,
		"publishers": len(resp.Kvs),
		"revision":   resp.Header.Revision,
	}).Info("registered consumer with etcd")

	return e.start(ctx, func(ctx context.Context, emit func(Signal) bool, commands <-chan Signal) {
		if err := e.run(ctx, emit, commands, resp.Kvs, resp.Header.Revision); err != nil {
			log.WithField("err", err).Error("etcd beacon failed")
		}
	})
}

// Terminate the Etcd Beacon, revoking the consumer registration.
func (e *Etcd) Terminate() error { return e.terminate() }

func (e *Etcd) run(ctx context.Context, emit func(Signal) bool, commands <-chan Signal,
	kvs []*mvccpb.KeyValue, revision int64) error {

	keepAliveCh, err := e.Client.KeepAlive(ctx, e.lease)
	if err != nil {
		return errors.Wrap(err, "lease KeepAlive")
	}
	if !emit(Signal{Kind: Ready}) {
		return nil
	}

	// Publisher Endpoints, keyed on their registration key.
	var peers = make(map[string]protocol.Endpoint)
	var up = func(key string, value []byte) bool {
		var ep = protocol.Endpoint(value)

		if err := ep.Validate(); err != nil {
			log.WithFields(log.Fields{"key": key, "err": err}).Warn("ignoring invalid publisher Endpoint")
			return down(peers, key, emit)
		} else if peers[key] == ep {
			return true
		} else if !down(peers, key, emit) {
			return false
		}
		peers[key] = ep
		return emit(Signal{Kind: PeerUp, Endpoint: ep})
	}

	for _, kv := range kvs {
		if !up(string(kv.Key), kv.Value) {
			return nil
		}
	}

	var watchCh clientv3.WatchChan
	var nextRevision = revision + 1

	for attempt := 0; true; attempt++ {
		if watchCh == nil {
			watchCh = e.Client.Watch(clientv3.WithRequireLeader(ctx), e.PublisherPrefix(),
				clientv3.WithPrefix(),
				clientv3.WithProgressNotify(),
				clientv3.WithRev(nextRevision),
			)
		}

		select {
		case cmd := <-commands:
			if cmd.Kind != Terminate {
				return errors.WithMessagef(ErrUnexpectedSignal, "etcd beacon received %s", cmd)
			}
			var revokeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			_, err = e.Client.Revoke(revokeCtx, e.lease)
			cancel()

			if err != nil {
				log.WithField("err", err).Warn("failed to revoke consumer lease")
			}
			emit(Signal{Kind: Ack})
			return nil

		case _, ok := <-keepAliveCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("consumer lease KeepAlive channel closed")
			}

		case resp, ok := <-watchCh:
			if !ok {
				return ctx.Err()
			} else if err := resp.Err(); err == rpctypes.ErrNoLeader {
				watchCh = nil

				log.WithFields(log.Fields{"err": err, "attempt": attempt}).
					Warn("publisher watch failed (will retry)")

				select {
				case <-time.After(backoff(attempt)):
				case <-ctx.Done():
					return nil
				}
				continue
			} else if err != nil {
				return err
			} else if resp.Header.Revision < nextRevision {
				continue // Progress notification or duplicate revision.
			}

			for _, ev := range resp.Events {
				var key = string(ev.Kv.Key)
				var ok bool

				switch ev.Type {
				case mvccpb.PUT:
					ok = up(key, ev.Kv.Value)
				case mvccpb.DELETE:
					ok = down(peers, key, emit)
				}
				if !ok {
					return nil
				}
			}
			nextRevision = resp.Header.Revision + 1
			attempt = 0
		}
	}
	panic("not reached")
}

// down emits PeerDown of the publisher Endpoint registered at |key|, if any.
func down(peers map[string]protocol.Endpoint, key string, emit func(Signal) bool) bool {
	var ep, ok = peers[key]
	if !ok {
		return true
	}
	delete(peers, key)

	// Another key may register the same Endpoint, which stays up.
	for _, other := range peers {
		if other == ep {
			return true
		}
	}
	return emit(Signal{Kind: PeerDown, Endpoint: ep})
}

func backoff(attempt int) time.Duration {
	switch attempt {
	case 0, 1:
		return 0
	case 2:
		return time.Millisecond * 5
	case 3, 4, 5:
		return time.Second * time.Duration(attempt-1)
	default:
		return 5 * time.Second
	}
}
