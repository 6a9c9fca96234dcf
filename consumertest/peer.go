// Package consumertest provides in-process producers and stores which speak
// the dafka protocol over TCP, for end-to-end testing of consumers.
package consumertest

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/codecs"
	"go.dafka.dev/core/consumer"
	"go.dafka.dev/core/protocol"
	"go.dafka.dev/core/server"
	"go.dafka.dev/core/task"
	"go.dafka.dev/core/transport"
)

// Peer is a publisher which retains the history of its streams, and answers
// FETCH requests of consumers from that history.
type Peer struct {
	// Address of the Peer.
	Address string
	// Server of the Peer's Publisher.
	Server *server.Server
	// Publisher of the Peer's frames.
	Publisher *transport.Publisher
	// Subscriber to the frames of consumers.
	Subscriber *transport.Subscriber

	tasks   *task.Group
	mu      sync.Mutex
	history map[consumer.StreamKey][][]byte
	store   bool
}

// Producer is a Peer which publishes streams under its own Address.
type Producer struct{ *Peer }

// Store is a Peer which retains and replays streams of other producers.
type Store struct{ *Peer }

// NewProducer returns a started Producer of |address|.
func NewProducer(address string) (Producer, error) {
	var p, err = newPeer(address, false)
	if err != nil {
		return Producer{}, err
	}
	p.Subscriber.Subscribe(protocol.Filter{Kind: protocol.Kind_FETCH, Prefix: address})
	p.Subscriber.Subscribe(protocol.Filter{Kind: protocol.Kind_GET_HEADS})
	p.start()

	return Producer{p}, nil
}

// NewStore returns a started Store of |address|.
func NewStore(address string) (Store, error) {
	var p, err = newPeer(address, true)
	if err != nil {
		return Store{}, err
	}
	p.Subscriber.Subscribe(protocol.Filter{Kind: protocol.Kind_FETCH})
	p.Subscriber.Subscribe(protocol.Filter{Kind: protocol.Kind_CONSUMER_HELLO, Prefix: address})
	p.start()

	return Store{p}, nil
}

func newPeer(address string, store bool) (*Peer, error) {
	var srv, err = server.New("127.0.0.1", 0)
	if err != nil {
		return nil, err
	}
	return &Peer{
		Address:    address,
		Server:     srv,
		Publisher:  transport.NewPublisher(srv.Endpoint(""), codecs.Codec_SNAPPY, 1024),
		Subscriber: transport.NewSubscriber(64),
		tasks:      task.NewGroup(context.Background()),
		history:    make(map[consumer.StreamKey][][]byte),
		store:      store,
	}, nil
}

func (p *Peer) start() {
	p.Server.QueueTasks(p.tasks)
	p.tasks.Queue("Publisher.Serve", func() error {
		return p.Publisher.Serve(p.tasks.Context(), p.Server.FrameListener)
	})
	p.tasks.Queue("Peer.serve", p.serve)
	p.tasks.GoRun()
}

// Endpoint of the Peer's Publisher.
func (p *Peer) Endpoint() protocol.Endpoint { return p.Publisher.Endpoint() }

// Listen to the consumer Endpoint, from which FETCH requests are read.
func (p *Peer) Listen(ep protocol.Endpoint) error { return p.Subscriber.Attach(ep) }

// WaitForSubscribers blocks until |n| consumers have connected.
func (p *Peer) WaitForSubscribers(ctx context.Context, n int) error {
	return p.Publisher.WaitForSubscribers(ctx, n)
}

// Stop the Peer.
func (p *Peer) Stop() error {
	p.tasks.Cancel()
	p.Subscriber.Close()
	return p.tasks.Wait()
}

// Record the message of a stream into the Peer's history, without
// publishing it. Its sequence is returned.
func (p *Peer) Record(subject, address string, payload []byte) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var key = consumer.StreamKey{Subject: subject, Address: address}
	p.history[key] = append(p.history[key], payload)
	return int64(len(p.history[key]) - 1)
}

// Publish the next message of |subject|, returning its sequence.
func (p Producer) Publish(subject string, payload []byte) int64 {
	var seq = p.Record(subject, p.Address, payload)

	if err := p.Publisher.Send(protocol.Envelope{
		Kind:     protocol.Kind_MSG,
		Topic:    subject,
		Subject:  subject,
		Address:  p.Address,
		Sequence: seq,
		Payload:  payload,
	}); err != nil {
		panic(err) // Envelope is always valid.
	}
	return seq
}

// Drop the next message of |subject|: it's recorded, but not published,
// as though lost in transit. Its sequence is returned.
func (p Producer) Drop(subject string, payload []byte) int64 {
	return p.Record(subject, p.Address, payload)
}

// Head publishes the HEAD of |subject|. It returns false if nothing has
// been published under |subject|.
func (p Producer) Head(subject string) bool {
	var seq, ok = p.head(consumer.StreamKey{Subject: subject, Address: p.Address})
	if ok {
		_ = p.Publisher.Send(protocol.Envelope{
			Kind:     protocol.Kind_HEAD,
			Topic:    subject,
			Subject:  subject,
			Address:  p.Address,
			Sequence: seq,
		})
	}
	return ok
}

// Hello announces the Store to the consumer |address|.
func (s Store) Hello(address string) error {
	return s.Publisher.Send(protocol.Envelope{
		Kind:    protocol.Kind_STORE_HELLO,
		Topic:   address,
		Address: s.Address,
	})
}

func (p *Peer) head(key consumer.StreamKey) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n = len(p.history[key])
	return int64(n - 1), n != 0
}

func (p *Peer) serve() error {
	for {
		select {
		case env, ok := <-p.Subscriber.Envelopes():
			if !ok {
				return nil
			}
			if err := p.handle(env); err != nil {
				return err
			}
		case <-p.tasks.Context().Done():
			return nil
		}
	}
}

func (p *Peer) handle(env protocol.Envelope) error {
	log.WithFields(log.Fields{
		"peer":     p.Address,
		"kind":     env.Kind,
		"topic":    env.Topic,
		"subject":  env.Subject,
		"sequence": env.Sequence,
		"count":    env.Count,
	}).Debug("peer received envelope")

	switch env.Kind {
	case protocol.Kind_FETCH:
		return p.answerFetch(env)
	case protocol.Kind_GET_HEADS:
		return p.sendHeads(env.Address, []string{env.Topic})
	case protocol.Kind_CONSUMER_HELLO:
		return p.sendHeads(env.Address, env.Subjects)
	}
	return errors.Errorf("unexpected envelope kind %s", env.Kind)
}

// answerFetch replays the available sequences of a FETCH to its consumer.
func (p *Peer) answerFetch(fetch protocol.Envelope) error {
	var key = consumer.StreamKey{Subject: fetch.Subject, Address: fetch.Topic}

	p.mu.Lock()
	var payloads = p.history[key]
	p.mu.Unlock()

	for seq := fetch.Sequence; seq < fetch.Sequence+fetch.Count && seq < int64(len(payloads)); seq++ {
		if err := p.Publisher.Send(protocol.Envelope{
			Kind:     protocol.Kind_DIRECT_MSG,
			Topic:    fetch.Address,
			Subject:  key.Subject,
			Address:  key.Address,
			Sequence: seq,
			Payload:  payloads[seq],
		}); err != nil {
			return err
		}
	}
	return nil
}

// sendHeads sends a DIRECT_HEAD of each retained stream of |subjects|
// to the consumer |address|.
func (p *Peer) sendHeads(address string, subjects []string) error {
	p.mu.Lock()
	var keys []consumer.StreamKey
	for key := range p.history {
		for _, s := range subjects {
			if key.Subject == s && (p.store || key.Address == p.Address) {
				keys = append(keys, key)
				break
			}
		}
	}
	p.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		var seq, _ = p.head(key)

		if err := p.Publisher.Send(protocol.Envelope{
			Kind:     protocol.Kind_DIRECT_HEAD,
			Topic:    address,
			Subject:  key.Subject,
			Address:  key.Address,
			Sequence: seq,
		}); err != nil {
			return err
		}
	}
	return nil
}
