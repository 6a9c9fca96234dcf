package consumer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/discovery"
	"go.dafka.dev/core/protocol"
)

// Config of a Consumer.
type Config struct {
	// Policy of streams not seen before. Latest by default.
	Policy OffsetPolicy
	// Address of the Consumer. If empty, a random Address is generated.
	Address string
	// Endpoint of the Consumer's Sender, announced through discovery.
	Endpoint protocol.Endpoint
}

var (
	// ErrStopped is returned by Subscribe of a stopped Consumer.
	ErrStopped = errors.New("consumer stopped")
	// ErrNotStarted is returned by Subscribe and Stop of a Consumer
	// which hasn't been started.
	ErrNotStarted = errors.New("consumer not started")
)

// Consumer runs the consumer protocol engine: a single goroutine which
// owns all stream and subscription state, and which in turn processes
// received Envelopes, discovery Signals, and Subscribe requests.
type Consumer struct {
	id       discovery.Identity
	policy   OffsetPolicy
	receiver Receiver
	sender   Sender
	beacon   discovery.Beacon
	sink     Sink

	tracker       *Tracker
	subscriptions *Subscriptions
	connections   *Connections
	dispatcher    *Dispatcher

	subscribeCh chan subscribeRequest
	streamsCh   chan chan []StreamState
	stopCh      chan struct{}
	stopOnce    sync.Once
	doneCh      chan struct{}
	err         error

	mu      sync.Mutex // Guards |started|.
	started bool
}

type subscribeRequest struct {
	subject string
	doneCh  chan struct{}
}

// NewAddress returns a new random consumer address.
func NewAddress() string { return uuid.New().String() }

// New returns a Consumer which receives from the Receiver, sends to the
// Sender, discovers publishers with the Beacon, and delivers to the Sink.
func New(cfg Config, receiver Receiver, sender Sender, beacon discovery.Beacon, sink Sink) *Consumer {
	if cfg.Address == "" {
		cfg.Address = NewAddress()
	}
	var tracker = NewTracker()
	var subscriptions = NewSubscriptions(cfg.Address, cfg.Policy, receiver)

	return &Consumer{
		id:            discovery.Identity{Address: cfg.Address, Endpoint: cfg.Endpoint},
		policy:        cfg.Policy,
		receiver:      receiver,
		sender:        sender,
		beacon:        beacon,
		sink:          sink,
		tracker:       tracker,
		subscriptions: subscriptions,
		connections:   NewConnections(receiver),
		dispatcher:    NewDispatcher(cfg.Address, cfg.Policy, tracker, subscriptions),
		subscribeCh:   make(chan subscribeRequest),
		streamsCh:     make(chan chan []StreamState),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Identity of the Consumer.
func (c *Consumer) Identity() discovery.Identity { return c.id }

// Start the Consumer. Start subscribes the Receiver to messages addressed
// directly to the Consumer, starts the Beacon and awaits its readiness, and
// then begins the Consumer's processing loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("consumer already started")
	}
	for _, kind := range []protocol.Kind{
		protocol.Kind_DIRECT_MSG,
		protocol.Kind_DIRECT_HEAD,
		protocol.Kind_STORE_HELLO,
	} {
		c.receiver.Subscribe(protocol.Filter{Kind: kind, Prefix: c.id.Address})
	}
	if err := c.beacon.Start(ctx, c.id); err != nil {
		return errors.WithMessage(err, "starting beacon")
	}
	c.started = true

	log.WithFields(log.Fields{
		"address":  c.id.Address,
		"endpoint": c.id.Endpoint,
		"policy":   c.policy,
	}).Info("consumer started")

	go c.serve()
	return nil
}

// isStarted returns whether Start has succeeded. Once true, it stays true.
func (c *Consumer) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Subscribe the Consumer to |subject|. Subscribe returns after the
// subscription is applied by the Consumer's loop.
func (c *Consumer) Subscribe(ctx context.Context, subject string) error {
	if !c.isStarted() {
		return ErrNotStarted
	}
	var req = subscribeRequest{subject: subject, doneCh: make(chan struct{})}

	select {
	case c.subscribeCh <- req:
	case <-c.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.doneCh
	return nil
}

// Streams returns the state of all streams known to the Consumer.
func (c *Consumer) Streams() []StreamState {
	c.mu.Lock()
	if !c.started {
		// No loop is running, and Start can't begin one while |mu| is held.
		defer c.mu.Unlock()
		return c.tracker.Streams()
	}
	c.mu.Unlock()

	var ch = make(chan []StreamState, 1)

	select {
	case c.streamsCh <- ch:
		return <-ch
	case <-c.doneCh:
		return c.tracker.Streams()
	}
}

// Stop the Consumer, blocking until its loop exits and its Beacon has
// terminated. The terminal error of the loop is returned.
func (c *Consumer) Stop() error {
	if !c.isStarted() {
		return ErrNotStarted
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
	return c.err
}

// Done is closed when the Consumer's loop has exited.
func (c *Consumer) Done() <-chan struct{} { return c.doneCh }

// Err returns the terminal error of the loop, once Done.
func (c *Consumer) Err() error {
	<-c.doneCh
	return c.err
}

func (c *Consumer) serve() {
	var err = c.loop()

	if termErr := c.beacon.Terminate(); termErr != nil && err == nil {
		err = errors.WithMessage(termErr, "terminating beacon")
	} else if termErr != nil {
		log.WithField("err", termErr).Warn("failed to terminate beacon")
	}
	c.receiver.Close()

	if err != nil {
		log.WithFields(log.Fields{
			"address": c.id.Address,
			"err":     err,
		}).Error("consumer failed")
	}
	log.WithFields(log.Fields{
		"address": c.id.Address,
		"streams": c.tracker.Len(),
	}).Info("consumer stopped")

	c.err = err
	close(c.doneCh)
}

func (c *Consumer) loop() error {
	var envelopes = c.receiver.Envelopes()
	var signals = c.beacon.Signals()

	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return errors.New("receiver closed unexpectedly")
			}
			if err := c.apply(c.dispatcher.Dispatch(env)); err != nil {
				return err
			}

		case sig, ok := <-signals:
			if !ok {
				return errors.New("beacon exited unexpectedly")
			}
			if err := c.connections.Apply(sig); errors.Cause(err) == discovery.ErrUnexpectedSignal {
				return err
			} else if err != nil {
				log.WithFields(log.Fields{
					"signal": sig,
					"err":    err,
				}).Warn("failed to apply peer change")
			}

		case req := <-c.subscribeCh:
			c.send(c.subscriptions.Subscribe(req.subject))
			close(req.doneCh)

		case ch := <-c.streamsCh:
			ch <- c.tracker.Streams()

		case <-c.stopCh:
			return nil
		}
	}
}

func (c *Consumer) apply(step Step) error {
	if step.Deliver != nil {
		if err := c.sink.Deliver(*step.Deliver); err != nil {
			return errors.WithMessagef(err, "delivering %s/%s@%d",
				step.Deliver.Subject, step.Deliver.Address, step.Deliver.Sequence)
		}
	}
	c.send(step.Send)
	return nil
}

func (c *Consumer) send(envs []protocol.Envelope) {
	for _, env := range envs {
		if err := c.sender.Send(env); err != nil {
			log.WithFields(log.Fields{
				"kind":  env.Kind,
				"topic": env.Topic,
				"err":   err,
			}).Warn("failed to send envelope")
		}
	}
}
