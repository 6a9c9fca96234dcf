package consumertest

import (
	"context"

	"go.dafka.dev/core/codecs"
	"go.dafka.dev/core/consumer"
	"go.dafka.dev/core/discovery"
	"go.dafka.dev/core/server"
	"go.dafka.dev/core/task"
	"go.dafka.dev/core/transport"
)

// Consumer is a consumer.Consumer wired to TCP transports, listening on a
// random local port.
type Consumer struct {
	*consumer.Consumer

	Server     *server.Server
	Publisher  *transport.Publisher
	Subscriber *transport.Subscriber

	tasks *task.Group
}

// NewConsumer returns a started Consumer which discovers the |peers|
// through a discovery.Static, and delivers to the Sink.
func NewConsumer(ctx context.Context, policy consumer.OffsetPolicy, sink consumer.Sink, peers ...*Peer) (*Consumer, error) {
	var srv, err = server.New("127.0.0.1", 0)
	if err != nil {
		return nil, err
	}
	var c = &Consumer{
		Server:     srv,
		Publisher:  transport.NewPublisher(srv.Endpoint(""), codecs.Codec_NONE, 256),
		Subscriber: transport.NewSubscriber(256),
		tasks:      task.NewGroup(context.Background()),
	}
	srv.QueueTasks(c.tasks)
	c.tasks.Queue("Publisher.Serve", func() error {
		return c.Publisher.Serve(c.tasks.Context(), srv.FrameListener)
	})
	c.tasks.GoRun()

	var beacon = discovery.NewStatic()
	for _, p := range peers {
		beacon.Up(p.Endpoint())
	}
	c.Consumer = consumer.New(consumer.Config{
		Policy:   policy,
		Endpoint: c.Publisher.Endpoint(),
	}, c.Subscriber, c.Publisher, beacon, sink)

	if err = c.Consumer.Start(ctx); err != nil {
		c.Subscriber.Close()
		c.tasks.Cancel()
		_ = c.tasks.Wait()
		return nil, err
	}
	// Peers listen for the FETCH requests of the Consumer.
	for _, p := range peers {
		if err = p.Listen(c.Publisher.Endpoint()); err != nil {
			_ = c.Stop()
			return nil, err
		}
	}
	return c, nil
}

// Stop the Consumer and its transports.
func (c *Consumer) Stop() error {
	var err = c.Consumer.Stop()

	c.tasks.Cancel()
	if waitErr := c.tasks.Wait(); err == nil {
		err = waitErr
	}
	return err
}
