package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/codecs"
	"go.dafka.dev/core/consumer"
	sqlite "go.dafka.dev/core/consumer/sink-sqlite"
	"go.dafka.dev/core/discovery"
	mbp "go.dafka.dev/core/mainboilerplate"
	"go.dafka.dev/core/protocol"
	"go.dafka.dev/core/task"
	"go.dafka.dev/core/transport"
)

const iniFilename = "dafka.ini"

// Config is the top-level configuration object of the console consumer.
var Config = new(struct {
	Consumer struct {
		OffsetReset   consumer.OffsetPolicy `long:"offset-reset" env:"OFFSET_RESET" default:"latest" choice:"latest" choice:"earliest" description:"Where consumption of newly observed streams begins"`
		FromBeginning bool                  `long:"from-beginning" env:"FROM_BEGINNING" description:"Consume all available history. Equivalent to --consumer.offset-reset=earliest"`
		Topics        []string              `long:"topic" env:"TOPICS" env-delim:"," default:"HELLO" description:"Subject to subscribe to. May be repeated"`
		Codec         string                `long:"codec" env:"CODEC" default:"none" choice:"none" choice:"gzip" choice:"snappy" choice:"zstandard" description:"Compression codec of sent frames"`
		Queue         int                   `long:"queue" env:"QUEUE" default:"1024" description:"Number of frames buffered for each connection"`
	} `group:"Consumer" namespace:"consumer" env-namespace:"CONSUMER"`

	Beacon struct {
		Peers []protocol.Endpoint `long:"peer" env:"PEERS" env-delim:"," description:"Endpoint of a publisher to attach to. May be repeated"`
		Etcd  bool                `long:"etcd" env:"ETCD" description:"Discover publishers through Etcd, rather than static peers"`
	} `group:"Beacon" namespace:"beacon" env-namespace:"BEACON"`

	Sink struct {
		SQLite string `long:"sqlite" env:"SQLITE" description:"Path of a SQLite database into which deliveries are also recorded"`
		Quiet  bool   `long:"quiet" env:"QUIET" description:"Don't print deliveries to stdout"`
	} `group:"Sink" namespace:"sink" env-namespace:"SINK"`

	Service     mbp.ServiceConfig     `group:"Service" namespace:"service" env-namespace:"SERVICE"`
	Etcd        mbp.EtcdConfig        `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

type cmdConsume struct{}

func (cmdConsume) Execute([]string) error {
	mbp.InitLog(Config.Log)

	var srv, endpoint = Config.Service.MustServer()
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics, srv.HTTPMux)()

	var policy = Config.Consumer.OffsetReset
	if Config.Consumer.FromBeginning {
		policy = consumer.Earliest
	}
	var codec, err = codecs.ParseCodec(Config.Consumer.Codec)
	mbp.Must(err, "invalid codec")

	var beacon discovery.Beacon
	if Config.Beacon.Etcd {
		beacon = discovery.NewEtcd(Config.Etcd.MustDial(), Config.Etcd.Root, Config.Etcd.LeaseTTL)
	} else {
		beacon = discovery.NewStatic(Config.Beacon.Peers...)
	}

	var stats = newStats()
	var out io.Writer = os.Stdout
	if Config.Sink.Quiet {
		out = io.Discard
	}
	var sinks = []consumer.Sink{stats, printer{w: out}}

	if Config.Sink.SQLite != "" {
		var db, err = sqlite.Open(Config.Sink.SQLite)
		mbp.Must(err, "failed to open sqlite sink", "path", Config.Sink.SQLite)
		defer db.Close()

		sinks = append(sinks, db)
	}

	var publisher = transport.NewPublisher(endpoint, codec, Config.Consumer.Queue)
	var subscriber = transport.NewSubscriber(Config.Consumer.Queue)

	var tasks = task.NewGroup(context.Background())
	srv.QueueTasks(tasks)
	tasks.Queue("Publisher.Serve", func() error {
		return publisher.Serve(tasks.Context(), srv.FrameListener)
	})
	tasks.GoRun()

	var c = consumer.New(consumer.Config{
		Policy:   policy,
		Endpoint: endpoint,
	}, subscriber, publisher, beacon, multiSink(sinks))

	log.WithFields(log.Fields{
		"process":  Config.Service.ProcessID(),
		"address":  c.Identity().Address,
		"endpoint": endpoint,
		"topics":   Config.Consumer.Topics,
	}).Info("starting console consumer")

	mbp.Must(c.Start(tasks.Context()), "failed to start consumer")
	for _, topic := range Config.Consumer.Topics {
		mbp.Must(c.Subscribe(tasks.Context(), topic), "failed to subscribe", "topic", topic)
	}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalCh:
		log.WithField("signal", sig).Info("caught signal")
	case <-c.Done():
	}
	err = c.Stop()

	tasks.Cancel()
	if waitErr := tasks.Wait(); err == nil {
		err = waitErr
	}
	stats.WriteTable(os.Stderr, c.Streams())

	return err
}

type cmdStreams struct {
	SQLite string `long:"sqlite" required:"true" description:"Path of the SQLite database of a console consumer"`
}

func (cmd cmdStreams) Execute([]string) error {
	mbp.InitLog(Config.Log)

	var db, err = sqlite.Open(cmd.SQLite)
	if err != nil {
		return err
	}
	defer db.Close()

	streams, err := db.Streams(context.Background())
	if err != nil {
		return err
	}
	newStats().WriteTable(os.Stdout, streams)
	return nil
}

// printer writes the subject, producer address and payload of each Delivery.
type printer struct{ w io.Writer }

func (p printer) Deliver(d consumer.Delivery) error {
	var _, err = fmt.Fprintf(p.w, "%s\t%s\t%s\n", d.Subject, d.Address, d.Payload)
	return err
}

// multiSink delivers to each Sink in turn.
type multiSink []consumer.Sink

func (m multiSink) Deliver(d consumer.Delivery) error {
	for _, s := range m {
		if err := s.Deliver(d); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	var registry = mbp.NewCommandRegistry()

	registry.AddCommand("", "consume", "Consume subjects and print their messages", `
Consume the configured subjects, printing the subject, producer address, and
content of each message to stdout in stream order, until signaled to exit (via
SIGTERM or SIGINT). Publishers are attached as they're discovered, either
statically (--beacon.peer) or through Etcd (--beacon.etcd).

Upon exit, a summary of each consumed stream is written to stderr.
`, &cmdConsume{})

	registry.AddCommand("", "streams", "Summarize streams recorded into a SQLite sink", `
Print a table of the streams recorded by a console consumer run with
--sink.sqlite, and the last sequence of each.
`, &cmdStreams{})

	mbp.Must(registry.AddCommands("", parser.Command, true), "failed to add commands")
	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
