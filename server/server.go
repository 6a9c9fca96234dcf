// Package server binds the single TCP port of a dafka process, over which
// it serves both protocol frames to subscribers and HTTP diagnostics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/soheilhy/cmux"
	"go.dafka.dev/core/keepalive"
	"go.dafka.dev/core/protocol"
	"go.dafka.dev/core/task"
)

// Server bundles a frame publishing listener & HTTP server, multiplexed over a
// single bound TCP socket (using CMux). Additional protocols may be added to
// the Server by interacting directly with its provided CMux.
type Server struct {
	// RawListener is the bound TCP listener of the Server.
	RawListener *net.TCPListener
	// CMux wraps RawListener to provide connection protocol multiplexing over
	// a single bound socket. Frame and HTTP Listeners are provided by default.
	CMux cmux.CMux
	// FrameListener is a CMux Listener of subscriber connections, which
	// are recognized by their leading protocol.SubscriberGreeting.
	FrameListener net.Listener
	// HTTPListener is a CMux Listener for HTTP connections.
	HTTPListener net.Listener
	// HTTPMux is the http.ServeMux which is served by QueueTasks.
	HTTPMux *http.ServeMux
	// Ctx is cancelled when the Server is stopped.
	Ctx context.Context

	cancel context.CancelFunc
}

// New builds and returns a Server of the given TCP network interface |iface|
// and |port|. |port| may be zero, in which case a random free port is assigned.
func New(iface string, port uint16) (*Server, error) {
	var addr = net.JoinHostPort(iface, strconv.Itoa(int(port)))

	var raw, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind service address (%s)", addr)
	}

	var ctx, cancel = context.WithCancel(context.Background())

	var srv = &Server{
		HTTPMux:     http.NewServeMux(),
		RawListener: raw.(*net.TCPListener),
		Ctx:         ctx,
		cancel:      cancel,
	}

	srv.CMux = cmux.New(keepalive.TCPListener{TCPListener: srv.RawListener})

	srv.CMux.HandleError(func(err error) bool {
		if _, ok := err.(net.Error); !ok {
			log.WithField("err", err).Warn("failed to CMux client connection to a listener")
		}
		return true // Continue serving RawListener.
	})

	srv.FrameListener = srv.CMux.Match(cmux.PrefixMatcher(protocol.SubscriberGreeting))
	// Connections sending HTTP/1 verbs (GET, PUT, POST etc) are assumed to be HTTP.
	srv.HTTPListener = srv.CMux.Match(cmux.HTTP1Fast())

	return srv, nil
}

// Endpoint of the Server, advertised under |host|. If |host| is empty,
// the bound listener address is used.
func (s *Server) Endpoint(host string) protocol.Endpoint {
	var addr = s.RawListener.Addr().(*net.TCPAddr)

	if host == "" {
		return protocol.Endpoint("tcp://" + addr.String())
	}
	return protocol.Endpoint(fmt.Sprintf("tcp://%s", net.JoinHostPort(host, strconv.Itoa(addr.Port))))
}

// QueueTasks serving the CMux and HTTP component servers onto the task.Group.
// The caller is responsible for serving FrameListener. All listeners are
// closed when the task.Group is cancelled.
func (s *Server) QueueTasks(tg *task.Group) {
	tg.Queue("CMux.Serve", func() error {
		if err := s.CMux.Serve(); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after Stop.
	})
	tg.Queue("http.Serve", func() error {
		if err := http.Serve(s.HTTPListener, s.HTTPMux); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after Stop.
	})
	tg.Queue("Server.Stop", func() error {
		<-tg.Context().Done() // Block until task.Group is cancelled.
		s.Stop()
		return nil
	})
}

// Stop the Server, closing its listeners.
func (s *Server) Stop() {
	// Cancel |s.Ctx| first, so Serve loops recognize the closure as graceful.
	s.cancel()
	_ = s.RawListener.Close()
}
