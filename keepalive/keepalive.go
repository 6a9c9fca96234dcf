// Package keepalive provides TCP dialing and listening with keep-alives
// enabled, so that dead peer connections are eventually detected and closed.
package keepalive

import (
	"context"
	"net"
	"time"

	"go.dafka.dev/core/protocol"
)

// Dialer is copied from the invocation in http.DefaultTransport:
// https://github.com/golang/go/blob/859cab099c5a9a9b4939960b630b78e468c8c39e/src/net/http/transport.go#L40-L44
var Dialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// DialEndpoint dials the host:port of Endpoint |ep| with |ctx|.
// The Endpoint must Validate.
func DialEndpoint(ctx context.Context, ep protocol.Endpoint) (net.Conn, error) {
	return Dialer.DialContext(ctx, "tcp", ep.Addr())
}

// TCPListener sets TCP keep-alive timeouts on accepted connections.
//
// Copied, renamed and exported from:
// https://github.com/golang/go/blob/d6bce32a3607222075734bf4363ca3fea02ea1e5/src/pkg/net/http/server.go#L1840-L1856
type TCPListener struct {
	*net.TCPListener
}

// Accept a connection and enable keep-alives on it.
func (ln TCPListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}
