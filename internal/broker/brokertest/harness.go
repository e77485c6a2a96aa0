// Package brokertest serves an in-memory broker over bufconn for tests.
package brokertest

import (
	"context"
	"net"
	"testing"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/broker/membroker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// Harness is a running in-memory broker reachable through Dialer.
type Harness struct {
	Broker *membroker.Server

	listener *bufconn.Listener
	server   *grpc.Server
}

// Start serves srv (or a fresh membroker when nil) until the test ends.
func Start(t *testing.T, srv *membroker.Server, opts ...grpc.ServerOption) *Harness {
	t.Helper()
	if srv == nil {
		srv = membroker.New()
	}

	h := &Harness{
		Broker:   srv,
		listener: bufconn.Listen(bufSize),
		server:   grpc.NewServer(opts...),
	}
	broker.RegisterVALServer(h.server, srv)
	go func() {
		_ = h.server.Serve(h.listener)
	}()
	t.Cleanup(h.Stop)
	return h
}

// Dialer connects to the harness without touching the network.
func (h *Harness) Dialer(ctx context.Context, _ string) (net.Conn, error) {
	return h.listener.DialContext(ctx)
}

// Stop shuts the server down, which drops every client connection.
func (h *Harness) Stop() {
	h.server.Stop()
	_ = h.listener.Close()
}
