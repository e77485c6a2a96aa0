// Package databroker drives a gRPC channel to a data broker and exposes the
// broker's get, set and subscribe primitives on top of it, both for raw
// paths and for typed VSS nodes.
package databroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nupi-ai/kuksa/internal/constants"
	"github.com/nupi-ai/kuksa/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// Connector turns an idle client connection into a live Connection.
type Connector struct {
	conn   *grpc.ClientConn
	logger zerolog.Logger
	creds  *transport.TokenCredentials

	mu      sync.Mutex
	timeout time.Duration
}

// NewConnector wraps conn, which must not have been used yet.
func NewConnector(conn *grpc.ClientConn, opts ...Option) *Connector {
	cfg := newOptions(opts)
	return &Connector{
		conn:    conn,
		logger:  cfg.logger,
		creds:   cfg.creds,
		timeout: constants.DataBrokerConnectTimeout,
	}
}

// SetTimeout bounds the next Connect call. Non-positive values restore the
// default.
func (c *Connector) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = constants.DataBrokerConnectTimeout
	}
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// Timeout returns the configured connect timeout.
func (c *Connector) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Connect waits until the channel is ready. When the timeout expires first
// the channel is closed and an error wrapping ErrTimeout is returned.
func (c *Connector) Connect(ctx context.Context, opts ...Option) (*Connection, error) {
	if state := c.conn.GetState(); state != connectivity.Idle {
		return nil, fmt.Errorf("%w: state %s", ErrAlreadyConnecting, state)
	}

	timeout := c.Timeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug().Str("target", c.conn.Target()).Dur("timeout", timeout).Msg("connecting to broker")
	c.conn.Connect()

	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if state == connectivity.Shutdown {
			return nil, fmt.Errorf("databroker: connect %s: %w", c.conn.Target(), ErrClosed)
		}
		if !c.conn.WaitForStateChange(waitCtx, state) {
			_ = c.conn.Close()
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("databroker: connect %s: %w", c.conn.Target(), err)
			}
			return nil, fmt.Errorf("databroker: connect %s after %s (last state %s): %w", c.conn.Target(), timeout, state, ErrTimeout)
		}
	}

	c.logger.Info().Str("target", c.conn.Target()).Msg("connected to broker")
	return NewConnection(c.conn, append([]Option{WithLogger(c.logger), WithCredentials(c.creds)}, opts...)...), nil
}

// Option customises a Connector or Connection.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	creds  *transport.TokenCredentials
	token  string
}

func newOptions(opts []Option) options {
	cfg := options{logger: log.Logger.With().Str("component", "databroker").Logger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCredentials names the credentials the channel was dialed with, as
// returned by transport.Build. The connection changes its token through them
// instead of attaching its own.
func WithCredentials(creds *transport.TokenCredentials) Option {
	return func(o *options) { o.creds = creds }
}

// WithToken presents token on every request of the connection.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}
