package databroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/listener"
	"github.com/nupi-ai/kuksa/internal/transport"
	"github.com/nupi-ai/kuksa/internal/vss"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// ErrConnectionLost is reported by Err after the transport dropped.
var ErrConnectionLost = errors.New("databroker: connection lost")

var defaultFields = []broker.Field{broker.FieldValue}

// Connection is one live session with the broker. It owns the underlying
// channel: once the channel leaves the ready state the connection is torn
// down and its disconnect listeners are notified. An explicit Disconnect
// tears down without notifying them.
type Connection struct {
	conn   *grpc.ClientConn
	client broker.VALClient
	logger zerolog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	subscriber *subscriber
	nodes      *nodeAdapters
	listeners  listener.Registry[DisconnectListener]

	creds       *transport.TokenCredentials
	credsOnCall bool

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewConnection wraps a ready channel. Most callers obtain a Connection from
// Connector.Connect instead.
func NewConnection(conn *grpc.ClientConn, opts ...Option) *Connection {
	cfg := newOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:   conn,
		client: broker.NewVALClient(conn),
		logger: cfg.logger,
		ctx:    ctx,
		cancel: cancel,
		nodes:  newNodeAdapters(),
		creds:  cfg.creds,
		done:   make(chan struct{}),
	}
	if c.creds == nil {
		c.creds = transport.NewTokenCredentials("")
		c.credsOnCall = true
	}
	if token := strings.TrimSpace(cfg.token); token != "" {
		c.creds.SetToken(token)
	}
	c.subscriber = newSubscriber(ctx, c.client, c.logger, c.callOptions)
	go c.watch(connectivity.Ready)
	return c
}

// Target returns the address the connection was dialed with.
func (c *Connection) Target() string { return c.conn.Target() }

// DisconnectListeners is the registry notified when the transport drops.
func (c *Connection) DisconnectListeners() *listener.Registry[DisconnectListener] {
	return &c.listeners
}

// SetToken replaces the bearer token sent with subsequent requests and
// newly opened subscriptions. An empty token sends none.
func (c *Connection) SetToken(token string) {
	c.creds.SetToken(token)
}

// callOptions attaches the token only when the channel was not dialed with
// the connection's credentials; otherwise gRPC already presents them.
func (c *Connection) callOptions() []grpc.CallOption {
	if !c.credsOnCall {
		return nil
	}
	return []grpc.CallOption{grpc.PerRPCCredentials(c.creds)}
}

// Done is closed once the connection is torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns nil while the connection is live, ErrClosed after Disconnect
// and ErrConnectionLost after a transport drop.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Connection) ensureOpen() error {
	if err := c.Err(); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the channel and cancels every subscription. Disconnect
// listeners are not notified. Calling it again is a no-op.
func (c *Connection) Disconnect() error {
	c.closing.Store(true)
	var err error
	c.shutdown(ErrClosed, func() {
		c.logger.Info().Str("target", c.Target()).Msg("disconnecting from broker")
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) shutdown(reason error, closeConn func()) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = reason
		c.errMu.Unlock()

		c.cancel()
		c.subscriber.close()
		closeConn()
		close(c.done)
	})
}

// watch observes the channel and tears the connection down once it leaves
// the ready state. state is the state the channel was last known to be in.
func (c *Connection) watch(state connectivity.State) {
	seenReady := false
	for {
		if state == connectivity.Ready {
			seenReady = true
		} else if seenReady || state == connectivity.Shutdown {
			break
		}
		if !c.conn.WaitForStateChange(c.ctx, state) {
			return
		}
		state = c.conn.GetState()
	}
	if c.closing.Load() {
		return
	}

	c.logger.Warn().Str("target", c.Target()).Str("state", state.String()).Msg("connection to broker lost")
	c.shutdown(ErrConnectionLost, func() { _ = c.conn.Close() })
	for _, l := range c.listeners.Snapshot() {
		l.OnDisconnect()
	}
}

// ServerInfo asks the broker for its name and version.
func (c *Connection) ServerInfo(ctx context.Context) (*broker.GetServerInfoResponse, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	resp, err := c.client.GetServerInfo(ctx, &broker.GetServerInfoRequest{}, c.callOptions()...)
	if err != nil {
		return nil, wrapGRPCError("server info", err)
	}
	return resp, nil
}

// Fetch reads fields of path, FieldValue when none are given. Entry level
// errors are left in the response; an error is returned only when nothing
// could be read.
func (c *Connection) Fetch(ctx context.Context, path string, fields ...broker.Field) (*broker.GetResponse, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = defaultFields
	}
	req := &broker.GetRequest{Entries: []broker.EntryRequest{{Path: path, Fields: fields}}}
	resp, err := c.client.Get(ctx, req, c.callOptions()...)
	if err != nil {
		return nil, wrapGRPCError("fetch "+path, err)
	}
	if len(resp.Entries) == 0 {
		if err := resp.Err(); err != nil {
			return resp, fmt.Errorf("databroker: fetch %s: %w", path, err)
		}
	}
	return resp, nil
}

// Update writes dp into the slots of path selected by fields, FieldValue
// when none are given. Errors reported by the broker are returned alongside
// the response.
func (c *Connection) Update(ctx context.Context, path string, dp broker.Datapoint, fields ...broker.Field) (*broker.SetResponse, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = defaultFields
	}
	entry := broker.DataEntry{Path: path}
	for _, field := range fields {
		entry.ApplyDatapoint(dp, field)
	}
	req := &broker.SetRequest{Updates: []broker.EntryUpdate{{Entry: entry, Fields: fields}}}
	resp, err := c.client.Set(ctx, req, c.callOptions()...)
	if err != nil {
		return nil, wrapGRPCError("update "+path, err)
	}
	if err := resp.Err(); err != nil {
		return resp, fmt.Errorf("databroker: update %s: %w", path, err)
	}
	return resp, nil
}

// Subscribe adds l to the subscriptions of path for each field, FieldValue
// when none are given.
func (c *Connection) Subscribe(path string, l EntryListener, fields ...broker.Field) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = defaultFields
	}
	for _, field := range fields {
		if err := c.subscriber.subscribe(path, field, l); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes l from the subscriptions of path. Listeners that are
// not subscribed are ignored.
func (c *Connection) Unsubscribe(path string, l EntryListener, fields ...broker.Field) {
	if len(fields) == 0 {
		fields = defaultFields
	}
	for _, field := range fields {
		c.subscriber.unsubscribe(path, field, l)
	}
}

// SubscriptionCount returns the number of open broker streams.
func (c *Connection) SubscriptionCount() int {
	return c.subscriber.count()
}

// FetchNode reads fields of every signal below node and writes the results
// into it.
func (c *Connection) FetchNode(ctx context.Context, node vss.Node, fields ...broker.Field) (*broker.GetResponse, error) {
	if len(fields) == 0 {
		fields = defaultFields
	}
	resp, err := c.Fetch(ctx, node.VSSPath(), fields...)
	if err != nil {
		return resp, err
	}
	for _, entry := range resp.Entries {
		for _, field := range fields {
			if _, err := vss.Apply(node, entry, field); err != nil {
				return resp, fmt.Errorf("databroker: fetch %s: %w", node.VSSPath(), err)
			}
		}
	}
	return resp, nil
}

// UpdateNode writes every signal below node with one set request each. The
// responses are returned in signal order when all writes succeed; otherwise
// an *UpdateError lists every failed path.
func (c *Connection) UpdateNode(ctx context.Context, node vss.Node, fields ...broker.Field) ([]*broker.SetResponse, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	signals := vss.Signals(node)
	if len(signals) == 0 {
		return nil, fmt.Errorf("databroker: update %s: node has no signals", node.VSSPath())
	}

	responses := make([]*broker.SetResponse, len(signals))
	errs := make([]error, len(signals))
	var wg sync.WaitGroup
	for i, signal := range signals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i], errs[i] = c.Update(ctx, signal.VSSPath(), signal.Datapoint(), fields...)
		}()
	}
	wg.Wait()

	var failed []PathFailure
	for i, err := range errs {
		if err != nil {
			failed = append(failed, PathFailure{Path: signals[i].VSSPath(), Err: err})
		}
	}
	if len(failed) > 0 {
		return responses, &UpdateError{Failures: failed}
	}
	return responses, nil
}

// SubscribeNode subscribes node for each field. Every batch is applied to
// node before l is called, once per batch.
func (c *Connection) SubscribeNode(node vss.Node, l NodeListener, fields ...broker.Field) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = defaultFields
	}
	for _, field := range fields {
		adapter := c.nodes.acquire(node, l, field, c.logger)
		if err := c.subscriber.subscribe(node.VSSPath(), field, adapter); err != nil {
			c.nodes.release(node, l, field)
			return err
		}
	}
	return nil
}

// UnsubscribeNode reverses SubscribeNode for the given fields.
func (c *Connection) UnsubscribeNode(node vss.Node, l NodeListener, fields ...broker.Field) {
	if len(fields) == 0 {
		fields = defaultFields
	}
	for _, field := range fields {
		if adapter := c.nodes.release(node, l, field); adapter != nil {
			c.subscriber.unsubscribe(node.VSSPath(), field, adapter)
		}
	}
}
