// Package engine owns the connection to a data broker and routes fetch,
// update and subscribe requests to it.
//
// At most one connection is live at a time. Disconnect listeners are kept by
// the engine and attached to whichever connection is live, so they survive
// reconnects. Every request issued while no connection is live fails with
// ErrNotConnected.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/databroker"
	"github.com/nupi-ai/kuksa/internal/listener"
	"github.com/nupi-ai/kuksa/internal/observability"
	"github.com/nupi-ai/kuksa/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is returned by requests issued without a live connection.
	ErrNotConnected = errors.New("engine: not connected")
	// ErrListenerMismatch is returned when a listener cannot receive the
	// results of the request's addressing mode.
	ErrListenerMismatch = errors.New("engine: listener does not match request mode")
)

// Options configures an Engine.
type Options struct {
	// DefaultFields apply to requests that name no fields. Empty means
	// FieldValue only.
	DefaultFields []broker.Field
	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// Engine manages the connection lifecycle. The zero value is not usable;
// call New.
type Engine struct {
	defaultFields []broker.Field
	logger        zerolog.Logger

	mu        sync.Mutex
	conn      *databroker.Connection
	listeners listener.Registry[databroker.DisconnectListener]
}

// New returns a disconnected engine.
func New(opts Options) *Engine {
	fields := slices.Clone(opts.DefaultFields)
	if len(fields) == 0 {
		fields = []broker.Field{broker.FieldValue}
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Engine{
		defaultFields: fields,
		logger:        logger.With().Str("component", "engine").Logger(),
	}
}

// DefaultFields returns the fields used by requests that name none.
func (e *Engine) DefaultFields() []broker.Field {
	return slices.Clone(e.defaultFields)
}

// Connect builds a channel from info and waits up to timeout for it to become
// ready. On success the connection becomes the active one and every
// registered disconnect listener is attached to it before Connect returns.
// A previously active connection is replaced, not closed.
func (e *Engine) Connect(ctx context.Context, info transport.ConnectionInfo, timeout transport.TimeoutConfig) (*databroker.Connection, error) {
	cc, creds, err := transport.Build(ctx, info)
	if err != nil {
		e.logger.Error().Err(err).Str("address", info.Address()).Msg("cannot build broker channel")
		observability.RecordConnect(info.TLSEnabled, observability.Result(err))
		return nil, err
	}

	connector := databroker.NewConnector(cc, databroker.WithLogger(e.logger), databroker.WithCredentials(creds))
	connector.SetTimeout(timeout.Timeout())
	conn, err := connector.Connect(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("address", info.Address()).Msg("cannot connect to broker")
		observability.RecordConnect(info.TLSEnabled, observability.Result(err))
		return nil, err
	}
	observability.RecordConnect(info.TLSEnabled, observability.Result(nil))

	e.mu.Lock()
	if e.conn != nil && e.conn.Err() == nil {
		e.logger.Warn().Str("target", e.conn.Target()).Msg("replacing a live connection that was not disconnected")
	}
	e.conn = conn
	for _, l := range e.listeners.Snapshot() {
		conn.DisconnectListeners().Register(l)
	}
	e.mu.Unlock()

	go e.forgetOnDrop(conn)
	return conn, nil
}

// forgetOnDrop clears the active connection once its transport drops.
func (e *Engine) forgetOnDrop(conn *databroker.Connection) {
	<-conn.Done()
	if !errors.Is(conn.Err(), databroker.ErrConnectionLost) {
		observability.RecordDisconnect("explicit")
		return
	}
	observability.RecordDisconnect("transport")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == conn {
		e.conn = nil
		e.logger.Warn().Str("target", conn.Target()).Msg("active connection lost")
	}
}

// Disconnect tears the active connection down. Registered disconnect
// listeners are kept for the next connection and are not notified.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

// Connection returns the active connection, or nil.
func (e *Engine) Connection() *databroker.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

func (e *Engine) active() (*databroker.Connection, error) {
	conn := e.Connection()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// RegisterDisconnectListener adds l and attaches it to the active connection.
func (e *Engine) RegisterDisconnectListener(l databroker.DisconnectListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.Register(l)
	if e.conn != nil {
		e.conn.DisconnectListeners().Register(l)
	}
}

// UnregisterDisconnectListener removes l and detaches it from the active
// connection.
func (e *Engine) UnregisterDisconnectListener(l databroker.DisconnectListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.Unregister(l)
	if e.conn != nil {
		e.conn.DisconnectListeners().Unregister(l)
	}
}

// DisconnectListeners returns the registered listeners in order.
func (e *Engine) DisconnectListeners() []databroker.DisconnectListener {
	return e.listeners.Snapshot()
}

func (e *Engine) record(op string, req Request, err error) {
	result := observability.Result(err)
	if errors.Is(err, ErrNotConnected) {
		result = "not_connected"
	}
	observability.RecordRequest(op, req.Mode.String(), result)
}

func (e *Engine) fields(req Request) []broker.Field {
	if len(req.Fields) > 0 {
		return req.Fields
	}
	return e.defaultFields
}

// Fetch reads the request's fields. Node requests write the result into the
// node.
func (e *Engine) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	res, err := e.fetch(ctx, req)
	e.record("fetch", req, err)
	return res, err
}

func (e *Engine) fetch(ctx context.Context, req Request) (*FetchResult, error) {
	conn, err := e.active()
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	fields := e.fields(req)
	if req.Mode == ModeNode {
		resp, err := conn.FetchNode(ctx, req.Node, fields...)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Response: resp, Node: req.Node}, nil
	}
	resp, err := conn.Fetch(ctx, req.Address(), fields...)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Response: resp}, nil
}

// Update writes the request's payload. Node requests fan out to one write per
// signal and fail with a *databroker.UpdateError when any write fails.
func (e *Engine) Update(ctx context.Context, req Request) (*UpdateResult, error) {
	res, err := e.update(ctx, req)
	e.record("update", req, err)
	return res, err
}

func (e *Engine) update(ctx context.Context, req Request) (*UpdateResult, error) {
	conn, err := e.active()
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	fields := e.fields(req)
	if req.Mode == ModeNode {
		responses, err := conn.UpdateNode(ctx, req.Node, fields...)
		if err != nil {
			return nil, err
		}
		return &UpdateResult{Responses: responses}, nil
	}
	if !req.Datapoint.IsSet() {
		return nil, fmt.Errorf("%w: no datapoint for %s", ErrInvalidRequest, req.Address())
	}
	resp, err := conn.Update(ctx, req.Address(), req.Datapoint, fields...)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Responses: []*broker.SetResponse{resp}}, nil
}

// Subscribe registers l for the request. Path requests need a
// databroker.EntryListener, node requests a databroker.NodeListener.
func (e *Engine) Subscribe(req Request, l databroker.Listener) error {
	err := e.subscribe(req, l)
	e.record("subscribe", req, err)
	return err
}

func (e *Engine) subscribe(req Request, l databroker.Listener) error {
	conn, err := e.active()
	if err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	fields := e.fields(req)
	switch req.Mode {
	case ModeNode:
		nl, ok := l.(databroker.NodeListener)
		if !ok {
			return fmt.Errorf("%w: %T is not a node listener", ErrListenerMismatch, l)
		}
		return conn.SubscribeNode(req.Node, nl, fields...)
	default:
		el, ok := l.(databroker.EntryListener)
		if !ok {
			return fmt.Errorf("%w: %T is not an entry listener", ErrListenerMismatch, l)
		}
		return conn.Subscribe(req.Address(), el, fields...)
	}
}

// Unsubscribe removes l from the request's subscriptions. Listeners that are
// not subscribed are ignored.
func (e *Engine) Unsubscribe(req Request, l databroker.Listener) error {
	err := e.unsubscribe(req, l)
	e.record("unsubscribe", req, err)
	return err
}

func (e *Engine) unsubscribe(req Request, l databroker.Listener) error {
	conn, err := e.active()
	if err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	fields := e.fields(req)
	switch req.Mode {
	case ModeNode:
		if nl, ok := l.(databroker.NodeListener); ok {
			conn.UnsubscribeNode(req.Node, nl, fields...)
		}
	default:
		if el, ok := l.(databroker.EntryListener); ok {
			conn.Unsubscribe(req.Address(), el, fields...)
		}
	}
	return nil
}
