package databroker

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/listener"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// subscriptionKey identifies the broker stream shared by every listener of
// path and field.
func subscriptionKey(path string, field broker.Field) string {
	return path + "#" + field.String()
}

// subscription is one broker stream fanned out to its listeners. The last
// batch (or the error that ended the stream) is replayed to listeners that
// join later.
type subscription struct {
	id     uuid.UUID
	key    string
	path   string
	field  broker.Field
	cancel context.CancelFunc
	logger zerolog.Logger

	listeners listener.Registry[EntryListener]

	// deliverMu orders replays against live deliveries. It is held while
	// listeners run, so a listener must not subscribe to its own key from a
	// callback.
	deliverMu sync.Mutex

	stateMu sync.Mutex
	closed  bool
	last    []broker.EntryUpdate
	lastErr error
}

func (s *subscription) String() string {
	return s.key + " (" + s.id.String() + ")"
}

// add registers l and replays the last result to it. It returns false when
// the subscription was cancelled concurrently.
func (s *subscription) add(l EntryListener) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return false
	}
	fresh := s.listeners.Register(l)
	last, lastErr := s.last, s.lastErr
	s.stateMu.Unlock()

	if !fresh {
		return true
	}
	switch {
	case lastErr != nil:
		l.OnError(lastErr)
	case last != nil:
		l.OnEntryChanged(last)
	}
	return true
}

// remove unregisters l and cancels the stream once no listener is left. It
// reports whether the subscription ended.
func (s *subscription) remove(l EntryListener) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.listeners.Unregister(l)
	if s.listeners.Len() > 0 || s.closed {
		return false
	}
	s.closed = true
	s.cancel()
	return true
}

func (s *subscription) close() {
	s.stateMu.Lock()
	s.closed = true
	s.stateMu.Unlock()
	s.cancel()
}

func (s *subscription) deliver(updates []broker.EntryUpdate) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.stateMu.Lock()
	s.last = updates
	listeners := s.listeners.Snapshot()
	s.stateMu.Unlock()

	for _, l := range listeners {
		l.OnEntryChanged(updates)
	}
}

func (s *subscription) fail(err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.stateMu.Lock()
	s.lastErr = err
	listeners := s.listeners.Snapshot()
	s.stateMu.Unlock()

	for _, l := range listeners {
		l.OnError(err)
	}
}

// run receives from the broker until the stream ends or is cancelled.
func (s *subscription) run(ctx context.Context, client broker.VALClient, opts []grpc.CallOption) {
	req := &broker.SubscribeRequest{
		Entries: []broker.SubscribeEntry{{Path: s.path, Fields: []broker.Field{s.field}}},
	}
	stream, err := client.Subscribe(ctx, req, opts...)
	if err != nil {
		if !isCanceled(err) {
			s.fail(wrapGRPCError("subscribe "+s.key, err))
		}
		return
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Debug().Str("subscription", s.String()).Msg("stream completed by broker")
			case isCanceled(err) && ctx.Err() != nil:
				s.logger.Debug().Str("subscription", s.String()).Msg("stream cancelled")
			default:
				s.logger.Warn().Err(err).Str("subscription", s.String()).Msg("stream failed")
				s.fail(wrapGRPCError("subscribe "+s.key, err))
			}
			return
		}
		s.deliver(resp.Updates)
	}
}

// subscriber owns the subscriptions of one connection, keyed by path#field.
type subscriber struct {
	ctx      context.Context
	client   broker.VALClient
	logger   zerolog.Logger
	callOpts func() []grpc.CallOption

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

func newSubscriber(ctx context.Context, client broker.VALClient, logger zerolog.Logger, callOpts func() []grpc.CallOption) *subscriber {
	return &subscriber{
		ctx:      ctx,
		client:   client,
		logger:   logger,
		callOpts: callOpts,
		subs:     make(map[string]*subscription),
	}
}

// subscribe adds l to the stream of path and field, opening it on first use.
func (s *subscriber) subscribe(path string, field broker.Field, l EntryListener) error {
	key := subscriptionKey(path, field)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		sub, ok := s.subs[key]
		if !ok {
			ctx, cancel := context.WithCancel(s.ctx)
			sub = &subscription{
				id:     uuid.New(),
				key:    key,
				path:   path,
				field:  field,
				cancel: cancel,
				logger: s.logger,
			}
			sub.listeners.Register(l)
			s.subs[key] = sub
			s.mu.Unlock()

			s.logger.Debug().Str("subscription", sub.String()).Msg("subscription created")
			go sub.run(ctx, s.client, s.callOpts())
			return nil
		}
		s.mu.Unlock()

		if sub.add(l) {
			return nil
		}
	}
}

// unsubscribe removes l; unknown keys and listeners are ignored.
func (s *subscriber) unsubscribe(path string, field broker.Field, l EntryListener) {
	key := subscriptionKey(path, field)
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[key]
	if !ok {
		return
	}
	if sub.remove(l) {
		delete(s.subs, key)
		s.logger.Debug().Str("subscription", sub.String()).Msg("subscription removed, no listeners left")
	}
}

// count returns the number of open subscriptions.
func (s *subscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, sub := range s.subs {
		sub.close()
		delete(s.subs, key)
	}
}
