// Package relay streams broker subscriptions to websocket clients.
//
// A client names paths in the upgrade query (?path=Vehicle.Speed&field=value)
// or sends subscribe and unsubscribe commands later. Every subscription is a
// listener on the shared broker stream, so any number of clients watching
// the same path cost one broker stream.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/constants"
	"github.com/nupi-ai/kuksa/internal/databroker"
	"github.com/nupi-ai/kuksa/internal/engine"
	"github.com/nupi-ai/kuksa/internal/observability"
	"github.com/rs/zerolog"
)

// Frame types sent to clients.
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameUpdate       = "update"
	FrameError        = "error"
)

// Frame is a server to client message.
type Frame struct {
	Type      string               `json:"type"`
	Path      string               `json:"path,omitempty"`
	Fields    []string             `json:"fields,omitempty"`
	Updates   []broker.EntryUpdate `json:"updates,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Command is a client to server message.
type Command struct {
	Type   string   `json:"type"`
	Path   string   `json:"path"`
	Fields []string `json:"fields,omitempty"`
}

// Engine is the part of the broker engine the relay drives.
type Engine interface {
	Subscribe(req engine.Request, l databroker.Listener) error
	Unsubscribe(req engine.Request, l databroker.Listener) error
	Connection() *databroker.Connection
}

// Server manages websocket clients.
type Server struct {
	engine   Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewServer creates a relay for eng.
// The originAllowed function is used to validate the Origin header on upgrade requests.
func NewServer(eng Engine, originAllowed func(string) bool, logger zerolog.Logger) *Server {
	return &Server{
		engine:  eng,
		logger:  logger.With().Str("component", "relay").Logger(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseClients disconnects every client and drops its subscriptions.
func (s *Server) CloseClients() {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// HandleWebSocket upgrades the request and subscribes the paths named in
// its query.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fields := query["field"]
	if _, err := broker.ParseFields(fields); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, constants.RelaySendBuffer),
		done:   make(chan struct{}),
		server: s,
		subs:   make(map[string]*subscription),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	observability.RelayClientOpened()
	s.logger.Debug().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("client connected")

	go c.writePump()
	for _, path := range query["path"] {
		c.subscribe(path, fields)
	}
	go c.readPump()
}

func (s *Server) forget(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// subscription is the listener registered with the engine for one path and
// field set of one client.
type subscription struct {
	client *client
	path   string
	fields []string
	req    engine.Request
}

var _ databroker.EntryListener = (*subscription)(nil)

func (s *subscription) OnEntryChanged(updates []broker.EntryUpdate) {
	s.client.enqueue(Frame{Type: FrameUpdate, Path: s.path, Fields: s.fields, Updates: updates})
}

func (s *subscription) OnError(err error) {
	s.client.enqueue(Frame{Type: FrameError, Path: s.path, Fields: s.fields, Error: err.Error()})
}

func subscriptionKey(path string, fields []string) string {
	return path + "#" + strings.Join(fields, ",")
}

func normalizeFields(raw []string) ([]string, []broker.Field, error) {
	parsed, err := broker.ParseFields(raw)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(parsed))
	for _, f := range parsed {
		names = append(names, f.String())
	}
	slices.Sort(names)
	names = slices.Compact(names)

	fields := make([]broker.Field, 0, len(names))
	for _, name := range names {
		f, _ := broker.ParseField(name)
		fields = append(fields, f)
	}
	return names, fields, nil
}

func (c *client) subscribe(path string, rawFields []string) {
	path = strings.TrimSpace(path)
	names, fields, err := normalizeFields(rawFields)
	if err != nil {
		c.enqueue(Frame{Type: FrameError, Path: path, Error: err.Error()})
		return
	}
	key := subscriptionKey(path, names)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.subs[key]; ok {
		c.mu.Unlock()
		c.enqueue(Frame{Type: FrameSubscribed, Path: path, Fields: names})
		return
	}
	sub := &subscription{client: c, path: path, fields: names, req: engine.PathRequest(path, fields...)}
	c.subs[key] = sub
	c.mu.Unlock()

	// The ack goes out before Subscribe so it precedes the replayed value.
	c.enqueue(Frame{Type: FrameSubscribed, Path: path, Fields: names})
	if err := c.server.engine.Subscribe(sub.req, sub); err != nil {
		c.mu.Lock()
		delete(c.subs, key)
		c.mu.Unlock()
		c.enqueue(Frame{Type: FrameError, Path: path, Fields: names, Error: err.Error()})
		return
	}

	// close may have run while Subscribe was in flight and missed sub.
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		_ = c.server.engine.Unsubscribe(sub.req, sub)
		return
	}
	c.server.logger.Debug().Str("client", c.id).Str("path", path).Strs("fields", names).Msg("subscribed")
}

func (c *client) unsubscribe(path string, rawFields []string) {
	path = strings.TrimSpace(path)
	names, _, err := normalizeFields(rawFields)
	if err != nil {
		c.enqueue(Frame{Type: FrameError, Path: path, Error: err.Error()})
		return
	}
	key := subscriptionKey(path, names)

	c.mu.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if ok {
		if err := c.server.engine.Unsubscribe(sub.req, sub); err != nil {
			c.server.logger.Debug().Err(err).Str("client", c.id).Str("path", path).Msg("unsubscribe failed")
		}
	}
	c.enqueue(Frame{Type: FrameUnsubscribed, Path: path, Fields: names})
}

// enqueue never blocks: it runs inside subscription callbacks. Frames for a
// client whose buffer is full are dropped.
func (c *client) enqueue(frame Frame) {
	frame.Timestamp = time.Now()
	payload, err := json.Marshal(frame)
	if err != nil {
		c.server.logger.Error().Err(err).Str("client", c.id).Msg("cannot encode frame")
		return
	}

	select {
	case <-c.done:
	case c.send <- payload:
		observability.RecordRelayFrame(frame.Type)
	default:
		observability.RecordRelayFrame("dropped")
	}
}

// close unsubscribes everything and stops both pumps. Safe to call more than
// once.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		_ = c.server.engine.Unsubscribe(sub.req, sub)
	}
	close(c.done)
	c.conn.Close()
	c.server.forget(c)
	observability.RelayClientClosed()
	c.server.logger.Debug().Str("client", c.id).Msg("client disconnected")
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(constants.RelayReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn().Err(err).Str("client", c.id).Msg("websocket read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.enqueue(Frame{Type: FrameError, Error: fmt.Sprintf("malformed command: %v", err)})
			continue
		}

		switch cmd.Type {
		case "subscribe":
			c.subscribe(cmd.Path, cmd.Fields)
		case "unsubscribe":
			c.unsubscribe(cmd.Path, cmd.Fields)
		default:
			c.enqueue(Frame{Type: FrameError, Path: cmd.Path, Error: fmt.Sprintf("unknown command %q", cmd.Type)})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(constants.RelayPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
