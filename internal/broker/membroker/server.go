// Package membroker implements the broker value service in memory. It backs
// the kuksa-mock binary and the connection tests.
package membroker

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultSubscriberBuffer = 64
	serverName              = "kuksa-mock"
)

// Server is an in-memory broker. Entries are keyed by their VSS path; a
// request for a branch path matches every entry below it.
type Server struct {
	logger  zerolog.Logger
	strict  bool
	version string
	buffer  int

	mu          sync.RWMutex
	entries     map[string]*broker.DataEntry
	subscribers map[uint64]*subscriber
	nextID      uint64
}

// Option customises a Server.
type Option func(*Server)

// WithStrict rejects reads, writes and subscriptions of undefined paths.
func WithStrict(strict bool) Option {
	return func(s *Server) { s.strict = strict }
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by GetServerInfo.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithSubscriberBuffer sets how many undelivered batches a subscriber may
// queue before further batches are dropped.
func WithSubscriberBuffer(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.buffer = size
		}
	}
}

// New constructs an empty broker.
func New(opts ...Option) *Server {
	s := &Server{
		logger:      log.Logger.With().Str("component", "membroker").Logger(),
		version:     "dev",
		buffer:      defaultSubscriberBuffer,
		entries:     make(map[string]*broker.DataEntry),
		subscribers: make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Define declares path with its metadata, keeping any value already stored.
func (s *Server) Define(path string, metadata broker.Metadata) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(path)
	md := metadata
	entry.Metadata = &md
}

// Seed stores entries as-is and notifies subscribers.
func (s *Server) Seed(entries ...broker.DataEntry) {
	s.mu.Lock()
	changes := make([]broker.EntryUpdate, 0, len(entries))
	for _, in := range entries {
		entry := s.entryLocked(in.Path)
		fields := []broker.Field{}
		if in.Value != nil {
			dp := *in.Value
			entry.Value = &dp
			fields = append(fields, broker.FieldValue)
		}
		if in.ActuatorTarget != nil {
			dp := *in.ActuatorTarget
			entry.ActuatorTarget = &dp
			fields = append(fields, broker.FieldActuatorTarget)
		}
		if in.Metadata != nil {
			md := *in.Metadata
			entry.Metadata = &md
			fields = append(fields, broker.FieldMetadata)
		}
		changes = append(changes, broker.EntryUpdate{Entry: cloneEntry(entry), Fields: fields})
	}
	s.mu.Unlock()

	s.publish(changes)
}

// Entry returns a copy of the stored entry at path.
func (s *Server) Entry(path string) (broker.DataEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[path]
	if !ok {
		return broker.DataEntry{}, false
	}
	return cloneEntry(entry), true
}

// SubscriberCount reports the number of open subscription streams.
func (s *Server) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Server) entryLocked(path string) *broker.DataEntry {
	entry, ok := s.entries[path]
	if !ok {
		entry = &broker.DataEntry{Path: path}
		s.entries[path] = entry
	}
	return entry
}

// matchLocked returns the sorted paths addressed by path: the path itself
// and every path below it.
func (s *Server) matchLocked(path string) []string {
	var matches []string
	prefix := path + "."
	for candidate := range s.entries {
		if candidate == path || strings.HasPrefix(candidate, prefix) {
			matches = append(matches, candidate)
		}
	}
	sort.Strings(matches)
	return matches
}

func (s *Server) Get(_ context.Context, req *broker.GetRequest) (*broker.GetResponse, error) {
	if req == nil || len(req.Entries) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no entries requested")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := &broker.GetResponse{}
	for _, request := range req.Entries {
		paths := s.matchLocked(request.Path)
		if len(paths) == 0 {
			resp.Errors = append(resp.Errors, broker.NotFound(request.Path))
			continue
		}
		fields := effectiveFields(request.View, request.Fields)
		for _, path := range paths {
			resp.Entries = append(resp.Entries, project(s.entries[path], fields))
		}
	}
	if len(resp.Errors) > 0 && len(resp.Entries) == 0 {
		resp.Error = &broker.Error{Code: broker.CodeNotFound, Reason: "not_found", Message: "no matching entries"}
	}
	return resp, nil
}

func (s *Server) Set(_ context.Context, req *broker.SetRequest) (*broker.SetResponse, error) {
	if req == nil || len(req.Updates) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no updates requested")
	}

	resp := &broker.SetResponse{}
	changes := make([]broker.EntryUpdate, 0, len(req.Updates))

	s.mu.Lock()
	for _, update := range req.Updates {
		path := update.Entry.Path
		existing, known := s.entries[path]
		if s.strict && !known {
			resp.Errors = append(resp.Errors, broker.NotFound(path))
			continue
		}
		if msg := validate(existing, update); msg != "" {
			resp.Errors = append(resp.Errors, broker.BadRequest(path, msg))
			continue
		}

		entry := s.entryLocked(path)
		fields := update.Fields
		if len(fields) == 0 {
			fields = []broker.Field{broker.FieldValue}
		}
		for _, field := range fields {
			applyField(entry, update.Entry, field)
		}
		changes = append(changes, broker.EntryUpdate{Entry: project(entry, fields), Fields: fields})
	}
	s.mu.Unlock()

	if len(resp.Errors) > 0 {
		resp.Error = &broker.Error{Code: broker.CodeBadRequest, Reason: "partial_failure", Message: fmt.Sprintf("%d of %d updates rejected", len(resp.Errors), len(req.Updates))}
	}

	s.publish(changes)
	return resp, nil
}

func (s *Server) GetServerInfo(context.Context, *broker.GetServerInfoRequest) (*broker.GetServerInfoResponse, error) {
	return &broker.GetServerInfoResponse{Name: serverName, Version: s.version}, nil
}

func (s *Server) Subscribe(req *broker.SubscribeRequest, stream broker.SubscribeServerStream) error {
	if req == nil || len(req.Entries) == 0 {
		return status.Error(codes.InvalidArgument, "no entries to subscribe")
	}

	sub := &subscriber{
		entries: req.Entries,
		updates: make(chan []broker.EntryUpdate, s.buffer),
	}

	s.mu.Lock()
	var initial []broker.EntryUpdate
	for _, entry := range req.Entries {
		paths := s.matchLocked(entry.Path)
		if len(paths) == 0 && s.strict {
			s.mu.Unlock()
			return status.Errorf(codes.NotFound, "%s not found", entry.Path)
		}
		fields := effectiveFields(entry.View, entry.Fields)
		for _, path := range paths {
			stored := s.entries[path]
			if !hasAny(stored, fields) {
				continue
			}
			initial = append(initial, broker.EntryUpdate{Entry: project(stored, fields), Fields: fields})
		}
	}
	s.nextID++
	id := s.nextID
	s.subscribers[id] = sub
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}()

	s.logger.Debug().Uint64("subscriber", id).Int("entries", len(req.Entries)).Msg("subscription opened")

	if len(initial) > 0 {
		if err := stream.Send(&broker.SubscribeResponse{Updates: initial}); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Uint64("subscriber", id).Msg("subscription closed")
			return nil
		case batch := <-sub.updates:
			if err := stream.Send(&broker.SubscribeResponse{Updates: batch}); err != nil {
				return err
			}
		}
	}
}

// publish fans a batch of changes out to every subscriber whose entries
// overlap it. Each subscriber receives at most one response per batch.
func (s *Server) publish(changes []broker.EntryUpdate) {
	if len(changes) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sub := range s.subscribers {
		batch := sub.filter(changes)
		if len(batch) == 0 {
			continue
		}
		select {
		case sub.updates <- batch:
		default:
			s.logger.Warn().Uint64("subscriber", id).Msg("subscriber buffer full, dropping update")
		}
	}
}

type subscriber struct {
	entries []broker.SubscribeEntry
	updates chan []broker.EntryUpdate
}

func (sub *subscriber) filter(changes []broker.EntryUpdate) []broker.EntryUpdate {
	var out []broker.EntryUpdate
	for _, change := range changes {
		for _, entry := range sub.entries {
			if !covers(entry.Path, change.Entry.Path) {
				continue
			}
			wanted := effectiveFields(entry.View, entry.Fields)
			fields := intersect(wanted, change.Fields)
			if len(fields) == 0 {
				continue
			}
			out = append(out, broker.EntryUpdate{Entry: project(&change.Entry, fields), Fields: fields})
			break
		}
	}
	return out
}

func covers(subscribed, path string) bool {
	return subscribed == path || strings.HasPrefix(path, subscribed+".")
}

func effectiveFields(view broker.View, fields []broker.Field) []broker.Field {
	switch view {
	case broker.ViewCurrentValue:
		return []broker.Field{broker.FieldValue}
	case broker.ViewTargetValue:
		return []broker.Field{broker.FieldActuatorTarget}
	case broker.ViewMetadata:
		return []broker.Field{broker.FieldMetadata}
	case broker.ViewAll:
		return []broker.Field{broker.FieldValue, broker.FieldActuatorTarget, broker.FieldMetadata}
	}
	if len(fields) == 0 {
		return []broker.Field{broker.FieldValue}
	}
	return fields
}

// intersect keeps the wanted fields that a change touched. Metadata
// sub-fields match a change of the whole metadata block and vice versa.
func intersect(wanted, changed []broker.Field) []broker.Field {
	var out []broker.Field
	for _, w := range wanted {
		for _, c := range changed {
			if w == c || (w.IsMetadata() && c.IsMetadata() && (w == broker.FieldMetadata || c == broker.FieldMetadata)) {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

func hasAny(entry *broker.DataEntry, fields []broker.Field) bool {
	for _, field := range fields {
		switch {
		case field == broker.FieldValue && entry.Value != nil:
			return true
		case field == broker.FieldActuatorTarget && entry.ActuatorTarget != nil:
			return true
		case field.IsMetadata() && entry.Metadata != nil:
			return true
		}
	}
	return false
}

func project(entry *broker.DataEntry, fields []broker.Field) broker.DataEntry {
	out := broker.DataEntry{Path: entry.Path}
	for _, field := range fields {
		switch {
		case field == broker.FieldValue && entry.Value != nil:
			dp := *entry.Value
			out.Value = &dp
		case field == broker.FieldActuatorTarget && entry.ActuatorTarget != nil:
			dp := *entry.ActuatorTarget
			out.ActuatorTarget = &dp
		case field.IsMetadata() && entry.Metadata != nil:
			md := projectMetadata(*entry.Metadata, field, out.Metadata)
			out.Metadata = &md
		}
	}
	return out
}

func projectMetadata(src broker.Metadata, field broker.Field, acc *broker.Metadata) broker.Metadata {
	var md broker.Metadata
	if acc != nil {
		md = *acc
	}
	switch field {
	case broker.FieldMetadataDataType:
		md.DataType = src.DataType
	case broker.FieldMetadataDescription:
		md.Description = src.Description
	case broker.FieldMetadataEntryType:
		md.EntryType = src.EntryType
	case broker.FieldMetadataComment:
		md.Comment = src.Comment
	case broker.FieldMetadataDeprecation:
		md.Deprecation = src.Deprecation
	case broker.FieldMetadataUnit:
		md.Unit = src.Unit
	default:
		md = src
	}
	return md
}

func applyField(entry *broker.DataEntry, update broker.DataEntry, field broker.Field) {
	switch {
	case field == broker.FieldActuatorTarget:
		if update.ActuatorTarget != nil {
			dp := *update.ActuatorTarget
			entry.ActuatorTarget = &dp
		}
	case field.IsMetadata():
		if update.Metadata != nil {
			md := *update.Metadata
			entry.Metadata = &md
		}
	default:
		if update.Value != nil {
			dp := *update.Value
			entry.Value = &dp
		}
	}
}

// validate rejects a write whose datapoint kind contradicts the declared
// datatype of the entry.
func validate(existing *broker.DataEntry, update broker.EntryUpdate) string {
	if existing == nil || existing.Metadata == nil {
		return ""
	}
	want := existing.Metadata.DataType.ValueKind()
	if want == broker.KindNotSet {
		return ""
	}
	fields := update.Fields
	if len(fields) == 0 {
		fields = []broker.Field{broker.FieldValue}
	}
	for _, field := range fields {
		if field.IsMetadata() {
			continue
		}
		dp := update.Entry.Datapoint(field)
		if dp == nil {
			return fmt.Sprintf("%s missing for %s", field, update.Entry.Path)
		}
		if dp.Kind != want {
			return fmt.Sprintf("expected %s value, got %s", want, dp.Kind)
		}
	}
	return ""
}

func cloneEntry(entry *broker.DataEntry) broker.DataEntry {
	return project(entry, []broker.Field{broker.FieldValue, broker.FieldActuatorTarget, broker.FieldMetadata})
}

// Paths lists every stored path in order.
func (s *Server) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.entries))
	for path := range s.entries {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}
