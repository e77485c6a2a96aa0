package databroker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrTimeout is returned when the channel did not become ready in time.
	ErrTimeout = errors.New("databroker: connect timed out")
	// ErrAlreadyConnecting is returned when a connector is driven twice.
	ErrAlreadyConnecting = errors.New("databroker: channel is not idle")
	// ErrClosed is returned by operations on a connection that was torn down.
	ErrClosed = errors.New("databroker: connection closed")
	// ErrUnavailable marks failures caused by an unreachable broker.
	ErrUnavailable = errors.New("databroker: broker unavailable")
)

// wrapGRPCError prefixes err with op and tags Unavailable statuses with
// ErrUnavailable so callers can test for it with errors.Is.
func wrapGRPCError(op string, err error) error {
	if IsUnavailableError(err) {
		return fmt.Errorf("databroker: %s: %w: %w", op, err, ErrUnavailable)
	}
	return fmt.Errorf("databroker: %s: %w", op, err)
}

// IsUnavailableError reports whether err maps to grpc Unavailable.
func IsUnavailableError(err error) bool {
	if s, ok := status.FromError(err); ok && s.Code() == codes.Unavailable {
		return true
	}
	return false
}

// isCanceled reports whether err is the result of cancelling a stream locally.
func isCanceled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	s, ok := status.FromError(err)
	return ok && s.Code() == codes.Canceled
}

// PathFailure is one failed write of a fanned out update.
type PathFailure struct {
	Path string
	Err  error
}

// UpdateError aggregates the failed writes of a node update.
type UpdateError struct {
	Failures []PathFailure
}

func (e *UpdateError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	if len(e.Failures) == 1 {
		return fmt.Sprintf("databroker: update of %s failed: %v", paths[0], e.Failures[0].Err)
	}
	return fmt.Sprintf("databroker: %d updates failed: %s", len(e.Failures), strings.Join(paths, ", "))
}

// Unwrap exposes every constituent failure to errors.Is and errors.As.
func (e *UpdateError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}
