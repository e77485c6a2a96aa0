package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/vss"
)

// ErrInvalidRequest marks a request whose address or payload is missing.
var ErrInvalidRequest = errors.New("engine: invalid request")

// Mode selects how a request addresses the broker.
type Mode int

const (
	// ModePath addresses a single path.
	ModePath Mode = iota
	// ModeNode addresses every signal of a typed node.
	ModeNode
)

func (m Mode) String() string {
	switch m {
	case ModePath:
		return "path"
	case ModeNode:
		return "node"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Request is the single request type accepted by every engine operation.
// Node requests use Node both as the address and, for updates, as the
// payload; fetch and subscribe results are written back into it.
type Request struct {
	Mode      Mode
	Path      string
	Node      vss.Node
	Fields    []broker.Field
	Datapoint broker.Datapoint
}

// PathRequest addresses path for fetch, subscribe or unsubscribe.
func PathRequest(path string, fields ...broker.Field) Request {
	return Request{Mode: ModePath, Path: path, Fields: fields}
}

// PathUpdate writes dp to path.
func PathUpdate(path string, dp broker.Datapoint, fields ...broker.Field) Request {
	return Request{Mode: ModePath, Path: path, Fields: fields, Datapoint: dp}
}

// NodeRequest addresses node for any operation.
func NodeRequest(node vss.Node, fields ...broker.Field) Request {
	return Request{Mode: ModeNode, Node: node, Fields: fields}
}

// Address returns the path the request targets.
func (r Request) Address() string {
	if r.Mode == ModeNode && r.Node != nil {
		return r.Node.VSSPath()
	}
	return strings.TrimSpace(r.Path)
}

func (r Request) validate() error {
	switch r.Mode {
	case ModePath:
		if strings.TrimSpace(r.Path) == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidRequest)
		}
	case ModeNode:
		if r.Node == nil {
			return fmt.Errorf("%w: nil node", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidRequest, r.Mode)
	}
	return nil
}

// FetchResult holds the raw response and, for node requests, the node the
// response was written into.
type FetchResult struct {
	Response *broker.GetResponse
	Node     vss.Node
}

// UpdateResult holds one response per constituent write.
type UpdateResult struct {
	Responses []*broker.SetResponse
}
