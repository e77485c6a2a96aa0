// Package vss models Vehicle Signal Specification trees. A Node addresses a
// path in the broker; a Signal is a leaf node that carries a value and can be
// read from or written to the broker.
package vss

import (
	"strings"

	"github.com/nupi-ai/kuksa/internal/broker"
)

const pathSeparator = "."

// Node is an element of a VSS tree.
type Node interface {
	// VSSPath is the dot separated path of the node, e.g. "Vehicle.Body.Horn.IsActive".
	VSSPath() string
	// Children returns the direct children. Leaves return nil.
	Children() []Node
}

// Signal is a leaf node holding a value.
type Signal interface {
	Node
	Datapoint() broker.Datapoint
	SetDatapoint(broker.Datapoint) error
}

// MetadataCarrier is implemented by nodes that keep the broker metadata of
// their path.
type MetadataCarrier interface {
	Metadata() *broker.Metadata
	SetMetadata(broker.Metadata)
}

// Heritage returns every descendant of node, depth first.
func Heritage(node Node) []Node {
	var out []Node
	for _, child := range node.Children() {
		if child == nil {
			continue
		}
		out = append(out, child)
		out = append(out, Heritage(child)...)
	}
	return out
}

// Signals returns every signal below node, or node itself when it is a
// signal without children.
func Signals(node Node) []Signal {
	heritage := Heritage(node)
	if len(heritage) == 0 {
		heritage = []Node{node}
	}
	var out []Signal
	for _, candidate := range heritage {
		if signal, ok := candidate.(Signal); ok {
			out = append(out, signal)
		}
	}
	return out
}

// Find returns the node at path within node's tree, including node itself.
func Find(node Node, path string) Node {
	if node.VSSPath() == path {
		return node
	}
	if !strings.HasPrefix(path, node.VSSPath()+pathSeparator) {
		return nil
	}
	for _, child := range node.Children() {
		if child == nil {
			continue
		}
		if found := Find(child, path); found != nil {
			return found
		}
	}
	return nil
}

// Apply writes the slot of entry selected by field into the matching signal
// of node's tree. It reports whether a node at entry.Path was found.
func Apply(node Node, entry broker.DataEntry, field broker.Field) (bool, error) {
	target := Find(node, entry.Path)
	if target == nil {
		return false, nil
	}

	if field.IsMetadata() {
		if carrier, ok := target.(MetadataCarrier); ok && entry.Metadata != nil {
			carrier.SetMetadata(*entry.Metadata)
		}
		return true, nil
	}

	signal, ok := target.(Signal)
	if !ok {
		return true, nil
	}
	dp := entry.Datapoint(field)
	if dp == nil {
		return true, nil
	}
	return true, signal.SetDatapoint(*dp)
}

// Name returns the last component of path.
func Name(path string) string {
	if idx := strings.LastIndex(path, pathSeparator); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// ParentPath returns path without its last component, or "" for a root.
func ParentPath(path string) string {
	if idx := strings.LastIndex(path, pathSeparator); idx >= 0 {
		return path[:idx]
	}
	return ""
}

// PathComponents splits path into its components.
func PathComponents(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, pathSeparator)
}

// HeritageLine returns every ancestor path of path followed by path itself:
// "A.B.C" yields ["A", "A.B", "A.B.C"].
func HeritageLine(path string) []string {
	components := PathComponents(path)
	out := make([]string, 0, len(components))
	for i := range components {
		out = append(out, strings.Join(components[:i+1], pathSeparator))
	}
	return out
}
