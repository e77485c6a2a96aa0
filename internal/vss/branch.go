package vss

import (
	"fmt"

	"github.com/nupi-ai/kuksa/internal/broker"
)

// Branch is a node that only groups children.
type Branch struct {
	Path        string
	Description string

	children []Node
}

// NewBranch returns a branch at path with the given children.
func NewBranch(path string, children ...Node) *Branch {
	b := &Branch{Path: path}
	b.Add(children...)
	return b
}

func (b *Branch) VSSPath() string { return b.Path }

func (b *Branch) Children() []Node {
	out := make([]Node, len(b.children))
	copy(out, b.children)
	return out
}

// Add appends children, replacing an existing child with the same path.
func (b *Branch) Add(children ...Node) {
	for _, child := range children {
		if child == nil {
			continue
		}
		replaced := false
		for i, existing := range b.children {
			if existing.VSSPath() == child.VSSPath() {
				b.children[i] = child
				replaced = true
				break
			}
		}
		if !replaced {
			b.children = append(b.children, child)
		}
	}
}

// Child returns the direct child called name.
func (b *Branch) Child(name string) Node {
	for _, child := range b.children {
		if Name(child.VSSPath()) == name {
			return child
		}
	}
	return nil
}

// DynamicLeaf is a signal whose datatype is only known at runtime, as built
// from a VSS definition file.
type DynamicLeaf struct {
	Path     string
	DataType broker.DataType
	Value    broker.Datapoint

	meta *broker.Metadata
}

// NewDynamicLeaf returns a leaf at path with the declared datatype.
func NewDynamicLeaf(path string, dataType broker.DataType) *DynamicLeaf {
	return &DynamicLeaf{Path: path, DataType: dataType}
}

func (l *DynamicLeaf) VSSPath() string                { return l.Path }
func (l *DynamicLeaf) Children() []Node               { return nil }
func (l *DynamicLeaf) Datapoint() broker.Datapoint    { return l.Value }
func (l *DynamicLeaf) Metadata() *broker.Metadata     { return l.meta }
func (l *DynamicLeaf) SetMetadata(md broker.Metadata) { l.meta = &md }

// SetDatapoint stores dp when its kind matches the declared datatype.
func (l *DynamicLeaf) SetDatapoint(dp broker.Datapoint) error {
	if !dp.IsSet() {
		return nil
	}
	want := l.DataType.ValueKind()
	if want != broker.KindNotSet && dp.Kind != want {
		return fmt.Errorf("vss: %s: expected %s value, got %s", l.Path, want, dp.Kind)
	}
	l.Value = dp
	return nil
}

// SetText parses text according to the declared datatype.
func (l *DynamicLeaf) SetText(text string) error {
	return l.SetDatapoint(broker.ParseDatapoint(l.DataType.ValueKind(), text))
}
