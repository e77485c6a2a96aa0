package vss

import (
	"fmt"

	"github.com/nupi-ai/kuksa/internal/broker"
)

// Value lists the Go types a Leaf can carry.
type Value interface {
	string | bool | int32 | int64 | uint32 | uint64 | float32 | float64 |
		[]string | []bool | []int32 | []int64 | []uint32 | []uint64 | []float32 | []float64
}

// Leaf is a signal with a statically typed value.
type Leaf[T Value] struct {
	Path        string
	Description string
	Type        broker.EntryType
	Value       T

	meta *broker.Metadata
}

// NewLeaf returns a leaf at path holding value.
func NewLeaf[T Value](path string, value T) *Leaf[T] {
	return &Leaf[T]{Path: path, Value: value}
}

func (l *Leaf[T]) VSSPath() string  { return l.Path }
func (l *Leaf[T]) Children() []Node { return nil }

func (l *Leaf[T]) Datapoint() broker.Datapoint {
	// Every member of Value maps to a datapoint kind, so the error is unreachable.
	dp, _ := broker.NewDatapoint(any(l.Value))
	return dp
}

// SetDatapoint replaces the value. A datapoint without a value leaves the
// leaf untouched; a value of a different but compatible kind is widened.
func (l *Leaf[T]) SetDatapoint(dp broker.Datapoint) error {
	if !dp.IsSet() {
		return nil
	}
	value, err := coerce[T](dp.Value)
	if err != nil {
		return fmt.Errorf("vss: %s: %w", l.Path, err)
	}
	l.Value = value
	return nil
}

func (l *Leaf[T]) Metadata() *broker.Metadata { return l.meta }

func (l *Leaf[T]) SetMetadata(md broker.Metadata) {
	l.meta = &md
	if md.Description != "" {
		l.Description = md.Description
	}
	if md.EntryType != broker.EntryTypeUnspecified {
		l.Type = md.EntryType
	}
}

func (l *Leaf[T]) String() string {
	return fmt.Sprintf("%s=%v", l.Path, l.Value)
}

func coerce[T Value](raw any) (T, error) {
	var zero T
	if v, ok := raw.(T); ok {
		return v, nil
	}

	var widened any
	switch any(zero).(type) {
	case int64:
		switch v := raw.(type) {
		case int32:
			widened = int64(v)
		case uint32:
			widened = int64(v)
		}
	case uint64:
		if v, ok := raw.(uint32); ok {
			widened = uint64(v)
		}
	case float64:
		switch v := raw.(type) {
		case float32:
			widened = float64(v)
		case int32:
			widened = float64(v)
		case int64:
			widened = float64(v)
		case uint32:
			widened = float64(v)
		}
	case float32:
		switch v := raw.(type) {
		case int32:
			widened = float32(v)
		case uint32:
			widened = float32(v)
		}
	}
	if v, ok := widened.(T); ok {
		return v, nil
	}
	return zero, fmt.Errorf("cannot assign %T to %T", raw, zero)
}
