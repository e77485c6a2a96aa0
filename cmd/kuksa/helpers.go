package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"

	"github.com/nupi-ai/kuksa/internal/broker"
)

// parseFieldFlags accepts repeated or comma separated field names.
func parseFieldFlags(raw []string) ([]broker.Field, error) {
	var names []string
	for _, item := range raw {
		for _, name := range strings.Split(item, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no fields given")
	}
	return broker.ParseFields(names)
}

// entryView is the JSON shape of one data entry.
type entryView struct {
	Path           string           `json:"path"`
	Value          any              `json:"value,omitempty"`
	ActuatorTarget any              `json:"actuator_target,omitempty"`
	Metadata       *broker.Metadata `json:"metadata,omitempty"`
}

func viewEntry(entry broker.DataEntry) entryView {
	view := entryView{Path: entry.Path, Metadata: entry.Metadata}
	if entry.Value != nil && entry.Value.IsSet() {
		view.Value = entry.Value.Value
	}
	if entry.ActuatorTarget != nil && entry.ActuatorTarget.IsSet() {
		view.ActuatorTarget = entry.ActuatorTarget.Value
	}
	return view
}

// formatEntry renders an entry on one line: "path = value [target] (unit)".
func formatEntry(entry broker.DataEntry) string {
	var b strings.Builder
	b.WriteString(entry.Path)
	if entry.Value != nil && entry.Value.IsSet() {
		fmt.Fprintf(&b, " = %v", entry.Value.Value)
	}
	if entry.ActuatorTarget != nil && entry.ActuatorTarget.IsSet() {
		fmt.Fprintf(&b, " target=%v", entry.ActuatorTarget.Value)
	}
	if md := entry.Metadata; md != nil {
		if md.DataType != broker.DataTypeUnspecified {
			fmt.Fprintf(&b, " <%s>", md.DataType.ValueKind())
		}
		if md.Unit != "" {
			fmt.Fprintf(&b, " (%s)", md.Unit)
		}
		if md.Description != "" {
			fmt.Fprintf(&b, " %q", md.Description)
		}
	}
	return b.String()
}

// signalContext is cancelled on the first shutdown signal.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals()...)
}
