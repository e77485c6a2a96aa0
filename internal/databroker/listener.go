package databroker

import (
	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/vss"
)

// Listener is notified about subscription failures. Listeners are tracked by
// identity and must be comparable; use pointer types.
type Listener interface {
	OnError(err error)
}

// EntryListener receives the raw batches of a path subscription.
type EntryListener interface {
	Listener
	OnEntryChanged(updates []broker.EntryUpdate)
}

// NodeListener receives a typed node after every batch applied to it.
type NodeListener interface {
	Listener
	OnNodeChanged(node vss.Node)
}

// DisconnectListener is notified when a live connection drops.
type DisconnectListener interface {
	OnDisconnect()
}

// ListenerFuncs adapts plain functions to the listener interfaces. Nil
// functions are skipped. Always pass a pointer so identity is preserved.
type ListenerFuncs struct {
	Entry      func(updates []broker.EntryUpdate)
	Node       func(node vss.Node)
	Err        func(err error)
	Disconnect func()
}

var (
	_ EntryListener      = (*ListenerFuncs)(nil)
	_ NodeListener       = (*ListenerFuncs)(nil)
	_ DisconnectListener = (*ListenerFuncs)(nil)
)

func (f *ListenerFuncs) OnEntryChanged(updates []broker.EntryUpdate) {
	if f.Entry != nil {
		f.Entry(updates)
	}
}

func (f *ListenerFuncs) OnNodeChanged(node vss.Node) {
	if f.Node != nil {
		f.Node(node)
	}
}

func (f *ListenerFuncs) OnError(err error) {
	if f.Err != nil {
		f.Err(err)
	}
}

func (f *ListenerFuncs) OnDisconnect() {
	if f.Disconnect != nil {
		f.Disconnect()
	}
}
