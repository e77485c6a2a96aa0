package databroker

import (
	"sync"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/vss"
	"github.com/rs/zerolog"
)

// nodeAdapter applies raw subscription batches to a node and reports the
// node to its listener once per batch. One adapter exists per node and
// listener pair and is shared across the subscribed fields.
type nodeAdapter struct {
	node     vss.Node
	listener NodeListener
	logger   zerolog.Logger

	mu sync.Mutex
}

var _ EntryListener = (*nodeAdapter)(nil)

func (a *nodeAdapter) OnEntryChanged(updates []broker.EntryUpdate) {
	a.mu.Lock()
	for _, update := range updates {
		fields := update.Fields
		if len(fields) == 0 {
			fields = []broker.Field{broker.FieldValue}
		}
		for _, field := range fields {
			found, err := vss.Apply(a.node, update.Entry, field)
			if err != nil {
				a.logger.Warn().Err(err).Str("path", update.Entry.Path).Msg("cannot apply update to node")
				continue
			}
			if !found {
				a.logger.Debug().Str("path", update.Entry.Path).Str("node", a.node.VSSPath()).Msg("update outside of node")
			}
		}
	}
	a.mu.Unlock()

	a.listener.OnNodeChanged(a.node)
}

func (a *nodeAdapter) OnError(err error) {
	a.listener.OnError(err)
}

// nodeKey identifies a node by identity: distinct nodes at the same path
// each get their own adapter.
type nodeKey struct {
	node     vss.Node
	listener NodeListener
}

// nodeAdapters tracks adapters and the fields each one is subscribed to.
type nodeAdapters struct {
	mu       sync.Mutex
	adapters map[nodeKey]*nodeAdapter
	fields   map[nodeKey]map[broker.Field]struct{}
}

func newNodeAdapters() *nodeAdapters {
	return &nodeAdapters{
		adapters: make(map[nodeKey]*nodeAdapter),
		fields:   make(map[nodeKey]map[broker.Field]struct{}),
	}
}

// acquire returns the adapter for node and l, creating it if needed, and
// marks field as subscribed.
func (n *nodeAdapters) acquire(node vss.Node, l NodeListener, field broker.Field, logger zerolog.Logger) *nodeAdapter {
	key := nodeKey{node: node, listener: l}
	n.mu.Lock()
	defer n.mu.Unlock()
	adapter, ok := n.adapters[key]
	if !ok {
		adapter = &nodeAdapter{node: node, listener: l, logger: logger}
		n.adapters[key] = adapter
		n.fields[key] = make(map[broker.Field]struct{})
	}
	n.fields[key][field] = struct{}{}
	return adapter
}

// release unmarks field and forgets the adapter once no field is left. It
// returns nil when node and l were never subscribed.
func (n *nodeAdapters) release(node vss.Node, l NodeListener, field broker.Field) *nodeAdapter {
	key := nodeKey{node: node, listener: l}
	n.mu.Lock()
	defer n.mu.Unlock()
	adapter, ok := n.adapters[key]
	if !ok {
		return nil
	}
	delete(n.fields[key], field)
	if len(n.fields[key]) == 0 {
		delete(n.adapters, key)
		delete(n.fields, key)
	}
	return adapter
}
