package rig

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[int]*Caps)
)

// Register makes a model available to New. Backends call it from init.
// It panics when caps is nil, has no ops, or reuses a model id.
func Register(caps *Caps) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if caps == nil {
		panic("rig: Register caps is nil")
	}
	if len(caps.Ops) == 0 {
		panic(fmt.Sprintf("rig: model %d registers no operations", caps.Model))
	}
	if _, dup := registry[caps.Model]; dup {
		panic(fmt.Sprintf("rig: Register called twice for model %d", caps.Model))
	}
	registry[caps.Model] = caps
}

// Lookup returns the descriptor of a registered model.
func Lookup(model int) (*Caps, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	caps, ok := registry[model]
	return caps, ok
}

// Models returns every registered descriptor ordered by model id.
func Models() []*Caps {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]*Caps, 0, len(registry))
	for _, caps := range registry {
		out = append(out, caps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func unregister(model int) {
	registryMu.Lock()
	delete(registry, model)
	registryMu.Unlock()
}
