// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Live configuration store for corenet.Core: keys such as MTU, worker
// counts, pinning and pollable/spin mode, or NUMA placement, set with
// Core.Reconfigure without a restart. Values are stored, reported
// through Core.Stats and announced to reload listeners; the running
// workers, stack and socket server do not read them back.

package control

import (
	"sync"
)

// ConfigStore is a dynamic key/value map with atomic snapshot, single
// key lookup, and hot-reload listener support. Values are typically
// dotted keys ("worker.mode", "numa.pin") mapping to scalars.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values, suitable for
// merging into Core.Stats.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	snap := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		snap[k] = v
	}
	return snap
}

// Get returns a single config value by key.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// SetConfig merges new values into the store and fires every
// registered reload listener. It does not itself reconfigure the
// running workers, stack or socket server.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.dispatchReload()
}

// OnReload registers a listener invoked (in its own goroutine)
// whenever SetConfig is called.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners. Called with cs.mu held; each
// listener runs in its own goroutine so a slow listener can't stall
// SetConfig's caller or the other listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}
