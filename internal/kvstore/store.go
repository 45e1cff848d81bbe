// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides the persisted string key-value store that chat
// state and preferences live in.
//
// A Store is one handle onto the persisted data. Several handles, in this
// process or in other processes, may share the same underlying data; Watch
// reports changes written through those other handles, never changes the
// watching handle made itself. This mirrors how browser storage events
// behave across tabs.
//
// Three backends are provided:
//   - Memory: in-process map, Share() returns a sibling handle (tests)
//   - File: one file per key in a directory, fsnotify-based watch
//   - SQLite: single table in a modernc.org/sqlite database, polled watch
package kvstore

import (
	"errors"
	"sort"
	"sync"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// WatchFunc receives the new value of a watched key. ok is false when the
// key was removed.
type WatchFunc func(value string, ok bool)

// Store is a persisted string key-value store with change notification.
type Store interface {
	// Get returns the value stored under key. ok is false when absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key. The write is durable when Set returns.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Watch registers fn for changes to key made by other handles.
	// The returned function unregisters it.
	Watch(key string, fn WatchFunc) (cancel func())

	// Close releases the handle and stops any watch goroutines.
	Close() error
}

// Error variables for store operations.
var (
	// ErrClosed indicates the store handle was already closed.
	ErrClosed = errors.New("kvstore: store closed")

	// ErrInvalidKey indicates an empty or otherwise unusable key.
	ErrInvalidKey = errors.New("kvstore: invalid key")
)

// =============================================================================
// WATCHER REGISTRY
// =============================================================================

// registry tracks watch callbacks per key. Callbacks run outside the lock.
type registry struct {
	mu    sync.Mutex
	next  int
	byKey map[string]map[int]WatchFunc
}

func newRegistry() *registry {
	return &registry{byKey: make(map[string]map[int]WatchFunc)}
}

func (r *registry) add(key string, fn WatchFunc) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[int]WatchFunc)
	}
	r.byKey[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.byKey[key], id)
			if len(r.byKey[key]) == 0 {
				delete(r.byKey, key)
			}
		})
	}
}

func (r *registry) notify(key, value string, ok bool) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.byKey[key]))
	for id := range r.byKey[key] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]WatchFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.byKey[key][id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(value, ok)
	}
}

func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry) watching(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[key]) > 0
}
