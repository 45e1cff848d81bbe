// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"sync"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// memoryData is the map shared by every handle created via Share.
type memoryData struct {
	mu      sync.RWMutex
	values  map[string]string
	handles map[*Memory]struct{}
}

// Memory is an in-process Store. Handles returned by Share see the same
// data and receive each other's changes through Watch.
type Memory struct {
	data     *memoryData
	watchers *registry

	mu     sync.Mutex
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	data := &memoryData{
		values:  make(map[string]string),
		handles: make(map[*Memory]struct{}),
	}
	return data.handle()
}

func (d *memoryData) handle() *Memory {
	m := &Memory{data: d, watchers: newRegistry()}
	d.mu.Lock()
	d.handles[m] = struct{}{}
	d.mu.Unlock()
	return m
}

// Share returns another handle on the same data, standing in for a second
// window or process.
func (m *Memory) Share() *Memory {
	return m.data.handle()
}

// Get implements Store.
func (m *Memory) Get(key string) (string, bool, error) {
	if m.isClosed() {
		return "", false, ErrClosed
	}
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	v, ok := m.data.values[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if m.isClosed() {
		return ErrClosed
	}
	m.data.mu.Lock()
	prev, had := m.data.values[key]
	m.data.values[key] = value
	peers := m.peersLocked()
	m.data.mu.Unlock()

	if had && prev == value {
		return nil
	}
	for _, p := range peers {
		p.watchers.notify(key, value, true)
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(key string) error {
	if m.isClosed() {
		return ErrClosed
	}
	m.data.mu.Lock()
	_, had := m.data.values[key]
	delete(m.data.values, key)
	peers := m.peersLocked()
	m.data.mu.Unlock()

	if !had {
		return nil
	}
	for _, p := range peers {
		p.watchers.notify(key, "", false)
	}
	return nil
}

// Watch implements Store.
func (m *Memory) Watch(key string, fn WatchFunc) func() {
	return m.watchers.add(key, fn)
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.data.mu.Lock()
	delete(m.data.handles, m)
	m.data.mu.Unlock()
	return nil
}

// peersLocked returns every open handle except m. Caller holds data.mu.
func (m *Memory) peersLocked() []*Memory {
	peers := make([]*Memory, 0, len(m.data.handles))
	for h := range m.data.handles {
		if h != m {
			peers = append(peers, h)
		}
	}
	return peers
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
