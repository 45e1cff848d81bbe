// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prefs stores small user preferences next to the session state:
// the last selected model, the default system prompt, and the server URL.
package prefs

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/kvstore"
)

// Store keys.
const (
	KeyLastModel    = "localai-last-model"
	KeySystemPrompt = "localai-system-prompt"
	KeyAPIURL       = "localai-api-url"
)

// PromptFunc receives the new default system prompt.
type PromptFunc func(text string)

// Prefs reads and writes preferences through a kvstore.Store. Getters fall
// back to defaults when a key is missing or unreadable.
type Prefs struct {
	store      kvstore.Store
	logger     *zap.Logger
	defaultURL string

	mu        sync.Mutex
	listeners map[int]PromptFunc
	nextID    int
}

// Option configures Prefs.
type Option func(*Prefs)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Prefs) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDefaultAPIURL sets the URL returned when none is saved.
func WithDefaultAPIURL(url string) Option {
	return func(p *Prefs) {
		p.defaultURL = url
	}
}

// New creates Prefs backed by store.
func New(store kvstore.Store, opts ...Option) *Prefs {
	p := &Prefs{
		store:     store,
		logger:    zap.NewNop(),
		listeners: make(map[int]PromptFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prefs) get(key, fallback string) string {
	v, ok, err := p.store.Get(key)
	if err != nil {
		p.logger.Warn("failed to read preference", zap.String("key", key), zap.Error(err))
		return fallback
	}
	if !ok || v == "" {
		return fallback
	}
	return v
}

// LastModel returns the last selected model id, or "".
func (p *Prefs) LastModel() string {
	return p.get(KeyLastModel, "")
}

// SetLastModel remembers id as the last selected model.
func (p *Prefs) SetLastModel(id string) error {
	return p.store.Set(KeyLastModel, id)
}

// APIURL returns the saved server URL or the configured default.
func (p *Prefs) APIURL() string {
	return p.get(KeyAPIURL, p.defaultURL)
}

// SetAPIURL saves the server URL.
func (p *Prefs) SetAPIURL(url string) error {
	return p.store.Set(KeyAPIURL, url)
}

// DefaultSystemPrompt returns the default system prompt, or "".
func (p *Prefs) DefaultSystemPrompt() string {
	return p.get(KeySystemPrompt, "")
}

// SetDefaultSystemPrompt saves text and notifies this process's watchers.
// Other processes sharing the store are notified through its watch.
func (p *Prefs) SetDefaultSystemPrompt(text string) error {
	if err := p.store.Set(KeySystemPrompt, text); err != nil {
		return err
	}
	for _, fn := range p.snapshotListeners() {
		fn(text)
	}
	return nil
}

// WatchDefaultSystemPrompt calls fn whenever the default system prompt
// changes, whether in this process or in another one sharing the store.
// The returned function stops the watch.
func (p *Prefs) WatchDefaultSystemPrompt(fn PromptFunc) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	stop := p.store.Watch(KeySystemPrompt, func(value string, ok bool) {
		p.logger.Debug("default system prompt changed externally", zap.Bool("present", ok))
		fn(value)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Prefs) snapshotListeners() []PromptFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]PromptFunc, len(ids))
	for i, id := range ids {
		fns[i] = p.listeners[id]
	}
	return fns
}
