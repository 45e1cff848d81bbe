// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// File stores each key as a file in a directory. Writes are atomic, so a
// concurrent reader in another process sees either the old or the new value.
//
// Watch is backed by an fsnotify watcher on the directory, started on the
// first call. Events caused by this handle's own writes are filtered out by
// comparing the file contents against the last value this handle knows of.
type File struct {
	dir    string
	logger *zap.Logger

	watchers *registry

	mu      sync.Mutex
	known   map[string]*string // last value written or delivered per key, nil = absent
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// FileOption configures a File store.
type FileOption func(*File)

// WithFileLogger sets the logger used for watch errors.
func WithFileLogger(l *zap.Logger) FileOption {
	return func(f *File) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFile opens a file store rooted at dir, creating it if needed.
func NewFile(dir string, opts ...FileOption) (*File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	f := &File{
		dir:      dir,
		logger:   zap.NewNop(),
		watchers: newRegistry(),
		known:    make(map[string]*string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dir returns the directory backing the store.
func (f *File) Dir() string {
	return f.dir
}

// keyPath maps a key to its file. Keys are path-escaped so any string is
// usable without escaping the directory.
func (f *File) keyPath(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key))
}

// pathKey is the inverse of keyPath.
func pathKey(path string) (string, bool) {
	key, err := url.PathUnescape(filepath.Base(path))
	if err != nil {
		return "", false
	}
	return key, true
}

// Get implements Store.
func (f *File) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	if f.isClosed() {
		return "", false, ErrClosed
	}
	data, err := os.ReadFile(f.keyPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements Store.
func (f *File) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	// RELIABILITY: Atomic write with fsync prevents torn state on crash
	if err := util.AtomicWriteFileWithDir(f.keyPath(key), []byte(value), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	v := value
	f.known[key] = &v
	return nil
}

// Delete implements Store.
func (f *File) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := os.Remove(f.keyPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	f.known[key] = nil
	return nil
}

// Watch implements Store. The directory watcher starts on first use; if it
// cannot be started the error is logged and no notifications are delivered.
func (f *File) Watch(key string, fn WatchFunc) func() {
	cancel := f.watchers.add(key, fn)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return cancel
	}
	if _, seen := f.known[key]; !seen {
		// Baseline so the first external event is compared against what
		// is on disk now rather than reported unconditionally.
		if data, err := os.ReadFile(f.keyPath(key)); err == nil {
			v := string(data)
			f.known[key] = &v
		} else {
			f.known[key] = nil
		}
	}
	if f.watcher == nil {
		if err := f.startLocked(); err != nil {
			f.logger.Warn("kvstore watch unavailable", zap.String("dir", f.dir), zap.Error(err))
		}
	}
	return cancel
}

func (f *File) startLocked() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return err
	}
	f.watcher = w
	f.done = make(chan struct{})
	f.wg.Add(1)
	go f.processEvents(w, f.done)
	return nil
}

// processEvents forwards directory events for watched keys.
func (f *File) processEvents(w *fsnotify.Watcher, done <-chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case <-done:
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if util.IsTempFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			key, ok := pathKey(event.Name)
			if !ok || !f.watchers.watching(key) {
				continue
			}
			f.refresh(key)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Warn("kvstore watcher error", zap.Error(err))
		}
	}
}

// refresh re-reads key and notifies watchers when it differs from the last
// known value.
func (f *File) refresh(key string) {
	data, err := os.ReadFile(f.keyPath(key))
	var cur *string
	switch {
	case err == nil:
		v := string(data)
		cur = &v
	case errors.Is(err, fs.ErrNotExist):
	default:
		f.logger.Warn("kvstore read failed", zap.String("key", key), zap.Error(err))
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	prev := f.known[key]
	if sameValue(prev, cur) {
		f.mu.Unlock()
		return
	}
	f.known[key] = cur
	f.mu.Unlock()

	f.logger.Debug("kvstore external change", zap.String("key", key), zap.Bool("present", cur != nil))
	if cur == nil {
		f.watchers.notify(key, "", false)
	} else {
		f.watchers.notify(key, *cur, true)
	}
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Close implements Store. It waits for the watch goroutine to exit.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	w, done := f.watcher, f.done
	f.mu.Unlock()

	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	f.wg.Wait()
	return err
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
