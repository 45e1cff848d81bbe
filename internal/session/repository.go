// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the canonical chat state and the closed set of
// transitions allowed on it.
//
// Every transition produces a new snapshot, writes the full state to the
// persisted store under StorageKey, and then notifies subscribers. Readers
// always receive deep copies, so a snapshot handed out never changes.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/kvstore"
	"github.com/jeranaias/localai-chat/internal/model"
)

// StorageKey is the persisted-store key the full state is saved under.
const StorageKey = "localai-chat-sessions"

// Error variables for repository transitions. The state is left untouched
// and nothing is persisted when one of these is returned.
var (
	// ErrSessionNotFound indicates no session has the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates the session has no message with the given id.
	ErrMessageNotFound = errors.New("message not found")
)

// Listener receives the new snapshot after every transition.
type Listener func(state model.State)

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository owns the chat state. It is safe for concurrent use;
// transitions are serialized and listeners run after the lock is released,
// in transition order.
type Repository struct {
	store  kvstore.Store
	logger *zap.Logger

	mu    sync.Mutex
	state model.State

	// notifyMu keeps listener delivery in transition order without holding mu.
	notifyMu  sync.Mutex
	listeners map[int]Listener
	nextID    int
	listenMu  sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRepository creates an empty repository persisting to store. Call
// Hydrate to load previously saved state.
func NewRepository(store kvstore.Store, opts ...Option) *Repository {
	r := &Repository{
		store:     store,
		logger:    zap.NewNop(),
		state:     model.State{Sessions: []model.Session{}},
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hydrate loads the persisted state. Missing data leaves the repository
// empty. Corrupt data is logged and also leaves it empty; the corrupt value
// stays in the store until the next transition overwrites it.
func (r *Repository) Hydrate() error {
	raw, ok, err := r.store.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("failed to read saved sessions: %w", err)
	}
	if !ok || raw == "" {
		r.logger.Debug("no saved sessions")
		return nil
	}

	var st model.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		r.logger.Warn("discarding unreadable saved sessions", zap.Error(err))
		return nil
	}

	r.mu.Lock()
	r.state = normalize(st, r.logger)
	snapshot := r.state.Clone()
	r.mu.Unlock()

	r.logger.Info("sessions hydrated",
		zap.Int("sessions", len(snapshot.Sessions)),
		zap.String("current", snapshot.CurrentSessionID))
	r.notify(snapshot)
	return nil
}

// =============================================================================
// READ ACCESS
// =============================================================================

// State returns a deep copy of the current state.
func (r *Repository) State() model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// CurrentSession returns a copy of the current session, if any.
func (r *Repository) CurrentSession() (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.Current()
	if !ok {
		return model.Session{}, false
	}
	return s.Clone(), true
}

// Session returns a copy of the session with id.
func (r *Repository) Session(id string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.state.SessionIndex(id)
	if i < 0 {
		return model.Session{}, false
	}
	return r.state.Sessions[i].Clone(), true
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// SetCurrentSession makes id the current session.
func (r *Repository) SetCurrentSession(id string) error {
	return r.apply("set_current_session", func(st *model.State) error {
		if st.SessionIndex(id) < 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		st.CurrentSessionID = id
		return nil
	})
}

// CreateSession prepends s and makes it current.
func (r *Repository) CreateSession(s model.Session) {
	if s.Messages == nil {
		s.Messages = []model.Message{}
	}
	_ = r.apply("create_session", func(st *model.State) error {
		st.Sessions = append([]model.Session{s.Clone()}, st.Sessions...)
		st.CurrentSessionID = s.ID
		return nil
	})
}

// DeleteSession removes the session with id. If it was current, the first
// remaining session becomes current, or none when no sessions remain.
func (r *Repository) DeleteSession(id string) error {
	return r.apply("delete_session", func(st *model.State) error {
		i := st.SessionIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		st.Sessions = append(st.Sessions[:i], st.Sessions[i+1:]...)
		if st.CurrentSessionID == id {
			st.CurrentSessionID = ""
			if len(st.Sessions) > 0 {
				st.CurrentSessionID = st.Sessions[0].ID
			}
		}
		return nil
	})
}

// ClearAll removes every session.
func (r *Repository) ClearAll() {
	_ = r.apply("clear_all", func(st *model.State) error {
		st.Sessions = []model.Session{}
		st.CurrentSessionID = ""
		return nil
	})
}

// AppendMessage appends msg to the session with sessionID.
func (r *Repository) AppendMessage(sessionID string, msg model.Message) error {
	return r.apply("append_message", func(st *model.State) error {
		i := st.SessionIndex(sessionID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		st.Sessions[i].Messages = append(st.Sessions[i].Messages, msg)
		return nil
	})
}

// PatchMessage merges patch into one message.
func (r *Repository) PatchMessage(sessionID, messageID string, patch model.MessagePatch) error {
	return r.apply("patch_message", func(st *model.State) error {
		i := st.SessionIndex(sessionID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		j := st.Sessions[i].MessageIndex(messageID)
		if j < 0 {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		st.Sessions[i].Messages[j] = patch.Apply(st.Sessions[i].Messages[j])
		return nil
	})
}

// SetSystemPrompt replaces the system prompt of one session.
func (r *Repository) SetSystemPrompt(sessionID, text string) error {
	return r.apply("set_system_prompt", func(st *model.State) error {
		i := st.SessionIndex(sessionID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		st.Sessions[i].SystemPrompt = text
		return nil
	})
}

// LoadState replaces the whole state, as on import. A current id that does
// not name a session is dropped and no message is left loading.
func (r *Repository) LoadState(st model.State) {
	_ = r.apply("load_state", func(cur *model.State) error {
		*cur = normalize(st.Clone(), r.logger)
		return nil
	})
}

// apply runs fn against a copy of the state. On success the copy becomes
// the new state, is persisted, and is delivered to listeners.
func (r *Repository) apply(op string, fn func(st *model.State) error) error {
	r.mu.Lock()
	next := r.state.Clone()
	if err := fn(&next); err != nil {
		r.mu.Unlock()
		r.logger.Debug("transition rejected", zap.String("op", op), zap.Error(err))
		return err
	}
	r.state = next
	r.persistLocked(op)
	snapshot := r.state.Clone()

	// Take notifyMu before releasing mu so listeners see transitions in order.
	r.notifyMu.Lock()
	r.mu.Unlock()
	r.deliverLocked(snapshot)
	r.notifyMu.Unlock()
	return nil
}

// persistLocked writes the full state. A failed write is logged; the
// in-memory transition still stands.
func (r *Repository) persistLocked(op string) {
	data, err := json.Marshal(r.state)
	if err != nil {
		r.logger.Error("failed to encode sessions", zap.String("op", op), zap.Error(err))
		return
	}
	if err := r.store.Set(StorageKey, string(data)); err != nil {
		r.logger.Error("failed to persist sessions", zap.String("op", op), zap.Error(err))
	}
}

// normalize enforces the current-session invariant on externally supplied
// state.
func normalize(st model.State, logger *zap.Logger) model.State {
	if st.Sessions == nil {
		st.Sessions = []model.Session{}
	}
	for i := range st.Sessions {
		if st.Sessions[i].Messages == nil {
			st.Sessions[i].Messages = []model.Message{}
		}
		// Nothing streams into loaded state; a message still marked
		// loading was cut off when it was saved.
		for j := range st.Sessions[i].Messages {
			if st.Sessions[i].Messages[j].IsLoading {
				st.Sessions[i].Messages[j].IsLoading = false
				logger.Warn("settling interrupted message",
					zap.String("session", st.Sessions[i].ID),
					zap.String("message", st.Sessions[i].Messages[j].ID))
			}
		}
	}
	if !st.Valid() {
		logger.Warn("dropping dangling current session id", zap.String("id", st.CurrentSessionID))
		st.CurrentSessionID = ""
	}
	return st
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to receive every new snapshot. The returned
// function unregisters it. Listeners must not start a transition
// synchronously; hand the work to another goroutine instead.
func (r *Repository) Subscribe(fn Listener) (unsubscribe func()) {
	r.listenMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenMu.Lock()
			delete(r.listeners, id)
			r.listenMu.Unlock()
		})
	}
}

func (r *Repository) notify(snapshot model.State) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.deliverLocked(snapshot)
}

// deliverLocked calls every listener. Caller holds notifyMu.
func (r *Repository) deliverLocked(snapshot model.State) {
	r.listenMu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	fns := make([]Listener, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, r.listeners[id])
	}
	r.listenMu.Unlock()

	for _, fn := range fns {
		fn(snapshot.Clone())
	}
}
