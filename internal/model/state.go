// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"sort"
)

// =============================================================================
// STATE TYPE
// =============================================================================

// State is the whole chat history: sessions newest-created first, plus the
// current session pointer. An empty CurrentSessionID means no session is
// selected; otherwise it names a session in Sessions.
type State struct {
	Sessions         []Session
	CurrentSessionID string
}

// stateJSON is the wire form. currentSessionId is null when unset.
type stateJSON struct {
	Sessions         []Session `json:"sessions"`
	CurrentSessionID *string   `json:"currentSessionId"`
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	// Shallow copy so nil message slices can be normalized to [] without
	// touching the receiver.
	w := stateJSON{Sessions: make([]Session, len(s.Sessions))}
	copy(w.Sessions, s.Sessions)
	for i := range w.Sessions {
		if w.Sessions[i].Messages == nil {
			w.Sessions[i].Messages = []Message{}
		}
	}
	if s.CurrentSessionID != "" {
		id := s.CurrentSessionID
		w.CurrentSessionID = &id
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. createdAt strings are revived
// into time.Time by the standard decoder.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Sessions = w.Sessions
	s.CurrentSessionID = ""
	if w.CurrentSessionID != nil {
		s.CurrentSessionID = *w.CurrentSessionID
	}
	return nil
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{CurrentSessionID: s.CurrentSessionID}
	if s.Sessions != nil {
		out.Sessions = make([]Session, len(s.Sessions))
		for i := range s.Sessions {
			out.Sessions[i] = s.Sessions[i].Clone()
		}
	}
	return out
}

// SessionIndex returns the index of the session with id, or -1.
func (s State) SessionIndex(id string) int {
	for i := range s.Sessions {
		if s.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// Current returns the current session, if any.
func (s State) Current() (Session, bool) {
	if s.CurrentSessionID == "" {
		return Session{}, false
	}
	if i := s.SessionIndex(s.CurrentSessionID); i >= 0 {
		return s.Sessions[i], true
	}
	return Session{}, false
}

// Newest returns the session with the latest CreatedAt. Sessions are kept
// newest first, but imported data may not honor that.
func (s State) Newest() (Session, bool) {
	if len(s.Sessions) == 0 {
		return Session{}, false
	}
	sorted := make([]Session, len(s.Sessions))
	copy(sorted, s.Sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted[0], true
}

// Valid reports whether the current-session invariant holds.
func (s State) Valid() bool {
	return s.CurrentSessionID == "" || s.SessionIndex(s.CurrentSessionID) >= 0
}
