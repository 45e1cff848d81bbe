// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// TitleTimeLayout is the clock format used for default session titles.
const TitleTimeLayout = "3:04:05 PM"

// Session is an ordered conversation bound to one model. Messages are only
// ever appended, except for patches to the loading assistant message.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
}

// CreatedAtPrecision is the resolution kept for session timestamps, matching
// the millisecond timestamps of exported history.
const CreatedAtPrecision = time.Millisecond

// NewSession creates an empty session for modelID titled after now.
// CreatedAt is stored in UTC without a monotonic reading so it survives a
// JSON round trip unchanged.
func NewSession(modelID, systemPrompt string, now time.Time) Session {
	return Session{
		ID:           NewID(),
		Title:        "Chat " + now.Format(TitleTimeLayout),
		Model:        modelID,
		Messages:     []Message{},
		CreatedAt:    now.UTC().Truncate(CreatedAtPrecision),
		SystemPrompt: systemPrompt,
	}
}

// IsEmpty reports whether the session has no messages.
func (s Session) IsEmpty() bool {
	return len(s.Messages) == 0
}

// TotalTokens sums the token counts of every message.
func (s Session) TotalTokens() int {
	total := 0
	for _, m := range s.Messages {
		total += m.TokenCount
	}
	return total
}

// MessageIndex returns the index of the message with id, or -1.
func (s Session) MessageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LoadingCount returns how many messages are marked as loading.
func (s Session) LoadingCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.IsLoading {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
