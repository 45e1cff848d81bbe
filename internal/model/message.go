// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single chat turn. ID is assigned at creation and never
// changes. Metrics are only populated on assistant messages.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// IsLoading is true while a generation is streaming into this message.
	// At most one message per session is loading.
	IsLoading bool   `json:"isLoading,omitempty"`
	Error     string `json:"error,omitempty"`

	// Generation metrics, updated while streaming and finalized at the end.
	TokenCount            int     `json:"tokenCount,omitempty"`
	TokensPerSecond       float64 `json:"tokensPerSecond,omitempty"`
	GenerationTimeSeconds float64 `json:"generationTimeSeconds,omitempty"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:      NewID(),
		Role:    role,
		Content: content,
	}
}

// NewPlaceholder creates the empty, loading assistant message that a
// generation streams into.
func NewPlaceholder() Message {
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		IsLoading: true,
	}
}

// HasError reports whether the generation for this message failed.
func (m Message) HasError() bool {
	return m.Error != ""
}

// NewID returns a new opaque identifier for sessions and messages.
func NewID() string {
	return uuid.New().String()
}

// =============================================================================
// MESSAGE PATCH
// =============================================================================

// MessagePatch is a partial update to a message. Nil fields are left
// unchanged.
type MessagePatch struct {
	Content               *string
	IsLoading             *bool
	Error                 *string
	TokenCount            *int
	TokensPerSecond       *float64
	GenerationTimeSeconds *float64
}

// Apply returns m with every non-nil field of p merged in.
func (p MessagePatch) Apply(m Message) Message {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsLoading != nil {
		m.IsLoading = *p.IsLoading
	}
	if p.Error != nil {
		m.Error = *p.Error
	}
	if p.TokenCount != nil {
		m.TokenCount = *p.TokenCount
	}
	if p.TokensPerSecond != nil {
		m.TokensPerSecond = *p.TokensPerSecond
	}
	if p.GenerationTimeSeconds != nil {
		m.GenerationTimeSeconds = *p.GenerationTimeSeconds
	}
	return m
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.Content == nil && p.IsLoading == nil && p.Error == nil &&
		p.TokenCount == nil && p.TokensPerSecond == nil && p.GenerationTimeSeconds == nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
