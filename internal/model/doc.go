// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// # Key Types
//
//   - Message: one chat turn with role, content and generation metrics
//   - Session: an ordered conversation bound to a single model
//   - State: every session plus the current-session pointer
//   - MessagePatch: partial update applied to a streaming assistant message
//   - Role: user, assistant or system
//
// The JSON form of State is the persisted and exported wire format, so field
// names follow the camelCase keys used by browser-based clients of the same
// server (sessions, currentSessionId, createdAt, isLoading, ...).
//
// # Usage
//
//	s := model.NewSession("llama-3.2-3b", "You are terse.", time.Now())
//	s.Messages = append(s.Messages, model.NewMessage(model.RoleUser, "Hello!"))
package model
