// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_TitleAndDefaults(t *testing.T) {
	now := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	s := NewSession("qwen2.5-7b", "be brief", now)

	assert.Equal(t, "Chat 2:05:07 PM", s.Title)
	assert.Equal(t, "qwen2.5-7b", s.Model)
	assert.Equal(t, "be brief", s.SystemPrompt)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, now, s.CreatedAt)
}

func TestNewSession_CreatedAtSurvivesJSON(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	s := NewSession("m", "", time.Now().In(local).Add(1234567*time.Nanosecond))

	assert.Equal(t, time.UTC, s.CreatedAt.Location())
	assert.Zero(t, s.CreatedAt.Nanosecond()%int(CreatedAtPrecision))

	data, err := json.Marshal(State{Sessions: []Session{s}, CurrentSessionID: s.ID})
	require.NoError(t, err)
	var back State
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Session{s}, back.Sessions)
}

func TestMessagePatch_Apply(t *testing.T) {
	m := NewPlaceholder()
	require.True(t, m.IsLoading)

	m = MessagePatch{Content: Ptr("partial"), TokenCount: Ptr(3)}.Apply(m)
	assert.Equal(t, "partial", m.Content)
	assert.Equal(t, 3, m.TokenCount)
	assert.True(t, m.IsLoading, "untouched fields must be preserved")

	m = MessagePatch{IsLoading: Ptr(false), Error: Ptr("boom")}.Apply(m)
	assert.False(t, m.IsLoading)
	assert.True(t, m.HasError())
	assert.Equal(t, "partial", m.Content)

	assert.True(t, MessagePatch{}.Empty())
}

func TestSession_TotalTokensAndClone(t *testing.T) {
	s := NewSession("m", "", time.Now())
	s.Messages = append(s.Messages,
		Message{ID: "a", Role: RoleUser, TokenCount: 0},
		Message{ID: "b", Role: RoleAssistant, TokenCount: 12},
		Message{ID: "c", Role: RoleAssistant, TokenCount: 30},
	)
	assert.Equal(t, 42, s.TotalTokens())
	assert.Equal(t, 1, s.MessageIndex("b"))
	assert.Equal(t, -1, s.MessageIndex("zzz"))

	c := s.Clone()
	c.Messages[0].Content = "changed"
	assert.Empty(t, s.Messages[0].Content, "clone must not share message storage")
}

func TestState_JSONWireFormat(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	st := State{
		Sessions: []Session{{
			ID:        "s1",
			Title:     "Chat 3:04:05 AM",
			Model:     "m",
			CreatedAt: created,
			Messages: []Message{
				{ID: "u1", Role: RoleUser, Content: "hi"},
				{ID: "a1", Role: RoleAssistant, Content: "yo", TokenCount: 1, TokensPerSecond: 2.5, GenerationTimeSeconds: 0.4},
			},
		}},
		CurrentSessionID: "s1",
	}

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "s1", raw["currentSessionId"])
	sessions := raw["sessions"].([]any)
	first := sessions[0].(map[string]any)
	assert.Equal(t, "2025-01-02T03:04:05Z", first["createdAt"])
	msgs := first["messages"].([]any)
	assistant := msgs[1].(map[string]any)
	assert.Equal(t, 2.5, assistant["tokensPerSecond"])
	assert.NotContains(t, msgs[0].(map[string]any), "isLoading")

	var back State
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, st, back)
}

func TestState_EmptyMarshalsNullCurrent(t *testing.T) {
	data, err := json.Marshal(State{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessions":[],"currentSessionId":null}`, string(data))
}

func TestState_RevivesJavaScriptTimestamps(t *testing.T) {
	in := `{"sessions":[{"id":"x","title":"t","model":"m","messages":[],"createdAt":"2024-05-01T10:20:30.123Z"}],"currentSessionId":null}`
	var st State
	require.NoError(t, json.Unmarshal([]byte(in), &st))
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, 123*time.Millisecond, time.Duration(st.Sessions[0].CreatedAt.Nanosecond()))
	assert.Equal(t, "", st.CurrentSessionID)
}

func TestState_NewestAndCurrent(t *testing.T) {
	base := time.Now()
	st := State{Sessions: []Session{
		{ID: "old", CreatedAt: base.Add(-time.Hour)},
		{ID: "new", CreatedAt: base},
	}}

	newest, ok := st.Newest()
	require.True(t, ok)
	assert.Equal(t, "new", newest.ID)

	_, ok = st.Current()
	assert.False(t, ok)

	st.CurrentSessionID = "old"
	cur, ok := st.Current()
	require.True(t, ok)
	assert.Equal(t, "old", cur.ID)
	assert.True(t, st.Valid())

	st.CurrentSessionID = "gone"
	assert.False(t, st.Valid())
}
