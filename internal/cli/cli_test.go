// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/localai-chat/internal/attach"
	"github.com/jeranaias/localai-chat/internal/chat"
	"github.com/jeranaias/localai-chat/internal/config"
	"github.com/jeranaias/localai-chat/internal/export"
	"github.com/jeranaias/localai-chat/internal/localai"
	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/session"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// =============================================================================
// EXIT CODES (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", &ValidationError{Field: "url", Reason: "bad"}, ExitUsageError},
		{"missing argument", ErrMissingArgument("file", "import x.json"), ExitUsageError},
		{"invalid import", fmt.Errorf("load: %w", export.ErrInvalidFormat), ExitUsageError},
		{"unsupported attachment", attach.ErrUnsupported, ExitUsageError},
		{"config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "log.level", Message: "bad"}}), ExitConfigError},
		{"auth", fmt.Errorf("send: %w", localai.ErrAuthFailed), ExitAuthError},
		{"not found", &NotFoundError{Resource: "session", ID: "9"}, ExitNotFoundError},
		{"session not found", session.ErrSessionNotFound, ExitNotFoundError},
		{"model not found", localai.ErrModelNotFound, ExitNotFoundError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"api error", &localai.APIError{Status: 500, Message: "boom"}, ExitGeneralError},
		{"refused by message", errors.New("dial tcp: connection refused"), ExitNetworkError},
		{"config by message", errors.New("bad config value"), ExitConfigError},
		{"unknown", errors.New("something else"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestCommandError(t *testing.T) {
	cause := errors.New("disk full")
	err := NewCommandError("export", "write", "out.json", cause)
	assert.Equal(t, "export write failed: out.json: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "chat run command failed: nope", NewCommandError("chat", "run command", "nope", nil).Error())
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "url", Value: "ftp://x", Reason: "must be http", Example: "--url http://localhost:8000"}
	assert.Equal(t, "invalid url: must be http (got: ftp://x)\nExample: --url http://localhost:8000", err.Error())
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, nil)
	assert.Empty(t, buf.String())

	DisplayError(&buf, errors.New("it broke"))
	assert.Contains(t, buf.String(), "it broke")
}

// =============================================================================
// SUGGESTIONS (suggest.go)
// =============================================================================

func TestSuggestCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/sesions", "/sessions"},
		{"/modle", "/model"},
		{"/exprot", "/export"},
		{"/hlep", "/help"},
		{"/qit", "/quit"},
		{"/ls", "/sessions"},
		{"/xyzzy", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestCommand(tt.input))
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("model", "model"))
	assert.Equal(t, 1, levenshteinDistance("model", "models"))
	assert.Equal(t, 2, levenshteinDistance("modle", "model"))
	assert.Equal(t, 3, levenshteinDistance("", "abc"))
	assert.Equal(t, 3, levenshteinDistance("kitten", "sitting"))
}

// =============================================================================
// TERMINAL (terminal.go)
// =============================================================================

func TestColorsEnabled(t *testing.T) {
	var buf bytes.Buffer

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")
	assert.False(t, colorsEnabled(&buf, false), "a buffer is not a terminal")

	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, colorsEnabled(&buf, false))
	assert.False(t, colorsEnabled(&buf, true), "--no-color wins")

	t.Setenv("NO_COLOR", "1")
	assert.False(t, colorsEnabled(&buf, false))
}

func TestTerminalWidth_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, isTerminal(&buf))
	assert.Equal(t, DefaultTerminalWidth, terminalWidth(&buf))
}

// =============================================================================
// FORMATTING (format.go)
// =============================================================================

func testState() model.State {
	return model.State{
		Sessions: []model.Session{
			{ID: "abcd1111-0000", Title: "Newest", Model: "m1"},
			{ID: "abcd2222-0000", Title: "Middle", Model: "m2",
				Messages: []model.Message{{ID: "x", Role: model.RoleAssistant, Content: "hi", TokenCount: 7}}},
			{ID: "ffff3333-0000", Title: "Oldest", Model: "m3"},
		},
		CurrentSessionID: "abcd2222-0000",
	}
}

func TestResolveSession(t *testing.T) {
	st := testState()

	tests := []struct {
		ref     string
		wantID  string
		wantErr any
	}{
		{"1", "abcd1111-0000", nil},
		{"3", "ffff3333-0000", nil},
		{" 2 ", "abcd2222-0000", nil},
		{"abcd2222-0000", "abcd2222-0000", nil},
		{"ffff", "ffff3333-0000", nil},
		{"abcd1", "abcd1111-0000", nil},
		{"abcd", "", &ValidationError{}},
		{"fff", "", &NotFoundError{}},
		{"0", "", &NotFoundError{}},
		{"4", "", &NotFoundError{}},
		{"", "", &ValidationError{}},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			s, err := resolveSession(st, tt.ref)
			switch want := tt.wantErr.(type) {
			case nil:
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, s.ID)
			case *ValidationError:
				assert.ErrorAs(t, err, &want)
			case *NotFoundError:
				assert.ErrorAs(t, err, &want)
			}
		})
	}
}

func TestWriteSessionList(t *testing.T) {
	var buf bytes.Buffer
	theme := styles.NewThemeForProfile(termenv.Ascii, true)
	writeSessionList(&buf, theme, testState(), 80)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "    1  Newest"))
	assert.True(t, strings.HasPrefix(lines[1], "*   2  Middle"))
	assert.Contains(t, lines[1], "1 msgs")
	assert.Contains(t, lines[1], "7 tok")
	assert.Contains(t, lines[1], "abcd2222")

	buf.Reset()
	writeSessionList(&buf, theme, model.State{}, 80)
	assert.Equal(t, "No chats yet.\n", buf.String())
}

func TestFormatDurationShort(t *testing.T) {
	assert.Equal(t, "250ms", formatDurationShort(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDurationShort(1500*time.Millisecond))
	assert.Equal(t, "2m5s", formatDurationShort(125*time.Second))
	assert.Equal(t, "1h1m", formatDurationShort(61*time.Minute))
}

// =============================================================================
// PRINTER (printer.go)
// =============================================================================

func loadingState(content string, loading bool) model.State {
	return model.State{
		Sessions: []model.Session{{
			ID: "s",
			Messages: []model.Message{
				{ID: "u", Role: model.RoleUser, Content: "q"},
				{ID: "a", Role: model.RoleAssistant, Content: content, IsLoading: loading,
					TokenCount: 12, TokensPerSecond: 24, GenerationTimeSeconds: 0.5},
			},
		}},
	}
}

func TestStreamPrinter_Stats(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, styles.NewThemeForProfile(termenv.Ascii, true), "s", 1,
		printerOptions{ShowStats: true})

	p.Observe(loadingState("Hel", true))
	p.Observe(loadingState("Hello", true))
	m, ok := p.Reply(loadingState("Hello", false))
	require.True(t, ok)
	p.Finish(m, false)

	assert.Equal(t, "Hello\nTokens: 12 | Duration: 0.50s | Speed: 24.0 tok/s\n", buf.String())
}

func TestStreamPrinter_StoppedAndEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, styles.NewThemeForProfile(termenv.Ascii, true), "s", 1, printerOptions{})

	m, ok := p.Reply(loadingState("", false))
	require.True(t, ok)
	p.Finish(m, true)
	p.Finish(m, true)

	assert.Equal(t, "(no response)\n[Stopped]\n", buf.String())
}

func TestStreamPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, styles.NewThemeForProfile(termenv.Ascii, true), "s", 1, printerOptions{})

	p.Finish(model.Message{Role: model.RoleAssistant, Content: chat.FailureContent, Error: "request failed"}, false)

	assert.Equal(t, chat.FailureContent+"\nrequest failed\n", buf.String())
}

func TestStreamPrinter_StatusLineIsThrottled(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, styles.NewThemeForProfile(termenv.Ascii, true), "s", 1,
		printerOptions{Markdown: newMarkdownRenderer(80), Live: true, StatusInterval: time.Hour})

	p.Observe(loadingState("one", true))
	p.Observe(loadingState("one two", true))

	assert.Equal(t, 1, strings.Count(buf.String(), "generating..."))
	assert.NotContains(t, buf.String(), "one")
}

func TestGrown(t *testing.T) {
	d, ok := grown("Hel", "Hello")
	assert.True(t, ok)
	assert.Equal(t, "lo", d)

	_, ok = grown("Hello", "Help")
	assert.False(t, ok)
}
