// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/localai-chat/internal/kvstore"
	"github.com/jeranaias/localai-chat/internal/localai"
	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/prefs"
	"github.com/jeranaias/localai-chat/internal/session"
)

// =============================================================================
// HARNESS
// =============================================================================

type notes struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notes) Notify(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, x)
}

func (n *notes) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.list...)
}

type harness struct {
	ctrl  *Controller
	repo  *session.Repository
	prefs *prefs.Prefs
	store *kvstore.Memory
	notes *notes
}

func newHarness(t *testing.T, h http.HandlerFunc) *harness {
	t.Helper()
	if h == nil {
		h = func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	store := kvstore.NewMemory()
	logger := zaptest.NewLogger(t)
	repo := session.NewRepository(store, session.WithLogger(logger))
	p := prefs.New(store)
	n := &notes{}
	client := localai.NewClient(server.URL, localai.WithHTTPClient(server.Client()))

	return &harness{
		ctrl:  New(repo, p, client, WithLogger(logger), WithNotifier(n)),
		repo:  repo,
		prefs: p,
		store: store,
		notes: n,
	}
}

func frame(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	return "data: " + string(payload) + "\n\n"
}

// replyContent returns the content of the current session's last message,
// or "" while there is none.
func replyContent(repo *session.Repository) string {
	s, ok := repo.CurrentSession()
	if !ok || len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Content
}

func lastMessage(t *testing.T, repo *session.Repository) model.Message {
	t.Helper()
	s, ok := repo.CurrentSession()
	require.True(t, ok)
	require.NotEmpty(t, s.Messages)
	return s.Messages[len(s.Messages)-1]
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_StreamsReplyIntoSession(t *testing.T) {
	var got localai.ChatRequest
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, frame("<think>reasoning "))
		_, _ = io.WriteString(w, frame("text</think>answer"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	s := h.ctrl.CreateSession("llama")
	require.NoError(t, h.repo.SetSystemPrompt(s.ID, "Be brief."))
	require.NoError(t, h.repo.AppendMessage(s.ID, model.Message{ID: "old-u", Role: model.RoleUser, Content: "earlier"}))
	require.NoError(t, h.repo.AppendMessage(s.ID, model.Message{ID: "old-a", Role: model.RoleAssistant, Content: "reply"}))

	require.NoError(t, h.ctrl.Send(context.Background(), "hello"))

	assert.Equal(t, "llama", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, []localai.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "hello"},
	}, got.Messages)

	cur, _ := h.repo.CurrentSession()
	require.Len(t, cur.Messages, 4)
	assert.Equal(t, model.RoleUser, cur.Messages[2].Role)
	assert.Equal(t, "hello", cur.Messages[2].Content)

	reply := cur.Messages[3]
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, "<think>reasoning text</think>answer", reply.Content)
	assert.False(t, reply.IsLoading)
	assert.Empty(t, reply.Error)
	assert.Equal(t, 10, reply.TokenCount) // ceil(17/4) + ceil(18/4)
	assert.False(t, h.ctrl.IsGenerating())
	assert.Empty(t, h.notes.all())
}

func TestSend_NoCurrentSessionIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.Send(context.Background(), "hello"))
	assert.Empty(t, h.repo.State().Sessions)
}

func TestSend_FailureMarksReplyAndNotifies(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"out of memory"}}`)
	})
	h.ctrl.CreateSession("llama")

	err := h.ctrl.Send(context.Background(), "hello")
	var apiErr *localai.APIError
	require.ErrorAs(t, err, &apiErr)

	reply := lastMessage(t, h.repo)
	assert.Equal(t, FailureContent, reply.Content)
	assert.Contains(t, reply.Error, "out of memory")
	assert.False(t, reply.IsLoading)
	assert.Equal(t, []Notification{sendFailed}, h.notes.all())
	assert.False(t, h.ctrl.IsGenerating())
}

func TestSend_StopKeepsPartialContent(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, frame("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	h.ctrl.CreateSession("llama")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Send(context.Background(), "hello") }()

	require.Eventually(t, func() bool {
		s, _ := h.repo.CurrentSession()
		return len(s.Messages) == 2 && s.Messages[1].Content == "partial"
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, h.ctrl.IsGenerating())

	assert.True(t, h.ctrl.Stop())
	assert.False(t, h.ctrl.IsGenerating(), "stop clears the handle")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("send did not return after stop")
	}

	reply := lastMessage(t, h.repo)
	assert.Equal(t, "partial", reply.Content)
	assert.False(t, reply.IsLoading)
	assert.Empty(t, reply.Error)
	assert.Empty(t, h.notes.all())
	assert.False(t, h.ctrl.Stop(), "nothing left to stop")
}

func TestSend_StopKeepsTextThatMayStartAMarker(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, frame("Hello <"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	h.ctrl.CreateSession("llama")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Send(context.Background(), "hello") }()

	require.Eventually(t, func() bool {
		return replyContent(h.repo) == "Hello <"
	}, 3*time.Second, 10*time.Millisecond)
	require.True(t, h.ctrl.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("send did not return after stop")
	}

	reply := lastMessage(t, h.repo)
	assert.Equal(t, "Hello <", reply.Content)
	assert.Equal(t, 2, reply.TokenCount)
	assert.False(t, reply.IsLoading)
}

func TestSend_AfterRestartWithInterruptedReply(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, frame("fresh"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	s := model.NewSession("llama", "", time.Now())
	cut := model.NewPlaceholder()
	cut.Content = "half an ans"
	s.Messages = []model.Message{model.NewMessage(model.RoleUser, "first"), cut}
	h.repo.LoadState(model.State{Sessions: []model.Session{s}, CurrentSessionID: s.ID})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Send(context.Background(), "again") }()

	require.Eventually(t, func() bool {
		return replyContent(h.repo) == "fresh"
	}, 3*time.Second, 10*time.Millisecond)
	cur, _ := h.repo.CurrentSession()
	assert.Equal(t, 1, cur.LoadingCount())

	require.True(t, h.ctrl.Stop())
	require.NoError(t, <-done)

	cur, _ = h.repo.CurrentSession()
	assert.Zero(t, cur.LoadingCount())
	assert.Equal(t, "half an ans", cur.Messages[1].Content)
}

func TestSend_ParentCancelReturnsContextError(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, frame("a"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	h.ctrl.CreateSession("llama")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Send(ctx, "hello") }()

	require.Eventually(t, func() bool {
		return replyContent(h.repo) == "a"
	}, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("send did not return after cancel")
	}
	reply := lastMessage(t, h.repo)
	assert.False(t, reply.IsLoading)
	assert.Empty(t, reply.Error)
}

func TestSend_SecondSendIsRejectedWhileGenerating(t *testing.T) {
	var requests atomic.Int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = io.WriteString(w, frame("x"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	h.ctrl.CreateSession("llama")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Send(context.Background(), "first") }()
	require.Eventually(t, func() bool {
		return replyContent(h.repo) == "x"
	}, 3*time.Second, 10*time.Millisecond)
	require.True(t, h.ctrl.IsGenerating())

	assert.ErrorIs(t, h.ctrl.Send(context.Background(), "second"), ErrGenerationInProgress)

	h.ctrl.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), requests.Load())

	s, _ := h.repo.CurrentSession()
	assert.Len(t, s.Messages, 2, "rejected send appends nothing")
}

func TestRequestMessages_SkipsLoadingMessages(t *testing.T) {
	s := model.Session{Messages: []model.Message{
		{Role: model.RoleUser, Content: "q"},
		{Role: model.RoleAssistant, Content: "", IsLoading: true},
	}}

	assert.Equal(t, []localai.Message{
		{Role: "user", Content: "q"},
		{Role: "user", Content: "next"},
	}, RequestMessages(s, "next"))
}
