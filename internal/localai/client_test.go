// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package localai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", WithHTTPClient(server.Client()))
}

// =============================================================================
// CHAT STREAM
// =============================================================================

func TestChatStream_SendsRequestAndReturnsBody(t *testing.T) {
	var got ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n")
	})

	body, err := client.ChatStream(context.Background(), "llama", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DONE]")

	assert.Equal(t, "llama", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "be brief"}, got.Messages[0])
}

func TestChatStream_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"model_not_found","message":"no such model"}}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrModelNotFound)
			assert.Contains(t, err.Error(), "no such model")
		}},
		{"unauthorized", http.StatusUnauthorized, ``, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrAuthFailed)
		}},
		{"rate limited", http.StatusTooManyRequests, `slow down`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRateLimited)
		}},
		{"server error", http.StatusInternalServerError, `{"error":{"code":500,"message":"backend crashed"}}`, func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, 500, apiErr.Status)
			assert.Equal(t, "500", apiErr.Code)
			assert.Equal(t, "backend crashed", apiErr.Message)
		}},
		{"bad gateway without body", http.StatusBadGateway, ``, func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "Bad Gateway", apiErr.Message)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			body, err := client.ChatStream(context.Background(), "m", nil)
			assert.Nil(t, body)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestChatStream_RequiresModel(t *testing.T) {
	client := NewClient("")
	_, err := client.ChatStream(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestChatStream_CancelAbortsRead(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	body, err := client.ChatStream(ctx, "m", nil)
	require.NoError(t, err)
	defer body.Close()

	buf := make([]byte, 256)
	n, err := body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "content")

	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(body)
		done <- err
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("read did not abort after cancel")
	}
}

// =============================================================================
// MODELS
// =============================================================================

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[
			{"id":"org/llama-3-8b@q4_k_m","object":"model"},
			{"id":"","object":"model"},
			{"id":"mistral-7b","object":"model"}]}`)
	})

	ids, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"org/llama-3-8b@q4_k_m", "mistral-7b"}, ids)
}

func TestListModels_Unauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"auth"}}`)
	})

	_, err := client.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NormalizeBaseURL("  "))
	assert.Equal(t, "http://host:8080/v1", NormalizeBaseURL(" http://host:8080/v1// "))
	assert.Equal(t, "http://host:8080/v1", NewClient("http://host:8080/v1/").BaseURL())
}
