// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package localai talks to an OpenAI-compatible inference server.
//
// Generation requests are streamed: ChatStream returns the raw response body
// so the caller can feed it to a stream.Decoder. Model discovery goes through
// the go-openai client.
package localai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Configuration constants.
const (
	// DefaultBaseURL is the server address used when none is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultModelsTimeout bounds the model listing request.
	DefaultModelsTimeout = 15 * time.Second

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024

	userAgent = "localai-chat/1.0"
)

// Error variables for common server errors.
var (
	// ErrAuthFailed indicates the server rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrNoModel indicates a request without a model id.
	ErrNoModel = errors.New("no model selected")
)

// APIError is a non-2xx response that maps to no sentinel.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is one entry of the conversation sent to the server.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// apiErrorResponse is the error body most OpenAI-compatible servers return.
type apiErrorResponse struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// sharedStreamingClient has no timeout; streams are bounded by context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
)

// Client is a client for one inference server. It is safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	modelsTimeout time.Duration
	logger        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the streaming HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithModelsTimeout sets the timeout of ListModels.
func WithModelsTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.modelsTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for baseURL. An empty baseURL selects
// DefaultBaseURL. A trailing slash is removed.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       NormalizeBaseURL(baseURL),
		httpClient:    sharedStreamingClient,
		modelsTimeout: DefaultModelsTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeBaseURL trims whitespace and trailing slashes.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u == "" {
		return DefaultBaseURL
	}
	return u
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// STREAMING
// =============================================================================

// ChatStream starts a streamed chat completion and returns the response
// body. The caller must close it. Cancelling ctx aborts the read.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message) (io.ReadCloser, error) {
	if model == "" {
		return nil, ErrNoModel
	}

	body, err := json.Marshal(ChatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("chat request",
		zap.String("url", url),
		zap.String("model", model),
		zap.Int("messages", len(messages)))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("chat response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, handleErrorResponse(resp.StatusCode, data)
	}
	return resp.Body, nil
}

// handleErrorResponse converts HTTP error responses to Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	code := ""

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		if apiErr.Error.Code != nil {
			code = fmt.Sprint(apiErr.Error.Code)
		}
	}
	return classify(statusCode, code, message)
}

// classify maps a status code to a sentinel, or to *APIError.
func classify(statusCode int, code, message string) error {
	var sentinel error
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrAuthFailed
	case http.StatusNotFound:
		sentinel = ErrModelNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	}
	if sentinel != nil {
		if message == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, message)
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &APIError{Code: code, Message: message, Status: statusCode}
}

// =============================================================================
// MODEL DISCOVERY
// =============================================================================

// ListModels returns the ids the server reports from GET /models, in
// server order.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = c.baseURL
	cfg.HTTPClient = &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   c.modelsTimeout,
	}
	client := openai.NewClientWithConfig(cfg)

	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", translateOpenAIError(err))
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	c.logger.Debug("models listed", zap.Int("count", len(ids)))
	return ids, nil
}

// translateOpenAIError maps go-openai errors onto this package's errors.
func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return classify(apiErr.HTTPStatusCode, code, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		message := ""
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		return classify(reqErr.HTTPStatusCode, "", message)
	}
	return err
}
