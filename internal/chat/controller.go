// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives conversations: it sends user messages to the server,
// streams the reply into the session state, and handles cancellation.
//
// A Controller owns at most one active generation. Send blocks the calling
// goroutine until the stream ends; Stop may be called from any goroutine.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/catalog"
	"github.com/jeranaias/localai-chat/internal/localai"
	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/prefs"
	"github.com/jeranaias/localai-chat/internal/session"
	"github.com/jeranaias/localai-chat/internal/stream"
	"github.com/jeranaias/localai-chat/internal/util"
)

// FailureContent replaces the reply of a generation that failed.
const FailureContent = "Error: Unable to communicate with AI service."

// Error variables for generation control.
var (
	// ErrGenerationInProgress is returned by Send while another generation
	// is active.
	ErrGenerationInProgress = errors.New("a response is already being generated")

	// ErrStopped is the cancellation cause used by Stop.
	ErrStopped = errors.New("generation stopped")

	// ErrNoModels indicates no model is available to start a session with.
	ErrNoModels = errors.New("no models available")
)

// Transport is the server API the controller needs.
type Transport interface {
	ChatStream(ctx context.Context, model string, messages []localai.Message) (io.ReadCloser, error)
	ListModels(ctx context.Context) ([]string, error)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates the repository, the transport and preferences.
type Controller struct {
	repo     *session.Repository
	prefs    *prefs.Prefs
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	transport Transport
	models    []catalog.Model
	cancel    context.CancelCauseFunc
	gen       uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier sets where notifications go.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a controller.
func New(repo *session.Repository, p *prefs.Prefs, t Transport, opts ...Option) *Controller {
	c := &Controller{
		repo:      repo,
		prefs:     p,
		transport: t,
		notifier:  nopNotifier{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTransport replaces the transport, e.g. after the server URL changed.
// An active generation keeps using the transport it started with.
func (c *Controller) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

func (c *Controller) currentTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Repository returns the session repository.
func (c *Controller) Repository() *session.Repository {
	return c.repo
}

// =============================================================================
// GENERATION
// =============================================================================

// Send appends content as a user message to the current session and
// streams the assistant's reply into a placeholder message. It returns nil
// without doing anything when no session is current.
//
// Stop ends the generation cleanly: the reply keeps what arrived and Send
// returns nil. Cancelling ctx does the same but Send returns the context
// error. Any other failure marks the reply as failed, notifies, and is
// returned.
func (c *Controller) Send(ctx context.Context, content string) error {
	sess, ok := c.repo.CurrentSession()
	if !ok {
		c.logger.Debug("send ignored: no current session")
		return nil
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrGenerationInProgress
	}
	genCtx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel
	c.gen++
	gen := c.gen
	transport := c.transport
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel(nil)
	}()

	history := RequestMessages(sess, content)

	if err := c.repo.AppendMessage(sess.ID, model.NewMessage(model.RoleUser, content)); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	placeholder := model.NewPlaceholder()
	if err := c.repo.AppendMessage(sess.ID, placeholder); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	log := c.logger.With(
		zap.String("session", sess.ID),
		zap.String("message", placeholder.ID),
		zap.String("model", sess.Model))
	log.Info("generation started", zap.Int("history", len(history)))

	g := &generation{
		c:         c,
		log:       log,
		sessionID: sess.ID,
		messageID: placeholder.ID,
	}
	err := g.run(genCtx, transport, sess.Model, history)

	switch {
	case err == nil:
		return nil
	case genCtx.Err() != nil:
		g.finishCancelled()
		cause := context.Cause(genCtx)
		log.Info("generation cancelled", zap.NamedError("cause", cause))
		if errors.Is(cause, ErrStopped) {
			return nil
		}
		return ctx.Err()
	default:
		g.finishFailed(err)
		c.notifier.Notify(sendFailed)
		return fmt.Errorf("send message: %w", err)
	}
}

// Stop cancels the active generation. It reports whether one was active.
// The generation's messages are finalized by Send, not here.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel(ErrStopped)
	return true
}

// IsGenerating reports whether a generation is active.
func (c *Controller) IsGenerating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// RequestMessages builds the conversation sent to the server: the session's
// system prompt, its settled messages, then the new user content.
func RequestMessages(s model.Session, content string) []localai.Message {
	out := make([]localai.Message, 0, len(s.Messages)+2)
	if s.SystemPrompt != "" {
		out = append(out, localai.Message{Role: string(model.RoleSystem), Content: s.SystemPrompt})
	}
	for _, m := range s.Messages {
		if m.IsLoading {
			continue
		}
		out = append(out, localai.Message{Role: string(m.Role), Content: m.Content})
	}
	return append(out, localai.Message{Role: string(model.RoleUser), Content: content})
}

// generation is the state of one Send call.
type generation struct {
	c         *Controller
	log       *zap.Logger
	sessionID string
	messageID string
}

func (g *generation) run(ctx context.Context, t Transport, modelID string, history []localai.Message) error {
	start := g.c.now()

	body, err := t.ChatStream(ctx, modelID, history)
	if err != nil {
		return err
	}
	defer body.Close()

	dec := stream.NewDecoder(g.onUpdate,
		stream.WithLogger(g.log),
		stream.WithClock(g.c.now),
		stream.WithStart(start))

	if _, err := dec.ReadFrom(body); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	final := dec.Finish()
	g.patch(metricsPatch(final, model.Ptr(false)))
	g.log.Info("generation finished",
		zap.Int("tokens", final.TokenCount),
		zap.Float64("tokens_per_second", util.Round2(final.TokensPerSecond)),
		zap.Duration("elapsed", final.Elapsed),
		zap.Bool("done_sentinel", dec.SawDone()))
	return nil
}

// onUpdate mirrors every decoder update into the placeholder message.
func (g *generation) onUpdate(u stream.Update) {
	if u.Final {
		return
	}
	g.patch(metricsPatch(u, nil))
}

// finishCancelled settles the message after a stop, keeping its content.
func (g *generation) finishCancelled() {
	g.patch(model.MessagePatch{IsLoading: model.Ptr(false)})
}

// finishFailed replaces the reply with the failure text.
func (g *generation) finishFailed(err error) {
	g.log.Error("generation failed", zap.Error(err))
	g.patch(model.MessagePatch{
		IsLoading: model.Ptr(false),
		Error:     model.Ptr(err.Error()),
		Content:   model.Ptr(FailureContent),
	})
}

func (g *generation) patch(p model.MessagePatch) {
	if err := g.c.repo.PatchMessage(g.sessionID, g.messageID, p); err != nil {
		// The session may have been deleted mid-stream.
		g.log.Debug("message patch dropped", zap.Error(err))
	}
}

func metricsPatch(u stream.Update, loading *bool) model.MessagePatch {
	return model.MessagePatch{
		Content:               model.Ptr(u.Content),
		IsLoading:             loading,
		TokenCount:            model.Ptr(u.TokenCount),
		TokensPerSecond:       model.Ptr(util.Round2(u.TokensPerSecond)),
		GenerationTimeSeconds: model.Ptr(util.Round2(u.Elapsed.Seconds())),
	}
}
