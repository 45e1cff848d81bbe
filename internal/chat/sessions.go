// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/catalog"
	"github.com/jeranaias/localai-chat/internal/export"
	"github.com/jeranaias/localai-chat/internal/model"
)

// =============================================================================
// MODELS
// =============================================================================

// FetchModels loads the model catalog from the server. On failure the user
// is notified and the previous catalog is kept.
func (c *Controller) FetchModels(ctx context.Context) ([]catalog.Model, error) {
	ids, err := c.currentTransport().ListModels(ctx)
	if err != nil {
		c.logger.Error("failed to fetch models", zap.Error(err))
		c.notifier.Notify(modelsFailed)
		return nil, err
	}

	models := catalog.Build(ids)
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()

	c.logger.Info("models loaded", zap.Int("count", len(models)))
	return append([]catalog.Model(nil), models...), nil
}

// Models returns the last fetched catalog.
func (c *Controller) Models() []catalog.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Model(nil), c.models...)
}

// PreferredModel returns the last selected model when the catalog still
// has it, else the first model, else "".
func (c *Controller) PreferredModel(models []catalog.Model) string {
	if last := c.prefs.LastModel(); last != "" {
		if _, ok := catalog.Find(models, last); ok {
			return last
		}
	}
	if len(models) > 0 {
		return models[0].ID
	}
	return ""
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// CreateSession starts an empty session for modelID, makes it current and
// remembers modelID as the last selected model. The new session takes the
// default system prompt.
func (c *Controller) CreateSession(modelID string) model.Session {
	s := model.NewSession(modelID, c.prefs.DefaultSystemPrompt(), c.now())
	if err := c.prefs.SetLastModel(modelID); err != nil {
		c.logger.Warn("failed to remember model", zap.String("model", modelID), zap.Error(err))
	}
	c.repo.CreateSession(s)
	c.logger.Info("session created", zap.String("session", s.ID), zap.String("model", modelID))
	return s
}

// NewSession creates a session with the preferred model from the catalog.
func (c *Controller) NewSession() (model.Session, error) {
	modelID := c.PreferredModel(c.Models())
	if modelID == "" {
		c.notifier.Notify(noModels)
		return model.Session{}, ErrNoModels
	}
	return c.CreateSession(modelID), nil
}

// SelectModel switches to modelID. An empty current session is discarded
// and a new session is created for the model.
func (c *Controller) SelectModel(modelID string) model.Session {
	if cur, ok := c.repo.CurrentSession(); ok && cur.IsEmpty() {
		if err := c.repo.DeleteSession(cur.ID); err != nil {
			c.logger.Warn("failed to discard empty session", zap.String("session", cur.ID), zap.Error(err))
		}
	}
	return c.CreateSession(modelID)
}

// EnsureSession makes sure a session is current at startup. With saved
// sessions and none current, the newest is selected. With no sessions, one
// is created for the preferred model in models. It does nothing when a
// session is already current or no model is available.
func (c *Controller) EnsureSession(models []catalog.Model) {
	st := c.repo.State()
	if st.CurrentSessionID != "" {
		return
	}
	if newest, ok := st.Newest(); ok {
		if err := c.repo.SetCurrentSession(newest.ID); err != nil {
			c.logger.Warn("failed to select newest session", zap.Error(err))
		}
		return
	}
	if modelID := c.PreferredModel(models); modelID != "" {
		c.CreateSession(modelID)
	}
}

// =============================================================================
// SYSTEM PROMPTS
// =============================================================================

// SetDefaultSystemPrompt saves text as the default for new sessions and
// applies it to the current session.
func (c *Controller) SetDefaultSystemPrompt(text string) error {
	if err := c.prefs.SetDefaultSystemPrompt(text); err != nil {
		return fmt.Errorf("save default system prompt: %w", err)
	}
	if cur, ok := c.repo.CurrentSession(); ok && cur.SystemPrompt != text {
		return c.repo.SetSystemPrompt(cur.ID, text)
	}
	return nil
}

// SyncDefaultSystemPrompt applies a changed default to the current session
// while that session has no messages yet.
func (c *Controller) SyncDefaultSystemPrompt(text string) {
	cur, ok := c.repo.CurrentSession()
	if !ok || !cur.IsEmpty() || cur.SystemPrompt == text {
		return
	}
	if err := c.repo.SetSystemPrompt(cur.ID, text); err != nil {
		c.logger.Debug("system prompt sync skipped", zap.Error(err))
	}
}

// WatchDefaultSystemPrompt keeps the current empty session in step with
// the default system prompt until the returned function is called.
func (c *Controller) WatchDefaultSystemPrompt() (stop func()) {
	return c.prefs.WatchDefaultSystemPrompt(c.SyncDefaultSystemPrompt)
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

// Export returns the whole chat history as JSON.
func (c *Controller) Export() ([]byte, error) {
	return export.State(c.repo.State())
}

// Import replaces the chat history with data. Invalid data leaves the
// history untouched.
func (c *Controller) Import(data []byte) error {
	st, err := export.Import(data)
	if err != nil {
		return err
	}
	c.repo.LoadState(st)
	c.logger.Info("chat history imported", zap.Int("sessions", len(st.Sessions)))
	return nil
}

// TotalTokens sums token counts over the current session.
func (c *Controller) TotalTokens() int {
	cur, ok := c.repo.CurrentSession()
	if !ok {
		return 0
	}
	return cur.TotalTokens()
}
