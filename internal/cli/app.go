// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring of the chat core for a command invocation.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/chat"
	"github.com/jeranaias/localai-chat/internal/config"
	"github.com/jeranaias/localai-chat/internal/kvstore"
	"github.com/jeranaias/localai-chat/internal/localai"
	"github.com/jeranaias/localai-chat/internal/prefs"
	"github.com/jeranaias/localai-chat/internal/session"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// App holds the components behind every command.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  kvstore.Store
	Repo   *session.Repository
	Prefs  *prefs.Prefs
	Chat   *chat.Controller
	Theme  *styles.Theme

	// Notifier prints user-facing notices, shared with the controller.
	Notifier chat.Notifier

	Out    io.Writer
	ErrOut io.Writer

	// urlOverride pins the server URL for this run; /url still persists.
	urlOverride string
	now         func() time.Time
}

// AppOptions carries per-run choices that are not part of the config file.
type AppOptions struct {
	// BaseURL overrides the saved server URL for this run only.
	BaseURL string
	Out     io.Writer
	ErrOut  io.Writer
	Theme   *styles.Theme
	Now     func() time.Time
}

// NewApp opens the store, hydrates the session repository and builds the
// controller. The caller must Close the app.
func NewApp(cfg *config.Config, logger *zap.Logger, opts AppOptions) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Theme == nil {
		opts.Theme = newTheme(opts.Out, false)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	store, err := kvstore.Open(cfg.Store.Backend, dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	repo := session.NewRepository(store, session.WithLogger(logger.Named("session")))
	if err := repo.Hydrate(); err != nil {
		// A corrupt history must not lock the user out; start empty.
		logger.Warn("could not restore chat history", zap.Error(err))
	}

	p := prefs.New(store,
		prefs.WithLogger(logger.Named("prefs")),
		prefs.WithDefaultAPIURL(cfg.Server.BaseURL))

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Repo:        repo,
		Prefs:       p,
		Theme:       opts.Theme,
		Notifier:    newTerminalNotifier(opts.ErrOut, opts.Theme),
		Out:         opts.Out,
		ErrOut:      opts.ErrOut,
		urlOverride: opts.BaseURL,
		now:         opts.Now,
	}

	if cfg.Server.Model != "" {
		if err := p.SetLastModel(cfg.Server.Model); err != nil {
			logger.Warn("could not apply configured model", zap.Error(err))
		}
	}

	a.Chat = chat.New(repo, p, a.newClient(a.BaseURL()),
		chat.WithLogger(logger.Named("chat")),
		chat.WithNotifier(a.Notifier),
		chat.WithClock(opts.Now))
	return a, nil
}

// BaseURL returns the server URL in effect.
func (a *App) BaseURL() string {
	if a.urlOverride != "" {
		return localai.NormalizeBaseURL(a.urlOverride)
	}
	return localai.NormalizeBaseURL(a.Prefs.APIURL())
}

func (a *App) newClient(baseURL string) *localai.Client {
	return localai.NewClient(baseURL,
		localai.WithModelsTimeout(a.Config.Server.ModelsTimeout()),
		localai.WithLogger(a.Logger.Named("localai")))
}

// SetBaseURL saves url and points the controller at it.
func (a *App) SetBaseURL(url string) error {
	url = localai.NormalizeBaseURL(url)
	if err := a.Prefs.SetAPIURL(url); err != nil {
		return fmt.Errorf("save server URL: %w", err)
	}
	a.urlOverride = ""
	a.Chat.SetTransport(a.newClient(url))
	a.Logger.Info("server URL changed", zap.String("url", url))
	return nil
}

// Start loads the model catalog and makes sure a session is current.
// A catalog failure is not fatal: saved sessions stay usable.
func (a *App) Start(ctx context.Context) error {
	models, err := a.Chat.FetchModels(ctx)
	a.Chat.EnsureSession(models)
	return err
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
