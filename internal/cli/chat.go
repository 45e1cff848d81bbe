// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Interactive Commands (during chat): see slash.go, or type /help.
//   Ctrl+C              Stop the current generation
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/attach"
	"github.com/jeranaias/localai-chat/internal/catalog"
	"github.com/jeranaias/localai-chat/internal/chat"
	"github.com/jeranaias/localai-chat/internal/config"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of user input per call.
type LineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history, line editing and slash command
// completion for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history loaded from the config directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line of input. Non-empty input is added to history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history (owner read/write only).
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() error {
	c.SaveHistory()
	return c.line.Close()
}

// completeSlash completes slash command names.
func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		for _, name := range c.names {
			if strings.HasPrefix(name, strings.ToLower(line)) {
				out = append(out, name+" ")
			}
		}
	}
	return out
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive chat loop.
type REPL struct {
	app  *App
	in   LineReader
	out  io.Writer
	md   *markdownRenderer
	live bool

	// handleSignals routes SIGINT to Stop while a reply streams.
	handleSignals bool
	stopped       atomic.Bool

	// pending attachments for the next message
	pending []string
}

// NewREPL creates a REPL reading from in. live enables terminal-only
// output: markdown rendering and the status line.
func NewREPL(app *App, in LineReader, live bool) *REPL {
	r := &REPL{
		app:           app,
		in:            in,
		out:           app.Out,
		live:          live,
		handleSignals: live,
	}
	if live && app.Config.UI.Markdown {
		r.md = newMarkdownRenderer(terminalWidth(app.Out))
	}
	return r
}

// Run reads and handles input until /quit, Ctrl+D or Ctrl+C at the prompt.
func (r *REPL) Run(ctx context.Context) error {
	if r.handleSignals {
		stop := r.watchSignals()
		defer stop()
	}
	stopWatch := r.app.Chat.WatchDefaultSystemPrompt()
	defer stopWatch()

	r.printWelcome()

	for {
		input, err := r.in.Prompt(r.prompt())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				r.app.Logger.Warn("input closed", zap.Error(err))
			}
			fmt.Fprintln(r.out)
			r.printGoodbye()
			return nil
		}

		quit, err := r.handleLine(ctx, input)
		if err != nil {
			DisplayError(r.app.ErrOut, err)
		}
		if quit {
			r.printGoodbye()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// watchSignals stops the active generation on SIGINT/SIGTERM.
func (r *REPL) watchSignals() (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigChan:
				r.stop()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// stop ends the active generation, if any.
func (r *REPL) stop() bool {
	if !r.app.Chat.Stop() {
		return false
	}
	r.stopped.Store(true)
	r.app.Logger.Info("generation stopped by user")
	return true
}

// handleLine dispatches one line of input.
func (r *REPL) handleLine(ctx context.Context, input string) (quit bool, err error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return false, nil
	case strings.HasPrefix(input, "/"):
		return r.runSlash(ctx, input)
	case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
		return true, nil
	}
	return false, r.send(ctx, input)
}

// send streams a reply to input into the current session, creating one
// when none is current.
func (r *REPL) send(ctx context.Context, input string) error {
	cur, ok := r.app.Repo.CurrentSession()
	if !ok {
		s, err := r.app.Chat.NewSession()
		if err != nil {
			// Already notified.
			return nil
		}
		cur = s
	}

	content := input
	if len(r.pending) > 0 {
		composed, err := attach.Compose(ctx, r.pending, input)
		if err != nil {
			r.app.Notifier.Notify(chat.Notification{
				Severity:    chat.SeverityDestructive,
				Title:       "Error reading file",
				Description: err.Error(),
			})
		} else {
			content = composed
		}
		r.pending = nil
	}

	printer := newStreamPrinter(r.out, r.app.Theme, cur.ID, len(cur.Messages)+1, printerOptions{
		Markdown:      r.md,
		ShowReasoning: r.app.Config.UI.ShowReasoning,
		ShowStats:     r.app.Config.UI.ShowStats,
		Live:          r.live,
	})
	unsubscribe := r.app.Repo.Subscribe(printer.Observe)

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.app.Theme.AssistantLabel.Render(modelLabel(cur.Model)))

	r.stopped.Store(false)
	err := r.app.Chat.Send(ctx, content)
	unsubscribe()

	if reply, ok := printer.Reply(r.app.Repo.State()); ok {
		printer.Finish(reply, r.stopped.Load() || ctx.Err() != nil)
	}
	fmt.Fprintln(r.out)

	if err != nil && ctx.Err() == nil {
		// The failure is on screen as the reply and a notification.
		r.app.Logger.Debug("send failed", zap.Error(err))
		return nil
	}
	return err
}

// prompt returns the input prompt.
func (r *REPL) prompt() string {
	return r.app.Theme.Prompt.Render("you> ")
}

func modelLabel(id string) string {
	if id == "" {
		return "assistant"
	}
	return catalog.DisplayName(catalog.BaseName(id))
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *REPL) printWelcome() {
	t := r.app.Theme
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, t.Title.Render("localai-chat"))
	fmt.Fprintln(r.out, separator(t, 30))
	fmt.Fprintf(r.out, "%s %s\n", t.Label.Render("Server:"), t.Value.Render(r.app.BaseURL()))
	if cur, ok := r.app.Repo.CurrentSession(); ok {
		fmt.Fprintf(r.out, "%s %s\n", t.Label.Render("Model: "), t.Command.Render(cur.Model))
		fmt.Fprintf(r.out, "%s %s (%d messages)\n", t.Label.Render("Chat:  "), cur.Title, len(cur.Messages))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, t.Muted.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

func (r *REPL) printGoodbye() {
	fmt.Fprintln(r.out, r.app.Theme.Muted.Render("Goodbye!"))
}
