// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// root.go - Command tree and process entry point.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/localai-chat/internal/config"
	"github.com/jeranaias/localai-chat/internal/logging"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// BuildInfo identifies the binary. Set from ldflags in main.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s/%s)",
		orUnknown(b.Version), orUnknown(b.Commit), orUnknown(b.Date), runtime.GOOS, runtime.GOARCH)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// rootOptions holds global flags and the app built from them.
type rootOptions struct {
	info BuildInfo

	url     string
	model   string
	store   string
	dataDir string
	verbose bool
	noColor bool

	app *App

	// newReader supplies REPL input; nil picks liner on a terminal.
	newReader func(cmd *cobra.Command) LineReader
}

// NewRootCommand builds the localai-chat command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	return newRootCommand(&rootOptions{info: info})
}

func newRootCommand(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "localai-chat",
		Short: "Chat with models served by a LocalAI server",
		Long: `localai-chat is a terminal chat client for LocalAI and other
OpenAI-compatible servers. Replies stream live, reasoning is shown apart
from the answer, and every chat is saved locally.

Run without a command to start an interactive chat.`,
		Example: `  localai-chat
  localai-chat --url http://gpu-box:8080
  localai-chat ask "Summarize RFC 2616 in one paragraph"
  localai-chat export --markdown --session 2`,
		Version:       o.info.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          o.runChat,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.url, "url", "", "Server URL for this run (default: saved URL)")
	pf.StringVarP(&o.model, "model", "m", "", "Preferred model for new chats")
	pf.StringVar(&o.store, "store", "", "Storage backend: file, sqlite or memory")
	pf.StringVar(&o.dataDir, "data-dir", "", "Directory for saved chats")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&o.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		o.newAskCommand(),
		o.newModelsCommand(),
		o.newSessionsCommand(),
		o.newExportCommand(),
		o.newImportCommand(),
		o.newConfigCommand(),
		o.newVersionCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(info BuildInfo) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCommand(info)
	err := root.ExecuteContext(ctx)
	if err != nil {
		DisplayError(root.ErrOrStderr(), err)
	}
	return GetExitCode(err)
}

// =============================================================================
// APP LIFECYCLE
// =============================================================================

// loadApp builds the app once per invocation from config and flags.
func (o *rootOptions) loadApp(cmd *cobra.Command) (*App, error) {
	if o.app != nil {
		return o.app, nil
	}

	cfg, err := config.Load()
	if cfg == nil {
		return nil, err
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), styles.RenderWarning(err.Error()+" (using defaults)"))
	}
	if err := o.applyFlags(cfg); err != nil {
		return nil, err
	}

	logger := logging.Must(cfg, o.verbose)
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	app, err := NewApp(cfg, logger, AppOptions{
		BaseURL: o.url,
		Out:     cmd.OutOrStdout(),
		ErrOut:  cmd.ErrOrStderr(),
		Theme:   newTheme(cmd.OutOrStdout(), o.noColor),
	})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	o.app = app
	return app, nil
}

// applyFlags layers global flags over the loaded config.
func (o *rootOptions) applyFlags(cfg *config.Config) error {
	if o.store != "" {
		cfg.Store.Backend = strings.ToLower(o.store)
	}
	if o.dataDir != "" {
		cfg.Store.Dir = o.dataDir
	}
	if o.model != "" {
		cfg.Server.Model = o.model
	}
	if o.url != "" {
		// Checked like base_url; the flag itself is not saved.
		probe := cfg.Clone()
		probe.Server.BaseURL = o.url
		if err := probe.Validate(); err != nil {
			return &ValidationError{Field: "url", Value: o.url, Reason: "must be an http or https URL", Example: "--url http://localhost:8080"}
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// withApp runs fn with the app and closes it afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(app *App) error) (err error) {
	app, err := o.loadApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := o.close(); err == nil {
			err = cerr
		}
	}()
	return fn(app)
}

func (o *rootOptions) close() error {
	if o.app == nil {
		return nil
	}
	app := o.app
	o.app = nil
	_ = app.Logger.Sync()
	return app.Close()
}

// =============================================================================
// INTERACTIVE CHAT
// =============================================================================

func (o *rootOptions) runChat(cmd *cobra.Command, _ []string) error {
	return o.withApp(cmd, func(app *App) error {
		ctx := cmd.Context()

		// A catalog failure is already on screen; saved chats stay usable.
		_ = app.Start(ctx)

		in, live := o.reader(cmd)
		defer in.Close()

		return NewREPL(app, in, live).Run(ctx)
	})
}

// reader picks liner on a terminal and plain line reads otherwise.
func (o *rootOptions) reader(cmd *cobra.Command) (LineReader, bool) {
	if o.newReader != nil {
		return o.newReader(cmd), false
	}
	if cmd.InOrStdin() == os.Stdin && isTerminal(os.Stdin) && isTerminal(cmd.OutOrStdout()) {
		return NewChatCLI(), true
	}
	return newPlainReader(cmd.InOrStdin(), cmd.OutOrStdout()), false
}

// plainReader reads lines from a non-terminal input, such as a pipe.
type plainReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

func newPlainReader(in io.Reader, out io.Writer) *plainReader {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &plainReader{sc: sc, out: out}
}

func (p *plainReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	fmt.Fprintln(p.out)
	return p.sc.Text(), nil
}

func (p *plainReader) Close() error { return nil }

// requireArgs reports a missing positional argument in the CLI's own format.
func requireArgs(n int, name, example string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return ErrMissingArgument(name, example)
		}
		return nil
	}
}
