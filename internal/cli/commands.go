// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Non-interactive subcommands.
//
// Usage:
//   localai-chat ask <prompt...> [--new] [--attach FILE]...
//   localai-chat models [--json]
//   localai-chat sessions [list|show|use|delete|clear]
//   localai-chat export [FILE] [--markdown] [--session N|ID]
//   localai-chat import FILE
//   localai-chat config [show|path|init]
//   localai-chat version

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/localai-chat/internal/attach"
	"github.com/jeranaias/localai-chat/internal/config"
	"github.com/jeranaias/localai-chat/internal/export"
	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/stream"
)

// =============================================================================
// ASK
// =============================================================================

func (o *rootOptions) newAskCommand() *cobra.Command {
	var (
		newChat bool
		files   []string
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt...>",
		Short: "Send one message and print the reply",
		Long: `Send one message to the current chat (or a new one with --new) and
print the reply as it streams. Use "-" as the prompt to read it from stdin.`,
		Example: `  localai-chat ask "What is a goroutine?"
  localai-chat ask --new --attach main.go "Review this file"
  git diff | localai-chat ask -`,
		Args: requireArgs(1, "prompt", `localai-chat ask "Hello"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(app *App) error {
				return runAsk(cmd, app, args, newChat, files)
			})
		},
	}
	cmd.Flags().BoolVar(&newChat, "new", false, "Start a new chat for this message")
	cmd.Flags().StringArrayVarP(&files, "attach", "a", nil, "Attach a file (repeatable)")
	return cmd
}

func runAsk(cmd *cobra.Command, app *App, args []string, newChat bool, files []string) error {
	ctx := cmd.Context()

	content := strings.Join(args, " ")
	if content == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return NewCommandError("ask", "read", "could not read prompt from stdin", err)
		}
		content = strings.TrimSpace(string(data))
	}
	if content == "" && len(files) == 0 {
		return ErrMissingArgument("prompt", `localai-chat ask "Hello"`)
	}

	if _, err := app.Chat.FetchModels(ctx); err != nil {
		return err
	}

	cur, ok := app.Repo.CurrentSession()
	if newChat || !ok {
		s, err := app.Chat.NewSession()
		if err != nil {
			return err
		}
		cur = s
	}

	if len(files) > 0 {
		composed, err := attach.Compose(ctx, files, content)
		if err != nil {
			return err
		}
		content = composed
	}

	printer := newStreamPrinter(app.Out, app.Theme, cur.ID, len(cur.Messages)+1, printerOptions{
		ShowReasoning: app.Config.UI.ShowReasoning,
		ShowStats:     app.Config.UI.ShowStats,
	})
	unsubscribe := app.Repo.Subscribe(printer.Observe)
	sendErr := app.Chat.Send(ctx, content)
	unsubscribe()

	if reply, ok := printer.Reply(app.Repo.State()); ok {
		printer.Finish(reply, ctx.Err() != nil)
	}
	return sendErr
}

// =============================================================================
// MODELS
// =============================================================================

func (o *rootOptions) newModelsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(app *App) error {
				models, err := app.Chat.FetchModels(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), models)
				}
				cur, _ := app.Repo.CurrentSession()
				writeModelList(cmd.OutOrStdout(), app.Theme, models, cur.Model)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// =============================================================================
// SESSIONS
// =============================================================================

func (o *rootOptions) newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "chats"},
		Short:   "Manage saved chats",
		Long: `Manage saved chats. Chats are referenced by their number in the list
(1 is the newest), their full id, or a unique id prefix of at least 4
characters.`,
		Args: cobra.NoArgs,
		RunE: o.runSessionsList,
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved chats",
		Args:    cobra.NoArgs,
		RunE:    o.runSessionsList,
	}

	show := &cobra.Command{
		Use:   "show [n|id]",
		Short: "Print a chat transcript (default: current chat)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(app *App) error {
				s, err := sessionArg(app, args)
				if err != nil {
					return err
				}
				writeTranscript(cmd.OutOrStdout(), app, s)
				return nil
			})
		},
	}

	use := &cobra.Command{
		Use:   "use <n|id>",
		Short: "Make a chat current",
		Args:  requireArgs(1, "session", "localai-chat sessions use 2"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(app *App) error {
				s, err := resolveSession(app.Repo.State(), args[0])
				if err != nil {
					return err
				}
				if err := app.Repo.SetCurrentSession(s.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Switched to %q\n", s.Title)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete <n|id>",
		Aliases: []string{"rm"},
		Short:   "Delete a chat",
		Args:    requireArgs(1, "session", "localai-chat sessions delete 2"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(app *App) error {
				s, err := resolveSession(app.Repo.State(), args[0])
				if err != nil {
					return err
				}
				if err := app.Repo.DeleteSession(s.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", s.Title)
				return nil
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &ValidationError{
					Field:   "confirmation",
					Reason:  "deleting all chats needs --yes",
					Example: "localai-chat sessions clear --yes",
				}
			}
			return o.withApp(cmd, func(app *App) error {
				n := len(app.Repo.State().Sessions)
				app.Repo.ClearAll()
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chats\n", n)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")

	cmd.AddCommand(list, show, use, del, clearCmd)
	return cmd
}

func (o *rootOptions) runSessionsList(cmd *cobra.Command, _ []string) error {
	return o.withApp(cmd, func(app *App) error {
		writeSessionList(cmd.OutOrStdout(), app.Theme, app.Repo.State(), terminalWidth(cmd.OutOrStdout()))
		return nil
	})
}

// sessionArg resolves an optional session reference, defaulting to the
// current session.
func sessionArg(app *App, args []string) (model.Session, error) {
	st := app.Repo.State()
	if len(args) > 0 {
		return resolveSession(st, args[0])
	}
	cur, ok := st.Current()
	if !ok {
		return model.Session{}, &NotFoundError{Resource: "session", ID: "current"}
	}
	return cur, nil
}

// writeTranscript prints every message of s.
func writeTranscript(w io.Writer, app *App, s model.Session) {
	t := app.Theme
	fmt.Fprintln(w, t.Title.Render(s.Title))
	fmt.Fprintf(w, "%s %s\n", t.Label.Render("Model:"), s.Model)
	if s.SystemPrompt != "" {
		fmt.Fprintf(w, "%s %s\n", t.SystemLabel.Render("System:"), s.SystemPrompt)
	}
	for _, m := range s.Messages {
		fmt.Fprintln(w)
		label := t.UserLabel
		if m.Role == model.RoleAssistant {
			label = t.AssistantLabel
		}
		fmt.Fprintln(w, label.Render(m.Role.DisplayName()))

		if m.HasError() {
			fmt.Fprintln(w, t.MessageError.Render(m.Content))
			continue
		}
		secs := stream.Split(m.Content)
		if secs.Reasoning != "" && app.Config.UI.ShowReasoning {
			fmt.Fprintln(w, paint(t.Reasoning, secs.Reasoning))
		}
		fmt.Fprintln(w, secs.Answer)
		if m.TokenCount > 0 && app.Config.UI.ShowStats {
			fmt.Fprintln(w, t.Stats.Render(statsLine(m)))
		}
	}
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func (o *rootOptions) newExportCommand() *cobra.Command {
	var (
		asMarkdown bool
		ref        string
	)
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export chats to a file",
		Long: `Export all chats as JSON (the format read by "import"). With --session
or --markdown a single chat is exported instead. Use "-" to write to stdout.`,
		Example: `  localai-chat export
  localai-chat export backup.json
  localai-chat export --markdown --session 1 notes.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(app *App) error {
				path := ""
				if len(args) > 0 {
					path = args[0]
				}
				return runExport(cmd, app, path, ref, asMarkdown)
			})
		},
	}
	cmd.Flags().BoolVar(&asMarkdown, "markdown", false, "Export one chat as Markdown")
	cmd.Flags().StringVarP(&ref, "session", "s", "", "Chat to export (default: current when exporting one)")
	return cmd
}

func runExport(cmd *cobra.Command, app *App, path, ref string, asMarkdown bool) error {
	now := app.now()

	var data []byte
	if asMarkdown || ref != "" {
		var args []string
		if ref != "" {
			args = []string{ref}
		}
		s, err := sessionArg(app, args)
		if err != nil {
			return err
		}

		var e export.Exporter = export.NewJSONExporter()
		if asMarkdown {
			opts := export.DefaultOptions()
			opts.IncludeReasoning = app.Config.UI.ShowReasoning
			opts.Now = app.now
			e = export.NewMarkdownExporter(opts)
		}
		if data, err = e.Export(s); err != nil {
			return NewCommandError("export", "render", s.Title, err)
		}
		if path == "" {
			path = export.SessionFilename(s, e, now)
		}
	} else {
		out, err := app.Chat.Export()
		if err != nil {
			return err
		}
		data = out
		if path == "" {
			path = export.Filename(now)
		}
	}

	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := export.WriteFile(path, data); err != nil {
		return NewCommandError("export", "write", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
	return nil
}

func (o *rootOptions) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all chats with a JSON export",
		Args:  requireArgs(1, "file", "localai-chat import localai-chats-2025-01-31.json"),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return &NotFoundError{Resource: "file", ID: args[0]}
				}
				return NewCommandError("import", "read", args[0], err)
			}
			return o.withApp(cmd, func(app *App) error {
				if err := app.Chat.Import(data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chats\n", len(app.Repo.State().Sessions))
				return nil
			})
		},
	}
}

// =============================================================================
// CONFIG
// =============================================================================

func (o *rootOptions) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.ConfigPathTOML()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.ConfigPathTOML()
			if err != nil {
				return err
			}
			if _, err := os.Stat(p); err == nil && !force {
				return &ValidationError{
					Field:   "config",
					Value:   p,
					Reason:  "file already exists",
					Example: "localai-chat config init --force",
				}
			}
			if err := config.Save(config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", p)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(show, path, initCmd)
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if cfg == nil {
		return err
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
	return nil
}

// =============================================================================
// VERSION
// =============================================================================

func (o *rootOptions) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "localai-chat %s\n", o.info)
		},
	}
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
