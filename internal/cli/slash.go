// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// slash.go - Slash commands of the interactive chat.

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/localai-chat/internal/catalog"
	"github.com/jeranaias/localai-chat/internal/export"
	"github.com/jeranaias/localai-chat/internal/localai"
	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// slashCommand is one interactive command. run returns true to end the chat.
type slashCommand struct {
	names []string
	usage string
	desc  string
	run   func(r *REPL, ctx context.Context, args []string) (bool, error)
}

var slashCommands []slashCommand

// Assigned in init: /help reads the table.
func init() {
	slashCommands = []slashCommand{
		{names: []string{"/help", "/h", "/?"}, desc: "Show this help", run: (*REPL).cmdHelp},
		{names: []string{"/new", "/n"}, desc: "Start a new chat", run: (*REPL).cmdNew},
		{names: []string{"/model", "/m"}, usage: "[id]", desc: "Show models or switch to one", run: (*REPL).cmdModel},
		{names: []string{"/models"}, desc: "Reload the model list from the server", run: (*REPL).cmdModels},
		{names: []string{"/sessions", "/ls"}, desc: "List chats", run: (*REPL).cmdSessions},
		{names: []string{"/use", "/u"}, usage: "<n|id>", desc: "Switch to a chat", run: (*REPL).cmdUse},
		{names: []string{"/delete", "/rm"}, usage: "[n|id]", desc: "Delete a chat (default: current)", run: (*REPL).cmdDelete},
		{names: []string{"/clear"}, desc: "Delete all chats", run: (*REPL).cmdClear},
		{names: []string{"/system", "/sys"}, usage: "[text|--clear]", desc: "Show or set the default system prompt", run: (*REPL).cmdSystem},
		{names: []string{"/url"}, usage: "[url]", desc: "Show or set the server URL", run: (*REPL).cmdURL},
		{names: []string{"/attach", "/a"}, usage: "[files...|--clear]", desc: "Attach files to the next message", run: (*REPL).cmdAttach},
		{names: []string{"/export"}, usage: "[file] [--markdown]", desc: "Export all chats as JSON, or the current one as Markdown", run: (*REPL).cmdExport},
		{names: []string{"/import"}, usage: "<file>", desc: "Replace all chats with a JSON export", run: (*REPL).cmdImport},
		{names: []string{"/stats", "/s"}, desc: "Show statistics of the current chat", run: (*REPL).cmdStats},
		{names: []string{"/quit", "/q", "/exit"}, desc: "Exit chat", run: (*REPL).cmdQuit},
	}
}

// findSlashCommand looks up a command by any of its names.
func findSlashCommand(name string) (slashCommand, bool) {
	name = strings.ToLower(name)
	for _, c := range slashCommands {
		for _, n := range c.names {
			if n == name {
				return c, true
			}
		}
	}
	return slashCommand{}, false
}

// runSlash parses and runs one slash command line.
func (r *REPL) runSlash(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] == "/" {
		return r.cmdHelp(ctx, nil)
	}

	c, ok := findSlashCommand(parts[0])
	if !ok {
		msg := fmt.Sprintf("unknown command: %s", parts[0])
		if s := SuggestCommand(parts[0]); s != "" {
			msg += fmt.Sprintf(" (did you mean %s?)", s)
		} else {
			msg += " (type /help for commands)"
		}
		return false, NewCommandError("chat", "run command", msg, nil)
	}
	return c.run(r, ctx, parts[1:])
}

// =============================================================================
// COMMANDS
// =============================================================================

func (r *REPL) cmdHelp(_ context.Context, _ []string) (bool, error) {
	t := r.app.Theme
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, t.Subtitle.Render("Commands"))
	for _, c := range slashCommands {
		name := strings.Join(c.names, ", ")
		if c.usage != "" {
			name = c.names[0] + " " + c.usage
			if len(c.names) > 1 {
				name += " (" + strings.Join(c.names[1:], ", ") + ")"
			}
		}
		fmt.Fprintf(r.out, "  %-36s %s\n", t.Command.Render(name), c.desc)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, t.Muted.Render("Ctrl+C stops a reply. Ctrl+D exits."))
	return false, nil
}

func (r *REPL) cmdNew(_ context.Context, _ []string) (bool, error) {
	s, err := r.app.Chat.NewSession()
	if err != nil {
		// Already notified.
		return false, nil
	}
	r.ok("New chat with %s", s.Model)
	return false, nil
}

func (r *REPL) cmdModel(_ context.Context, args []string) (bool, error) {
	models := r.app.Chat.Models()
	cur, _ := r.app.Repo.CurrentSession()
	if len(args) == 0 {
		writeModelList(r.out, r.app.Theme, models, cur.Model)
		return false, nil
	}

	m, ok := catalog.Find(models, args[0])
	if !ok {
		return false, &NotFoundError{Resource: "model", ID: args[0]}
	}
	if m.ID == cur.Model {
		r.info("Already using %s", m.Name)
		return false, nil
	}
	r.app.Chat.SelectModel(m.ID)
	r.ok("Switched to %s (new chat)", m.Name)
	return false, nil
}

func (r *REPL) cmdModels(ctx context.Context, _ []string) (bool, error) {
	models, err := r.app.Chat.FetchModels(ctx)
	if err != nil {
		// Already notified.
		return false, nil
	}
	cur, _ := r.app.Repo.CurrentSession()
	writeModelList(r.out, r.app.Theme, models, cur.Model)
	return false, nil
}

func (r *REPL) cmdSessions(_ context.Context, _ []string) (bool, error) {
	writeSessionList(r.out, r.app.Theme, r.app.Repo.State(), terminalWidth(r.out))
	return false, nil
}

func (r *REPL) cmdUse(_ context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		return false, ErrMissingArgument("session", "/use 2")
	}
	s, err := resolveSession(r.app.Repo.State(), args[0])
	if err != nil {
		return false, err
	}
	if err := r.app.Repo.SetCurrentSession(s.ID); err != nil {
		return false, err
	}
	r.ok("Switched to %q (%d messages)", s.Title, len(s.Messages))
	return false, nil
}

func (r *REPL) cmdDelete(_ context.Context, args []string) (bool, error) {
	st := r.app.Repo.State()
	var target model.Session
	if len(args) == 0 {
		cur, ok := st.Current()
		if !ok {
			return false, &NotFoundError{Resource: "session", ID: "current"}
		}
		target = cur
	} else {
		s, err := resolveSession(st, args[0])
		if err != nil {
			return false, err
		}
		target = s
	}

	if err := r.app.Repo.DeleteSession(target.ID); err != nil {
		return false, err
	}
	r.app.Chat.EnsureSession(r.app.Chat.Models())
	r.ok("Deleted %q", target.Title)
	return false, nil
}

func (r *REPL) cmdClear(_ context.Context, _ []string) (bool, error) {
	n := len(r.app.Repo.State().Sessions)
	if n == 0 {
		r.info("No chats to delete")
		return false, nil
	}
	answer, err := r.in.Prompt(fmt.Sprintf("Delete all %d chats? [y/N] ", n))
	if err != nil || !isYes(answer) {
		r.info("Cancelled")
		return false, nil
	}
	r.app.Repo.ClearAll()
	r.app.Chat.EnsureSession(r.app.Chat.Models())
	r.ok("All chats deleted")
	return false, nil
}

func (r *REPL) cmdSystem(_ context.Context, args []string) (bool, error) {
	t := r.app.Theme
	if len(args) == 0 {
		def := r.app.Prefs.DefaultSystemPrompt()
		if def == "" {
			def = t.Muted.Render("(none)")
		}
		fmt.Fprintf(r.out, "%s %s\n", t.Label.Render("Default:"), def)
		if cur, ok := r.app.Repo.CurrentSession(); ok && cur.SystemPrompt != r.app.Prefs.DefaultSystemPrompt() {
			fmt.Fprintf(r.out, "%s %s\n", t.Label.Render("This chat:"), cur.SystemPrompt)
		}
		return false, nil
	}

	text := strings.Join(args, " ")
	if len(args) == 1 && args[0] == "--clear" {
		text = ""
	}
	if err := r.app.Chat.SetDefaultSystemPrompt(text); err != nil {
		return false, err
	}
	if text == "" {
		r.ok("System prompt cleared")
	} else {
		r.ok("System prompt set")
	}
	return false, nil
}

func (r *REPL) cmdURL(ctx context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "%s %s\n", r.app.Theme.Label.Render("Server:"), r.app.Theme.Value.Render(r.app.BaseURL()))
		return false, nil
	}
	if r.app.Chat.IsGenerating() {
		return false, NewCommandError("url", "change", "a reply is being generated", nil)
	}
	url := localai.NormalizeBaseURL(args[0])
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false, &ValidationError{Field: "url", Value: args[0], Reason: "must start with http:// or https://", Example: "/url http://localhost:8000"}
	}
	if err := r.app.SetBaseURL(url); err != nil {
		return false, err
	}
	r.ok("Server set to %s", url)

	if models, err := r.app.Chat.FetchModels(ctx); err == nil {
		r.app.Chat.EnsureSession(models)
		r.info("%d models available", len(models))
	}
	return false, nil
}

func (r *REPL) cmdAttach(_ context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		if len(r.pending) == 0 {
			r.info("No files attached")
			return false, nil
		}
		for _, p := range r.pending {
			fmt.Fprintf(r.out, "  %s\n", p)
		}
		return false, nil
	}
	if len(args) == 1 && args[0] == "--clear" {
		r.pending = nil
		r.ok("Attachments cleared")
		return false, nil
	}

	for _, p := range args {
		info, err := os.Stat(p)
		if err != nil {
			return false, &NotFoundError{Resource: "file", ID: p}
		}
		if info.IsDir() {
			return false, &ValidationError{Field: "file", Value: p, Reason: "is a directory"}
		}
		r.pending = append(r.pending, p)
	}
	r.ok("%d file(s) will be sent with your next message", len(r.pending))
	return false, nil
}

func (r *REPL) cmdExport(_ context.Context, args []string) (bool, error) {
	var path string
	asMarkdown := false
	for _, a := range args {
		switch a {
		case "--markdown", "--md":
			asMarkdown = true
		default:
			path = a
		}
	}

	now := r.app.now()
	var data []byte
	if asMarkdown {
		cur, ok := r.app.Repo.CurrentSession()
		if !ok {
			return false, &NotFoundError{Resource: "session", ID: "current"}
		}
		opts := export.DefaultOptions()
		opts.Now = r.app.now
		e := export.NewMarkdownExporter(opts)
		out, err := e.Export(cur)
		if err != nil {
			return false, NewCommandError("export", "render", "could not render chat", err)
		}
		data = out
		if path == "" {
			path = export.SessionFilename(cur, e, now)
		}
	} else {
		out, err := r.app.Chat.Export()
		if err != nil {
			return false, err
		}
		data = out
		if path == "" {
			path = export.Filename(now)
		}
	}

	if err := export.WriteFile(path, data); err != nil {
		return false, NewCommandError("export", "write", path, err)
	}
	r.ok("Exported to %s", path)
	return false, nil
}

func (r *REPL) cmdImport(_ context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		return false, ErrMissingArgument("file", "/import localai-chats-2025-01-31.json")
	}
	if r.app.Chat.IsGenerating() {
		return false, NewCommandError("import", "load", "a reply is being generated", nil)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return false, NewCommandError("import", "read", args[0], err)
	}
	if err := r.app.Chat.Import(data); err != nil {
		return false, err
	}
	r.app.Chat.EnsureSession(r.app.Chat.Models())
	r.ok("Imported %d chats", len(r.app.Repo.State().Sessions))
	return false, nil
}

func (r *REPL) cmdStats(_ context.Context, _ []string) (bool, error) {
	t := r.app.Theme
	cur, ok := r.app.Repo.CurrentSession()
	if !ok {
		r.info("No chat selected")
		return false, nil
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, t.Subtitle.Render(cur.Title))
	fmt.Fprintf(r.out, "%s %s\n", t.Label.Render("Model:   "), t.Value.Render(cur.Model))
	fmt.Fprintf(r.out, "%s %d\n", t.Label.Render("Messages:"), len(cur.Messages))
	fmt.Fprintf(r.out, "%s %d\n", t.Label.Render("Tokens:  "), r.app.Chat.TotalTokens())
	fmt.Fprintf(r.out, "%s %s ago\n", t.Label.Render("Started: "),
		formatDurationShort(r.app.now().Sub(cur.CreatedAt)))

	for i := len(cur.Messages) - 1; i >= 0; i-- {
		if m := cur.Messages[i]; m.Role == model.RoleAssistant && m.TokenCount > 0 {
			fmt.Fprintf(r.out, "%s %s\n", t.Label.Render("Last:    "), t.Stats.Render(statsLine(m)))
			break
		}
	}
	return false, nil
}

func (r *REPL) cmdQuit(_ context.Context, _ []string) (bool, error) {
	return true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *REPL) ok(format string, args ...any) {
	fmt.Fprintln(r.out, styles.RenderSuccess(fmt.Sprintf(format, args...)))
}

func (r *REPL) info(format string, args ...any) {
	fmt.Fprintln(r.out, styles.RenderInfo(fmt.Sprintf(format, args...)))
}

// isYes reports whether answer confirms a prompt.
func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
