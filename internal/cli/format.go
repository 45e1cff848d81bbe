// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/localai-chat/internal/catalog"
	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/ui/styles"
	"github.com/jeranaias/localai-chat/internal/util"
)

// minIDPrefix is the shortest session id prefix accepted as a reference.
const minIDPrefix = 4

// resolveSession finds a session by list number (1-based, newest first),
// full id, or unique id prefix.
func resolveSession(st model.State, ref string) (model.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Session{}, ErrMissingArgument("session", "1, or a session id")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(st.Sessions) {
			return model.Session{}, &NotFoundError{Resource: "session", ID: ref}
		}
		return st.Sessions[n-1], nil
	}
	if i := st.SessionIndex(ref); i >= 0 {
		return st.Sessions[i], nil
	}
	if len(ref) >= minIDPrefix {
		var match []model.Session
		for _, s := range st.Sessions {
			if strings.HasPrefix(s.ID, ref) {
				match = append(match, s)
			}
		}
		if len(match) == 1 {
			return match[0], nil
		}
		if len(match) > 1 {
			return model.Session{}, &ValidationError{Field: "session", Value: ref, Reason: "ambiguous id prefix"}
		}
	}
	return model.Session{}, &NotFoundError{Resource: "session", ID: ref}
}

// writeSessionList prints sessions as a table, marking the current one.
func writeSessionList(w io.Writer, theme *styles.Theme, st model.State, width int) {
	if len(st.Sessions) == 0 {
		fmt.Fprintln(w, theme.Muted.Render("No chats yet."))
		return
	}

	titleWidth := width - 52
	if titleWidth < 16 {
		titleWidth = 16
	}
	if titleWidth > 48 {
		titleWidth = 48
	}

	for i, s := range st.Sessions {
		marker := "  "
		title := util.PadWidth(util.TruncateWidth(s.Title, titleWidth), titleWidth)
		if s.ID == st.CurrentSessionID {
			marker = theme.Current.Render("* ")
			title = theme.Current.Render(title)
		}
		modelName := util.PadWidth(util.TruncateWidth(s.Model, 24), 24)
		fmt.Fprintf(w, "%s%3d  %s  %s  %s\n",
			marker, i+1, title,
			theme.Label.Render(modelName),
			theme.Muted.Render(fmt.Sprintf("%3d msgs %6d tok  %s",
				len(s.Messages), s.TotalTokens(), s.ID[:min(len(s.ID), 8)])))
	}
}

// writeModelList prints the catalog, marking the model of the current session.
func writeModelList(w io.Writer, theme *styles.Theme, models []catalog.Model, current string) {
	if len(models) == 0 {
		fmt.Fprintln(w, theme.Muted.Render("No models available."))
		return
	}
	for _, m := range models {
		marker := "  "
		name := m.Name
		if m.ID == current {
			marker = theme.Current.Render("* ")
			name = theme.Current.Render(name)
		}
		fmt.Fprintf(w, "%s%s  %s\n", marker, name, theme.Muted.Render(m.ID))
	}
}

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
