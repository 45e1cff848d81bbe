// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared output helpers for all commands.

package cli

import (
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/localai-chat/internal/ui/styles"
)

// newTheme returns the theme for output written to w. Without colors the
// global lipgloss renderer is switched to plain text as well, since the
// status helpers render through it.
func newTheme(w io.Writer, noColor bool) *styles.Theme {
	if !colorsEnabled(w, noColor) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return styles.NewThemeForProfile(termenv.Ascii, true)
	}
	out := colorOutput(w)
	return styles.NewThemeForProfile(out.ColorProfile(), out.HasDarkBackground())
}

// paint renders text line by line so multi-line fragments are not padded
// to a common width.
func paint(style lipgloss.Style, text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

// separator renders a horizontal rule of width w.
func separator(theme *styles.Theme, w int) string {
	if w <= 0 {
		w = 30
	}
	return theme.Separator.Render(strings.Repeat("─", w))
}

// =============================================================================
// MARKDOWN
// =============================================================================

// markdownRenderer renders finished answers. Nil falls back to plain text.
type markdownRenderer struct {
	r *glamour.TermRenderer
}

func newMarkdownRenderer(width int) *markdownRenderer {
	if width > MaxRenderWidth {
		width = MaxRenderWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return &markdownRenderer{}
	}
	return &markdownRenderer{r: r}
}

// Render returns content rendered for the terminal, or content itself when
// rendering is unavailable or fails.
func (m *markdownRenderer) Render(content string) string {
	if m == nil || m.r == nil {
		return content
	}
	out, err := m.r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}
