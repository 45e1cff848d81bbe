// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styles used by the chat REPL.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Header
	Title    lipgloss.Style
	Subtitle lipgloss.Style

	// Conversation
	Prompt         lipgloss.Style
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	Reasoning      lipgloss.Style
	Answer         lipgloss.Style
	Stats          lipgloss.Style
	MessageError   lipgloss.Style

	// Lists and notices
	Command   lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Current   lipgloss.Style
	Muted     lipgloss.Style
	Separator lipgloss.Style
	Notice    lipgloss.Style
	Danger    lipgloss.Style
}

// NewTheme detects the terminal and builds a theme for it.
func NewTheme() *Theme {
	return NewThemeForProfile(termenv.ColorProfile(), termenv.HasDarkBackground())
}

// NewThemeForProfile builds a theme for a known color profile. With
// termenv.Ascii every style renders plain text.
func NewThemeForProfile(profile termenv.Profile, isDark bool) *Theme {
	t := &Theme{IsDark: isDark, ColorProfile: profile}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(t.ColorProfile)
	r.SetHasDarkBackground(t.IsDark)
	s := r.NewStyle

	t.Title = s().Bold(true).Foreground(Purple)
	t.Subtitle = s().Foreground(TextSecondary).Italic(true)

	t.Prompt = s().Bold(true).Foreground(Cyan)
	t.UserLabel = s().Bold(true).Foreground(Cyan)
	t.AssistantLabel = s().Bold(true).Foreground(Purple)
	t.SystemLabel = s().Bold(true).Foreground(Amber)
	t.Reasoning = s().Foreground(TextMuted).Italic(true)
	t.Answer = s().Foreground(TextPrimary)
	t.Stats = s().Foreground(TextMuted)
	t.MessageError = s().Foreground(Rose)

	t.Command = s().Foreground(Emerald)
	t.Label = s().Foreground(TextSecondary)
	t.Value = s().Foreground(TextPrimary)
	t.Current = s().Bold(true).Foreground(Emerald)
	t.Muted = s().Foreground(TextMuted)
	t.Separator = s().Foreground(Overlay)
	t.Notice = s().Foreground(Cyan)
	t.Danger = s().Bold(true).Foreground(Rose)
}
