// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for the command's own streams.
//
// Commands write to cmd.OutOrStdout(), which is a buffer under test and a
// pipe when scripted, so detection looks at that stream rather than at
// os.Stdout.

package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when the output is not a terminal.
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the narrowest width layouts are computed for.
	MinTerminalWidth = 40

	// MaxRenderWidth caps markdown word wrap on wide terminals.
	MaxRenderWidth = 120
)

// fder is implemented by *os.File.
type fder interface {
	Fd() uintptr
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(fder)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the column count of w, clamped to
// MinTerminalWidth, or DefaultTerminalWidth when w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(fder)
	if !ok {
		return DefaultTerminalWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	return max(width, MinTerminalWidth)
}

// colorsEnabled decides whether w gets colored output. --no-color and
// NO_COLOR (https://no-color.org/) win over FORCE_COLOR, which wins over
// terminal detection.
func colorsEnabled(w io.Writer, noColor bool) bool {
	switch {
	case noColor, os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("FORCE_COLOR") != "":
		return true
	default:
		return isTerminal(w)
	}
}

// colorOutput wraps w for profile and background queries.
func colorOutput(w io.Writer) *termenv.Output {
	return termenv.NewOutput(w)
}
