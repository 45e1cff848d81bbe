// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the color palette and terminal styles for localai-chat.

All colors use Lip Gloss AdaptiveColor so they follow the terminal's light or
dark background.

# Colors (colors.go)

  - Purple - assistant messages
  - Cyan - prompt and user messages
  - Emerald - success, current session
  - Amber - warnings, system prompts
  - Rose - errors
  - TextMuted - reasoning and live statistics

Status helpers (RenderSuccess, RenderError, RenderWarning, RenderInfo) pair a
color with an ASCII indicator so state is readable without color.

# Theme (theme.go)

Theme groups the styles used by the REPL. NewTheme detects the terminal;
NewThemeForProfile pins a profile, which tests use with termenv.Ascii to get
plain output.
*/
package styles
