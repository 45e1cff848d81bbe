// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/stream"
)

// ErrEmptySession is returned when exporting a session without messages.
var ErrEmptySession = errors.New("session has no messages")

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a session to Markdown.
func (e *MarkdownExporter) Export(s model.Session) ([]byte, error) {
	if len(s.Messages) == 0 {
		return nil, ErrEmptySession
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(s.Title))
		fmt.Fprintf(&sb, "model: %s\n", escapeYAML(s.Model))
		fmt.Fprintf(&sb, "date: %s\n", s.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(s.Messages))
		if tokens := s.TotalTokens(); tokens > 0 {
			fmt.Fprintf(&sb, "tokens: %d\n", tokens)
		}
		fmt.Fprintf(&sb, "exported: %s\n", e.options.Now().Format(time.RFC3339))
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(s.Title))

	if s.SystemPrompt != "" {
		sb.WriteString("## System Prompt\n\n")
		sb.WriteString(quote(s.SystemPrompt))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	for i, msg := range s.Messages {
		fmt.Fprintf(&sb, "### %s\n\n", formatRoleLabel(msg.Role))
		sb.WriteString(e.formatMessageContent(msg))
		sb.WriteString("\n\n")

		if msg.Role == model.RoleAssistant && e.options.IncludeMetadata {
			if stats := formatMessageStats(msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}
		if i < len(s.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func formatRoleLabel(role model.Role) string {
	if role == "" {
		return "Unknown"
	}
	return role.DisplayName()
}

// formatMessageContent renders the answer, with any reasoning section
// quoted above it.
func (e *MarkdownExporter) formatMessageContent(msg model.Message) string {
	if msg.Role != model.RoleAssistant {
		return strings.TrimSpace(msg.Content)
	}
	sections := stream.Split(msg.Content)

	var sb strings.Builder
	if e.options.IncludeReasoning && sections.Reasoning != "" {
		sb.WriteString("> **Reasoning**\n>\n")
		sb.WriteString(quote(sections.Reasoning))
		sb.WriteString("\n\n")
	}
	sb.WriteString(sections.Answer)
	if msg.Error != "" {
		fmt.Fprintf(&sb, "\n\n*Error: %s*", msg.Error)
	}
	return strings.TrimSpace(sb.String())
}

func formatMessageStats(msg model.Message) string {
	var parts []string
	if msg.TokenCount > 0 {
		parts = append(parts, fmt.Sprintf("Tokens: %d", msg.TokenCount))
	}
	if msg.GenerationTimeSeconds > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %.2fs", msg.GenerationTimeSeconds))
	}
	if msg.TokensPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("Speed: %.1f tok/s", msg.TokensPerSecond))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>Stats: %s</sub>", strings.Join(parts, " | "))
}

// quote prefixes every line with "> ".
func quote(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight("> "+l, " ")
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that break headings.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", "\\#", "*", "\\*", "_", "\\_", "[", "\\[", "]", "\\]")
	return r.Replace(s)
}

// escapeYAML quotes values containing YAML-significant characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		r := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n", "\r", "\\r")
		return "\"" + r.Replace(s) + "\""
	}
	return s
}
