// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat history to files and reads it back.
//
// The JSON form is the exact repository state and can be imported again.
// The Markdown form renders one session for reading and is export-only.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/localai-chat/internal/model"
	"github.com/jeranaias/localai-chat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a single session.
type Exporter interface {
	// Export converts a session to the target format.
	Export(s model.Session) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// Options configures session exporters.
type Options struct {
	// IncludeMetadata adds front matter and per-message statistics.
	IncludeMetadata bool

	// IncludeReasoning keeps reasoning sections, rendered as quotes.
	IncludeReasoning bool

	// Now is the export time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:  true,
		IncludeReasoning: true,
		Now:              time.Now,
	}
}

// =============================================================================
// FILE HELPERS
// =============================================================================

// Filename returns the default name of a full-state export,
// localai-chats-YYYY-MM-DD.json, using the UTC date.
func Filename(now time.Time) string {
	return "localai-chats-" + now.UTC().Format("2006-01-02") + ".json"
}

// SessionFilename returns a file name for a single-session export.
func SessionFilename(s model.Session, e Exporter, now time.Time) string {
	return fmt.Sprintf("chat_%s_%s%s",
		sanitizeFilename(s.Title),
		now.Format("20060102_150405"),
		e.FileExtension())
}

// WriteFile writes data to path atomically, creating the parent directory.
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// sanitizeFilename replaces characters that are invalid in file names.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 50)

	result := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}
	if len(result) == 0 {
		return "session"
	}
	return string(result)
}
