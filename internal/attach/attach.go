// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attach inlines local files into an outgoing message.
package attach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Limits for attached files.
const (
	// MaxFileSize caps a single attachment.
	MaxFileSize = 2 * 1024 * 1024

	// maxConcurrentReads bounds parallel file reads.
	maxConcurrentReads = 4
)

// Error variables for attachment handling.
var (
	// ErrUnsupported indicates a file type that cannot be inlined as text.
	ErrUnsupported = errors.New("unsupported attachment type")

	// ErrTooLarge indicates a file above MaxFileSize.
	ErrTooLarge = errors.New("attachment too large")
)

// Format wraps content in a file block tagged with name.
func Format(name, content string) string {
	return fmt.Sprintf("<file name=%q>\n%s\n</file name=%q>", name, content, name)
}

// Compose reads paths concurrently and joins their file blocks, in the
// given order, followed by content. Empty parts are skipped and parts are
// separated by a newline. The first read error cancels the rest.
func Compose(ctx context.Context, paths []string, content string) (string, error) {
	blocks := make([]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := Read(path)
			if err != nil {
				return err
			}
			blocks[i] = Format(filepath.Base(path), text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(blocks)+1)
	for _, b := range blocks {
		if b != "" {
			parts = append(parts, b)
		}
	}
	if content != "" {
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n"), nil
}

// Read returns the text of one file. PDFs and binary files are rejected
// with ErrUnsupported.
func Read(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return "", fmt.Errorf("%w: %s (PDF text extraction is not available)", ErrUnsupported, filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrUnsupported, path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("attach %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not UTF-8 text", ErrUnsupported, filepath.Base(path))
	}
	return string(data), nil
}
