// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DatabaseFile is the SQLite file name inside the data directory.
const DatabaseFile = "localai-chat.db"

// Open creates a store for the named backend rooted at dir.
func Open(backend, dir string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kvstore")

	switch strings.ToLower(backend) {
	case BackendFile, "":
		return NewFile(filepath.Join(dir, "store"), WithFileLogger(logger))
	case BackendSQLite:
		return NewSQLite(filepath.Join(dir, DatabaseFile), WithSQLiteLogger(logger))
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want file, sqlite or memory)", backend)
	}
}
