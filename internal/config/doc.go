// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for localai-chat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure
//   - ServerConfig: Chat-completions server address and model listing timeout
//   - StoreConfig: Session store backend (file, sqlite, memory) and directory
//   - LogConfig: Log level, destination and encoding
//   - UIConfig: Terminal rendering switches
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LOCALAI_CHAT_*)
//   - ~/.localai-chat/config.toml
//   - ~/.localai-chat/config.json
//   - Built-in defaults
//
// LOCALAI_CHAT_HOME moves the whole ~/.localai-chat directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil && cfg == nil {
//	    log.Fatal(err)
//	}
//	client := localai.NewClient(cfg.Server.BaseURL)
package config
