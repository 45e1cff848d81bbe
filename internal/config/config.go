// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/localai-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete localai-chat configuration.
type Config struct {
	Server ServerConfig `toml:"server" json:"server"`
	Store  StoreConfig  `toml:"store" json:"store"`
	Log    LogConfig    `toml:"log" json:"log"`
	UI     UIConfig     `toml:"ui" json:"ui"`
}

// ServerConfig describes the chat-completions server.
type ServerConfig struct {
	// BaseURL is the API root, e.g. http://localhost:8000 or http://host:1234/v1.
	BaseURL string `toml:"base_url" json:"base_url"`

	// ModelsTimeoutSecs bounds the model-listing request. Streaming has no timeout.
	ModelsTimeoutSecs int `toml:"models_timeout_secs" json:"models_timeout_secs"`

	// Model overrides the remembered model when starting a new session.
	Model string `toml:"model,omitempty" json:"model,omitempty"`
}

// ModelsTimeout returns ModelsTimeoutSecs as a duration.
func (s ServerConfig) ModelsTimeout() time.Duration {
	return time.Duration(s.ModelsTimeoutSecs) * time.Second
}

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// StoreConfig selects where sessions and preferences live.
type StoreConfig struct {
	Backend string `toml:"backend" json:"backend"`

	// Dir is the data directory. Empty means ~/.localai-chat/data.
	Dir string `toml:"dir,omitempty" json:"dir,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `toml:"level" json:"level"`

	// File receives log output. Empty means ~/.localai-chat/logs/localai-chat.log,
	// "stderr" writes to the terminal.
	File string `toml:"file,omitempty" json:"file,omitempty"`

	// JSON selects the production encoder instead of the console one.
	JSON bool `toml:"json" json:"json"`
}

// UIConfig contains terminal output settings.
type UIConfig struct {
	Markdown      bool `toml:"markdown" json:"markdown"`
	ShowReasoning bool `toml:"show_reasoning" json:"show_reasoning"`
	ShowStats     bool `toml:"show_stats" json:"show_stats"`
}

// DefaultBaseURL matches the local server address used when nothing is configured.
const DefaultBaseURL = "http://localhost:8000"

// DefaultModelsTimeoutSecs is the default model-listing timeout.
const DefaultModelsTimeoutSecs = 15

// Default returns a Config with all default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:           DefaultBaseURL,
			ModelsTimeoutSecs: DefaultModelsTimeoutSecs,
		},
		Store: StoreConfig{
			Backend: BackendFile,
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			Markdown:      true,
			ShowReasoning: true,
			ShowStats:     true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the localai-chat configuration directory path.
// LOCALAI_CHAT_HOME replaces ~/.localai-chat.
func ConfigDir() (string, error) {
	if home := os.Getenv("LOCALAI_CHAT_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".localai-chat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DataDir returns the resolved store directory.
func (c *Config) DataDir() (string, error) {
	if c.Store.Dir != "" {
		return expandHome(c.Store.Dir)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// LogPath returns the resolved log file, or "stderr".
func (c *Config) LogPath() (string, error) {
	switch c.Log.File {
	case "stderr", "stdout":
		return c.Log.File, nil
	case "":
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "logs", "localai-chat.log"), nil
	default:
		return expandHome(c.Log.File)
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
//
// A file that exists but cannot be parsed does not stop startup: the defaults
// are returned together with the load error.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg := Default()
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg := Default()
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	cfg, err := finish(Default())
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// finish applies env overrides and validates.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if strings.TrimSpace(cfg.Server.BaseURL) == "" {
		cfg.Server.BaseURL = defaults.Server.BaseURL
	}
	if cfg.Server.ModelsTimeoutSecs == 0 {
		cfg.Server.ModelsTimeoutSecs = defaults.Server.ModelsTimeoutSecs
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# localai-chat configuration file\n")
	b.WriteString("# Environment variables LOCALAI_CHAT_* override these values.\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// validLevels are the zap level names accepted in [log] level.
var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Server.BaseURL); err != nil {
		errs = append(errs, ValidationError{"server.base_url", fmt.Sprintf("invalid URL: %v", err)})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{"server.base_url", "must use http or https"})
	} else if u.Host == "" {
		errs = append(errs, ValidationError{"server.base_url", "missing host"})
	}

	if c.Server.ModelsTimeoutSecs < 1 || c.Server.ModelsTimeoutSecs > 600 {
		errs = append(errs, ValidationError{"server.models_timeout_secs",
			fmt.Sprintf("must be between 1 and 600, got %d", c.Server.ModelsTimeoutSecs)})
	}

	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, ValidationError{"store.backend",
			fmt.Sprintf("must be one of file, sqlite, memory, got %q", c.Store.Backend)})
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{"log.level",
			fmt.Sprintf("must be one of debug, info, warn, error, got %q", c.Log.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
// Supported variables:
//   - LOCALAI_CHAT_BASE_URL: overrides server.base_url
//   - LOCALAI_CHAT_MODEL: overrides server.model
//   - LOCALAI_CHAT_STORE: overrides store.backend
//   - LOCALAI_CHAT_DATA_DIR: overrides store.dir
//   - LOCALAI_CHAT_LOG_LEVEL: overrides log.level
//   - LOCALAI_CHAT_MODELS_TIMEOUT: overrides server.models_timeout_secs
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOCALAI_CHAT_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("LOCALAI_CHAT_MODEL"); v != "" {
		c.Server.Model = v
	}
	if v := os.Getenv("LOCALAI_CHAT_STORE"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("LOCALAI_CHAT_DATA_DIR"); v != "" {
		c.Store.Dir = v
	}
	if v := os.Getenv("LOCALAI_CHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOCALAI_CHAT_MODELS_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Server.ModelsTimeoutSecs = secs
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// Credentials embedded in the base URL are redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if u, err := url.Parse(safe.Server.BaseURL); err == nil && u.User != nil {
		u.User = url.User("REDACTED")
		safe.Server.BaseURL = u.String()
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if cfg == nil {
		return err
	}
	globalConfigMu.Lock()
	globalConfig = cfg
	globalConfigMu.Unlock()
	return err
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
