// Package config holds the gateway configuration: defaults, JSON5 file
// loading, and AGW_* environment overrides.
package config

import (
	"log/slog"
	"path/filepath"

	"github.com/zankora/agw/internal/domain"
)

// Config is the root configuration for the agent gateway.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Security SecurityConfig `json:"security"`
	Agent    AgentConfig    `json:"agent"`
	Logging  LoggingConfig  `json:"logging"`
	Plugins  PluginsConfig  `json:"plugins"`

	// InstanceID identifies this process in the lock file and hello payload.
	// Generated at load time when not set.
	InstanceID string `json:"instance_id,omitempty"`
}

// ServerConfig configures the HTTP/WS listener.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WSPath      string `json:"ws_path"`
	MetricsPath string `json:"metrics_path"`
	HealthPath  string `json:"health_path"`
}

// StorageConfig configures on-disk state.
type StorageConfig struct {
	DataDir    string `json:"data_dir"`
	SQLitePath string `json:"sqlite_path,omitempty"` // default: <data_dir>/agw.db
}

// SecurityConfig configures client auth, approvals, and rate limiting.
// Policy (allowlists, tool allow map) lives in domain.Policy and is managed
// at runtime via config.set; this struct seeds its initial value.
type SecurityConfig struct {
	RequireClientAuth            bool     `json:"require_client_auth"`
	ClientAPIKeys                []string `json:"-"` // env AGW_CLIENT_API_KEYS only, never persisted
	RequireApprovalsForWriteTools bool    `json:"require_approvals_for_write_tools"`
	RateLimitRPS                 float64  `json:"rate_limit_rps"`
	RateLimitBurst               int      `json:"rate_limit_burst"`
	MaxMessageChars              int      `json:"max_message_chars"`
	Policy                       domain.Policy `json:"policy"`
}

// AgentConfig bounds agent runs.
type AgentConfig struct {
	MaxContextMessages int `json:"max_context_messages"`
	RunMaxSteps        int `json:"run_max_steps"`
	RunTimeoutS        int `json:"run_timeout_s"`
	RunRetry           int `json:"run_retry"` // accepted, currently unused by the engine
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level    string `json:"log_level"` // debug|info|warn|error
	JSONLogs bool   `json:"json_logs"`
}

// PluginsConfig configures plugin loading.
type PluginsConfig struct {
	Dir     string   `json:"plugin_dir,omitempty"`
	Disable []string `json:"disable,omitempty"` // plugin names to skip
}

// SQLitePath returns the effective database path.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Storage.DataDir, "agw.db")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "agw.lock")
}

// SlogLevel maps the configured level string onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
