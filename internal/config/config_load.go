package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"

	"github.com/zankora/agw/internal/domain"
)

// Default returns a Config with safe defaults: localhost binding, deny-by-
// default policy, approvals required for write tools.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        18789,
			WSPath:      "/ws",
			MetricsPath: "/metrics",
			HealthPath:  "/healthz",
		},
		Storage: StorageConfig{
			DataDir: "~/.agw",
		},
		Security: SecurityConfig{
			RequireClientAuth:             false,
			RequireApprovalsForWriteTools: true,
			RateLimitRPS:                  1.0,
			RateLimitBurst:                5,
			MaxMessageChars:               16000,
			Policy:                        domain.DefaultPolicy(),
		},
		Agent: AgentConfig{
			MaxContextMessages: 30,
			RunMaxSteps:        8,
			RunTimeoutS:        120,
			RunRetry:           0,
		},
		Logging: LoggingConfig{
			Level:    "info",
			JSONLogs: false,
		},
	}
}

// Load reads config from a JSON5 file over Default(), then overlays env
// vars. A missing file is not an error. A .env file in the working
// directory is loaded first so AGW_* overrides work either way.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides overlays AGW_* env vars. Env vars take precedence over
// file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("AGW_HOST", &c.Server.Host)
	envInt("AGW_PORT", &c.Server.Port)
	envStr("AGW_WS_PATH", &c.Server.WSPath)
	envStr("AGW_DATA_DIR", &c.Storage.DataDir)
	envStr("AGW_SQLITE_PATH", &c.Storage.SQLitePath)
	envStr("AGW_PLUGIN_DIR", &c.Plugins.Dir)
	envStr("AGW_INSTANCE_ID", &c.InstanceID)

	envBool("AGW_REQUIRE_CLIENT_AUTH", &c.Security.RequireClientAuth)
	if v := os.Getenv("AGW_CLIENT_API_KEYS"); v != "" {
		keys := strings.Split(v, ",")
		c.Security.ClientAPIKeys = c.Security.ClientAPIKeys[:0]
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				c.Security.ClientAPIKeys = append(c.Security.ClientAPIKeys, k)
			}
		}
	}
	envBool("AGW_REQUIRE_APPROVALS", &c.Security.RequireApprovalsForWriteTools)
	if v := os.Getenv("AGW_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Security.RateLimitRPS = f
		}
	}
	envInt("AGW_RATE_LIMIT_BURST", &c.Security.RateLimitBurst)
	envInt("AGW_MAX_MESSAGE_CHARS", &c.Security.MaxMessageChars)

	envInt("AGW_MAX_CONTEXT_MESSAGES", &c.Agent.MaxContextMessages)
	envInt("AGW_RUN_MAX_STEPS", &c.Agent.RunMaxSteps)
	envInt("AGW_RUN_TIMEOUT_S", &c.Agent.RunTimeoutS)
	envInt("AGW_RUN_RETRY", &c.Agent.RunRetry)

	envStr("AGW_LOG_LEVEL", &c.Logging.Level)
	envBool("AGW_JSON_LOGS", &c.Logging.JSONLogs)
}

// normalize expands paths, clamps bounds, and fills derived fields.
func (c *Config) normalize() {
	c.Storage.DataDir = ExpandHome(c.Storage.DataDir)
	if c.Storage.SQLitePath != "" {
		c.Storage.SQLitePath = ExpandHome(c.Storage.SQLitePath)
	}
	if c.Agent.RunMaxSteps < 1 {
		c.Agent.RunMaxSteps = 1
	}
	if c.Agent.RunTimeoutS < 1 {
		c.Agent.RunTimeoutS = 1
	}
	if c.Agent.MaxContextMessages < 1 {
		c.Agent.MaxContextMessages = 1
	}
	if c.Security.RateLimitBurst < 1 {
		c.Security.RateLimitBurst = 1
	}
	if c.InstanceID == "" {
		c.InstanceID = domain.GenID("agw")
	}
	if c.Security.Policy.Allowlist == nil {
		c.Security.Policy.Allowlist = map[string][]string{}
	}
	if c.Security.Policy.ToolAllow == nil {
		c.Security.Policy.ToolAllow = map[string]domain.ToolPermission{}
	}
	if c.Security.Policy.DMPolicy == "" {
		c.Security.Policy.DMPolicy = domain.PolicyAllowlistOnly
	}
	if c.Security.Policy.GroupPolicy == "" {
		c.Security.Policy.GroupPolicy = domain.PolicyDeny
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
