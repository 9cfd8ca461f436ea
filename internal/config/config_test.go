package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zankora/agw/internal/domain"
)

func TestDefaultIsDenyByDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("host = %s", cfg.Server.Host)
	}
	if !cfg.Security.RequireApprovalsForWriteTools {
		t.Fatal("approvals default off")
	}
	pol := cfg.Security.Policy
	if pol.DMPolicy != domain.PolicyAllowlistOnly || pol.GroupPolicy != domain.PolicyDeny {
		t.Fatalf("policy = %+v", pol)
	}
	if len(pol.Allowlist) != 0 {
		t.Fatalf("allowlist not empty: %v", pol.Allowlist)
	}
}

func TestLoadJSON5File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agw.json5")
	content := `{
  // comments are allowed
  server: { host: "0.0.0.0", port: 9000 },
  storage: { data_dir: "` + dir + `" },
  agent: { run_max_steps: 3 },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Agent.RunMaxSteps != 3 {
		t.Fatalf("run_max_steps = %d", cfg.Agent.RunMaxSteps)
	}
	// Untouched fields keep defaults.
	if cfg.Server.WSPath != "/ws" {
		t.Fatalf("ws_path = %s", cfg.Server.WSPath)
	}
	if cfg.InstanceID == "" {
		t.Fatal("instance id not generated")
	}
	if cfg.SQLitePath() != filepath.Join(dir, "agw.db") {
		t.Fatalf("sqlite path = %s", cfg.SQLitePath())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 18789 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGW_PORT", "7777")
	t.Setenv("AGW_REQUIRE_CLIENT_AUTH", "true")
	t.Setenv("AGW_CLIENT_API_KEYS", "k1, k2 ,")
	t.Setenv("AGW_RUN_TIMEOUT_S", "9")
	t.Setenv("AGW_DATA_DIR", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7777 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if !cfg.Security.RequireClientAuth {
		t.Fatal("auth override ignored")
	}
	if len(cfg.Security.ClientAPIKeys) != 2 || cfg.Security.ClientAPIKeys[1] != "k2" {
		t.Fatalf("keys = %v", cfg.Security.ClientAPIKeys)
	}
	if cfg.Agent.RunTimeoutS != 9 {
		t.Fatalf("timeout = %d", cfg.Agent.RunTimeoutS)
	}
}

func TestNormalizeClamps(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Agent.RunMaxSteps = 0
	cfg.Agent.RunTimeoutS = -5
	cfg.Security.RateLimitBurst = 0
	cfg.Security.Policy = domain.Policy{}
	cfg.normalize()

	if cfg.Agent.RunMaxSteps != 1 || cfg.Agent.RunTimeoutS != 1 {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Security.RateLimitBurst != 1 {
		t.Fatalf("burst = %d", cfg.Security.RateLimitBurst)
	}
	// Empty policy is filled back to deny-by-default, not allow.
	if cfg.Security.Policy.DMPolicy != domain.PolicyAllowlistOnly {
		t.Fatalf("dm_policy = %s", cfg.Security.Policy.DMPolicy)
	}
	if cfg.Security.Policy.Allowlist == nil || cfg.Security.Policy.ToolAllow == nil {
		t.Fatal("policy maps not initialized")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Fatalf("got %s", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("got %s", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Fatalf("got %s", got)
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	for level, want := range map[string]string{
		"debug": "DEBUG", "info": "INFO", "warn": "WARN", "error": "ERROR", "bogus": "INFO",
	} {
		cfg.Logging.Level = level
		if got := cfg.SlogLevel().String(); got != want {
			t.Fatalf("%s -> %s, want %s", level, got, want)
		}
	}
}
