package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, found, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing file")
	}
	if path == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Daemon.Bind != defaultBind {
		t.Fatalf("expected default bind, got %q", cfg.Daemon.Bind)
	}
	if cfg.Daemon.CallTimeout != defaultCallTimeout {
		t.Fatalf("expected default call timeout, got %d", cfg.Daemon.CallTimeout)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
command = "fake-server"
args = ["--stdio"]

[daemon]
idle_timeout = 120
bind = "127.0.0.1:7311"

[paths]
state_dir = "` + dir + `/state"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, found, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if cfg.Server.Command != "fake-server" {
		t.Fatalf("unexpected command %q", cfg.Server.Command)
	}
	if cfg.Daemon.IdleTimeout != 120 {
		t.Fatalf("unexpected idle timeout %d", cfg.Daemon.IdleTimeout)
	}
	if got := cfg.RecordPath(); got != filepath.Join(dir, "state", "skilld.json") {
		t.Fatalf("unexpected record path %q", got)
	}
	if got := cfg.LockPath(); !strings.HasSuffix(got, "skilld.lock") {
		t.Fatalf("unexpected lock path %q", got)
	}
}

func TestValidateRequiresCommand(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty server.command")
	}
	cfg.Server.Command = "fake-server"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsNonLoopbackBind(t *testing.T) {
	cfg := Default()
	cfg.Server.Command = "fake-server"
	cfg.Daemon.Bind = "0.0.0.0:9000"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for non-loopback bind")
	}
}

func TestValidateRejectsNegativeIdleTimeout(t *testing.T) {
	cfg := Default()
	cfg.Server.Command = "fake-server"
	cfg.Daemon.IdleTimeout = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative idle_timeout")
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := ExpandPath("~/state")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if got != filepath.Join(home, "state") {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestIdleTimeoutZeroDisables(t *testing.T) {
	cfg := Default()
	if cfg.IdleTimeout() != 0 {
		t.Fatalf("expected zero idle timeout, got %v", cfg.IdleTimeout())
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate sample: %v", err)
	}
}
