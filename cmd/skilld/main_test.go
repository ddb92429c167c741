package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"skilld/internal/config"
	"skilld/internal/daemonrun"
	"skilld/internal/lockfile"
	"skilld/internal/testsupport"
)

func TestMain(m *testing.M) {
	os.Exit(testsupport.Main(m))
}

func writeConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// startDaemonFor runs the daemon in-process so client commands find a live
// endpoint instead of launching a detached process.
func startDaemonFor(t *testing.T, cfg *config.Config) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = daemonrun.Run(ctx, cfg, daemonrun.Options{})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("daemon goroutine did not exit")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := lockfile.Read(cfg.RecordPath()); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("daemon never published its endpoint")
}

func TestConfigInitCreatesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[server]") {
		t.Errorf("sample missing [server] section:\n%s", data)
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite did not fail")
	}
	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("init with --overwrite: %v", err)
	}
}

func TestConfigShowRendersEffectiveConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfigFile(t, cfg)

	out, err := runCommand(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v\n%s", err, out)
	}
	if !strings.Contains(out, "command =") || !strings.Contains(out, cfg.Paths.StateDir) {
		t.Errorf("unexpected show output:\n%s", out)
	}
}

func TestStatusWhenNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfigFile(t, cfg)

	out, err := runCommand(t, "status", "--config", path)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Daemon is not running") {
		t.Errorf("unexpected status output: %q", out)
	}

	out, err = runCommand(t, "status", "--config", path, "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	if !strings.Contains(out, `"running": false`) {
		t.Errorf("unexpected json status: %q", out)
	}
}

func TestListAgainstRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfigFile(t, cfg)
	startDaemonFor(t, cfg)

	out, err := runCommand(t, "list", "--config", path)
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	for _, tool := range []string{"echo", "sleep", "fail"} {
		if !strings.Contains(out, tool) {
			t.Errorf("list output missing %q:\n%s", tool, out)
		}
	}
}

func TestCallAgainstRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfigFile(t, cfg)
	startDaemonFor(t, cfg)

	out, err := runCommand(t, "call", "echo", `{"cli":true}`, "--config", path)
	if err != nil {
		t.Fatalf("call: %v\n%s", err, out)
	}
	if !strings.Contains(out, `{"cli":true}`) {
		t.Errorf("unexpected call output: %q", out)
	}

	if _, err := runCommand(t, "call", "echo", `{not json`, "--config", path); err == nil {
		t.Fatal("invalid arguments accepted")
	}
}

func TestDescribeAndStopAgainstRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfigFile(t, cfg)
	startDaemonFor(t, cfg)

	out, err := runCommand(t, "describe", "sleep", "--config", path)
	if err != nil {
		t.Fatalf("describe: %v\n%s", err, out)
	}
	if !strings.Contains(out, "sleep") || !strings.Contains(out, "Input schema") {
		t.Errorf("unexpected describe output:\n%s", out)
	}

	out, err = runCommand(t, "stop", "--config", path)
	if err != nil {
		t.Fatalf("stop: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Daemon stopped") {
		t.Errorf("unexpected stop output: %q", out)
	}

	out, err = runCommand(t, "stop", "--config", path)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if !strings.Contains(out, "Daemon is not running") {
		t.Errorf("second stop output: %q", out)
	}
}
