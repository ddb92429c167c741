package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"skilld/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with a unique temp state directory and
// the in-binary fake tool server. It defaults to short timeouts so failing
// tests fail fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Server.Command = os.Args[0]
	cfg.Server.Env = map[string]string{fakeServerEnv: "1"}
	cfg.Daemon.Bind = "127.0.0.1:0"
	cfg.Daemon.CallTimeout = 10
	cfg.Daemon.HandshakeTimeout = 10
	cfg.Daemon.StartupTimeout = 10
	cfg.Daemon.ShutdownGrace = 2

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithIdleTimeout sets the configured idle timeout in seconds.
func WithIdleTimeout(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Daemon.IdleTimeout = seconds
	}
}

// WithServerMode selects a fake server misbehavior mode (see fakeserver.go).
func WithServerMode(mode string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Server.Env[fakeModeEnv] = mode
	}
}

// WithCommand overrides the server launch command entirely.
func WithCommand(command string, args ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Server.Command = command
		cfg.Server.Args = args
		cfg.Server.Env = nil
	}
}
