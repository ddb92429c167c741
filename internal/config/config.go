package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server describes how to launch the MCP tool server subprocess.
type Server struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	WorkDir string            `toml:"workdir"`
}

// Daemon contains daemon endpoint and timing configuration.
// All timeouts are in seconds; idle_timeout 0 disables auto-shutdown.
type Daemon struct {
	Bind             string `toml:"bind"`
	IdleTimeout      int    `toml:"idle_timeout"`
	CallTimeout      int    `toml:"call_timeout"`
	HandshakeTimeout int    `toml:"handshake_timeout"`
	StartupTimeout   int    `toml:"startup_timeout"`
	ShutdownGrace    int    `toml:"shutdown_grace"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
}

// Config is the root configuration for one skill package.
type Config struct {
	Server  Server  `toml:"server"`
	Daemon  Daemon  `toml:"daemon"`
	Logging Logging `toml:"logging"`
	Paths   Paths   `toml:"paths"`
}

// DefaultConfigPath returns the default location of the config file.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/skilld/config.toml")
}

// Load reads the configuration from path, or from the default location when
// path is empty. A missing file yields defaults with found=false.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		resolved = defaultPath
	} else {
		expanded, err := ExpandPath(resolved)
		if err != nil {
			return nil, "", false, err
		}
		resolved = expanded
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if normErr := cfg.normalize(); normErr != nil {
				return nil, resolved, false, normErr
			}
			return &cfg, resolved, false, nil
		}
		return nil, resolved, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, true, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, resolved, true, err
	}
	return &cfg, resolved, true, nil
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// ExpandPath resolves ~ and environment variables in a path.
func ExpandPath(path string) (string, error) {
	expanded := os.ExpandEnv(strings.TrimSpace(path))
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}
	return filepath.Clean(expanded), nil
}

func (c *Config) normalize() error {
	stateDir, err := ExpandPath(c.Paths.StateDir)
	if err != nil {
		return err
	}
	c.Paths.StateDir = stateDir

	if c.Server.WorkDir != "" {
		workDir, err := ExpandPath(c.Server.WorkDir)
		if err != nil {
			return err
		}
		c.Server.WorkDir = workDir
	}
	c.Server.Command = strings.TrimSpace(c.Server.Command)
	c.Daemon.Bind = strings.TrimSpace(c.Daemon.Bind)
	return nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

// LockPath returns the flock file guarding single-instance execution.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "skilld.lock")
}

// RecordPath returns the persisted lock/status record location.
func (c *Config) RecordPath() string {
	return filepath.Join(c.Paths.StateDir, "skilld.json")
}

// JournalPath returns the call journal database location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "skilld.log")
}

// IdleTimeout returns the configured idle timeout; zero disables the reaper.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Daemon.IdleTimeout) * time.Second
}

// CallTimeout returns the per-call transport timeout.
func (c *Config) CallTimeout() time.Duration {
	return seconds(c.Daemon.CallTimeout, defaultCallTimeout)
}

// HandshakeTimeout bounds subprocess spawn plus manifest discovery.
func (c *Config) HandshakeTimeout() time.Duration {
	return seconds(c.Daemon.HandshakeTimeout, defaultHandshakeTimeout)
}

// StartupTimeout bounds how long the facade polls for a Ready daemon.
func (c *Config) StartupTimeout() time.Duration {
	return seconds(c.Daemon.StartupTimeout, defaultStartupTimeout)
}

// ShutdownGrace bounds graceful subprocess and daemon termination.
func (c *Config) ShutdownGrace() time.Duration {
	return seconds(c.Daemon.ShutdownGrace, defaultShutdownGrace)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
