package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Command == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/skilld/config.toml"
		}
		return fmt.Errorf("server.command is required. Edit %s (create with 'skilld config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.IdleTimeout < 0 {
		return errors.New("daemon.idle_timeout must not be negative")
	}
	for name, value := range map[string]int{
		"daemon.call_timeout":      c.Daemon.CallTimeout,
		"daemon.handshake_timeout": c.Daemon.HandshakeTimeout,
		"daemon.startup_timeout":   c.Daemon.StartupTimeout,
		"daemon.shutdown_grace":    c.Daemon.ShutdownGrace,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Daemon.Bind != "" {
		host, _, err := net.SplitHostPort(c.Daemon.Bind)
		if err != nil {
			return fmt.Errorf("daemon.bind: %w", err)
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("daemon.bind must be a loopback address, got %q", host)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
}
