// Package daemonrun assembles and runs the daemon process: logger, call
// journal, tool server session, control listener, and endpoint record.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"skilld/internal/config"
	"skilld/internal/daemon"
	"skilld/internal/ipc"
	"skilld/internal/journal"
	"skilld/internal/logging"
	"skilld/internal/mcp"
	"skilld/internal/session"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
	// DaemonOptions are passed through to daemon.New, mainly for tests.
	DaemonOptions []daemon.Option
}

// Run starts the daemon runtime loop and blocks until shutdown, whether from
// a signal, a stop request over the control channel, an idle timeout, or a
// tool server crash.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure state directory: %w", err)
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Path:   cfg.LogPath(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := journal.Open(cfg)
	if err != nil {
		logger.Error("open call journal", logging.Error(err))
		return err
	}
	defer store.Close()

	transport := mcp.NewTransport(mcp.LaunchSpec{
		Command: cfg.Server.Command,
		Args:    cfg.Server.Args,
		Env:     cfg.Server.Env,
		WorkDir: cfg.Server.WorkDir,
	}, mcp.Options{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		CallTimeout:      cfg.CallTimeout(),
		ShutdownGrace:    cfg.ShutdownGrace(),
	}, logger)
	sess := session.New(transport, logger)
	d := daemon.New(cfg, sess, store, logger, opts.DaemonOptions...)

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			logger.Warn("another daemon instance holds the lock",
				logging.String("lock", cfg.LockPath()))
		} else {
			logger.Error("daemon start failed", logging.Error(err))
		}
		return err
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Daemon.Bind, d, logger)
	if err != nil {
		d.Stop()
		return fmt.Errorf("start control server: %w", err)
	}
	ipcServer.Serve()

	if err := d.PublishEndpoint(ipcServer.Addr()); err != nil {
		ipcServer.Close()
		d.Stop()
		return fmt.Errorf("publish endpoint: %w", err)
	}

	logger.Info("skilld daemon ready",
		logging.String(logging.FieldAddress, ipcServer.Addr()),
		logging.String("server_command", cfg.Server.Command))

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, shutting down")
		_ = d.RequestStop("signal")
	case <-d.StopRequested():
	}

	ipcServer.Close()
	d.Stop()
	return nil
}
