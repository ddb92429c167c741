// Package daemonctl is the client-side façade over the daemon: it discovers
// the endpoint record, launches a daemon on demand, and exposes the control
// operations to the CLI.
package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"skilld/internal/config"
	"skilld/internal/daemon"
	"skilld/internal/ipc"
	"skilld/internal/lockfile"
	"skilld/internal/logging"
	"skilld/internal/mcp"
	"skilld/internal/session"
)

var (
	// ErrNotRunning indicates no live daemon was found for the state dir.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrStartupTimeout indicates a launched daemon never became ready.
	ErrStartupTimeout = errors.New("daemon did not become ready in time")
	// ErrDaemonUnavailable indicates the daemon stayed unreachable even
	// after a restart attempt.
	ErrDaemonUnavailable = errors.New("daemon unavailable")
)

const pollInterval = 200 * time.Millisecond

// Option customizes façade behavior.
type Option func(*Facade)

// WithLauncher replaces the detached process launcher, for tests that run
// the daemon in-process.
func WithLauncher(launch func() error) Option {
	return func(f *Facade) {
		f.launch = launch
	}
}

// Facade drives the daemon from a client process.
type Facade struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	launch     func() error
}

// New builds a façade. configPath is forwarded to launched daemons so they
// load the same configuration; empty means the default location.
func New(cfg *config.Config, configPath string, logger *slog.Logger, opts ...Option) *Facade {
	f := &Facade{
		cfg:        cfg,
		configPath: configPath,
		logger:     logging.NewComponentLogger(logger, "daemonctl"),
	}
	f.launch = f.launchDetached
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// launchDetached starts `skilld daemon` as a detached child of this process.
func (f *Facade) launchDetached() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"daemon"}
	if path := strings.TrimSpace(f.configPath); path != "" {
		args = append(args, "--config", path)
	}
	proc := exec.Command(exe, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// connect dials the daemon advertised by the endpoint record. Stale records
// left by a dead daemon are removed on sight.
func (f *Facade) connect() (*ipc.Client, error) {
	record, err := lockfile.Read(f.cfg.RecordPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotRunning
		}
		// A corrupt record is as good as no record.
		f.logger.Warn("removing unreadable endpoint record", logging.Error(err))
		_ = lockfile.Remove(f.cfg.RecordPath())
		return nil, ErrNotRunning
	}
	if record.Stale() {
		f.logger.Debug("removing stale endpoint record",
			logging.Int(logging.FieldPID, record.PID))
		_ = lockfile.Remove(f.cfg.RecordPath())
		return nil, ErrNotRunning
	}

	client, err := ipc.Dial(record.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNotRunning, record.Address, err)
	}
	return client, nil
}

// EnsureRunning connects to a live daemon, launching one first if needed,
// and waits until it reports ready.
func (f *Facade) EnsureRunning(ctx context.Context) (*ipc.Client, error) {
	if client, err := f.connect(); err == nil {
		return client, nil
	} else if !errors.Is(err, ErrNotRunning) {
		return nil, err
	}

	if err := f.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	f.logger.Debug("no live daemon, launching")
	if err := f.launch(); err != nil {
		return nil, err
	}
	return f.waitReady(ctx)
}

// waitReady polls for the endpoint record and a ready status until the
// startup timeout elapses.
func (f *Facade) waitReady(ctx context.Context) (*ipc.Client, error) {
	deadline := time.Now().Add(f.cfg.StartupTimeout())
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}

		client, err := f.connect()
		if err != nil {
			lastErr = err
			continue
		}
		status, err := client.Status()
		if err == nil && status.Running && status.State == "ready" {
			return client, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("daemon state %s", status.State)
		}
		_ = client.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no status received")
	}
	return nil, fmt.Errorf("%w: %v", ErrStartupTimeout, lastErr)
}

// Status reports the live daemon's status without launching one.
func (f *Facade) Status(ctx context.Context) (*ipc.StatusResponse, error) {
	client, err := f.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Status()
}

// ListTools returns the daemon's cached manifest, starting a daemon first if
// none is running.
func (f *Facade) ListTools(ctx context.Context) ([]ipc.ToolInfo, error) {
	client, err := f.EnsureRunning(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.ListTools()
}

// DescribeTool returns one manifest entry, starting a daemon if needed.
func (f *Facade) DescribeTool(ctx context.Context, name string) (*ipc.ToolInfo, error) {
	client, err := f.EnsureRunning(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.DescribeTool(name)
}

// CallTool executes one tool call, starting a daemon if needed. If the
// connection drops mid-call the daemon is restarted and the call retried
// once; a second failure surfaces as ErrDaemonUnavailable.
func (f *Facade) CallTool(ctx context.Context, name string, arguments json.RawMessage, timeout time.Duration) (*ipc.CallToolResponse, error) {
	client, err := f.EnsureRunning(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.CallTool(name, arguments, timeout)
	client.Close()
	if err == nil || !retryableCallError(err) {
		return resp, err
	}

	f.logger.Warn("daemon connection lost mid-call, retrying once", logging.Error(err))
	client, err = f.EnsureRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer client.Close()
	resp, err = client.CallTool(name, arguments, timeout)
	if err != nil && retryableCallError(err) {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return resp, err
}

// Stop asks the daemon to shut down and waits for the endpoint record to
// disappear. A daemon that is not running is a successful no-op.
func (f *Facade) Stop(ctx context.Context) (bool, error) {
	client, err := f.connect()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return false, nil
		}
		return false, err
	}
	stopErr := client.Stop()
	client.Close()
	if stopErr != nil && !isConnectionError(stopErr) && !isAlreadyStopped(stopErr) {
		return false, stopErr
	}

	deadline := time.Now().Add(f.cfg.StartupTimeout())
	for time.Now().Before(deadline) {
		record, err := lockfile.Read(f.cfg.RecordPath())
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		if err == nil && record.Stale() {
			_ = lockfile.Remove(f.cfg.RecordPath())
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return false, fmt.Errorf("daemon did not shut down within %v", f.cfg.StartupTimeout())
}

// isConnectionError distinguishes transport-level RPC failures from domain
// errors that traveled the wire intact.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRunning) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "shut down")
}

// retryableCallError reports whether a failed call warrants relaunching the
// daemon and retrying once. Beyond socket-level failures, a daemon-reported
// closed or not-ready session qualifies: the daemon publishes its endpoint
// only after reaching ready, so either error from a live endpoint means the
// tool server connection died underneath it and the daemon is on its way
// down.
func retryableCallError(err error) bool {
	return isConnectionError(err) ||
		errors.Is(err, mcp.ErrClosed) ||
		errors.Is(err, session.ErrNotReady)
}

func isAlreadyStopped(err error) bool {
	return errors.Is(err, daemon.ErrAlreadyStopped)
}
