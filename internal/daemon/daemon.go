// Package daemon coordinates the long-running connection manager: the
// single-instance lock, the tool server session, the endpoint record, the
// idle reaper, and the call journal.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"skilld/internal/config"
	"skilld/internal/journal"
	"skilld/internal/lockfile"
	"skilld/internal/logging"
	"skilld/internal/mcp"
	"skilld/internal/session"
)

var (
	// ErrAlreadyRunning indicates another daemon holds the instance lock.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrAlreadyStopped indicates shutdown has already been requested.
	ErrAlreadyStopped = errors.New("daemon already stopping")
)

// Status is a point-in-time snapshot of daemon health.
type Status struct {
	Running            bool
	State              string
	PID                int
	Address            string
	StartedAt          time.Time
	Uptime             time.Duration
	IdleFor            time.Duration
	IdleTimeoutSeconds int
	ToolCount          int
	ServerName         string
	ServerVersion      string
	LastError          string
	LockPath           string
	JournalPath        string
	TotalCalls         int64
	FailedCalls        int64
}

// Option tunes daemon behavior, mainly for tests.
type Option func(*Daemon)

// WithIdleTimeout overrides the configured idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(daemon *Daemon) {
		daemon.idleTimeout = d
	}
}

// WithTickInterval overrides the reaper check interval.
func WithTickInterval(d time.Duration) Option {
	return func(daemon *Daemon) {
		daemon.tick = d
	}
}

// Daemon owns one tool server session and its surrounding state.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	sess    *session.Session
	journal *journal.Store

	lock *flock.Flock

	idleTimeout time.Duration
	tick        time.Duration

	mu        sync.Mutex
	started   time.Time
	address   string
	lastError string
	running   bool

	stopRequested chan struct{}
	stopOnce      sync.Once
	stopReason    string
}

// New wires a daemon around an unstarted session. The journal store may be
// nil, in which case call history is not recorded.
func New(cfg *config.Config, sess *session.Session, store *journal.Store, logger *slog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:           cfg,
		logger:        logging.NewComponentLogger(logger, "daemon"),
		sess:          sess,
		journal:       store,
		idleTimeout:   cfg.IdleTimeout(),
		tick:          5 * time.Second,
		stopRequested: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start acquires the single-instance lock and connects to the tool server.
// A second daemon on the same state directory gets ErrAlreadyRunning.
func (d *Daemon) Start(ctx context.Context) error {
	lock := flock.New(d.cfg.LockPath())
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !acquired {
		return ErrAlreadyRunning
	}
	d.lock = lock

	if err := d.sess.Start(ctx); err != nil {
		_ = lock.Unlock()
		d.lock = nil
		return err
	}

	d.mu.Lock()
	d.started = time.Now()
	d.running = true
	d.mu.Unlock()

	go d.watchSession()
	return nil
}

// watchSession requests shutdown when the session dies underneath us, so a
// tool server crash takes the whole daemon down rather than leaving a zombie
// endpoint.
func (d *Daemon) watchSession() {
	<-d.sess.Done()
	select {
	case <-d.stopRequested:
		return
	default:
	}
	d.setLastError("tool server connection lost")
	_ = d.requestStop("tool server connection lost")
}

// PublishEndpoint writes the endpoint record advertising addr and starts the
// idle reaper. Call it once the control listener is bound.
func (d *Daemon) PublishEndpoint(addr string) error {
	record := lockfile.Record{
		PID:                os.Getpid(),
		Address:            addr,
		StartedAt:          time.Now().UTC(),
		IdleTimeoutSeconds: int(d.idleTimeout / time.Second),
	}
	if err := lockfile.Write(d.cfg.RecordPath(), record); err != nil {
		return err
	}

	d.mu.Lock()
	d.address = addr
	d.mu.Unlock()

	go d.runReaper()

	d.logger.Info("endpoint published",
		logging.String(logging.FieldAddress, addr),
		logging.Int(logging.FieldPID, record.PID),
		logging.Duration("idle_timeout", d.idleTimeout))
	return nil
}

// ListTools returns the cached manifest.
func (d *Daemon) ListTools() ([]mcp.Tool, error) {
	return d.sess.ListTools()
}

// DescribeTool returns one cached manifest entry.
func (d *Daemon) DescribeTool(name string) (mcp.Tool, error) {
	return d.sess.DescribeTool(name)
}

// CallTool executes one tool call through the session and journals the
// outcome.
func (d *Daemon) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallResult, error) {
	start := time.Now()
	result, err := d.sess.CallTool(ctx, name, arguments)
	d.recordCall(name, start, err)
	if err != nil {
		d.setLastError(err.Error())
	}
	return result, err
}

func (d *Daemon) recordCall(name string, start time.Time, callErr error) {
	if d.journal == nil {
		return
	}
	outcome := journal.OutcomeOK
	detail := ""
	var toolErr *mcp.ToolError
	switch {
	case callErr == nil:
	case errors.As(callErr, &toolErr):
		outcome = journal.OutcomeToolError
		detail = toolErr.Detail
	case errors.Is(callErr, mcp.ErrTimeout):
		outcome = journal.OutcomeTimeout
		detail = callErr.Error()
	case errors.Is(callErr, mcp.ErrClosed):
		outcome = journal.OutcomeTransportClosed
		detail = callErr.Error()
	default:
		outcome = journal.OutcomeToolError
		detail = callErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.journal.Record(ctx, name, start, time.Since(start), outcome, detail); err != nil {
		d.logger.Warn("failed to journal call",
			logging.String(logging.FieldTool, name),
			logging.Error(err))
	}
}

// Status reports a snapshot of the daemon and its session.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	status := Status{
		Running:            d.running,
		PID:                os.Getpid(),
		Address:            d.address,
		StartedAt:          d.started,
		LastError:          d.lastError,
		IdleTimeoutSeconds: int(d.idleTimeout / time.Second),
		LockPath:           d.cfg.LockPath(),
	}
	d.mu.Unlock()

	status.State = d.sess.State().String()
	if !status.StartedAt.IsZero() {
		status.Uptime = time.Since(status.StartedAt)
	}
	if d.sess.Ready() {
		status.IdleFor = d.sess.IdleFor()
	}
	if tools, err := d.sess.ListTools(); err == nil {
		status.ToolCount = len(tools)
	}
	info := d.sess.ServerInfo()
	status.ServerName = info.Name
	status.ServerVersion = info.Version

	if d.journal != nil {
		status.JournalPath = d.journal.Path()
		if stats, err := d.journal.Stats(ctx); err == nil {
			status.TotalCalls = stats.TotalCalls
			status.FailedCalls = stats.Failures
		}
	}
	return status
}

// RequestStop asks the daemon to shut down. The first caller wins; later
// callers get ErrAlreadyStopped.
func (d *Daemon) RequestStop(reason string) error {
	return d.requestStop(reason)
}

func (d *Daemon) requestStop(reason string) error {
	requested := false
	d.stopOnce.Do(func() {
		requested = true
		d.stopReason = reason
		close(d.stopRequested)
	})
	if !requested {
		return ErrAlreadyStopped
	}
	d.logger.Info("shutdown requested", logging.String("reason", reason))
	return nil
}

// StopRequested is closed once shutdown has been initiated.
func (d *Daemon) StopRequested() <-chan struct{} {
	return d.stopRequested
}

// Stop tears the daemon down: terminates the tool server, removes the
// endpoint record, and releases the instance lock. Idempotent.
func (d *Daemon) Stop() {
	_ = d.requestStop("stop")

	d.sess.Stop()

	if err := lockfile.Remove(d.cfg.RecordPath()); err != nil {
		d.logger.Warn("failed to remove endpoint record",
			logging.String("path", d.cfg.RecordPath()),
			logging.Error(err))
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release instance lock", logging.Error(err))
		}
		d.lock = nil
	}
	d.logger.Info("daemon stopped", logging.String("reason", d.stopReason))
}

func (d *Daemon) setLastError(message string) {
	d.mu.Lock()
	d.lastError = message
	d.mu.Unlock()
}
