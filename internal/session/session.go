package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"skilld/internal/logging"
	"skilld/internal/mcp"
)

var (
	// ErrNotReady is returned when an operation requires a live connection.
	ErrNotReady = errors.New("tool server connection is not ready")
	// ErrUnknownTool is returned for tool names absent from the manifest.
	ErrUnknownTool = errors.New("unknown tool")
)

// State is the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns one transport and serializes all tool calls through it.
type Session struct {
	transport *mcp.Transport
	logger    *slog.Logger

	// callMu is the single serialization point: tool calls and the idle
	// shutdown decision both take it, so a shutdown can never preempt an
	// in-flight call.
	callMu sync.Mutex

	stateMu sync.Mutex
	state   State

	tools  []mcp.Tool
	byName map[string]mcp.Tool

	// lastActivity is unix nanoseconds of the most recent completed call,
	// seeded at handshake completion.
	lastActivity atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// New wraps a transport that has not been started yet.
func New(transport *mcp.Transport, logger *slog.Logger) *Session {
	return &Session{
		transport: transport,
		logger:    logging.NewComponentLogger(logger, "session"),
		state:     StateUninitialized,
		done:      make(chan struct{}),
	}
}

// Start spawns the server and runs the handshake. On success the session is
// Ready and the tool manifest is cached for the connection's lifetime.
func (s *Session) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state != StateUninitialized {
		s.stateMu.Unlock()
		return fmt.Errorf("session already started (state %s)", s.state)
	}
	s.state = StateHandshaking
	s.stateMu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		s.setState(StateClosed)
		s.markDone()
		return err
	}

	tools := s.transport.Tools()
	byName := make(map[string]mcp.Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}

	s.stateMu.Lock()
	s.tools = tools
	s.byName = byName
	s.state = StateReady
	s.stateMu.Unlock()
	s.touch()

	go s.watchTransport()
	return nil
}

// watchTransport flips the session out of Ready when the subprocess exits
// underneath us.
func (s *Session) watchTransport() {
	<-s.transport.Closed()
	s.stateMu.Lock()
	if s.state == StateReady {
		s.state = StateClosing
		s.logger.Warn("tool server exited unexpectedly")
	}
	s.stateMu.Unlock()
	s.markDone()
}

// State reports the current lifecycle position.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Ready reports whether calls are currently accepted.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// ServerInfo returns the identity the server reported during the handshake.
func (s *Session) ServerInfo() mcp.Implementation {
	return s.transport.ServerInfo()
}

// ListTools returns the cached manifest.
func (s *Session) ListTools() ([]mcp.Tool, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateReady {
		return nil, ErrNotReady
	}
	out := make([]mcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

// DescribeTool returns the cached manifest entry for one tool.
func (s *Session) DescribeTool(name string) (mcp.Tool, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateReady {
		return mcp.Tool{}, ErrNotReady
	}
	tool, ok := s.byName[name]
	if !ok {
		return mcp.Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// CallTool validates the tool name against the manifest, then executes the
// call. Calls are strictly serialized: a second caller blocks until the
// first completes.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallResult, error) {
	if _, err := s.DescribeTool(name); err != nil {
		return nil, err
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()

	// The connection may have dropped while we waited for our slot.
	if !s.Ready() {
		return nil, ErrNotReady
	}

	start := time.Now()
	result, err := s.transport.CallTool(ctx, name, arguments)
	switch {
	case err == nil:
		s.touch()
	default:
		var toolErr *mcp.ToolError
		if errors.As(err, &toolErr) || errors.Is(err, mcp.ErrTimeout) {
			// The connection survived; only transport faults freeze the clock.
			s.touch()
		}
		s.logger.Debug("tool call failed",
			logging.String(logging.FieldTool, name),
			logging.Duration("elapsed", time.Since(start)),
			logging.Error(err))
	}
	return result, err
}

// LastActivity is the completion time of the most recent call, or the
// handshake time if nothing has been called yet.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor reports how long the session has gone without activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity())
}

// BeginShutdownIfIdle atomically checks the idle clock and, if it has
// exceeded timeout, moves the session to Closing. It takes the call mutex,
// so an in-flight call always completes (and refreshes the clock) before the
// check runs. Returns true when shutdown was initiated.
func (s *Session) BeginShutdownIfIdle(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateReady {
		return false
	}
	idle := time.Since(time.Unix(0, s.lastActivity.Load()))
	if idle < timeout {
		return false
	}
	s.state = StateClosing
	s.logger.Info("idle timeout reached", logging.Duration("idle", idle))
	return true
}

// Stop terminates the subprocess and closes the session. Idempotent.
func (s *Session) Stop() {
	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return
	}
	s.state = StateClosing
	s.stateMu.Unlock()

	s.transport.Stop()

	s.setState(StateClosed)
	s.markDone()
}

// Done is closed once the session can no longer serve calls, whether from an
// explicit Stop or a subprocess crash.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
