package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"skilld/internal/logging"
)

const maxFrameSize = 16 * 1024 * 1024

// LaunchSpec describes the tool server subprocess.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
}

// Options tunes transport timing.
type Options struct {
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	ShutdownGrace    time.Duration
}

// Transport owns one tool server subprocess and the framed JSON-RPC exchange
// with it. Create with NewTransport, then Start before any call.
type Transport struct {
	spec   LaunchSpec
	opts   Options
	logger *slog.Logger

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	writeMu  sync.Mutex
	waitDone chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan *rpcMessage

	closed    chan struct{}
	closeOnce sync.Once

	stopOnce sync.Once

	tools      []Tool
	serverInfo Implementation
}

// NewTransport configures a transport without starting the subprocess.
func NewTransport(spec LaunchSpec, opts Options, logger *slog.Logger) *Transport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	return &Transport{
		spec:     spec,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "transport"),
		waitDone: make(chan struct{}),
		pending:  make(map[string]chan *rpcMessage),
		closed:   make(chan struct{}),
	}
}

// Start spawns the subprocess and performs the initialize handshake,
// including the one-time tools/list manifest fetch.
func (t *Transport) Start(ctx context.Context) error {
	cmd := exec.Command(t.spec.Command, t.spec.Args...)
	cmd.Dir = t.spec.WorkDir
	cmd.Env = os.Environ()
	for key, value := range t.spec.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawn, t.spec.Command, err)
	}
	t.cmd = cmd
	t.stdin = stdin

	go t.drainStderr(stderr)
	go t.readLoop(stdout)
	go func() {
		err := cmd.Wait()
		if err != nil {
			t.logger.Debug("tool server exited", logging.Error(err))
		}
		t.markClosed()
		close(t.waitDone)
	}()

	if err := t.handshake(ctx); err != nil {
		t.Stop()
		return err
	}
	return nil
}

func (t *Transport) handshake(ctx context.Context) error {
	hsCtx, cancel := context.WithTimeout(ctx, t.opts.HandshakeTimeout)
	defer cancel()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: "skilld", Version: "1.0.0"},
	}
	raw, err := t.call(hsCtx, "initialize", params)
	if err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrHandshake, err)
	}
	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("%w: decode initialize result: %v", ErrHandshake, err)
	}
	t.serverInfo = init.ServerInfo

	if err := t.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("%w: initialized notification: %v", ErrHandshake, err)
	}

	raw, err = t.call(hsCtx, "tools/list", map[string]any{})
	if err != nil {
		return fmt.Errorf("%w: tools/list: %v", ErrHandshake, err)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("%w: decode tool manifest: %v", ErrHandshake, err)
	}
	t.tools = list.Tools

	t.logger.Info("tool server ready",
		logging.String("server", t.serverInfo.Name),
		logging.String("version", t.serverInfo.Version),
		logging.Int("tools", len(t.tools)))
	return nil
}

// Tools returns the manifest discovered at handshake time.
func (t *Transport) Tools() []Tool {
	return t.tools
}

// ServerInfo returns the peer identity reported during initialize.
func (t *Transport) ServerInfo() Implementation {
	return t.serverInfo
}

// Closed is closed once the subprocess has exited for any reason.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

// CallTool invokes one tool and returns its result payload. A tool-reported
// failure surfaces as *ToolError; transport faults surface as ErrClosed or
// ErrTimeout.
func (t *Transport) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*CallResult, error) {
	raw, err := t.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	if result.IsError {
		return nil, &ToolError{Tool: name, Detail: result.Text()}
	}
	return &result, nil
}

// call issues one request and blocks until the correlated response arrives,
// the context expires, or the subprocess exits.
func (t *Transport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	budget := t.opts.CallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan *rpcMessage, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		return resultOf(msg)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, method, budget.Round(time.Millisecond))
		}
		return nil, ctx.Err()
	case <-t.closed:
		// The response may have landed just before the process died.
		select {
		case msg := <-ch:
			return resultOf(msg)
		default:
			return nil, ErrClosed
		}
	}
}

func resultOf(msg *rpcMessage) (json.RawMessage, error) {
	if msg.Error != nil {
		return nil, msg.Error
	}
	return msg.Result, nil
}

func (t *Transport) notify(method string, params any) error {
	return t.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *Transport) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if _, err := t.stdin.Write(data); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.Warn("discarding unparseable frame", logging.Error(err))
			continue
		}
		if msg.Method != "" {
			t.handleServerMessage(&msg)
			continue
		}
		t.dispatch(&msg)
	}
	// EOF or read error: the Wait goroutine handles close bookkeeping.
}

func (t *Transport) dispatch(msg *rpcMessage) {
	var id string
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		t.logger.Debug("response with non-string id discarded")
		return
	}
	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
	if !ok {
		// Late response for a call that already timed out.
		t.logger.Debug("discarding uncorrelated response", logging.String("id", id))
		return
	}
	ch <- msg
}

// handleServerMessage deals with server-initiated traffic. Notifications are
// ignored; requests get a method-not-found error so a well-behaved server is
// not left waiting.
func (t *Transport) handleServerMessage(msg *rpcMessage) {
	if len(msg.ID) == 0 {
		t.logger.Debug("ignoring server notification", logging.String("method", msg.Method))
		return
	}
	var id string
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		return
	}
	reply := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": -32601, "message": "method not supported"},
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	data = append(data, '\n')
	t.writeMu.Lock()
	_, _ = t.stdin.Write(data)
	t.writeMu.Unlock()
}

func (t *Transport) markClosed() {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
}

// Stop requests graceful termination, waits out the grace period, then kills
// the subprocess. Safe to call multiple times and on a never-started
// transport.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		if t.cmd == nil || t.cmd.Process == nil {
			t.markClosed()
			return
		}
		_ = t.stdin.Close()
		_ = t.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-t.waitDone:
		case <-time.After(t.opts.ShutdownGrace):
			t.logger.Warn("tool server ignored graceful stop, killing",
				logging.Duration("grace", t.opts.ShutdownGrace))
			_ = t.cmd.Process.Kill()
			<-t.waitDone
		}
	})
}

func (t *Transport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("tool server stderr", logging.String("line", line))
		}
	}
}
