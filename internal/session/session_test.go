package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"skilld/internal/logging"
	"skilld/internal/mcp"
	"skilld/internal/session"
	"skilld/internal/testsupport"
)

func TestMain(m *testing.M) {
	os.Exit(testsupport.Main(m))
}

func newSession(t *testing.T, cfgOpts ...testsupport.ConfigOption) *session.Session {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	spec := mcp.LaunchSpec{
		Command: cfg.Server.Command,
		Args:    cfg.Server.Args,
		Env:     cfg.Server.Env,
		WorkDir: cfg.Server.WorkDir,
	}
	transport := mcp.NewTransport(spec, mcp.Options{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		CallTimeout:      cfg.CallTimeout(),
		ShutdownGrace:    cfg.ShutdownGrace(),
	}, logging.NewNop())
	return session.New(transport, logging.NewNop())
}

func startSession(t *testing.T, cfgOpts ...testsupport.ConfigOption) *session.Session {
	t.Helper()
	sess := newSession(t, cfgOpts...)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(sess.Stop)
	return sess
}

func TestStartReachesReady(t *testing.T) {
	sess := startSession(t)

	if got := sess.State(); got != session.StateReady {
		t.Fatalf("state = %s, want ready", got)
	}
	tools, err := sess.ListTools()
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) == 0 {
		t.Fatal("expected a non-empty manifest")
	}

	tool, err := sess.DescribeTool("echo")
	if err != nil {
		t.Fatalf("describe echo: %v", err)
	}
	if tool.Name != "echo" || tool.Description == "" {
		t.Errorf("unexpected manifest entry: %+v", tool)
	}
}

func TestOperationsBeforeStart(t *testing.T) {
	sess := newSession(t)

	if _, err := sess.ListTools(); !errors.Is(err, session.ErrNotReady) {
		t.Errorf("ListTools: expected ErrNotReady, got %v", err)
	}
	if _, err := sess.DescribeTool("echo"); !errors.Is(err, session.ErrNotReady) {
		t.Errorf("DescribeTool: expected ErrNotReady, got %v", err)
	}
	if _, err := sess.CallTool(context.Background(), "echo", nil); !errors.Is(err, session.ErrNotReady) {
		t.Errorf("CallTool: expected ErrNotReady, got %v", err)
	}
}

func TestUnknownToolRejectedLocally(t *testing.T) {
	sess := startSession(t)

	if _, err := sess.DescribeTool("nope"); !errors.Is(err, session.ErrUnknownTool) {
		t.Errorf("DescribeTool: expected ErrUnknownTool, got %v", err)
	}
	if _, err := sess.CallTool(context.Background(), "nope", nil); !errors.Is(err, session.ErrUnknownTool) {
		t.Errorf("CallTool: expected ErrUnknownTool, got %v", err)
	}
}

func TestCallToolRoundTrip(t *testing.T) {
	sess := startSession(t)

	result, err := sess.CallTool(context.Background(), "echo", json.RawMessage(`{"n":7}`))
	if err != nil {
		t.Fatalf("call echo: %v", err)
	}
	if got := result.Text(); got != `{"n":7}` {
		t.Errorf("echo returned %q", got)
	}
}

func TestCallsAreSerialized(t *testing.T) {
	sess := startSession(t)

	const sleepMs = 150
	args := json.RawMessage(`{"ms":150}`)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.CallTool(context.Background(), "sleep", args); err != nil {
				t.Errorf("sleep call: %v", err)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < 2*sleepMs*time.Millisecond {
		t.Errorf("calls overlapped: both finished in %v", elapsed)
	}
}

func TestToolErrorRefreshesIdleClock(t *testing.T) {
	sess := startSession(t)

	time.Sleep(60 * time.Millisecond)
	_, err := sess.CallTool(context.Background(), "fail", json.RawMessage(`{"message":"x"}`))
	var toolErr *mcp.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if idle := sess.IdleFor(); idle > 50*time.Millisecond {
		t.Errorf("tool error did not refresh idle clock: idle %v", idle)
	}
}

func TestBeginShutdownIfIdle(t *testing.T) {
	sess := startSession(t)

	if sess.BeginShutdownIfIdle(0) {
		t.Error("zero timeout must disable idle shutdown")
	}
	if sess.BeginShutdownIfIdle(time.Hour) {
		t.Error("shutdown fired before timeout elapsed")
	}

	time.Sleep(80 * time.Millisecond)
	if !sess.BeginShutdownIfIdle(50 * time.Millisecond) {
		t.Fatal("expected idle shutdown to fire")
	}
	if got := sess.State(); got != session.StateClosing {
		t.Errorf("state = %s, want closing", got)
	}
	if sess.BeginShutdownIfIdle(50 * time.Millisecond) {
		t.Error("second idle check fired after shutdown already began")
	}
}

func TestCrashClosesSession(t *testing.T) {
	sess := startSession(t)

	if _, err := sess.CallTool(context.Background(), "crash", nil); !errors.Is(err, mcp.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after crash")
	}
	if sess.Ready() {
		t.Error("session still ready after crash")
	}
	if _, err := sess.CallTool(context.Background(), "echo", nil); !errors.Is(err, session.ErrNotReady) {
		t.Errorf("expected ErrNotReady after crash, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sess := startSession(t)

	sess.Stop()
	sess.Stop()

	if got := sess.State(); got != session.StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Stop")
	}
}
