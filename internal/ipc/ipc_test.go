package ipc_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"skilld/internal/config"
	"skilld/internal/daemon"
	"skilld/internal/ipc"
	"skilld/internal/logging"
	"skilld/internal/mcp"
	"skilld/internal/session"
	"skilld/internal/testsupport"
)

func TestMain(m *testing.M) {
	os.Exit(testsupport.Main(m))
}

func startServer(t *testing.T) (*ipc.Client, *daemon.Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t)

	d := daemon.New(cfg, newSession(cfg), nil, logging.NewNop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	server, err := ipc.NewServer(context.Background(), cfg.Daemon.Bind, d, logging.NewNop())
	if err != nil {
		t.Fatalf("start ipc server: %v", err)
	}
	server.Serve()
	t.Cleanup(server.Close)

	client, err := ipc.Dial(server.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, d
}

func newSession(cfg *config.Config) *session.Session {
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

func TestStatusOverRPC(t *testing.T) {
	client, _ := startServer(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.State != "ready" {
		t.Errorf("status = %+v, want running/ready", status)
	}
	if status.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", status.PID, os.Getpid())
	}
	if status.ToolCount == 0 {
		t.Error("no tools reported")
	}
}

func TestListAndDescribeOverRPC(t *testing.T) {
	client, _ := startServer(t)

	tools, err := client.ListTools()
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	found := false
	for _, tool := range tools {
		if tool.Name == "echo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("echo missing from manifest: %v", tools)
	}

	tool, err := client.DescribeTool("echo")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if tool.Name != "echo" || len(tool.InputSchema) == 0 {
		t.Errorf("unexpected tool info: %+v", tool)
	}

	if _, err := client.DescribeTool("missing"); !errors.Is(err, session.ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool across the wire, got %v", err)
	}
}

func TestCallToolOverRPC(t *testing.T) {
	client, _ := startServer(t)

	resp, err := client.CallTool("echo", json.RawMessage(`{"k":"v"}`), 0)
	if err != nil {
		t.Fatalf("call echo: %v", err)
	}
	if resp.Text != `{"k":"v"}` {
		t.Errorf("echo text = %q", resp.Text)
	}
	if len(resp.Content) == 0 {
		t.Error("content blocks missing from response")
	}
}

func TestToolErrorCrossesWire(t *testing.T) {
	client, _ := startServer(t)

	_, err := client.CallTool("fail", json.RawMessage(`{"message":"remote boom"}`), 0)
	var toolErr *mcp.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if toolErr.Tool != "fail" || toolErr.Detail != "remote boom" {
		t.Errorf("tool error lost fidelity: %+v", toolErr)
	}
}

func TestCallTimeoutCrossesWire(t *testing.T) {
	client, _ := startServer(t)

	_, err := client.CallTool("sleep", json.RawMessage(`{"ms":3000}`), time.Second)
	if !errors.Is(err, mcp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout across the wire, got %v", err)
	}
}

func TestUnknownToolCallRejected(t *testing.T) {
	client, _ := startServer(t)

	_, err := client.CallTool("missing", nil, 0)
	if !errors.Is(err, session.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestCloseUnblocksDespiteIdleClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	d := daemon.New(cfg, newSession(cfg), nil, logging.NewNop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	server, err := ipc.NewServer(context.Background(), cfg.Daemon.Bind, d, logging.NewNop())
	if err != nil {
		t.Fatalf("start ipc server: %v", err)
	}
	server.Serve()

	// A client that connects, issues one request, and then just sits on the
	// open connection must not be able to hold shutdown hostage.
	client, err := ipc.Dial(server.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if _, err := client.Status(); err != nil {
		t.Fatalf("status: %v", err)
	}

	done := make(chan struct{})
	go func() {
		server.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked on an idle client connection")
	}
}

func TestStopAcknowledgedThenIdempotent(t *testing.T) {
	client, d := startServer(t)

	if err := client.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-d.StopRequested():
	case <-time.After(time.Second):
		t.Fatal("stop request did not reach daemon")
	}

	if err := client.Stop(); !errors.Is(err, daemon.ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped on second stop, got %v", err)
	}
}
