// Package testsupport provides shared test fixtures: a per-test config
// factory and a fake MCP tool server that runs inside the test binary via
// re-exec.
package testsupport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	fakeServerEnv = "SKILLD_FAKE_SERVER"
	fakeModeEnv   = "SKILLD_FAKE_MODE"
)

// Fake server modes selectable through WithServerMode.
const (
	// ModeMute reads requests but never answers, so the handshake times out.
	ModeMute = "mute"
	// ModeExit terminates immediately after launch.
	ModeExit = "exit"
)

// Main is the TestMain entry point for packages that spawn the fake server.
// When the binary was re-executed as a tool server it runs the fake and
// returns its exit code; otherwise it runs the tests.
func Main(m *testing.M) int {
	if os.Getenv(fakeServerEnv) == "1" {
		return RunFakeServer()
	}
	return m.Run()
}

type fakeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type fakeCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RunFakeServer speaks just enough MCP over stdio for the tests: initialize,
// tools/list, and a small fixed tool set (echo, sleep, fail, crash).
func RunFakeServer() int {
	mode := os.Getenv(fakeModeEnv)
	if mode == ModeExit {
		return 0
	}

	out := bufio.NewWriter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req fakeRequest
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if mode == ModeMute {
			continue
		}
		if len(req.ID) == 0 {
			// Notification, nothing to answer.
			continue
		}

		switch req.Method {
		case "initialize":
			reply(out, req.ID, map[string]any{
				"protocolVersion": "2025-03-26",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "fake-server", "version": "0.0.1"},
			})
		case "tools/list":
			reply(out, req.ID, map[string]any{"tools": fakeTools()})
		case "tools/call":
			handleCall(out, req)
		default:
			replyError(out, req.ID, -32601, fmt.Sprintf("unknown method %s", req.Method))
		}
	}
	return 0
}

func fakeTools() []map[string]any {
	objectSchema := map[string]any{"type": "object"}
	return []map[string]any{
		{"name": "echo", "description": "Echo the arguments back as text", "inputSchema": objectSchema},
		{"name": "sleep", "description": "Sleep for the given milliseconds", "inputSchema": map[string]any{
			"type":       "object",
			"properties": map[string]any{"ms": map[string]any{"type": "integer"}},
		}},
		{"name": "fail", "description": "Report a tool-level error", "inputSchema": objectSchema},
		{"name": "crash", "description": "Exit the server process without replying", "inputSchema": objectSchema},
	}
}

func handleCall(out *bufio.Writer, req fakeRequest) {
	var params fakeCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		replyError(out, req.ID, -32602, "bad call params")
		return
	}

	switch params.Name {
	case "echo":
		text := strings.TrimSpace(string(params.Arguments))
		if text == "" {
			text = "null"
		}
		replyText(out, req.ID, text, false)
	case "sleep":
		var args struct {
			Ms int `json:"ms"`
		}
		_ = json.Unmarshal(params.Arguments, &args)
		time.Sleep(time.Duration(args.Ms) * time.Millisecond)
		replyText(out, req.ID, "done", false)
	case "fail":
		var args struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(params.Arguments, &args)
		if args.Message == "" {
			args.Message = "tool failure"
		}
		replyText(out, req.ID, args.Message, true)
	case "crash":
		os.Exit(3)
	default:
		replyError(out, req.ID, -32602, fmt.Sprintf("unknown tool %s", params.Name))
	}
}

func reply(out *bufio.Writer, id json.RawMessage, result any) {
	writeFrame(out, map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func replyText(out *bufio.Writer, id json.RawMessage, text string, isError bool) {
	result := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
	if isError {
		result["isError"] = true
	}
	reply(out, id, result)
}

func replyError(out *bufio.Writer, id json.RawMessage, code int, message string) {
	writeFrame(out, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func writeFrame(out *bufio.Writer, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = out.Write(data)
	_ = out.Flush()
}
