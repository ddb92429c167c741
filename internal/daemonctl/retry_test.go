package daemonctl

import (
	"errors"
	"fmt"
	"testing"

	"skilld/internal/mcp"
	"skilld/internal/session"
)

func TestRetryableCallErrors(t *testing.T) {
	retryable := []error{
		ErrNotRunning,
		fmt.Errorf("%w: dial 127.0.0.1:1: connection refused", ErrNotRunning),
		mcp.ErrClosed,
		fmt.Errorf("call failed: %w", mcp.ErrClosed),
		session.ErrNotReady,
		errors.New("read tcp 127.0.0.1:9: connection reset by peer"),
	}
	for _, err := range retryable {
		if !retryableCallError(err) {
			t.Errorf("retryableCallError(%v) = false, want true", err)
		}
	}

	// Domain errors the daemon reported about the call itself are final.
	final := []error{
		&mcp.ToolError{Tool: "echo", Detail: "boom"},
		fmt.Errorf("%w: missing", session.ErrUnknownTool),
		mcp.ErrTimeout,
	}
	for _, err := range final {
		if retryableCallError(err) {
			t.Errorf("retryableCallError(%v) = true, want false", err)
		}
	}
}
