package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"skilld/internal/daemon"
	"skilld/internal/mcp"
	"skilld/internal/session"
)

// Error kinds carried across the RPC boundary. net/rpc flattens Go errors to
// strings, so domain failures travel as a kind plus detail and are rebuilt
// into typed errors client-side.
const (
	KindNotReady       = "not_ready"
	KindUnknownTool    = "unknown_tool"
	KindTimeout        = "timeout"
	KindClosed         = "transport_closed"
	KindToolError      = "tool_error"
	KindAlreadyStopped = "already_stopped"
	KindInternal       = "internal"
)

// RemoteError is the wire form of a domain failure.
type RemoteError struct {
	Kind   string `json:"kind"`
	Tool   string `json:"tool,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// encodeError maps a daemon-side error into its wire form.
func encodeError(err error, tool string) *RemoteError {
	if err == nil {
		return nil
	}
	var toolErr *mcp.ToolError
	switch {
	case errors.As(err, &toolErr):
		return &RemoteError{Kind: KindToolError, Tool: toolErr.Tool, Detail: toolErr.Detail}
	case errors.Is(err, session.ErrUnknownTool):
		return &RemoteError{Kind: KindUnknownTool, Tool: tool}
	case errors.Is(err, session.ErrNotReady):
		return &RemoteError{Kind: KindNotReady, Detail: err.Error()}
	case errors.Is(err, mcp.ErrTimeout):
		return &RemoteError{Kind: KindTimeout, Detail: err.Error()}
	case errors.Is(err, mcp.ErrClosed):
		return &RemoteError{Kind: KindClosed, Detail: err.Error()}
	case errors.Is(err, daemon.ErrAlreadyStopped):
		return &RemoteError{Kind: KindAlreadyStopped, Detail: err.Error()}
	default:
		return &RemoteError{Kind: KindInternal, Detail: err.Error()}
	}
}

// decodeError rebuilds the typed error a local caller would have seen.
func decodeError(remote *RemoteError) error {
	if remote == nil {
		return nil
	}
	switch remote.Kind {
	case KindToolError:
		return &mcp.ToolError{Tool: remote.Tool, Detail: remote.Detail}
	case KindUnknownTool:
		return fmt.Errorf("%w: %s", session.ErrUnknownTool, remote.Tool)
	case KindNotReady:
		return session.ErrNotReady
	case KindTimeout:
		return fmt.Errorf("%w: %s", mcp.ErrTimeout, remote.Detail)
	case KindClosed:
		return mcp.ErrClosed
	case KindAlreadyStopped:
		return daemon.ErrAlreadyStopped
	default:
		return errors.New(remote.Detail)
	}
}

// ToolInfo is the wire form of one manifest entry.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type StatusRequest struct{}

// StatusResponse mirrors daemon.Status across the wire.
type StatusResponse struct {
	Running            bool   `json:"running"`
	State              string `json:"state"`
	PID                int    `json:"pid"`
	Address            string `json:"address"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	IdleSeconds        int64  `json:"idle_seconds"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds"`
	ToolCount          int    `json:"tool_count"`
	ServerName         string `json:"server_name"`
	ServerVersion      string `json:"server_version"`
	LastError          string `json:"last_error,omitempty"`
	LockPath           string `json:"lock_path"`
	JournalPath        string `json:"journal_path,omitempty"`
	TotalCalls         int64  `json:"total_calls"`
	FailedCalls        int64  `json:"failed_calls"`
}

type ListToolsRequest struct{}

type ListToolsResponse struct {
	Tools []ToolInfo   `json:"tools"`
	Err   *RemoteError `json:"err,omitempty"`
}

type DescribeToolRequest struct {
	Name string `json:"name"`
}

type DescribeToolResponse struct {
	Tool ToolInfo     `json:"tool"`
	Err  *RemoteError `json:"err,omitempty"`
}

type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// TimeoutSeconds overrides the daemon's default call timeout when > 0.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

type CallToolResponse struct {
	Content json.RawMessage `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
	Err     *RemoteError    `json:"err,omitempty"`
}

type StopRequest struct{}

type StopResponse struct {
	Stopped bool         `json:"stopped"`
	Err     *RemoteError `json:"err,omitempty"`
}
