package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrSpawn indicates the server executable could not be launched.
	ErrSpawn = errors.New("spawn tool server")
	// ErrHandshake indicates the server produced no valid manifest in time.
	ErrHandshake = errors.New("tool server handshake")
	// ErrClosed indicates the server process has exited.
	ErrClosed = errors.New("tool server connection closed")
	// ErrTimeout indicates no response arrived within the call deadline.
	// The transport stays usable for subsequent calls.
	ErrTimeout = errors.New("tool call timed out")
)

// ToolError reports a failure signaled by the tool itself. It is not a
// transport fault; the connection stays healthy.
type ToolError struct {
	Tool   string
	Detail string
}

func (e *ToolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tool %q reported an error", e.Tool)
	}
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Detail)
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
