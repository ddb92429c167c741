// Package mcp implements the stdio transport to the MCP tool server
// subprocess.
//
// The transport owns the subprocess lifecycle: it spawns the configured
// command, performs the initialize handshake, discovers the tool manifest
// once, and exchanges newline-delimited JSON-RPC 2.0 frames over the child's
// stdin/stdout. Responses are correlated to pending calls by request id, and
// an unexpected child exit fails every pending call with ErrClosed.
//
// The external server is a single-conversation peer: it answers one request
// at a time. Callers above (internal/session) serialize access; this package
// only guarantees correlation and per-call deadlines.
package mcp
