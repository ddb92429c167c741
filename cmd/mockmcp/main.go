// Command mockmcp is a small stdio MCP tool server used for local
// development and demos: point skilld at it to exercise the full daemon
// path without a real tool server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"the text to echo back"`
}

type echoResult struct {
	Message string `json:"message"`
}

type sleepArgs struct {
	Ms int `json:"ms" jsonschema:"how long to sleep in milliseconds"`
}

type sleepResult struct {
	SleptMs int `json:"slept_ms"`
}

type failArgs struct {
	Message string `json:"message" jsonschema:"the error text to report"`
}

func echo(ctx context.Context, req *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, echoResult, error) {
	return nil, echoResult{Message: args.Message}, nil
}

func sleep(ctx context.Context, req *mcp.CallToolRequest, args sleepArgs) (*mcp.CallToolResult, sleepResult, error) {
	select {
	case <-ctx.Done():
		return nil, sleepResult{}, ctx.Err()
	case <-time.After(time.Duration(args.Ms) * time.Millisecond):
	}
	return nil, sleepResult{SleptMs: args.Ms}, nil
}

func fail(ctx context.Context, req *mcp.CallToolRequest, args failArgs) (*mcp.CallToolResult, struct{}, error) {
	message := args.Message
	if message == "" {
		message = "requested failure"
	}
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
	return result, struct{}{}, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{Name: "mockmcp", Version: "0.1.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the message back",
	}, echo)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sleep",
		Description: "Sleep for the given number of milliseconds",
	}, sleep)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "fail",
		Description: "Report a tool-level error",
	}, fail)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
