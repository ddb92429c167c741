package ipc

import (
	"encoding/json"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the control endpoint at the given loopback address.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Skilld.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTools returns the daemon's cached tool manifest.
func (c *Client) ListTools() ([]ToolInfo, error) {
	var resp ListToolsResponse
	if err := c.client.Call("Skilld.ListTools", ListToolsRequest{}, &resp); err != nil {
		return nil, err
	}
	if err := decodeError(resp.Err); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// DescribeTool returns one manifest entry.
func (c *Client) DescribeTool(name string) (*ToolInfo, error) {
	var resp DescribeToolResponse
	if err := c.client.Call("Skilld.DescribeTool", DescribeToolRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	if err := decodeError(resp.Err); err != nil {
		return nil, err
	}
	return &resp.Tool, nil
}

// CallTool executes one tool call on the daemon. Domain failures come back
// as the same typed errors an in-process caller would see.
func (c *Client) CallTool(name string, arguments json.RawMessage, timeout time.Duration) (*CallToolResponse, error) {
	req := CallToolRequest{Name: name, Arguments: arguments}
	if timeout > 0 {
		req.TimeoutSeconds = int(timeout / time.Second)
	}
	var resp CallToolResponse
	if err := c.client.Call("Skilld.CallTool", req, &resp); err != nil {
		return nil, err
	}
	if err := decodeError(resp.Err); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to shut down.
func (c *Client) Stop() error {
	var resp StopResponse
	if err := c.client.Call("Skilld.Stop", StopRequest{}, &resp); err != nil {
		return err
	}
	return decodeError(resp.Err)
}
