package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"log/slog"

	"skilld/internal/daemon"
	"skilld/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a loopback TCP listener.
type Server struct {
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer binds the control listener. Bind must resolve to a loopback
// address; use port 0 for an ephemeral port and read it back with Addr.
func NewServer(ctx context.Context, bind string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Skilld", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("control server listening", logging.String(logging.FieldAddress, s.Addr()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"))
				continue
			}
			s.trackConn(conn)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.dropConn(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops accepting connections, severs any client connections still
// open, and waits for their handlers to finish. Without the sever step one
// idle client holding its connection open would block shutdown forever.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
}

func (s *Server) trackConn(c net.Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) dropConn(c net.Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
	_ = c.Close()
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.State = status.State
	resp.PID = status.PID
	resp.Address = status.Address
	resp.UptimeSeconds = int64(status.Uptime / time.Second)
	resp.IdleSeconds = int64(status.IdleFor / time.Second)
	resp.IdleTimeoutSeconds = status.IdleTimeoutSeconds
	resp.ToolCount = status.ToolCount
	resp.ServerName = status.ServerName
	resp.ServerVersion = status.ServerVersion
	resp.LastError = status.LastError
	resp.LockPath = status.LockPath
	resp.JournalPath = status.JournalPath
	resp.TotalCalls = status.TotalCalls
	resp.FailedCalls = status.FailedCalls
	return nil
}

func (s *service) ListTools(_ ListToolsRequest, resp *ListToolsResponse) error {
	tools, err := s.daemon.ListTools()
	if err != nil {
		resp.Err = encodeError(err, "")
		return nil
	}
	resp.Tools = make([]ToolInfo, 0, len(tools))
	for _, tool := range tools {
		resp.Tools = append(resp.Tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return nil
}

func (s *service) DescribeTool(req DescribeToolRequest, resp *DescribeToolResponse) error {
	tool, err := s.daemon.DescribeTool(req.Name)
	if err != nil {
		resp.Err = encodeError(err, req.Name)
		return nil
	}
	resp.Tool = ToolInfo{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
	}
	return nil
}

func (s *service) CallTool(req CallToolRequest, resp *CallToolResponse) error {
	ctx := s.ctx
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	s.log().Debug("tool call requested", logging.String(logging.FieldTool, req.Name))
	result, err := s.daemon.CallTool(ctx, req.Name, req.Arguments)
	if err != nil {
		resp.Err = encodeError(err, req.Name)
		return nil
	}
	resp.Content = result.Content
	resp.Text = result.Text()
	return nil
}

// Stop acknowledges the request before the daemon begins tearing down, so
// the response reaches the client on a still-live connection.
func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	if err := s.daemon.RequestStop("stop command"); err != nil {
		resp.Err = encodeError(err, "")
		return nil
	}
	resp.Stopped = true
	return nil
}
