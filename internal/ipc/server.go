package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	maxRequestBytes = 4 << 10
	requestTimeout  = 2 * time.Second
)

// Handler processes one session command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers session commands on an owned socket. Requests naming an
// unknown command are rejected before they reach the handler.
type Server struct {
	handler Handler
	logger  *slog.Logger
	timeout time.Duration
}

// NewServer returns a server that dispatches valid commands to handler.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{handler: handler, logger: logger, timeout: requestTimeout}
}

// Serve accepts clients until ctx ends or the listener closes. In-flight
// commands finish before it returns.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept session connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			s.serveConn(ctx, c)
		}(conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	req, err := readRequest(conn)
	if err != nil {
		s.logger.Debug("session command rejected", "error", err.Error())
		_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: err.Error()})
		return
	}

	started := time.Now()
	resp := s.handler.Handle(ctx, req)
	s.logger.Debug("session command handled",
		"command", string(req.Command),
		"ok", resp.OK,
		"phase", resp.Phase(),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	// Handling may outlive the read deadline (stop joins the capture worker).
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	_ = json.NewEncoder(conn).Encode(resp)
}

func readRequest(r io.Reader) (Request, error) {
	line, err := bufio.NewReader(io.LimitReader(r, maxRequestBytes)).ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) >= maxRequestBytes {
			return Request{}, fmt.Errorf("read request: exceeds %d bytes", maxRequestBytes)
		}
		return Request{}, fmt.Errorf("read request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if !req.Command.Valid() {
		return Request{}, fmt.Errorf("unknown command %q", req.Command)
	}
	return req, nil
}

// Serve runs a default server for handler on listener.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return NewServer(handler, nil).Serve(ctx, listener)
}
