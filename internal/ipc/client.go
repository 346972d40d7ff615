package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrNoSession means nothing owns the socket: it is missing or refuses connections.
var ErrNoSession = errors.New("no active songid session")

// CommandError is a refusal reported by the running session.
type CommandError struct {
	Command Command
	Message string
	Session *Snapshot
}

func (e *CommandError) Error() string {
	return e.Message
}

// Client sends commands to the session that owns Path.
type Client struct {
	Path    string
	Timeout time.Duration
}

// Send performs one request/response roundtrip. A refused command returns
// its reply alongside a *CommandError.
func (c Client) Send(ctx context.Context, command Command) (Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 220 * time.Millisecond
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.Path)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrNoSession, err)
		}
		return Response{}, fmt.Errorf("dial session socket: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(Request{Command: command}); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = fmt.Sprintf("session refused %s", command)
		}
		return resp, &CommandError{Command: command, Message: msg, Session: resp.Session}
	}
	return resp, nil
}

// Probe reports whether a responsive session owns path. Refused commands
// still count as alive.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Client{Path: path, Timeout: timeout}.Send(ctx, CommandStatus)
	var cmdErr *CommandError
	switch {
	case err == nil, errors.As(err, &cmdErr):
		return true, nil
	case errors.Is(err, ErrNoSession):
		return false, nil
	default:
		return false, fmt.Errorf("probe socket: %w", err)
	}
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
