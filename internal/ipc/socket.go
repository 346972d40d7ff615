package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrAlreadyRunning means another process owns the session socket.
var ErrAlreadyRunning = errors.New("songid session already running")

// RuntimeSocketPath returns the session socket under XDG_RUNTIME_DIR, or a
// per-user directory in the temp dir when it is unset.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		tmp := os.TempDir()
		if tmp == "" {
			return "", errors.New("XDG_RUNTIME_DIR is not set and no temp dir is available")
		}
		runtimeDir = filepath.Join(tmp, fmt.Sprintf("songid-%d", os.Getuid()))
	}
	return filepath.Join(runtimeDir, "songid.sock"), nil
}

// AcquireOptions tunes how Acquire treats an existing socket file.
type AcquireOptions struct {
	// ProbeTimeout bounds the status probe sent to a possible owner.
	ProbeTimeout time.Duration
	// Retries is how many times a stale socket is replaced before giving up.
	Retries int
	Logger  *slog.Logger
}

// Listener is the owned session socket. Closing it removes the socket file.
type Listener struct {
	net.Listener
	path   string
	logger *slog.Logger
	once   sync.Once
}

// Path returns the socket file this listener owns.
func (l *Listener) Path() string {
	return l.path
}

// Close stops accepting and unlinks the socket. It is safe to call more than once.
func (l *Listener) Close() error {
	err := l.Listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	l.once.Do(func() {
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			l.logger.Warn("remove session socket failed", "path", l.path, "error", rmErr.Error())
		}
	})
	return err
}

// Acquire makes this process the session owner on path. A live owner yields
// ErrAlreadyRunning; a socket nobody answers on is replaced.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Listener, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 180 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		ln, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return &Listener{Listener: ln, path: path, logger: logger}, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		logger.Info("replacing stale session socket", "path", path, "attempt", attempt+1)
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}

		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
