package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReplacesStaleSocketFile(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "songid.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 50 * time.Millisecond, Retries: 2})
	require.NoError(t, err)
	require.Equal(t, socketPath, listener.Path())

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.ModeSocket, info.Mode().Type())
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, listener.Close())
}

func TestAcquireReturnsAlreadyRunningWhenSessionAnswers(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "songid.sock")
	owner, err := Acquire(context.Background(), socketPath, AcquireOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, owner, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true, Session: &Snapshot{Phase: "recording", Recording: "recording", Recognition: "idle"}}
		}))
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 80 * time.Millisecond, Retries: 1})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, owner.Close())
}

func TestAcquireKeepsSocketWhenProbeInconclusive(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "songid.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 30 * time.Millisecond})
	require.ErrorContains(t, err, "probe existing socket")
	require.NotErrorIs(t, err, ErrAlreadyRunning)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestListenerCloseRemovesSocketOnce(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "run", "songid.sock")
	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{})
	require.NoError(t, err)

	dirInfo, err := os.Stat(filepath.Dir(socketPath))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	require.NoError(t, listener.Close())
	require.NoError(t, listener.Close())
	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	// a later owner can take over the same path
	next, err := Acquire(context.Background(), socketPath, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, next.Close())
}

func TestServeStopsOnAcquiredListener(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "songid.sock")
	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true, Message: "cancelled"}
		}), nil).Serve(ctx, listener)
	}()

	resp, err := Client{Path: socketPath, Timeout: 200 * time.Millisecond}.Send(context.Background(), CommandCancel)
	require.NoError(t, err)
	require.Equal(t, "cancelled", resp.Message)

	cancel()
	require.NoError(t, <-done)

	_, err = Client{Path: socketPath}.Send(context.Background(), CommandStatus)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRuntimeSocketPathUsesXDGRuntimeDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	path, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "songid.sock"), path)
}

func TestRuntimeSocketPathFallsBackToPerUserTempDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("TMPDIR", tmp)

	path, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, fmt.Sprintf("songid-%d", os.Getuid()), "songid.sock"), path)
}
