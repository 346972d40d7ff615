package audio

import (
	"io"
	"sync"
	"time"
)

// DefaultReadTimeout bounds how long Stream.Read waits before reporting an empty poll.
const DefaultReadTimeout = 100 * time.Millisecond

// chunkQueue buffers PCM pushed by a backend callback until Read drains it.
type chunkQueue struct {
	timeout time.Duration

	mu      sync.Mutex
	pending []byte
	closed  bool
	notify  chan struct{}
	written int64
}

func newChunkQueue(timeout time.Duration) *chunkQueue {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &chunkQueue{
		timeout: timeout,
		notify:  make(chan struct{}, 1),
	}
}

// push appends backend PCM. It returns io.EOF once the queue is closed.
func (q *chunkQueue) push(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, io.EOF
	}
	q.pending = append(q.pending, buffer...)
	q.written += int64(len(buffer))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return len(buffer), nil
}

// Read copies buffered PCM into p, waiting up to the queue timeout for data.
func (q *chunkQueue) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if n, ok, err := q.drain(p); ok {
		return n, err
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case <-q.notify:
	case <-timer.C:
	}

	n, _, err := q.drain(p)
	return n, err
}

// drain reports ok when Read can return without waiting.
func (q *chunkQueue) drain(p []byte) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) > 0 {
		n := copy(p, q.pending)
		q.pending = q.pending[n:]
		if len(q.pending) == 0 {
			q.pending = nil
		}
		return n, true, nil
	}
	if q.closed {
		return 0, true, io.EOF
	}
	return 0, false, nil
}

// close stops accepting PCM. Buffered bytes remain readable.
func (q *chunkQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// bytesWritten reports total bytes accepted from the backend.
func (q *chunkQueue) bytesWritten() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// writerFunc adapts a function to io.Writer for backend callbacks.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
