// Package recorder owns the microphone device, audio focus, and the background capture worker.
package recorder

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/fsm"
)

var (
	// ErrDeviceUnavailable means no configured capture source could be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrCaptureIO means the device failed mid-capture.
	ErrCaptureIO = errors.New("audio capture failed")
	// ErrNoAudio means the capture ended without a single byte of PCM.
	ErrNoAudio = errors.New("no audio data captured")
	// ErrNotIdle means Start was called on a finished recording that was never reset.
	ErrNotIdle = errors.New("recorder must be reset before starting again")
)

const focusOwner = "recorder"

// Config holds capture parameters. Zero values take defaults.
type Config struct {
	Format                   audio.Format
	Sources                  []audio.Source
	BufferHeadroom           int
	ChunkBytes               int
	MaxDuration              time.Duration
	MaxConsecutiveReadErrors int
	ReadErrorBackoff         time.Duration
}

// DefaultConfig returns 44.1 kHz mono 16-bit capture with a 30 s hard limit.
func DefaultConfig() Config {
	return Config{
		Format:                   audio.DefaultFormat(),
		Sources:                  audio.DefaultSources(),
		BufferHeadroom:           4,
		MaxDuration:              30 * time.Second,
		MaxConsecutiveReadErrors: 10,
		ReadErrorBackoff:         10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Format.Validate() != nil {
		c.Format = def.Format
	}
	if len(c.Sources) == 0 {
		c.Sources = def.Sources
	}
	if c.BufferHeadroom <= 0 {
		c.BufferHeadroom = def.BufferHeadroom
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = audio.BufferSize(c.Format, c.BufferHeadroom)
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.MaxConsecutiveReadErrors <= 0 {
		c.MaxConsecutiveReadErrors = def.MaxConsecutiveReadErrors
	}
	if c.ReadErrorBackoff < 0 {
		c.ReadErrorBackoff = 0
	}
	return c
}

// Status is one published snapshot of the recorder.
type Status struct {
	State  fsm.State
	RunID  string
	Device string
	Source audio.Source
	Bytes  int
	Err    error
}

// Recorder captures one PCM buffer at a time from the first source that opens.
type Recorder struct {
	logger *slog.Logger
	opener audio.Opener
	focus  audio.Focus
	cfg    Config

	// opMu serializes Start/Stop/Reset. mu guards the snapshot fields below.
	opMu sync.Mutex

	mu     sync.Mutex
	state  fsm.State
	err    error
	buf    []byte
	device string
	source audio.Source
	runID  string
	active *run
	subs   map[int]chan Status
	nextID int
}

type run struct {
	id       string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	bytes    atomic.Int64
}

func (r *run) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// New constructs an idle recorder.
func New(cfg Config, opener audio.Opener, focus audio.Focus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if focus == nil {
		focus = audio.NewExclusiveFocus()
	}
	return &Recorder{
		logger: logger,
		opener: opener,
		focus:  focus,
		cfg:    cfg.withDefaults(),
		state:  fsm.StateIdle,
		subs:   make(map[int]chan Status),
	}
}

// Format returns the PCM format of recorded buffers.
func (r *Recorder) Format() audio.Format {
	return r.cfg.Format
}

// Status returns the current snapshot.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// Err returns the diagnostic reason for the error state, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// RecordedData returns a copy of the finalized buffer of a completed recording.
func (r *Recorder) RecordedData() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != fsm.StateCompleted || len(r.buf) == 0 {
		return nil, false
	}
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out, true
}

// Subscribe returns a status stream that always holds the latest snapshot,
// plus a function that ends the subscription.
func (r *Recorder) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	ch <- r.statusLocked()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Recorder) statusLocked() Status {
	status := Status{
		State:  r.state,
		RunID:  r.runID,
		Device: r.device,
		Source: r.source,
		Bytes:  len(r.buf),
		Err:    r.err,
	}
	if r.active != nil {
		status.Bytes = int(r.active.bytes.Load())
	}
	return status
}

// publishLocked offers the current snapshot to every subscriber, replacing
// any snapshot they have not read yet.
func (r *Recorder) publishLocked() {
	status := r.statusLocked()
	for _, ch := range r.subs {
		select {
		case ch <- status:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- status:
		default:
		}
	}
}

func (r *Recorder) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(r.state, event)
	if err != nil {
		return err
	}
	r.state = next
	return nil
}
