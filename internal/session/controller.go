// Package session coordinates recording, recognition, and the UI-facing state snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/fsm"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/recorder"
)

var (
	// ErrPermissionDenied means recording was requested without microphone permission.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNoRecording means recognition was requested without a captured buffer.
	ErrNoRecording = errors.New("no recorded audio available")
	// ErrTooShort means the capture ended before the minimum duration.
	ErrTooShort = errors.New("recording too short")
)

// Recorder is the capture surface the controller drives.
type Recorder interface {
	Start(context.Context) error
	Stop() error
	Reset()
	RecordedData() ([]byte, bool)
	Status() recorder.Status
	Subscribe() (<-chan recorder.Status, func())
	Format() audio.Format
}

// Ticker drives the elapsed-seconds counter.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

// Options tunes controller behavior. A zero MinDuration disables the length
// check and a zero RetryWindow makes Run return on the first failure; other
// zero values take defaults.
type Options struct {
	MinDuration  time.Duration
	RetryWindow  time.Duration
	TickInterval time.Duration
	NewTicker    func(time.Duration) Ticker
	Clips        ClipSaver
	Committer    Committer
}

// Controller is the single writer of UiState.
type Controller struct {
	logger *slog.Logger
	rec    Recorder
	client recognition.Client
	perms  Permissions

	minDuration  time.Duration
	retryWindow  time.Duration
	tickInterval time.Duration
	newTicker    func(time.Duration) Ticker
	clips        ClipSaver
	commit       Committer

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// opMu serializes user operations and recorder completion handling.
	opMu sync.Mutex

	mu                sync.Mutex
	state             UiState
	pendingStart      bool
	activeRun         string
	lastBuffer        []byte
	lastErr           error
	generation        uint64
	cancelRecognition context.CancelFunc
	subs              map[int]chan UiState
	nextSub           int

	tickMu   sync.Mutex
	tickStop chan struct{}
	tickWG   sync.WaitGroup

	recognizeWG sync.WaitGroup

	unsubscribe func()
	watchDone   chan struct{}
	closeOnce   sync.Once
	cancelled   chan struct{}
}

// NewController wires the collaborators and starts watching the recorder.
func NewController(
	logger *slog.Logger,
	rec Recorder,
	client recognition.Client,
	perms Permissions,
	opts Options,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if perms == nil {
		perms = NewStaticPermissions(true)
	}
	if opts.MinDuration < 0 {
		opts.MinDuration = 0
	}
	if opts.RetryWindow < 0 {
		opts.RetryWindow = 0
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		logger:       logger,
		rec:          rec,
		client:       client,
		perms:        perms,
		minDuration:  opts.MinDuration,
		retryWindow:  opts.RetryWindow,
		tickInterval: opts.TickInterval,
		newTicker:    opts.NewTicker,
		clips:        opts.Clips,
		commit:       opts.Committer,
		baseCtx:      ctx,
		baseCancel:   cancel,
		state:        initialState(perms.Granted()),
		subs:         make(map[int]chan UiState),
		watchDone:    make(chan struct{}),
		cancelled:    make(chan struct{}, 1),
	}

	updates, unsubscribe := rec.Subscribe()
	c.unsubscribe = unsubscribe
	go c.watchRecorder(updates)
	return c
}

// State returns the current snapshot.
func (c *Controller) State() UiState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the current failure state, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe returns a snapshot stream that always holds the latest state,
// plus a function that ends the subscription.
func (c *Controller) Subscribe() (<-chan UiState, func()) {
	ch := make(chan UiState, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// update applies fn to the state and publishes the result as one snapshot.
func (c *Controller) update(fn func(*UiState)) UiState {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.publishLocked()
	return c.state
}

func (c *Controller) publishLocked() {
	snapshot := c.state
	for _, ch := range c.subs {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.state.ErrorMessage = userMessage(err)
	c.publishLocked()
}

// StartRecording checks permission, clears stale state, and starts capture.
// Without permission it requests it and defers the start until granted.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startRecordingLocked(ctx)
}

func (c *Controller) startRecordingLocked(ctx context.Context) error {
	if !c.State().PermissionGranted {
		if !c.perms.Granted() {
			c.mu.Lock()
			c.pendingStart = true
			c.lastErr = ErrPermissionDenied
			c.state.ErrorMessage = msgPermissionRequired
			c.publishLocked()
			c.mu.Unlock()

			c.logger.Info("microphone permission missing; requesting")
			c.perms.Request()
			return ErrPermissionDenied
		}
		c.update(func(s *UiState) { s.PermissionGranted = true })
	}

	if c.rec.Status().State == fsm.StateRecording {
		return nil
	}

	c.cancelInflight()
	c.stopTicker()
	if c.rec.Status().State != fsm.StateIdle {
		c.rec.Reset()
	}

	c.mu.Lock()
	c.pendingStart = false
	c.lastBuffer = nil
	c.lastErr = nil
	c.state.Recording = fsm.StateIdle
	c.state.Recognition, _ = fsm.TransitionRecognition(c.state.Recognition, fsm.RecognitionEventDiscard)
	c.state.ElapsedSeconds = 0
	c.state.ErrorMessage = ""
	c.state.Song = nil
	c.state.ProgressText = ""
	c.publishLocked()
	c.mu.Unlock()

	if err := c.rec.Start(ctx); err != nil {
		c.mu.Lock()
		c.state.Recording = c.rec.Status().State
		if errors.Is(err, audio.ErrPermissionDenied) {
			c.state.PermissionGranted = false
		}
		c.mu.Unlock()
		c.setError(err)
		return err
	}

	runID := c.rec.Status().RunID
	c.mu.Lock()
	c.activeRun = runID
	c.state.Recording = fsm.StateRecording
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("recording started", "run_id", runID)
	c.startTicker()

	// The worker may have ended before activeRun was set; the watcher would
	// then have skipped its status.
	if status := c.rec.Status(); status.RunID == runID && status.State != fsm.StateRecording {
		if c.claimCapture(runID) {
			return c.finishCapture()
		}
	}
	return nil
}

// StopRecording stops capture and, when a buffer was captured, starts recognition.
// It is a no-op when nothing is recording.
func (c *Controller) StopRecording(_ context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.claimCapture("") {
		return nil
	}
	if err := c.rec.Stop(); err != nil {
		c.logger.Warn("recorder stop reported failure", "error", err.Error())
	}
	return c.finishCapture()
}

// claimCapture hands completion of the active run to exactly one caller.
// An empty runID claims whichever run is active.
func (c *Controller) claimCapture(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRun == "" {
		return false
	}
	if runID != "" && runID != c.activeRun {
		return false
	}
	c.activeRun = ""
	return true
}

// watchRecorder finishes runs the recorder ended on its own: max duration,
// focus loss, or a device failure.
func (c *Controller) watchRecorder(updates <-chan recorder.Status) {
	defer close(c.watchDone)
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if status.State != fsm.StateCompleted && status.State != fsm.StateError {
				continue
			}
			c.opMu.Lock()
			if c.claimCapture(status.RunID) {
				c.logger.Info("recording ended by recorder", "run_id", status.RunID, "state", status.State)
				_ = c.finishCapture()
			}
			c.opMu.Unlock()
		}
	}
}

// finishCapture reads the frozen buffer and moves on to recognition.
func (c *Controller) finishCapture() error {
	c.stopTicker()

	status := c.rec.Status()
	data, ok := c.rec.RecordedData()
	if !ok {
		err := status.Err
		if err == nil {
			err = recorder.ErrNoAudio
		}
		c.mu.Lock()
		c.state.Recording = status.State
		c.state.ProgressText = ""
		c.mu.Unlock()
		c.setError(err)
		c.logger.Error("recording produced no audio", "run_id", status.RunID, "error", err.Error())
		return err
	}

	c.update(func(s *UiState) {
		s.Recording = fsm.StateCompleted
		s.ProgressText = ""
	})

	duration := c.rec.Format().Duration(len(data))
	if duration < c.minDuration {
		c.mu.Lock()
		c.lastErr = ErrTooShort
		c.state.ErrorMessage = fmt.Sprintf("Recording too short, minimum %d seconds required", int(c.minDuration.Seconds()))
		c.publishLocked()
		c.mu.Unlock()
		c.logger.Info("recording too short", "run_id", status.RunID, "duration_ms", duration.Milliseconds())
		return ErrTooShort
	}

	c.mu.Lock()
	c.lastBuffer = data
	c.mu.Unlock()

	c.saveClip(data)
	return c.submit(data)
}

func (c *Controller) saveClip(data []byte) {
	if c.clips == nil {
		return
	}
	path, err := c.clips.Save(data, c.rec.Format())
	if err != nil {
		c.logger.Warn("save debug clip failed", "error", err.Error())
		return
	}
	c.logger.Debug("debug clip saved", "path", path)
}

// RetryRecognition resubmits the last captured buffer without re-recording.
func (c *Controller) RetryRecognition(_ context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	buffer := c.lastBuffer
	recording := c.state.Recording
	c.mu.Unlock()

	if recording != fsm.StateCompleted || len(buffer) == 0 {
		c.setError(ErrNoRecording)
		return ErrNoRecording
	}
	c.logger.Info("retrying recognition", "bytes", len(buffer))
	return c.submit(buffer)
}

// OnPermissionResult records the platform answer and resumes a deferred start.
func (c *Controller) OnPermissionResult(granted bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	pending := c.pendingStart
	c.pendingStart = false
	c.state.PermissionGranted = granted
	if granted {
		if c.state.ErrorMessage == msgPermissionRequired || c.state.ErrorMessage == msgPermissionDenied {
			c.state.ErrorMessage = ""
		}
		if errors.Is(c.lastErr, ErrPermissionDenied) {
			c.lastErr = nil
		}
	} else {
		c.lastErr = ErrPermissionDenied
		c.state.ErrorMessage = msgPermissionDenied
	}
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("microphone permission result", "granted", granted, "pending_start", pending)
	if granted && pending {
		return c.startRecordingLocked(c.baseCtx)
	}
	return nil
}

// ClearError clears only the error message.
func (c *Controller) ClearError() {
	c.update(func(s *UiState) { s.ErrorMessage = "" })
}

// ResetRecording stops everything and returns to idle.
func (c *Controller) ResetRecording() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.stopTicker()
	c.cancelInflight()
	c.claimCapture("")
	if err := c.rec.Stop(); err != nil {
		c.logger.Debug("recorder stop during reset", "error", err.Error())
	}
	c.rec.Reset()

	c.mu.Lock()
	c.pendingStart = false
	c.lastBuffer = nil
	c.lastErr = nil
	c.state.Recording = fsm.StateIdle
	c.state.Recognition, _ = fsm.TransitionRecognition(c.state.Recognition, fsm.RecognitionEventDiscard)
	c.state.ElapsedSeconds = 0
	c.state.ErrorMessage = ""
	c.state.Song = nil
	c.state.ProgressText = ""
	c.publishLocked()
	c.mu.Unlock()
}

// Cancel resets the session and wakes Run with a cancelled result.
func (c *Controller) Cancel() {
	c.ResetRecording()
	select {
	case c.cancelled <- struct{}{}:
	default:
	}
}

// Close cancels everything, resets the recorder, and stops background work.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.ResetRecording()
		c.baseCancel()
		c.unsubscribe()
		<-c.watchDone
		c.recognizeWG.Wait()
	})
}

func (c *Controller) startTicker() {
	ticker := c.newTicker(c.tickInterval)
	stop := make(chan struct{})

	c.tickMu.Lock()
	c.tickStop = stop
	c.tickMu.Unlock()

	c.tickWG.Add(1)
	go func() {
		defer c.tickWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				c.update(func(s *UiState) {
					if s.Recording == fsm.StateRecording {
						s.ElapsedSeconds++
					}
				})
			}
		}
	}()
}

// stopTicker returns only after the ticker goroutine has exited.
func (c *Controller) stopTicker() {
	c.tickMu.Lock()
	stop := c.tickStop
	c.tickStop = nil
	c.tickMu.Unlock()

	if stop != nil {
		close(stop)
	}
	c.tickWG.Wait()
}
