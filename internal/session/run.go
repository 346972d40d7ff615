package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/songid/internal/fsm"
	"github.com/rbright/songid/internal/ipc"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/wav"
)

// Result is the outcome of one listen cycle driven by Run.
type Result struct {
	State         UiState
	Cancelled     bool
	StartedAt     time.Time
	FinishedAt    time.Time
	Device        string
	BytesCaptured int
	Song          *recognition.Song
	Err           error
}

// Run records until stopped (over IPC, by the recorder, or by ctx) and waits
// for the recognition outcome. A failed attempt that still holds its buffer
// stays open for the retry window so a forwarded retry can resubmit it.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := c.StartRecording(ctx); err != nil {
		return c.result(result, false)
	}

	var (
		retryTimer    *time.Timer
		retryDeadline <-chan time.Time
		retryGen      uint64
	)
	stopRetryTimer := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer, retryDeadline = nil, nil
		}
	}
	defer stopRetryTimer()

	for {
		select {
		case <-ctx.Done():
			if retryDeadline != nil {
				return c.result(result, false)
			}
			c.ResetRecording()
			return c.result(result, true)
		case <-c.cancelled:
			return c.result(result, true)
		case <-retryDeadline:
			c.logger.Info("retry window elapsed", "window_ms", c.retryWindow.Milliseconds())
			return c.result(result, false)
		case state := <-updates:
			if !state.Settled() {
				stopRetryTimer()
				continue
			}
			gen, ok := c.awaitsRetry(state)
			if !ok {
				return c.result(result, false)
			}
			if retryTimer == nil || gen != retryGen {
				stopRetryTimer()
				retryGen = gen
				retryTimer = time.NewTimer(c.retryWindow)
				retryDeadline = retryTimer.C
				c.logger.Info("waiting for retry", "generation", gen, "window_ms", c.retryWindow.Milliseconds())
			}
		}
	}
}

// awaitsRetry reports whether state is a recognition failure that
// RetryRecognition can resubmit, along with the attempt it belongs to.
func (c *Controller) awaitsRetry(state UiState) (uint64, bool) {
	if c.retryWindow <= 0 || state.Recognition != fsm.RecognitionFailed {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, c.lastBuffer != nil && retryable(c.lastErr)
}

// retryable reports whether resubmitting the same buffer could change the outcome.
func retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, recognition.ErrNotConfigured) &&
		!errors.Is(err, wav.ErrEncoding)
}

func (c *Controller) result(result Result, cancelled bool) Result {
	status := c.rec.Status()

	c.mu.Lock()
	result.State = c.state
	result.Song = c.state.Song
	if !cancelled {
		result.Err = c.lastErr
	}
	c.mu.Unlock()

	result.Cancelled = cancelled
	result.Device = status.Device
	result.BytesCaptured = status.Bytes
	result.FinishedAt = time.Now()
	return result
}

// Handle serves commands forwarded by a second invocation over the runtime socket.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.response(true, c.State().ProgressText, nil)
	case ipc.CommandStop:
		if !c.State().CanStopRecording() {
			return c.response(true, "not recording", nil)
		}
		return c.response(true, "stopping", c.StopRecording(ctx))
	case ipc.CommandRetry:
		return c.response(true, progressIdentifying, c.RetryRecognition(ctx))
	case ipc.CommandCancel:
		c.Cancel()
		return c.response(true, "cancelled", nil)
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command), Session: c.snapshot()}
	}
}

func (c *Controller) response(ok bool, message string, err error) ipc.Response {
	resp := ipc.Response{
		OK:      ok,
		Message: message,
		Session: c.snapshot(),
	}
	if err != nil {
		resp.OK = false
		resp.Message = ""
		resp.Error = resp.Session.Error
		if resp.Error == "" {
			resp.Error = userMessage(err)
		}
	}
	return resp
}

// snapshot converts the current state into its wire form.
func (c *Controller) snapshot() *ipc.Snapshot {
	state := c.State()
	_, retry := c.awaitsRetry(state)
	snap := &ipc.Snapshot{
		Phase:          StateLabel(state),
		Recording:      string(state.Recording),
		Recognition:    string(state.Recognition),
		ElapsedSeconds: state.ElapsedSeconds,
		Progress:       state.ProgressText,
		Error:          state.ErrorMessage,
		RetryAvailable: retry,
	}
	if song := state.Song; song != nil {
		snap.Song = &ipc.Song{
			Title:      song.Title,
			Artists:    append([]string(nil), song.Artists...),
			Album:      song.Album,
			DurationMS: song.DurationMS,
			Display:    song.Display(),
		}
	}
	return snap
}

// StateLabel collapses a snapshot into the one-word status printed by `songid status`.
func StateLabel(s UiState) string {
	switch {
	case s.Recording == fsm.StateRecording:
		return "recording"
	case s.Recognition == fsm.RecognitionRecognizing:
		return "recognizing"
	case s.Recognition == fsm.RecognitionSuccess:
		return "matched"
	case s.Recognition == fsm.RecognitionFailed, s.Recording == fsm.StateError:
		return "failed"
	default:
		return string(s.Recording)
	}
}
