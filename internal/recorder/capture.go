package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/fsm"
)

// Start acquires focus, opens the first working capture source, and launches
// the capture worker. It is a no-op while already recording.
func (r *Recorder) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	switch r.Status().State {
	case fsm.StateRecording:
		return nil
	case fsm.StateIdle:
	default:
		return ErrNotIdle
	}

	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	lease, err := r.focus.Acquire(ctx, focusOwner)
	if err != nil {
		return r.failStart(runID, fmt.Errorf("%w: acquire audio focus: %w", ErrDeviceUnavailable, err))
	}

	bufferSize := audio.BufferSize(r.cfg.Format, r.cfg.BufferHeadroom)
	stream, source, err := r.openFirst(ctx, bufferSize, logger)
	if err != nil {
		lease.Release()
		return r.failStart(runID, err)
	}

	rn := &run{
		id:   runID,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if err := r.transitionLocked(fsm.EventStart); err != nil {
		r.mu.Unlock()
		_ = stream.Close()
		lease.Release()
		return err
	}
	r.active = rn
	r.runID = runID
	r.buf = nil
	r.err = nil
	r.device = stream.Device().ID
	r.source = source
	r.publishLocked()
	r.mu.Unlock()

	logger.Info("capture started",
		"source", source,
		"device", stream.Device().ID,
		"sample_rate", r.cfg.Format.SampleRate,
		"buffer_bytes", bufferSize,
	)

	go r.capture(rn, stream, lease, logger)
	return nil
}

// openFirst walks the configured sources in order and returns the first that opens.
func (r *Recorder) openFirst(ctx context.Context, bufferSize int, logger *slog.Logger) (audio.Stream, audio.Source, error) {
	if r.opener == nil {
		return nil, "", fmt.Errorf("%w: no capture backend configured", ErrDeviceUnavailable)
	}

	var errs []error
	for _, source := range r.cfg.Sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stream, err := r.opener.Open(ctx, source, r.cfg.Format, bufferSize)
		if err == nil {
			return stream, source, nil
		}
		logger.Debug("capture source failed", "source", source, "error", err.Error())
		errs = append(errs, fmt.Errorf("%s: %w", source, err))
		if errors.Is(err, audio.ErrPermissionDenied) {
			break
		}
	}
	return nil, "", fmt.Errorf("%w: %w", ErrDeviceUnavailable, errors.Join(errs...))
}

func (r *Recorder) failStart(runID string, err error) error {
	r.mu.Lock()
	_ = r.transitionLocked(fsm.EventFail)
	r.runID = runID
	r.err = err
	r.buf = nil
	r.publishLocked()
	r.mu.Unlock()

	r.logger.Error("capture start failed", "run_id", runID, "error", err.Error())
	return err
}

// Stop signals the capture worker and waits for it to drain. It is a no-op
// when nothing is recording. A failed run returns its capture error.
func (r *Recorder) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	rn := r.active
	r.mu.Unlock()
	if rn == nil {
		return nil
	}

	rn.signalStop()
	<-rn.done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == fsm.StateError && r.runID == rn.id {
		return r.err
	}
	return nil
}

// Reset discards the buffer and returns to idle. Calling it while recording
// is a programming error and panics.
func (r *Recorder) Reset() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == fsm.StateRecording {
		panic("recorder: Reset called while recording")
	}
	_ = r.transitionLocked(fsm.EventReset)
	r.buf = nil
	r.err = nil
	r.device = ""
	r.source = ""
	r.runID = ""
	r.publishLocked()
}

type stopReason string

const (
	reasonStopped     stopReason = "stopped"
	reasonFocusLost   stopReason = "focus_lost"
	reasonMaxDuration stopReason = "max_duration"
	reasonReadError   stopReason = "read_error"
)

// capture is the background worker for one run. The device and focus lease
// are released on every exit path before the run is finalized.
func (r *Recorder) capture(rn *run, stream audio.Stream, lease audio.Lease, logger *slog.Logger) {
	var (
		pcm        []byte
		captureErr error
		reason     = reasonStopped
	)

	defer func() {
		if p := recover(); p != nil {
			captureErr = fmt.Errorf("%w: capture worker panic: %v", ErrCaptureIO, p)
			reason = reasonReadError
		}
		if err := stream.Close(); err != nil {
			logger.Warn("close capture device failed", "error", err.Error())
		}
		lease.Release()
		r.finish(rn, pcm, captureErr, reason, logger)
		close(rn.done)
	}()

	chunk := make([]byte, r.cfg.ChunkBytes)
	pcm = make([]byte, 0, r.cfg.Format.ByteRate()*5)

	deadline := time.NewTimer(r.cfg.MaxDuration)
	defer deadline.Stop()

	consecutiveErrors := 0
	for {
		select {
		case <-rn.stop:
			return
		case <-lease.Lost():
			reason = reasonFocusLost
			return
		case <-deadline.C:
			reason = reasonMaxDuration
			return
		default:
		}

		n, err := stream.Read(chunk)
		if n > 0 {
			pcm = append(pcm, chunk[:n]...)
			rn.bytes.Store(int64(len(pcm)))
			consecutiveErrors = 0
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			captureErr = fmt.Errorf("%w: device stream closed", ErrCaptureIO)
			reason = reasonReadError
			return
		}

		consecutiveErrors++
		logger.Warn("capture read failed", "error", err.Error(), "consecutive", consecutiveErrors)
		if consecutiveErrors >= r.cfg.MaxConsecutiveReadErrors {
			captureErr = fmt.Errorf("%w: %d consecutive read errors: %w", ErrCaptureIO, consecutiveErrors, err)
			reason = reasonReadError
			return
		}

		if r.cfg.ReadErrorBackoff > 0 {
			select {
			case <-rn.stop:
				return
			case <-time.After(r.cfg.ReadErrorBackoff):
			}
		}
	}
}

// finish freezes the buffer and moves the run to completed or error.
func (r *Recorder) finish(rn *run, pcm []byte, captureErr error, reason stopReason, logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != rn {
		return
	}
	r.active = nil

	if captureErr == nil && len(pcm) == 0 {
		captureErr = ErrNoAudio
	}

	if captureErr != nil {
		_ = r.transitionLocked(fsm.EventFail)
		r.err = captureErr
		r.buf = nil
		r.publishLocked()
		logger.Error("capture failed", "reason", reason, "error", captureErr.Error())
		return
	}

	_ = r.transitionLocked(fsm.EventStop)
	r.buf = pcm
	r.err = nil
	r.publishLocked()

	if isSilent(pcm) {
		logger.Warn("captured audio is all zeros; check the microphone input level", "bytes", len(pcm))
	}
	logger.Info("capture finished",
		"reason", reason,
		"bytes", len(pcm),
		"duration_ms", r.cfg.Format.Duration(len(pcm)).Milliseconds(),
	)
}

func isSilent(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return false
		}
	}
	return true
}
