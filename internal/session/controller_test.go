package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/fsm"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/recorder"
	"github.com/rbright/songid/internal/wav"
)

const threeSeconds = 44100 * 2 * 3

var songA = recognition.Song{
	Title:      "Song A",
	Artists:    []string{"Artist X"},
	DurationMS: 180000,
}

func TestStartWithoutPermissionRequestsItAndDefersStart(t *testing.T) {
	perms := &fakePermissions{}
	opens := atomic.Int32{}
	opener := audio.OpenerFunc(func(context.Context, audio.Source, audio.Format, int) (audio.Stream, error) {
		opens.Add(1)
		return newToneStream(threeSeconds), nil
	})
	h := newHarness(t, opener, nil, Options{}, perms)

	err := h.ctl.StartRecording(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, 1, perms.requests())
	require.Zero(t, opens.Load())

	state := h.ctl.State()
	require.Equal(t, fsm.StateIdle, state.Recording)
	require.False(t, state.PermissionGranted)
	require.Equal(t, "Microphone permission is required", state.ErrorMessage)

	require.NoError(t, h.ctl.OnPermissionResult(true))
	waitFor(t, h.ctl, func(s UiState) bool { return s.Recording == fsm.StateRecording })
	require.Empty(t, h.ctl.State().ErrorMessage)
	require.True(t, h.ctl.State().PermissionGranted)
	require.EqualValues(t, 1, opens.Load())
}

func TestPermissionDeniedResultSetsMessage(t *testing.T) {
	perms := &fakePermissions{}
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), nil, Options{}, perms)

	require.ErrorIs(t, h.ctl.StartRecording(context.Background()), ErrPermissionDenied)
	require.NoError(t, h.ctl.OnPermissionResult(false))

	state := h.ctl.State()
	require.Equal(t, fsm.StateIdle, state.Recording)
	require.False(t, state.PermissionGranted)
	require.Equal(t, "Microphone permission is required for audio search", state.ErrorMessage)
}

func TestRecordThreeSecondsAndRecognize(t *testing.T) {
	var (
		mu       sync.Mutex
		received []byte
	)
	client := recognition.ClientFunc(func(_ context.Context, sample []byte) (recognition.Song, error) {
		mu.Lock()
		received = append([]byte(nil), sample...)
		mu.Unlock()
		return songA, nil
	})
	committed := make(chan string, 1)
	clips := &fakeClips{}
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), client, Options{
		MinDuration: 3 * time.Second,
		Clips:       clips,
		Committer: CommitFunc(func(_ context.Context, text string) error {
			committed <- text
			return nil
		}),
	}, nil)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	require.True(t, h.ctl.State().CanStopRecording())
	waitForBytes(t, h.rec, threeSeconds)
	require.NoError(t, h.ctl.StopRecording(context.Background()))

	state := waitFor(t, h.ctl, func(s UiState) bool { return s.HasResult() })
	require.Equal(t, fsm.StateCompleted, state.Recording)
	require.Equal(t, "Song A", state.Song.Title)
	require.Equal(t, []string{"Artist X"}, state.Song.Artists)
	require.EqualValues(t, 180000, state.Song.DurationMS)
	require.Empty(t, state.ErrorMessage)
	require.Empty(t, state.ProgressText)
	require.Equal(t, "Song A — Artist X", <-committed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, wav.HeaderSize+threeSeconds)
	header, err := wav.ParseHeader(received)
	require.NoError(t, err)
	require.Equal(t, audio.DefaultFormat(), header.Format())
	require.EqualValues(t, threeSeconds, header.DataSize)

	require.Equal(t, 1, clips.count())
}

func TestNoMatchThenRetryReusesBuffer(t *testing.T) {
	var (
		mu      sync.Mutex
		samples [][]byte
	)
	client := recognition.ClientFunc(func(_ context.Context, sample []byte) (recognition.Song, error) {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, append([]byte(nil), sample...))
		if len(samples) == 1 {
			return recognition.Song{}, recognition.ErrNoMatch
		}
		return songA, nil
	})
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), client, Options{MinDuration: 3 * time.Second}, nil)

	recordAndStop(t, h, threeSeconds)

	state := waitFor(t, h.ctl, func(s UiState) bool { return s.Recognition == fsm.RecognitionFailed })
	require.Equal(t, "No matching song found", state.ErrorMessage)
	require.True(t, state.CanStartRecognition())
	require.ErrorIs(t, h.ctl.LastError(), recognition.ErrNoMatch)

	require.NoError(t, h.ctl.RetryRecognition(context.Background()))
	state = waitFor(t, h.ctl, func(s UiState) bool { return s.HasResult() })
	require.Empty(t, state.ErrorMessage)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, samples, 2)
	require.True(t, bytes.Equal(samples[0], samples[1]))
}

func TestRetryCancelsInflightAttempt(t *testing.T) {
	calls := atomic.Int32{}
	firstCancelled := make(chan struct{})
	client := recognition.ClientFunc(func(ctx context.Context, _ []byte) (recognition.Song, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			close(firstCancelled)
			return recognition.Song{}, errors.Join(recognition.ErrNetwork, ctx.Err())
		}
		return songA, nil
	})
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), client, Options{}, nil)

	recordAndStop(t, h, threeSeconds)
	waitFor(t, h.ctl, func(s UiState) bool { return s.IsProcessing() && calls.Load() == 1 })

	require.NoError(t, h.ctl.RetryRecognition(context.Background()))
	<-firstCancelled

	state := waitFor(t, h.ctl, func(s UiState) bool { return s.HasResult() })
	require.Empty(t, state.ErrorMessage)
	require.NoError(t, h.ctl.LastError())
	require.EqualValues(t, 2, calls.Load())
}

func TestLateResultFromSupersededAttemptIsDropped(t *testing.T) {
	calls := atomic.Int32{}
	release := make(chan struct{})
	client := recognition.ClientFunc(func(_ context.Context, _ []byte) (recognition.Song, error) {
		if calls.Add(1) == 1 {
			// ignores cancellation and answers after the retry has resolved
			<-release
			return recognition.Song{Title: "Stale", Artists: []string{"Old Artist"}}, nil
		}
		return songA, nil
	})

	var mu sync.Mutex
	var committed []string
	committer := CommitFunc(func(_ context.Context, text string) error {
		mu.Lock()
		defer mu.Unlock()
		committed = append(committed, text)
		return nil
	})
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), client, Options{Committer: committer}, nil)

	recordAndStop(t, h, threeSeconds)
	waitFor(t, h.ctl, func(s UiState) bool { return s.IsProcessing() && calls.Load() == 1 })

	require.NoError(t, h.ctl.RetryRecognition(context.Background()))
	waitFor(t, h.ctl, func(s UiState) bool { return s.HasResult() })

	close(release)
	h.ctl.recognizeWG.Wait()

	state := h.ctl.State()
	require.Equal(t, fsm.RecognitionSuccess, state.Recognition)
	require.NotNil(t, state.Song)
	require.Equal(t, "Song A", state.Song.Title)
	require.Empty(t, state.ErrorMessage)
	require.NoError(t, h.ctl.LastError())
	require.EqualValues(t, 2, calls.Load())

	mu.Lock()
	require.Equal(t, []string{"Song A — Artist X"}, committed)
	mu.Unlock()
}

func TestOddLengthCaptureIsRecognized(t *testing.T) {
	total := threeSeconds + 1
	sizes := make(chan int, 1)
	client := recognition.ClientFunc(func(_ context.Context, sample []byte) (recognition.Song, error) {
		sizes <- len(sample)
		return songA, nil
	})
	h := newHarness(t, fixedOpener(newToneStream(total)), client, Options{}, nil)

	recordAndStop(t, h, total)

	state := waitFor(t, h.ctl, func(s UiState) bool { return s.HasResult() })
	require.Equal(t, "Song A", state.Song.Title)
	require.Equal(t, wav.HeaderSize+total, <-sizes)
}

func TestRetryWithoutRecordingFails(t *testing.T) {
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), nil, Options{}, nil)

	err := h.ctl.RetryRecognition(context.Background())
	require.ErrorIs(t, err, ErrNoRecording)
	require.Equal(t, "Please record audio first", h.ctl.State().ErrorMessage)
}

func TestTooShortRecordingSkipsRecognition(t *testing.T) {
	calls := atomic.Int32{}
	client := recognition.ClientFunc(func(context.Context, []byte) (recognition.Song, error) {
		calls.Add(1)
		return songA, nil
	})
	oneSecond := 44100 * 2
	h := newHarness(t, fixedOpener(newToneStream(oneSecond)), client, Options{MinDuration: 3 * time.Second}, nil)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	waitForBytes(t, h.rec, oneSecond)
	require.ErrorIs(t, h.ctl.StopRecording(context.Background()), ErrTooShort)

	state := h.ctl.State()
	require.Equal(t, fsm.StateCompleted, state.Recording)
	require.Equal(t, fsm.RecognitionIdle, state.Recognition)
	require.Equal(t, "Recording too short, minimum 3 seconds required", state.ErrorMessage)
	require.True(t, state.Settled())
	require.Zero(t, calls.Load())

	require.ErrorIs(t, h.ctl.RetryRecognition(context.Background()), ErrNoRecording)
}

func TestRecorderAutoStopStartsRecognition(t *testing.T) {
	cfg := testRecorderConfig()
	cfg.MaxDuration = 80 * time.Millisecond
	rec := recorder.New(cfg, fixedOpener(newToneStream(threeSeconds)), audio.NewExclusiveFocus(), nil)
	client := recognition.ClientFunc(func(context.Context, []byte) (recognition.Song, error) {
		return songA, nil
	})
	ctl := NewController(nil, rec, client, nil, Options{NewTicker: newManualTicker().factory})
	t.Cleanup(ctl.Close)

	require.NoError(t, ctl.StartRecording(context.Background()))

	state := waitFor(t, ctl, func(s UiState) bool { return s.HasResult() })
	require.Equal(t, fsm.StateCompleted, state.Recording)
	require.Equal(t, fsm.StateCompleted, rec.Status().State)
	require.NoError(t, ctl.StopRecording(context.Background()))
}

func TestDeviceFailureSurfacesMessage(t *testing.T) {
	opener := audio.OpenerFunc(func(context.Context, audio.Source, audio.Format, int) (audio.Stream, error) {
		return nil, audio.ErrSourceUnavailable
	})
	h := newHarness(t, opener, nil, Options{}, nil)

	err := h.ctl.StartRecording(context.Background())
	require.ErrorIs(t, err, recorder.ErrDeviceUnavailable)

	state := h.ctl.State()
	require.Equal(t, fsm.StateError, state.Recording)
	require.Contains(t, state.ErrorMessage, "No usable microphone")
	require.True(t, state.Settled())
	require.True(t, state.CanStartRecording())

	// A fresh start resets the failed recorder first.
	err = h.ctl.StartRecording(context.Background())
	require.ErrorIs(t, err, recorder.ErrDeviceUnavailable)
}

func TestMicrophoneRefusalRevokesPermission(t *testing.T) {
	opener := audio.OpenerFunc(func(context.Context, audio.Source, audio.Format, int) (audio.Stream, error) {
		return nil, audio.ErrPermissionDenied
	})
	h := newHarness(t, opener, nil, Options{}, nil)

	err := h.ctl.StartRecording(context.Background())
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	require.False(t, h.ctl.State().PermissionGranted)
	require.Equal(t, "Microphone permission is required", h.ctl.State().ErrorMessage)
}

func TestClearErrorOnlyClearsMessage(t *testing.T) {
	client := recognition.ClientFunc(func(context.Context, []byte) (recognition.Song, error) {
		return recognition.Song{}, recognition.ErrNoMatch
	})
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), client, Options{}, nil)

	recordAndStop(t, h, threeSeconds)
	waitFor(t, h.ctl, func(s UiState) bool { return s.Recognition == fsm.RecognitionFailed })

	h.ctl.ClearError()
	state := h.ctl.State()
	require.Empty(t, state.ErrorMessage)
	require.Equal(t, fsm.RecognitionFailed, state.Recognition)
	require.Equal(t, fsm.StateCompleted, state.Recording)
}

func TestResetRecordingCancelsRecognition(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	client := recognition.ClientFunc(func(ctx context.Context, _ []byte) (recognition.Song, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return recognition.Song{}, ctx.Err()
	})
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), client, Options{}, nil)

	recordAndStop(t, h, threeSeconds)
	<-started

	h.ctl.ResetRecording()
	<-cancelled

	state := h.ctl.State()
	require.Equal(t, fsm.StateIdle, state.Recording)
	require.Equal(t, fsm.RecognitionIdle, state.Recognition)
	require.Zero(t, state.ElapsedSeconds)
	require.Empty(t, state.ErrorMessage)
	require.Nil(t, state.Song)
	require.Equal(t, fsm.StateIdle, h.rec.Status().State)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, fsm.RecognitionIdle, h.ctl.State().Recognition)
}

func TestResetWhileRecordingReleasesRecorder(t *testing.T) {
	stream := newToneStream(threeSeconds)
	h := newHarness(t, fixedOpener(stream), nil, Options{}, nil)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	h.ctl.ResetRecording()

	require.Equal(t, fsm.StateIdle, h.rec.Status().State)
	require.Equal(t, fsm.StateIdle, h.ctl.State().Recording)
	require.True(t, stream.closed.Load())
}

func TestTickerCountsElapsedSecondsWhileRecording(t *testing.T) {
	ticker := newManualTicker()
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), nil, Options{NewTicker: ticker.factory}, nil)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	ticker.tick()
	ticker.tick()
	waitFor(t, h.ctl, func(s UiState) bool { return s.ElapsedSeconds == 2 })

	waitForBytes(t, h.rec, 1)
	_ = h.ctl.StopRecording(context.Background())
	require.True(t, ticker.stopped.Load())
	require.Equal(t, 2, h.ctl.State().ElapsedSeconds)
}

func TestStartRecordingIsNoopWhileRecording(t *testing.T) {
	opens := atomic.Int32{}
	opener := audio.OpenerFunc(func(context.Context, audio.Source, audio.Format, int) (audio.Stream, error) {
		opens.Add(1)
		return newToneStream(threeSeconds), nil
	})
	h := newHarness(t, opener, nil, Options{}, nil)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	require.NoError(t, h.ctl.StartRecording(context.Background()))
	require.EqualValues(t, 1, opens.Load())
}

func TestStopRecordingIsNoopWhenIdle(t *testing.T) {
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), nil, Options{}, nil)

	require.NoError(t, h.ctl.StopRecording(context.Background()))
	require.Equal(t, fsm.StateIdle, h.ctl.State().Recording)
}

func TestMissingClientFailsRecognition(t *testing.T) {
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), nil, Options{}, nil)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	waitForBytes(t, h.rec, threeSeconds)
	require.ErrorIs(t, h.ctl.StopRecording(context.Background()), recognition.ErrNotConfigured)

	state := h.ctl.State()
	require.Equal(t, fsm.RecognitionFailed, state.Recognition)
	require.Contains(t, state.ErrorMessage, "not configured")
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	h := newHarness(t, fixedOpener(newToneStream(threeSeconds)), nil, Options{}, nil)

	updates, unsubscribe := h.ctl.Subscribe()
	defer unsubscribe()
	require.Equal(t, fsm.StateIdle, (<-updates).Recording)

	require.NoError(t, h.ctl.StartRecording(context.Background()))
	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return s.Recording == fsm.StateRecording
		default:
			return false
		}
	}, 2*time.Second, 2*time.Millisecond)
}

type harness struct {
	ctl *Controller
	rec *recorder.Recorder
}

func newHarness(t *testing.T, opener audio.Opener, client recognition.Client, opts Options, perms Permissions) harness {
	t.Helper()
	rec := recorder.New(testRecorderConfig(), opener, audio.NewExclusiveFocus(), nil)
	if opts.NewTicker == nil {
		opts.NewTicker = newManualTicker().factory
	}
	ctl := NewController(nil, rec, client, perms, opts)
	t.Cleanup(ctl.Close)
	return harness{ctl: ctl, rec: rec}
}

func testRecorderConfig() recorder.Config {
	cfg := recorder.DefaultConfig()
	cfg.ChunkBytes = 16384
	cfg.ReadErrorBackoff = time.Millisecond
	return cfg
}

func recordAndStop(t *testing.T, h harness, total int) {
	t.Helper()
	require.NoError(t, h.ctl.StartRecording(context.Background()))
	waitForBytes(t, h.rec, total)
	require.NoError(t, h.ctl.StopRecording(context.Background()))
}

func fixedOpener(stream audio.Stream) audio.Opener {
	return audio.OpenerFunc(func(context.Context, audio.Source, audio.Format, int) (audio.Stream, error) {
		return stream, nil
	})
}

func waitForBytes(t *testing.T, rec *recorder.Recorder, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.Status().Bytes >= want
	}, 2*time.Second, 2*time.Millisecond)
}

func waitFor(t *testing.T, ctl *Controller, cond func(UiState) bool) UiState {
	t.Helper()
	var state UiState
	require.Eventually(t, func() bool {
		state = ctl.State()
		return cond(state)
	}, 2*time.Second, 2*time.Millisecond)
	return state
}

// toneStream yields total bytes of non-silent PCM, then idles.
type toneStream struct {
	mu        sync.Mutex
	remaining int
	closed    atomic.Bool
}

func newToneStream(total int) *toneStream {
	return &toneStream{remaining: total}
}

func (s *toneStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	n := min(s.remaining, len(p))
	s.remaining -= n
	s.mu.Unlock()

	if n == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	for i := range n {
		p[i] = byte(i%200 + 1)
	}
	return n, nil
}

func (s *toneStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *toneStream) Device() audio.Device {
	return audio.Device{ID: "test-mic"}
}

type fakePermissions struct {
	mu      sync.Mutex
	granted bool
	asked   int
}

func (p *fakePermissions) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

func (p *fakePermissions) Request() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked++
}

func (p *fakePermissions) requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asked
}

type fakeClips struct {
	mu    sync.Mutex
	saved [][]byte
}

func (c *fakeClips) Save(pcm []byte, _ audio.Format) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, pcm)
	return "/tmp/clip.wav", nil
}

func (c *fakeClips) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saved)
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) factory(time.Duration) Ticker {
	m.stopped.Store(false)
	return m
}

func (m *manualTicker) C() <-chan time.Time {
	return m.ch
}

func (m *manualTicker) Stop() {
	m.stopped.Store(true)
}

func (m *manualTicker) tick() {
	m.ch <- time.Now()
}
