package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/clips"
	"github.com/rbright/songid/internal/config"
	"github.com/rbright/songid/internal/indicator"
	"github.com/rbright/songid/internal/output"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/recorder"
	"github.com/rbright/songid/internal/session"
)

type sessionDeps struct {
	controller *session.Controller
	warnings   []string
	closers    []func() error
}

func (d sessionDeps) close() {
	for _, closeFn := range d.closers {
		_ = closeFn()
	}
}

// buildSession assembles the recorder, recognition backend, clip store and
// committer behind one controller.
func (r Runner) buildSession(cfg config.Config, logger *slog.Logger) (sessionDeps, error) {
	var deps sessionDeps

	opener := r.Opener
	if opener == nil {
		opener = audio.NewOpener(time.Duration(cfg.Audio.ReadTimeoutMS) * time.Millisecond)
	}
	rec := recorder.New(recorderConfig(cfg.Audio), opener, audio.NewExclusiveFocus(), logger)

	client := r.Client
	if client == nil {
		built, closeFn, err := newRecognitionClient(cfg.Recognition, logger)
		switch {
		case errors.Is(err, recognition.ErrNotConfigured):
			deps.warnings = append(deps.warnings, err.Error())
			logger.Warn("recognition backend not configured", "backend", cfg.Recognition.Backend, "error", err.Error())
		case err != nil:
			return sessionDeps{}, err
		default:
			client = built
		}
		if closeFn != nil {
			deps.closers = append(deps.closers, closeFn)
		}
	}

	opts := session.Options{
		MinDuration: time.Duration(cfg.Session.MinDurationSeconds) * time.Second,
		RetryWindow: time.Duration(cfg.Session.RetryWindowSeconds) * time.Second,
	}
	if cfg.Debug.AudioDump {
		store, err := clips.NewStore(cfg.Debug.Dir, cfg.Debug.MaxFiles, logger)
		if err != nil {
			return sessionDeps{}, fmt.Errorf("open clip store: %w", err)
		}
		if removed, err := store.Prune(); err != nil {
			logger.Warn("prune debug clips failed", "dir", store.Dir, "error", err.Error())
		} else if removed > 0 {
			logger.Debug("pruned debug clips", "dir", store.Dir, "removed", removed)
		}
		opts.Clips = store
	}
	if committer := output.NewCommitter(cfg.Output, logger); committer.Enabled() {
		opts.Committer = committer
	}

	deps.controller = session.NewController(logger, rec, client, session.NewStaticPermissions(true), opts)
	return deps, nil
}

func recorderConfig(a config.AudioConfig) recorder.Config {
	sources := make([]audio.Source, 0, len(a.Sources))
	for _, name := range a.Sources {
		sources = append(sources, audio.Source(name))
	}
	return recorder.Config{
		Format: audio.Format{
			SampleRate:    a.SampleRate,
			Channels:      a.Channels,
			BitsPerSample: a.BitsPerSample,
		},
		Sources:                  sources,
		BufferHeadroom:           a.BufferHeadroom,
		ChunkBytes:               a.ChunkBytes,
		MaxDuration:              time.Duration(a.MaxDurationSeconds) * time.Second,
		MaxConsecutiveReadErrors: a.MaxConsecutiveReadErrors,
	}
}

// newRecognitionClient builds the configured backend. The returned close
// function is nil for backends that hold no connection.
func newRecognitionClient(cfg config.RecognitionConfig, logger *slog.Logger) (recognition.Client, func() error, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	switch cfg.Backend {
	case config.BackendMock:
		return recognition.NewMockClient(uint64(time.Now().UnixNano())), nil, nil
	case config.BackendGRPC:
		client, err := recognition.NewGRPCClient(recognition.GRPCConfig{
			Endpoint: cfg.GRPCEndpoint,
			Timeout:  timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case config.BackendACRCloud, "":
		client, err := recognition.NewACRCloudClient(recognition.ACRCloudConfig{
			Hosts:          cfg.Hosts,
			AccessKey:      cfg.AccessKey,
			AccessSecret:   cfg.AccessSecret,
			Timeout:        timeout,
			MaxSampleBytes: cfg.MaxSampleBytes,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported recognition backend %q", cfg.Backend)
	}
}

// startIndicator mirrors controller state onto notifications and cues. The
// returned stop function flushes the final state and waits for pending cues.
func startIndicator(ctx context.Context, cfg config.IndicatorConfig, controller *session.Controller, logger *slog.Logger) func() {
	notifier := indicator.New(cfg, logger)
	if !notifier.Enabled() {
		return func() {}
	}

	updates, unsubscribe := controller.Subscribe()
	followCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		notifier.Follow(followCtx, updates)
	}()

	return func() {
		cancel()
		<-done
		unsubscribe()
		notifier.Update(context.WithoutCancel(ctx), controller.State())
		notifier.Wait()
	}
}
