package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/cli"
	"github.com/rbright/songid/internal/clips"
	"github.com/rbright/songid/internal/config"
	"github.com/rbright/songid/internal/doctor"
	"github.com/rbright/songid/internal/fsm"
	"github.com/rbright/songid/internal/ipc"
	"github.com/rbright/songid/internal/logging"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/session"
	"github.com/rbright/songid/internal/version"
)

const binaryName = "songid"

// Runner executes one CLI invocation. Opener and Client replace the platform
// capture backend and the configured recognition backend when set.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	Opener audio.Opener
	Client recognition.Client
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if parsed.Backend != "" {
		cfgLoaded.Config.Recognition.Backend = parsed.Backend
	}

	logRuntime, err := logging.New(logging.Options{
		MaxSizeMB:  cfgLoaded.Config.Log.MaxSizeMB,
		MaxBackups: cfgLoaded.Config.Log.MaxBackups,
		MaxAgeDays: cfgLoaded.Config.Log.MaxAgeDays,
		Level:      slog.LevelDebug,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"backend", cfgLoaded.Config.Recognition.Backend,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandClips:
		return r.commandClips(cfgLoaded.Config, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandRetry:
		return r.forwardOrFail(ctx, ipc.CommandRetry)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandListen:
		return r.commandListen(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandClips(cfg config.Config, logger *slog.Logger) int {
	store, err := clips.NewStore(cfg.Debug.Dir, cfg.Debug.MaxFiles, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	saved, err := store.List()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(saved) == 0 {
		fmt.Fprintf(r.Stdout, "no saved recordings in %s\n", store.Dir)
		return 0
	}
	for _, clip := range saved {
		fmt.Fprintf(r.Stdout, "%s | %.1fs | %s\n", clip.Name, clip.Duration.Seconds(), clips.FormatSize(clip.Size))
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		printStatus(r.Stdout, resp)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command ipc.Command) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active songid session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandListen stops the running session when there is one; otherwise this
// process becomes the session owner.
func (r Runner) commandListen(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if code, handled := r.forwardListen(ctx, socketPath); handled {
		return code
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		Logger:       logger,
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if code, handled := r.forwardListen(ctx, socketPath); handled {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer listener.Close()

	deps, err := r.buildSession(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer deps.close()
	for _, warning := range deps.warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", warning)
	}

	controller := deps.controller
	defer controller.Close()
	stopIndicator := startIndicator(ctx, cfg.Indicator, controller, logger)
	defer stopIndicator()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.NewServer(controller, logger).Serve(serverCtx, listener)
	}()

	stopHints := r.announceRetries(controller, time.Duration(cfg.Session.RetryWindowSeconds)*time.Second)
	result := controller.Run(ctx)
	stopHints()
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)

	if result.Cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if result.Err != nil {
		msg := result.State.ErrorMessage
		if msg == "" {
			msg = result.Err.Error()
		}
		fmt.Fprintf(r.Stderr, "error: %s\n", msg)
		return 1
	}
	if result.Song != nil {
		printSong(r.Stdout, *result.Song)
	}
	return 0
}

// forwardListen reports handled=false when no session answers on socketPath.
func (r Runner) forwardListen(ctx context.Context, socketPath string) (int, bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStop)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0, true
}

func printStatus(w io.Writer, resp ipc.Response) {
	phase := resp.Phase()
	snap := resp.Session
	switch {
	case snap != nil && snap.Song != nil:
		fmt.Fprintf(w, "%s: %s\n", phase, snap.Song.Display)
	case phase == "recording" && snap != nil:
		fmt.Fprintf(w, "%s (%ds)\n", phase, snap.ElapsedSeconds)
	case snap != nil && snap.Error != "":
		fmt.Fprintf(w, "%s: %s\n", phase, snap.Error)
	default:
		fmt.Fprintln(w, phase)
	}
	if snap != nil && snap.RetryAvailable {
		fmt.Fprintf(w, "run `%s retry` to try again\n", binaryName)
	}
}

// announceRetries tells the user on stderr when a failed attempt is waiting
// for `songid retry`. The returned function stops the announcer.
func (r Runner) announceRetries(controller *session.Controller, window time.Duration) func() {
	if window <= 0 {
		return func() {}
	}

	updates, unsubscribe := controller.Subscribe()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		announced := false
		for {
			select {
			case <-done:
				return
			case state := <-updates:
				failed := state.Recognition == fsm.RecognitionFailed
				if failed && !announced {
					fmt.Fprintf(r.Stderr, "%s; run `%s retry` within %s to try again\n", state.ErrorMessage, binaryName, window)
				}
				announced = failed
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		unsubscribe()
	}
}

func printSong(w io.Writer, song recognition.Song) {
	fmt.Fprintln(w, song.Display())
	if song.Album != "" {
		fmt.Fprintf(w, "  album:    %s\n", song.Album)
	}
	if song.DurationMS > 0 {
		fmt.Fprintf(w, "  duration: %s\n", song.FormattedDuration())
	}
	if genres := song.GenresString(); genres != "" {
		fmt.Fprintf(w, "  genres:   %s\n", genres)
	}
	if song.ReleaseDate != "" {
		fmt.Fprintf(w, "  released: %s\n", song.ReleaseDate)
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"state", session.StateLabel(result.State),
		"cancelled", result.Cancelled,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"audio_device", result.Device,
		"bytes_captured", result.BytesCaptured,
	}
	if result.Song != nil {
		fields = append(fields, "song", result.Song.Display())
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

// tryForward reports handled=false when no session owns socketPath.
func tryForward(ctx context.Context, socketPath string, command ipc.Command) (ipc.Response, bool, error) {
	client := ipc.Client{Path: socketPath, Timeout: 220 * time.Millisecond}
	resp, err := client.Send(ctx, command)
	if err == nil {
		return resp, true, nil
	}
	if errors.Is(err, ipc.ErrNoSession) {
		return ipc.Response{}, false, nil
	}

	var cmdErr *ipc.CommandError
	if errors.As(err, &cmdErr) {
		return resp, true, cmdErr
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
