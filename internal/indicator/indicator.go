// Package indicator surfaces session progress as notifications and audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/songid/internal/config"
	"github.com/rbright/songid/internal/hypr"
	"github.com/rbright/songid/internal/session"
)

const (
	progressTimeoutMS = 300000
	colorRecording    = "rgb(89b4fa)"
	colorIdentifying  = "rgb(cba6f7)"
	colorMatched      = "rgb(a6e3a1)"
	colorError        = "rgb(f38ba8)"
)

// Notifier mirrors UiState transitions onto Hyprland or freedesktop
// notifications and plays a cue on each phase change.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	emit     func(context.Context, cueKind, config.IndicatorConfig) error

	mu                    sync.Mutex
	last                  string
	desktopNotificationID uint32

	soundMu sync.Mutex
	cues    sync.WaitGroup
}

// New creates a notifier from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: defaultMessages(),
		emit:     emitCue,
	}
}

// Enabled reports whether notifications or cues are switched on.
func (n *Notifier) Enabled() bool {
	return n.cfg.Enable || n.cfg.SoundEnable
}

// Follow applies every snapshot from updates until ctx ends or the channel closes.
func (n *Notifier) Follow(ctx context.Context, updates <-chan session.UiState) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			n.Update(ctx, state)
		}
	}
}

// Update reacts to state when its phase differs from the last one seen.
func (n *Notifier) Update(ctx context.Context, state session.UiState) {
	label := session.StateLabel(state)

	n.mu.Lock()
	prev := n.last
	n.last = label
	n.mu.Unlock()

	if label == prev {
		return
	}

	switch label {
	case "recording":
		n.ShowRecording(ctx)
	case "completed":
		if prev == "recording" {
			n.playCue(cueStop)
		}
	case "recognizing":
		if prev == "recording" {
			n.playCue(cueStop)
		}
		n.ShowIdentifying(ctx)
	case "matched":
		text := ""
		if state.Song != nil {
			text = state.Song.Display()
		}
		n.ShowMatch(ctx, text)
	case "failed":
		n.ShowError(ctx, state.ErrorMessage)
	default:
		if prev == "" || prev == "idle" {
			return
		}
		if prev == "recording" || prev == "completed" || prev == "recognizing" {
			n.playCue(cueCancel)
		}
		n.Hide(ctx)
	}
}

// ShowRecording signals capture start and emits the start cue.
func (n *Notifier) ShowRecording(ctx context.Context) {
	n.playCue(cueStart)
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, hypr.IconInfo, progressTimeoutMS, colorRecording, n.messages.recording)
	})
}

// ShowIdentifying signals that the clip is with the recognition backend.
func (n *Notifier) ShowIdentifying(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, hypr.IconHint, progressTimeoutMS, colorIdentifying, n.messages.identifying)
	})
}

// ShowMatch displays the recognized song and emits the match cue.
func (n *Notifier) ShowMatch(ctx context.Context, text string) {
	n.playCue(cueMatch)
	if !n.cfg.Enable {
		return
	}
	if text == "" {
		text = n.messages.matched
	}
	timeout := n.cfg.MatchTimeoutMS
	if timeout <= 0 {
		timeout = 6000
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, hypr.IconOK, timeout, colorMatched, text)
	})
}

// ShowError displays an error-state message and emits the failure cue.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	n.playCue(cueFail)
	if !n.cfg.Enable {
		return
	}
	if text == "" {
		text = n.messages.errorText
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, hypr.IconError, timeout, colorError, text)
	})
}

// Hide dismisses the active notification.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

// Wait blocks until queued cues finish playing.
func (n *Notifier) Wait() {
	n.cues.Wait()
}

func (n *Notifier) notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if strings.EqualFold(strings.TrimSpace(n.cfg.Backend), config.IndicatorDesktop) {
		return n.notifyDesktop(ctx, timeoutMS, text)
	}
	return hypr.Notify(ctx, icon, timeoutMS, color, text)
}

func (n *Notifier) dismiss(ctx context.Context) error {
	if strings.EqualFold(strings.TrimSpace(n.cfg.Backend), config.IndicatorDesktop) {
		return n.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "songid"
	}

	id, err := desktopNotify(ctx, appName, replaceID, appName, text, timeoutMS)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes a notification call with a bounded timeout. Failures are
// logged and never reach the session.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.cues.Add(1)
	go func() {
		defer n.cues.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := n.emit(context.Background(), kind, n.cfg); err != nil {
			n.logger.Debug("indicator audio cue failed", "cue", int(kind), "error", err.Error())
		}
	}()
}
