// Package output dispatches a recognized song to the user's clipboard.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/songid/internal/config"
)

const clipboardTimeout = 2 * time.Second

// Committer pipes recognized song text into the configured clipboard command.
type Committer struct {
	argv   []string
	logger *slog.Logger
}

// NewCommitter constructs a committer from output config. With no clipboard
// command configured, Commit is a no-op.
func NewCommitter(cfg config.OutputConfig, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Committer{argv: cfg.Clipboard.Argv, logger: logger}
}

// Enabled reports whether a clipboard command is configured.
func (c *Committer) Enabled() bool {
	return len(c.argv) > 0
}

// Commit writes text to the clipboard command's stdin.
func (c *Committer) Commit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || !c.Enabled() {
		return nil
	}

	clipboardCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(clipboardCtx, c.argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	c.logger.Debug("song copied to clipboard", "command", c.argv[0], "chars", len(text))
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
