package session

import (
	"context"

	"github.com/rbright/songid/internal/audio"
)

// Committer dispatches the display text of a recognized song.
type Committer interface {
	Commit(context.Context, string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, text string) error {
	return f(ctx, text)
}

// ClipSaver persists a debug copy of a captured buffer.
type ClipSaver interface {
	Save(pcm []byte, format audio.Format) (string, error)
}
