package recognition

import "context"

// Client identifies the song in a WAV clip.
type Client interface {
	Identify(ctx context.Context, wav []byte) (Song, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, wav []byte) (Song, error)

func (f ClientFunc) Identify(ctx context.Context, wav []byte) (Song, error) {
	return f(ctx, wav)
}
