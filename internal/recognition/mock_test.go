package recognition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockClientDefaults(t *testing.T) {
	mock := NewMockClient(1)
	require.Len(t, mock.Catalogue, 5)
	require.Equal(t, 2*time.Second, mock.MinDelay)
	require.Equal(t, 5*time.Second, mock.MaxDelay)
	require.InDelta(t, 0.8, mock.SuccessRate, 0.0001)
}

func TestMockClientReturnsCatalogueSongsOrNoMatch(t *testing.T) {
	mock := NewMockClient(42)
	mock.MinDelay = 0
	mock.MaxDelay = 0

	titles := map[string]bool{}
	for _, song := range mock.Catalogue {
		titles[song.Title] = true
	}

	var hits, misses int
	for range 200 {
		song, err := mock.Identify(context.Background(), nil)
		if errors.Is(err, ErrNoMatch) {
			misses++
			continue
		}
		require.NoError(t, err)
		require.True(t, titles[song.Title])
		hits++
	}
	require.Greater(t, hits, misses)
	require.Positive(t, misses)
}

func TestMockClientAlwaysMatchesAtFullSuccessRate(t *testing.T) {
	mock := NewMockClient(7)
	mock.MinDelay, mock.MaxDelay, mock.SuccessRate = 0, 0, 1

	song, err := mock.Identify(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, song.Title)
}

func TestMockClientHonorsCancellation(t *testing.T) {
	mock := NewMockClient(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Identify(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
