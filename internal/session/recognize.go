package session

import (
	"context"
	"errors"

	"github.com/rbright/songid/internal/fsm"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/wav"
)

// submit encodes buffer and launches one recognition attempt. Any attempt
// already in flight is cancelled and its result discarded.
func (c *Controller) submit(buffer []byte) error {
	c.cancelInflight()

	encoded, err := wav.Encode(buffer, c.rec.Format())
	if err != nil {
		c.failRecognition(err)
		return err
	}
	if c.client == nil {
		err := recognition.ErrNotConfigured
		c.failRecognition(err)
		return err
	}

	ctx, cancel := context.WithCancel(c.baseCtx)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.cancelRecognition = cancel
	c.lastErr = nil
	c.state.Recognition, _ = fsm.TransitionRecognition(c.state.Recognition, fsm.RecognitionEventSubmit)
	c.state.ErrorMessage = ""
	c.state.Song = nil
	c.state.ProgressText = progressIdentifying
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("recognition submitted", "generation", gen, "wav_bytes", len(encoded))

	c.recognizeWG.Add(1)
	go func() {
		defer c.recognizeWG.Done()
		defer cancel()

		c.mu.Lock()
		if c.generation == gen {
			c.state.ProgressText = progressConnecting
			c.publishLocked()
		}
		c.mu.Unlock()

		song, err := c.client.Identify(ctx, encoded)
		c.completeRecognition(ctx, gen, song, err)
	}()
	return nil
}

// completeRecognition applies a result only if its attempt is still current.
func (c *Controller) completeRecognition(ctx context.Context, gen uint64, song recognition.Song, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("stale recognition result discarded", "generation", gen)
		return
	}
	c.cancelRecognition = nil

	if err != nil {
		c.lastErr = err
		c.state.Recognition, _ = fsm.TransitionRecognition(c.state.Recognition, fsm.RecognitionEventFail)
		c.state.ErrorMessage = userMessage(err)
		c.state.ProgressText = ""
		c.publishLocked()
		c.mu.Unlock()

		if errors.Is(err, recognition.ErrNoMatch) {
			c.logger.Info("recognition found no match", "generation", gen)
		} else {
			c.logger.Error("recognition failed", "generation", gen, "error", err.Error())
		}
		return
	}

	matched := song
	c.lastErr = nil
	c.state.Recognition, _ = fsm.TransitionRecognition(c.state.Recognition, fsm.RecognitionEventMatch)
	c.state.Song = &matched
	c.state.ErrorMessage = ""
	c.state.ProgressText = ""
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("song recognized",
		"generation", gen,
		"title", song.Title,
		"artists", song.ArtistsString(),
		"duration_ms", song.DurationMS,
	)

	if c.commit != nil {
		if err := c.commit.Commit(ctx, song.Display()); err != nil {
			c.logger.Warn("commit recognized song failed", "error", err.Error())
		}
	}
}

func (c *Controller) failRecognition(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.state.Recognition = fsm.RecognitionFailed
	c.state.ErrorMessage = userMessage(err)
	c.state.ProgressText = ""
	c.publishLocked()
}

// cancelInflight cancels the current attempt and invalidates its generation.
func (c *Controller) cancelInflight() {
	c.mu.Lock()
	cancel := c.cancelRecognition
	c.cancelRecognition = nil
	if cancel != nil {
		c.generation++
		if c.state.Recognition == fsm.RecognitionRecognizing {
			c.state.Recognition, _ = fsm.TransitionRecognition(c.state.Recognition, fsm.RecognitionEventDiscard)
			c.state.ProgressText = ""
			c.publishLocked()
		}
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
