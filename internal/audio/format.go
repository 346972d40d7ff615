// Package audio handles capture formats, source resolution, audio focus, and PCM capture streams.
package audio

import (
	"fmt"
	"time"
)

const (
	// fallbackBufferSize is used when the format cannot produce a sane minimum buffer.
	fallbackBufferSize = 8192
	// minBufferWindow is the shortest slice of audio a capture read should cover.
	minBufferWindow = 20 * time.Millisecond
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is mono 16-bit 44.1 kHz, what fingerprinting services expect.
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}
}

// Validate reports whether the format can be captured and encoded.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be > 0, got %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("bits per sample must be a positive multiple of 8, got %d", f.BitsPerSample)
	}
	return nil
}

// BlockAlign is the byte size of one frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// ByteRate is the number of PCM bytes per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration converts a PCM byte count into playback time.
func (f Format) Duration(bytes int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 || bytes <= 0 {
		return 0
	}
	return time.Duration(int64(bytes) * int64(time.Second) / int64(rate))
}

// MinBufferSize returns the smallest frame-aligned buffer covering minBufferWindow.
// It returns 0 when the format is invalid.
func (f Format) MinBufferSize() int {
	if f.Validate() != nil {
		return 0
	}
	size := int(int64(f.ByteRate()) * int64(minBufferWindow) / int64(time.Second))
	align := f.BlockAlign()
	if rem := size % align; rem != 0 {
		size += align - rem
	}
	return size
}

// BufferSize applies headroom to the minimum buffer, falling back to 8192 bytes.
func BufferSize(f Format, headroom int) int {
	minimum := f.MinBufferSize()
	if minimum <= 0 {
		return fallbackBufferSize
	}
	if headroom <= 0 {
		headroom = 1
	}
	return minimum * headroom
}
