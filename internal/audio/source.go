package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied indicates the platform refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrSourceUnavailable indicates a capture source could not be resolved or opened.
	ErrSourceUnavailable = errors.New("capture source unavailable")
)

// Source names one capture source preference. The recorder tries them in order.
type Source string

const (
	SourceVoiceRecognition   Source = "voice_recognition"
	SourceMic                Source = "mic"
	SourceVoiceCommunication Source = "voice_communication"
	SourceDefault            Source = "default"
	SourceCamcorder          Source = "camcorder"
)

// DefaultSources is the fallback order proven on real hardware. Processed
// voice inputs first, raw microphones next, the system default, then cameras.
func DefaultSources() []Source {
	return []Source{
		SourceVoiceRecognition,
		SourceMic,
		SourceVoiceCommunication,
		SourceDefault,
		SourceCamcorder,
	}
}

// sourceTerms maps well-known sources to device name fragments.
var sourceTerms = map[Source][]string{
	SourceVoiceRecognition:   {"echo-cancel", "echo_cancel", "echocancel", "noise", "voice"},
	SourceMic:                {"mic", "microphone", "input"},
	SourceVoiceCommunication: {"headset", "handsfree", "hands-free", "bluez", "hfp"},
	SourceCamcorder:          {"webcam", "camera", "cam", "video"},
}

// Terms returns the match fragments for s. Unknown sources match on their own name.
func (s Source) Terms() []string {
	if terms, ok := sourceTerms[s]; ok {
		return terms
	}
	term := strings.TrimSpace(strings.ToLower(string(s)))
	if term == "" {
		return nil
	}
	return []string{term}
}

// Device describes one input source surfaced by a capture backend.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Stream is an open capture handle.
//
// Read blocks for at most the backend's poll window and returns (0, nil) when
// no audio arrived in that window. io.EOF means the stream was closed.
type Stream interface {
	Read(p []byte) (int, error)
	Close() error
	Device() Device
}

// Opener opens capture streams for one source preference.
type Opener interface {
	Open(ctx context.Context, source Source, format Format, bufferSize int) (Stream, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, source Source, format Format, bufferSize int) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, source Source, format Format, bufferSize int) (Stream, error) {
	return f(ctx, source, format, bufferSize)
}

// ResolveSource picks the first usable device for source from a pre-fetched list.
func ResolveSource(devices []Device, source Source) (Device, error) {
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("%w: no audio input devices found", ErrSourceUnavailable)
	}

	if source == SourceDefault || strings.TrimSpace(string(source)) == "" {
		for _, dev := range devices {
			if !dev.Default {
				continue
			}
			if err := usable(dev); err != nil {
				return Device{}, err
			}
			return dev, nil
		}
		return Device{}, fmt.Errorf("%w: default audio source is unavailable", ErrSourceUnavailable)
	}

	terms := source.Terms()
	var skipped []string
	for _, dev := range devices {
		if !deviceMatchesAny(dev, terms) {
			continue
		}
		if isMonitor(dev) && !wantsMonitor(terms) {
			continue
		}
		if err := usable(dev); err != nil {
			skipped = append(skipped, err.Error())
			continue
		}
		return dev, nil
	}

	if len(skipped) > 0 {
		return Device{}, fmt.Errorf("%w: source %q matched only unusable devices (%s)", ErrSourceUnavailable, source, strings.Join(skipped, "; "))
	}
	return Device{}, fmt.Errorf("%w: source %q did not match any device", ErrSourceUnavailable, source)
}

func usable(dev Device) error {
	if !dev.Available {
		return fmt.Errorf("%w: device %q is not available", ErrSourceUnavailable, dev.ID)
	}
	if dev.Muted {
		return fmt.Errorf("%w: device %q is muted", ErrSourceUnavailable, dev.ID)
	}
	return nil
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

func deviceMatchesAny(device Device, terms []string) bool {
	for _, term := range terms {
		if deviceMatches(device, term) {
			return true
		}
	}
	return false
}

func isMonitor(device Device) bool {
	return strings.HasSuffix(strings.ToLower(device.ID), ".monitor")
}

func wantsMonitor(terms []string) bool {
	for _, term := range terms {
		if strings.Contains(term, "monitor") {
			return true
		}
	}
	return false
}
