package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/recognition"
	"github.com/rbright/songid/internal/recorder"
	"github.com/rbright/songid/internal/wav"
)

const (
	msgPermissionRequired = "Microphone permission is required"
	msgPermissionDenied   = "Microphone permission is required for audio search"
	msgNoAudio            = "Recording failed: no audio data captured"
	msgRecordFirst        = "Please record audio first"
	progressIdentifying   = "Identifying song..."
	progressConnecting    = "Connecting to recognition service..."
)

// userMessage maps the error taxonomy onto text shown in UiState.ErrorMessage.
func userMessage(err error) string {
	var svcErr *recognition.ServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, audio.ErrPermissionDenied):
		return msgPermissionRequired
	case errors.Is(err, audio.ErrFocusDenied):
		return "Microphone is in use by another application"
	case errors.Is(err, recorder.ErrDeviceUnavailable):
		return "No usable microphone found; check that an input device is connected"
	case errors.Is(err, recorder.ErrNoAudio):
		return msgNoAudio
	case errors.Is(err, recorder.ErrCaptureIO):
		return "Recording error occurred"
	case errors.Is(err, ErrTooShort):
		return "Recording too short"
	case errors.Is(err, ErrNoRecording):
		return msgRecordFirst
	case errors.Is(err, wav.ErrEncoding):
		return "Failed to create audio file"
	case errors.Is(err, recognition.ErrNotConfigured):
		return "Recognition service is not configured; set an access key and secret"
	case errors.Is(err, recognition.ErrNoMatch):
		return "No matching song found"
	case errors.As(err, &svcErr):
		return "Recognition failed: " + svcErr.Message
	case errors.Is(err, recognition.ErrMalformedResponse):
		return "Recognition failed: unexpected response from the recognition service"
	case errors.Is(err, context.DeadlineExceeded):
		return "Recognition failed: the service took too long to answer"
	case errors.Is(err, recognition.ErrNetwork):
		return "Recognition failed: network error"
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
