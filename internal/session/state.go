package session

import (
	"github.com/rbright/songid/internal/fsm"
	"github.com/rbright/songid/internal/recognition"
)

// UiState is one immutable snapshot of everything a front end renders.
type UiState struct {
	Recording         fsm.State
	Recognition       fsm.Recognition
	PermissionGranted bool
	ElapsedSeconds    int
	ErrorMessage      string
	Song              *recognition.Song
	ProgressText      string
}

func initialState(permissionGranted bool) UiState {
	return UiState{
		Recording:         fsm.StateIdle,
		Recognition:       fsm.RecognitionIdle,
		PermissionGranted: permissionGranted,
	}
}

func (s UiState) CanStartRecording() bool {
	return s.Recording != fsm.StateRecording && s.Recognition != fsm.RecognitionRecognizing
}

func (s UiState) CanStopRecording() bool {
	return s.Recording == fsm.StateRecording
}

func (s UiState) CanStartRecognition() bool {
	return s.Recording == fsm.StateCompleted && s.Recognition != fsm.RecognitionRecognizing
}

func (s UiState) IsProcessing() bool {
	return s.Recognition == fsm.RecognitionRecognizing
}

func (s UiState) HasResult() bool {
	return s.Recognition == fsm.RecognitionSuccess && s.Song != nil
}

// Settled reports whether the attempt reached an outcome the user must act on.
func (s UiState) Settled() bool {
	switch {
	case s.Recognition == fsm.RecognitionSuccess, s.Recognition == fsm.RecognitionFailed:
		return true
	case s.Recording == fsm.StateError:
		return true
	case s.Recording != fsm.StateRecording && s.Recognition == fsm.RecognitionIdle && s.ErrorMessage != "":
		return true
	default:
		return false
	}
}
