// Package fsm holds the recording and recognition state machines.
package fsm

import "fmt"

// State is the recorder lifecycle state.
type State string

type Event string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateCompleted State = "completed"
	StateError     State = "error"
)

const (
	EventStart Event = "start"
	EventStop  Event = "stop"
	EventFail  Event = "fail"
	EventReset Event = "reset"
)

// Transition returns the recorder state reached by applying event to current.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateRecording, nil
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateCompleted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCompleted, StateError:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Recognition is the recognition lifecycle state owned by the session.
type Recognition string

type RecognitionEvent string

const (
	RecognitionIdle        Recognition = "idle"
	RecognitionRecognizing Recognition = "recognizing"
	RecognitionSuccess     Recognition = "success"
	RecognitionFailed      Recognition = "failed"
)

const (
	RecognitionEventSubmit  RecognitionEvent = "submit"
	RecognitionEventMatch   RecognitionEvent = "match"
	RecognitionEventFail    RecognitionEvent = "fail"
	RecognitionEventDiscard RecognitionEvent = "discard"
)

// TransitionRecognition applies event to the recognition state.
//
// Submit is legal from every state: a retry or a fresh recording supersedes
// whatever attempt came before it.
func TransitionRecognition(current Recognition, event RecognitionEvent) (Recognition, error) {
	switch event {
	case RecognitionEventSubmit:
		switch current {
		case RecognitionIdle, RecognitionRecognizing, RecognitionSuccess, RecognitionFailed:
			return RecognitionRecognizing, nil
		}
	case RecognitionEventDiscard:
		switch current {
		case RecognitionIdle, RecognitionRecognizing, RecognitionSuccess, RecognitionFailed:
			return RecognitionIdle, nil
		}
	case RecognitionEventMatch:
		if current == RecognitionRecognizing {
			return RecognitionSuccess, nil
		}
		return current, invalidRecognitionTransition(current, event)
	case RecognitionEventFail:
		switch current {
		case RecognitionRecognizing, RecognitionIdle:
			return RecognitionFailed, nil
		}
		return current, invalidRecognitionTransition(current, event)
	}
	return current, fmt.Errorf("unknown recognition state %q or event %q", current, event)
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

func invalidRecognitionTransition(state Recognition, event RecognitionEvent) error {
	return fmt.Errorf("invalid recognition transition: %s --(%s)--> ?", state, event)
}
