// Package fsm holds the orchestrator's turn-phase transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateError     State = "error"
)

const (
	EventHeard    Event = "heard"
	EventAnswered Event = "answered"
	EventSpoken   Event = "spoken"
	EventAbort    Event = "abort"
	EventFail     Event = "fail"
	EventReset    Event = "reset"
)

// Transition returns the phase reached from current on event.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateListening:
		switch event {
		case EventHeard:
			return StateThinking, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateThinking:
		switch event {
		case EventAnswered:
			return StateSpeaking, nil
		case EventAbort:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSpeaking:
		switch event {
		case EventSpoken, EventAbort:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateError:
		switch event {
		case EventReset:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
