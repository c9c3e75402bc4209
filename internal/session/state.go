package session

import "fmt"

// State is the lifecycle state of a session.
type State int

const (
	// StateReset clears everything and starts a new initialization.
	StateReset State = iota
	// StateInitialization accumulates the background representation.
	StateInitialization
	// StateRegistration records shots for the selected class.
	StateRegistration
	// StateIdle waits for a command.
	StateIdle
	// StateInference classifies every frame.
	StateInference
	// StatePause suspends frame processing until resumed.
	StatePause
	// StateError holds a failure until an explicit reset.
	StateError
)

var stateNames = [...]string{
	StateReset:          "reset",
	StateInitialization: "initialization",
	StateRegistration:   "registration",
	StateIdle:           "idle",
	StateInference:      "inference",
	StatePause:          "pause",
	StateError:          "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}
