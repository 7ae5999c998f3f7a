package pipeline

// State - lifecycle phase of a Controller.
// Transitions only happen inside Controller methods and the start worker.
type State byte

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	StatePaused
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Terminal - controller reached its final phase, only Stop is accepted
// (and only from StateError).
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
