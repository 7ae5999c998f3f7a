package pipeline

import (
	"errors"
	"fmt"
)

// Sync errors returned directly from Controller methods.
var (
	ErrInvalidConfig = errors.New("pipeline: invalid config")
	ErrInvalidState  = errors.New("pipeline: invalid state")
)

// Fault - async runtime failure (connection refused, decoder init,
// unsupported stream format). Never returned from a method call, only
// delivered via Observer.OnError together with the Error state.
type Fault struct {
	Camera  string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("pipeline: %s: %s", f.Camera, f.Message)
}

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidState, op, s)
}
