package runtime

import (
	"errors"
	"fmt"
	"time"
)

// ErrLoopEnded marks a module loop that returned because its inbox closed.
// The supervisor treats it as the coordinated restart trigger, not a fault.
var ErrLoopEnded = errors.New("module loop ended")

// TimeoutError reports an operation that lost its race against a deadline.
type TimeoutError struct {
	Task    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Task, e.Elapsed)
}

// NotFoundError reports a correlated reply that never arrived, or a lookup
// for a key the runtime does not know.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}
