package arbiter

import (
	"errors"
	"fmt"

	"github.com/banshee-data/crossroads/internal/traffic"
)

var (
	// ErrAlreadyRunning is returned by Start while the loop runs.
	ErrAlreadyRunning = errors.New("arbiter already running")
	// ErrStopTimeout means the loop did not exit within the stop timeout.
	ErrStopTimeout = errors.New("arbiter did not stop in time")
	// ErrStillStopping is returned by Start while a previous run that
	// timed out on stop has not exited yet.
	ErrStillStopping = errors.New("previous arbiter run has not exited")
)

// Kind classifies a failed tick.
type Kind int

const (
	KindSensor Kind = iota + 1
	KindOutput
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindOutput:
		return "output"
	case KindPanic:
		return "panic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TickError is the result of a tick that failed. The loop logs it, records an
// ERROR event and backs off; it never ends the loop.
type TickError struct {
	Kind Kind
	// Direction is meaningful for sensor and output failures.
	Direction traffic.Direction
	Err       error
}

func (e *TickError) Error() string {
	if e.Kind == KindPanic {
		return fmt.Sprintf("tick panic: %v", e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Direction, e.Kind, e.Err)
}

func (e *TickError) Unwrap() error { return e.Err }

// direction labels the event written for the error.
func (e *TickError) direction() string {
	if e.Kind == KindPanic {
		return traffic.DirectionBoth
	}
	return e.Direction.String()
}

// AsTickError extracts a TickError from err.
func AsTickError(err error) (*TickError, bool) {
	var te *TickError
	ok := errors.As(err, &te)
	return te, ok
}
