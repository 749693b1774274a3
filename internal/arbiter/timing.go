package arbiter

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTiming reports a timing configuration the loop cannot run with.
var ErrInvalidTiming = errors.New("invalid timing")

// Timing is the immutable switching policy configuration.
type Timing struct {
	// MinGreen is the hard floor a direction keeps green once entered.
	MinGreen time.Duration
	// MaxGreen is the ceiling after which green is taken away even with
	// vehicles still present.
	MaxGreen time.Duration
	// PollInterval is the sleep between ticks.
	PollInterval time.Duration
	// ErrorBackoff replaces PollInterval after a failed tick.
	ErrorBackoff time.Duration
}

// NewTiming validates and returns a Timing.
func NewTiming(minGreen, maxGreen, poll, backoff time.Duration) (Timing, error) {
	t := Timing{MinGreen: minGreen, MaxGreen: maxGreen, PollInterval: poll, ErrorBackoff: backoff}
	return t, t.Validate()
}

// Validate requires positive durations and MinGreen <= MaxGreen.
func (t Timing) Validate() error {
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"min green duration", t.MinGreen},
		{"max green duration", t.MaxGreen},
		{"poll interval", t.PollInterval},
		{"error backoff", t.ErrorBackoff},
	} {
		if f.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidTiming, f.name, f.d)
		}
	}
	if t.MinGreen > t.MaxGreen {
		return fmt.Errorf("%w: min green %s exceeds max green %s", ErrInvalidTiming, t.MinGreen, t.MaxGreen)
	}
	return nil
}
