package arbiter

import (
	"fmt"
	"time"

	"github.com/banshee-data/crossroads/internal/traffic"
)

// State is the arbitration state: Idle, or Holding a direction green since
// a point in time.
type State struct {
	holding bool
	green   traffic.Direction
	since   time.Time
}

// Idle is the state with no direction green.
func Idle() State { return State{} }

// Holding is the state with dir green since since.
func Holding(dir traffic.Direction, since time.Time) State {
	return State{holding: true, green: dir, since: since}
}

// Green returns the direction holding green, if any.
func (s State) Green() (traffic.Direction, bool) { return s.green, s.holding }

// Since returns when the current green started. It is zero when Idle.
func (s State) Since() time.Time { return s.since }

func (s State) String() string {
	if !s.holding {
		return "Idle"
	}
	return fmt.Sprintf("Holding(%s since %s)", s.green, s.since.Format(time.RFC3339))
}

// Reason explains a light command.
type Reason string

const (
	ReasonVehiclesWaiting Reason = "vehicles waiting"
	ReasonCleared         Reason = "no vehicles remaining"
	ReasonMaxGreen        Reason = "maximum green reached"
)

// Command sets one direction to a colour.
type Command struct {
	Direction traffic.Direction
	Light     traffic.LightState
	// Vehicles is the count for Direction that triggered the command.
	Vehicles uint
	Reason   Reason
}

// Step is a command and the state that holds once it has been applied.
// Applying steps in order and adopting each After on success keeps the
// state consistent with what the lights actually show.
type Step struct {
	Command Command
	After   State
}

// Decide is the per-tick transition function. counts is indexed by
// Direction.Index. It returns the next state and the steps leading to it;
// no steps means the lights stay as they are. Every Red step precedes any
// Green step, so two directions are never green together.
func Decide(s State, counts [2]uint, now time.Time, t Timing) (State, []Step) {
	if !s.holding {
		return enterFromIdle(counts, now, nil)
	}

	elapsed := now.Sub(s.since)
	if elapsed < t.MinGreen {
		return s, nil
	}

	d := s.green
	var reason Reason
	switch {
	case counts[d.Index()] == 0:
		reason = ReasonCleared
	case elapsed >= t.MaxGreen:
		reason = ReasonMaxGreen
	default:
		return s, nil
	}

	steps := []Step{{
		Command: Command{Direction: d, Light: traffic.Red, Vehicles: counts[d.Index()], Reason: reason},
		After:   Idle(),
	}}
	// only the opposing direction may take over; the outgoing one is not
	// reconsidered this tick even if it still has vehicles
	other := d.Opposite()
	if counts[other.Index()] > 0 {
		return grant(other, counts, now, steps)
	}
	return Idle(), steps
}

func enterFromIdle(counts [2]uint, now time.Time, steps []Step) (State, []Step) {
	for _, d := range traffic.Directions {
		if counts[d.Index()] > 0 {
			return grant(d, counts, now, steps)
		}
	}
	return Idle(), steps
}

func grant(d traffic.Direction, counts [2]uint, now time.Time, steps []Step) (State, []Step) {
	next := Holding(d, now)
	return next, append(steps, Step{
		Command: Command{Direction: d, Light: traffic.Green, Vehicles: counts[d.Index()], Reason: ReasonVehiclesWaiting},
		After:   next,
	})
}
