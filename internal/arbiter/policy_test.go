package arbiter

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/crossroads/internal/traffic"
)

var t0 = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

func mustTiming(t *testing.T, minGreen, maxGreen time.Duration) Timing {
	t.Helper()
	tm, err := NewTiming(minGreen, maxGreen, time.Second, time.Second)
	if err != nil {
		t.Fatalf("NewTiming: %v", err)
	}
	return tm
}

func commands(steps []Step) []Command {
	var out []Command
	for _, s := range steps {
		out = append(out, s.Command)
	}
	return out
}

func TestTimingValidate(t *testing.T) {
	tests := []struct {
		name    string
		timing  Timing
		wantErr bool
	}{
		{"valid", Timing{10 * time.Second, 60 * time.Second, time.Second, time.Second}, false},
		{"min equals max", Timing{30 * time.Second, 30 * time.Second, time.Second, time.Second}, false},
		{"min above max", Timing{61 * time.Second, 60 * time.Second, time.Second, time.Second}, true},
		{"zero min", Timing{0, 60 * time.Second, time.Second, time.Second}, true},
		{"negative poll", Timing{10 * time.Second, 60 * time.Second, -time.Second, time.Second}, true},
		{"zero backoff", Timing{10 * time.Second, 60 * time.Second, time.Second, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.timing.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTiming) {
				t.Errorf("error %v does not wrap ErrInvalidTiming", err)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	tm := Timing{MinGreen: 10 * time.Second, MaxGreen: 60 * time.Second, PollInterval: time.Second, ErrorBackoff: time.Second}
	one, two := traffic.DirectionOne, traffic.DirectionTwo
	red := func(d traffic.Direction, n uint, r Reason) Command {
		return Command{Direction: d, Light: traffic.Red, Vehicles: n, Reason: r}
	}
	green := func(d traffic.Direction, n uint) Command {
		return Command{Direction: d, Light: traffic.Green, Vehicles: n, Reason: ReasonVehiclesWaiting}
	}

	tests := []struct {
		name    string
		state   State
		counts  [2]uint
		elapsed time.Duration
		want    State
		cmds    []Command
	}{
		{name: "idle empty road", state: Idle(), counts: [2]uint{0, 0}, want: Idle()},
		{name: "idle one waiting", state: Idle(), counts: [2]uint{2, 0}, want: Holding(one, t0), cmds: []Command{green(one, 2)}},
		{name: "idle two waiting", state: Idle(), counts: [2]uint{0, 1}, want: Holding(two, t0), cmds: []Command{green(two, 1)}},
		{name: "idle tie goes to one", state: Idle(), counts: [2]uint{1, 3}, want: Holding(one, t0), cmds: []Command{green(one, 1)}},
		{
			name: "below min ignores opposing traffic", state: Holding(one, t0.Add(-9*time.Second)),
			counts: [2]uint{0, 4}, want: Holding(one, t0.Add(-9*time.Second)),
		},
		{
			name: "cleared after min goes idle", state: Holding(one, t0.Add(-10*time.Second)),
			counts: [2]uint{0, 0}, want: Idle(), cmds: []Command{red(one, 0, ReasonCleared)},
		},
		{
			name: "cleared after min hands over", state: Holding(two, t0.Add(-12*time.Second)),
			counts: [2]uint{1, 0}, want: Holding(one, t0), cmds: []Command{red(two, 0, ReasonCleared), green(one, 1)},
		},
		{
			name: "busy between min and max holds", state: Holding(one, t0.Add(-59*time.Second)),
			counts: [2]uint{1, 5}, want: Holding(one, t0.Add(-59*time.Second)),
		},
		{
			name: "max forces handover", state: Holding(one, t0.Add(-60*time.Second)),
			counts: [2]uint{3, 2}, want: Holding(two, t0), cmds: []Command{red(one, 3, ReasonMaxGreen), green(two, 2)},
		},
		{
			name: "max with empty opposite goes idle", state: Holding(two, t0.Add(-75*time.Second)),
			counts: [2]uint{0, 1}, want: Idle(), cmds: []Command{red(two, 1, ReasonMaxGreen)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, steps := Decide(tt.state, tt.counts, t0, tm)
			if got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			if diff := cmp.Diff(tt.cmds, commands(steps)); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
			if len(steps) > 0 && steps[len(steps)-1].After != got {
				t.Errorf("last step leaves %v, want %v", steps[len(steps)-1].After, got)
			}
		})
	}
}

// TestDecideInvariants drives the policy with random traffic and checks the
// safety and timing guarantees on every tick.
func TestDecideInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for _, tm := range []Timing{
		mustTiming(t, 10*time.Second, 60*time.Second),
		mustTiming(t, 5*time.Second, 20*time.Second),
		mustTiming(t, 3*time.Second, 3*time.Second),
	} {
		var lights [2]traffic.LightState
		state := Idle()
		now := t0
		for tick := 0; tick < 5000; tick++ {
			counts := [2]uint{uint(rng.IntN(3)) * uint(rng.IntN(2)), uint(rng.IntN(2))}
			prev := state
			next, steps := Decide(state, counts, now, tm)

			for _, st := range steps {
				lights[st.Command.Direction.Index()] = st.Command.Light
				if lights[0] == traffic.Green && lights[1] == traffic.Green {
					t.Fatalf("tick %d: both directions green", tick)
				}
				if st.Command.Light == traffic.Yellow {
					t.Fatalf("tick %d: policy commanded yellow", tick)
				}
			}

			if d, ok := prev.Green(); ok {
				held := now.Sub(prev.Since())
				if d2, ok2 := next.Green(); !ok2 || d2 != d {
					if held < tm.MinGreen {
						t.Fatalf("tick %d: %s released after %s, below min %s", tick, d, held, tm.MinGreen)
					}
				} else if held >= tm.MaxGreen {
					t.Fatalf("tick %d: %s still green after %s, max %s", tick, d, held, tm.MaxGreen)
				}
			}
			if d, ok := next.Green(); ok && lights[d.Index()] != traffic.Green {
				t.Fatalf("tick %d: state holds %s but light is %s", tick, d, lights[d.Index()])
			}
			state = next
			now = now.Add(tm.PollInterval)
		}
	}
}
