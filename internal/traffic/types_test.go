package traffic

import (
	"testing"
	"time"
)

func TestDirectionOpposite(t *testing.T) {
	if DirectionOne.Opposite() != DirectionTwo {
		t.Errorf("Opposite(One) = %v", DirectionOne.Opposite())
	}
	if DirectionTwo.Opposite() != DirectionOne {
		t.Errorf("Opposite(Two) = %v", DirectionTwo.Opposite())
	}
}

func TestDirectionString(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{DirectionOne, "DIRECTION_1"},
		{DirectionTwo, "DIRECTION_2"},
		{Direction(7), "DIRECTION(7)"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
	if Direction(7).Valid() {
		t.Error("Direction(7) should not be valid")
	}
}

func TestParseLightState(t *testing.T) {
	for _, s := range []LightState{Red, Yellow, Green, Off} {
		got, err := ParseLightState(s.String())
		if err != nil {
			t.Fatalf("ParseLightState(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseLightState(%q) = %v", s.String(), got)
		}
	}
	if _, err := ParseLightState("BLUE"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestStoppedStatus(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := StoppedStatus(at)
	if st.Running {
		t.Error("stopped status must not be running")
	}
	if st.LightOne != "RED" || st.LightTwo != "RED" {
		t.Errorf("stopped status lights = %s/%s, want RED/RED", st.LightOne, st.LightTwo)
	}
	if !st.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", st.UpdatedAt, at)
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions {
		got, err := ParseDirection(d.String())
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", d.String(), err)
		}
		if got != d {
			t.Errorf("ParseDirection(%q) = %v", d.String(), got)
		}
	}
	if _, err := ParseDirection(DirectionBoth); err == nil {
		t.Error("BOTH is not a single direction")
	}
}
