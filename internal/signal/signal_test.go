package signal

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/crossroads/internal/serialmux"
	"github.com/banshee-data/crossroads/internal/traffic"
)

func newStrip(t *testing.T, mux serialmux.SerialMuxInterface) *StripOutput {
	t.Helper()
	o, err := NewStripOutput(mux, 255, DefaultLEDCount)
	if err != nil {
		t.Fatalf("NewStripOutput: %v", err)
	}
	return o
}

func TestSimulatedOutput(t *testing.T) {
	o := NewSimulatedOutput()
	for _, d := range traffic.Directions {
		if got := o.State(d); got != traffic.Red {
			t.Errorf("initial %s = %s, want RED", d, got)
		}
	}
	if err := o.Set(traffic.DirectionTwo, traffic.Green); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := o.State(traffic.DirectionTwo); got != traffic.Green {
		t.Errorf("State = %s, want GREEN", got)
	}
	if got := o.State(traffic.DirectionOne); got != traffic.Red {
		t.Errorf("other direction changed to %s", got)
	}
	if err := o.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, d := range traffic.Directions {
		if got := o.State(d); got != traffic.Off {
			t.Errorf("after Shutdown %s = %s, want OFF", d, got)
		}
	}
	if o.Mode() != ModeSimulated {
		t.Errorf("Mode = %q", o.Mode())
	}
}

func TestSetRejectsInvalidArguments(t *testing.T) {
	for _, o := range []Output{NewSimulatedOutput(), newStrip(t, serialmux.NewDisabledSerialMux())} {
		if err := o.Set(traffic.Direction(7), traffic.Red); err == nil {
			t.Errorf("%s: expected error for invalid direction", o.Mode())
		}
		if err := o.Set(traffic.DirectionOne, traffic.LightState(9)); err == nil {
			t.Errorf("%s: expected error for invalid state", o.Mode())
		}
		if got := o.State(traffic.Direction(7)); got != traffic.Off {
			t.Errorf("%s: State(invalid) = %s, want OFF", o.Mode(), got)
		}
	}
}

func TestPixelCommands(t *testing.T) {
	tests := []struct {
		name       string
		dir        traffic.Direction
		state      traffic.LightState
		brightness uint8
		want       []string
	}{
		{
			name: "direction one red", dir: traffic.DirectionOne, state: traffic.Red, brightness: 255,
			want: []string{"P 0 255 0 0", "P 1 0 0 0", "P 2 0 0 0", "S"},
		},
		{
			name: "direction two green", dir: traffic.DirectionTwo, state: traffic.Green, brightness: 255,
			want: []string{"P 3 0 0 0", "P 4 0 0 0", "P 5 0 255 0", "S"},
		},
		{
			name: "yellow dimmed", dir: traffic.DirectionOne, state: traffic.Yellow, brightness: 128,
			want: []string{"P 0 0 0 0", "P 1 128 128 0", "P 2 0 0 0", "S"},
		},
		{
			name: "off", dir: traffic.DirectionTwo, state: traffic.Off, brightness: 255,
			want: []string{"P 3 0 0 0", "P 4 0 0 0", "P 5 0 0 0", "S"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, PixelCommands(DefaultLEDCount, tt.dir, tt.state, tt.brightness)); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPixelCommandsLongStrip(t *testing.T) {
	// 12 LEDs: each lamp is two pixels, Direction Two starts at 6
	want := []string{
		"P 6 0 0 0", "P 7 0 0 0",
		"P 8 0 0 0", "P 9 0 0 0",
		"P 10 0 255 0", "P 11 0 255 0",
		"S",
	}
	if diff := cmp.Diff(want, PixelCommands(12, traffic.DirectionTwo, traffic.Green, 255)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckLEDCount(t *testing.T) {
	for _, n := range []int{6, 12, 60} {
		if err := CheckLEDCount(n); err != nil {
			t.Errorf("CheckLEDCount(%d) = %v", n, err)
		}
	}
	for _, n := range []int{-6, 0, 4, 9, 13} {
		if err := CheckLEDCount(n); !errors.Is(err, ErrLEDCount) {
			t.Errorf("CheckLEDCount(%d) = %v, want ErrLEDCount", n, err)
		}
	}
	if _, err := NewStripOutput(serialmux.NewDisabledSerialMux(), 255, 8); !errors.Is(err, ErrLEDCount) {
		t.Errorf("NewStripOutput(8 LEDs) err = %v, want ErrLEDCount", err)
	}
}

func TestStripOutput(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	o := newStrip(t, serialmux.NewSerialMux(port))

	if err := o.Set(traffic.DirectionOne, traffic.Green); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := []string{"P 0 0 0 0", "P 1 0 0 0", "P 2 0 255 0", "S"}
	if diff := cmp.Diff(want, port.Lines()); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}
	if got := o.State(traffic.DirectionOne); got != traffic.Green {
		t.Errorf("State = %s, want GREEN", got)
	}

	port.ResetWritten()
	if err := o.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if diff := cmp.Diff([]string{"C", "S"}, port.Lines()); diff != "" {
		t.Errorf("shutdown mismatch (-want +got):\n%s", diff)
	}
	if got := o.State(traffic.DirectionOne); got != traffic.Off {
		t.Errorf("State after Shutdown = %s, want OFF", got)
	}
	if o.Mode() != ModePhysical {
		t.Errorf("Mode = %q", o.Mode())
	}
}

func TestStripOutputWriteFailureKeepsLastState(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	o := newStrip(t, serialmux.NewSerialMux(port))
	boom := errors.New("i/o error")
	port.SetWriteError(boom)

	if err := o.Set(traffic.DirectionTwo, traffic.Green); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got := o.State(traffic.DirectionTwo); got != traffic.Red {
		t.Errorf("State = %s, want RED after failed write", got)
	}
	if err := o.Shutdown(); err == nil {
		t.Error("expected Shutdown to report the write failure")
	}
}

func TestProbe(t *testing.T) {
	out, mux := Probe(ProbeConfig{})
	if out.Mode() != ModeSimulated {
		t.Errorf("empty device: Mode = %q", out.Mode())
	}
	if _, ok := mux.(*serialmux.DisabledSerialMux); !ok {
		t.Errorf("empty device: mux = %T", mux)
	}

	out, _ = Probe(ProbeConfig{
		Device: "/dev/ttyUSB9",
		Open: func(string, serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			return nil, errors.New("no such file")
		},
	})
	if out.Mode() != ModeSimulated {
		t.Errorf("failed open: Mode = %q", out.Mode())
	}

	port := serialmux.NewTestableSerialPort()
	var gotPath string
	var gotOpts serialmux.PortOptions
	out, mux = Probe(ProbeConfig{
		Device:     "/dev/ttyACM0",
		Port:       serialmux.PortOptions{BaudRate: 57600},
		Brightness: 200,
		Open: func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			gotPath, gotOpts = path, opts
			return serialmux.NewSerialMux(port), nil
		},
	})
	if out.Mode() != ModePhysical {
		t.Fatalf("Mode = %q, want physical", out.Mode())
	}
	if gotPath != "/dev/ttyACM0" || gotOpts.BaudRate != 57600 {
		t.Errorf("opened %q with %+v", gotPath, gotOpts)
	}
	if err := out.Set(traffic.DirectionOne, traffic.Red); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if lines := port.Lines(); len(lines) != 4 || lines[0] != "P 0 200 0 0" {
		t.Errorf("lines = %v", lines)
	}
	if err := mux.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestProbeLEDCount(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	opened := 0
	open := func(string, serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
		opened++
		return serialmux.NewSerialMux(port), nil
	}

	out, _ := Probe(ProbeConfig{Device: "/dev/ttyACM0", LEDCount: 12, Brightness: 255, Open: open})
	if out.Mode() != ModePhysical {
		t.Fatalf("Mode = %q, want physical", out.Mode())
	}
	if err := out.Set(traffic.DirectionOne, traffic.Red); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := []string{"P 0 255 0 0", "P 1 255 0 0", "P 2 0 0 0", "P 3 0 0 0", "P 4 0 0 0", "P 5 0 0 0", "S"}
	if diff := cmp.Diff(want, port.Lines()); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}

	out, _ = Probe(ProbeConfig{Device: "/dev/ttyACM0", LEDCount: 7, Open: open})
	if out.Mode() != ModeSimulated {
		t.Errorf("7 LEDs: Mode = %q, want simulated", out.Mode())
	}
	if opened != 1 {
		t.Errorf("device opened %d times, want 1: an unusable count must not open it", opened)
	}
}
