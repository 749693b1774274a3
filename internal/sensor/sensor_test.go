package sensor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/banshee-data/crossroads/internal/timeutil"
	"github.com/banshee-data/crossroads/internal/traffic"
	"github.com/banshee-data/crossroads/internal/vision"
)

type fakeSource struct {
	openErr error
	frames  []image.Image
	errs    []error
	calls   int
	closed  int
}

func (f *fakeSource) Open() error    { return f.openErr }
func (f *fakeSource) Close() error   { f.closed++; return nil }
func (f *fakeSource) String() string { return "fake" }

func (f *fakeSource) Frame(context.Context) (image.Image, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.frames) == 0 {
		return nil, errors.New("no frames")
	}
	if i >= len(f.frames) {
		i = len(f.frames) - 1
	}
	return f.frames[i], nil
}

func smallParams() vision.Params {
	p := vision.DefaultParams()
	p.Width = 160
	p.Height = 120
	p.MinContourArea = 200
	return p
}

func scene(cars ...image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 160, 120))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	for _, r := range cars {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 230})
			}
		}
	}
	return img
}

func newSensor(t *testing.T, src FrameSource, clock timeutil.Clock) *PresenceSensor {
	t.Helper()
	s, err := New(Config{
		Direction: traffic.DirectionTwo,
		Source:    src,
		Params:    smallParams(),
		Clock:     clock,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadConfig(t *testing.T) {
	p := smallParams()
	p.KernelSize = 0
	if _, err := New(Config{Direction: traffic.DirectionOne, Params: p}); err == nil {
		t.Error("expected error for invalid params")
	}
	if _, err := New(Config{Direction: traffic.Direction(5), Params: smallParams()}); err == nil {
		t.Error("expected error for invalid direction")
	}
}

func TestOpenWithoutSource(t *testing.T) {
	s := newSensor(t, nil, nil)
	if s.Open() {
		t.Fatal("Open() = true without a source")
	}
	if s.Active() {
		t.Error("sensor should be inactive")
	}
	if _, err := s.Read(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Read err = %v, want ErrUnavailable", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on unopened sensor: %v", err)
	}
}

func TestOpenFailingSource(t *testing.T) {
	s := newSensor(t, &fakeSource{openErr: errors.New("no such camera")}, nil)
	if s.Open() {
		t.Error("Open() = true for a failing source")
	}
}

func TestReadCountsVehicles(t *testing.T) {
	empty := scene()
	busy := scene(image.Rect(10, 10, 60, 50), image.Rect(90, 60, 140, 100))
	frames := []image.Image{empty, empty, empty, empty, empty, busy}

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	s := newSensor(t, &fakeSource{frames: frames}, clock)
	if !s.Open() {
		t.Fatal("Open() = false")
	}

	var last traffic.SensorReading
	for i := range frames {
		r, err := s.Read(context.Background())
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if i < len(frames)-1 && r.VehicleCount != 0 {
			t.Errorf("Read %d: count = %d on empty road", i, r.VehicleCount)
		}
		last = r
	}
	if last.VehicleCount != 2 {
		t.Errorf("count = %d, want 2", last.VehicleCount)
	}
	if last.Direction != traffic.DirectionTwo {
		t.Errorf("direction = %v", last.Direction)
	}
	if !last.SampledAt.Equal(start) {
		t.Errorf("SampledAt = %v, want %v", last.SampledAt, start)
	}
}

func TestReadDegradesAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("timeout")
	src := &fakeSource{frames: []image.Image{scene()}, errs: []error{boom, boom, nil, boom, boom, boom}}
	s := newSensor(t, src, nil)
	if !s.Open() {
		t.Fatal("Open() = false")
	}

	expect := []bool{false, false, true, false, false, false}
	for i, ok := range expect {
		_, err := s.Read(context.Background())
		if ok && err != nil {
			t.Fatalf("Read %d: unexpected error %v", i, err)
		}
		if !ok && !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Read %d: err = %v, want ErrUnavailable", i, err)
		}
	}
	if s.Active() {
		t.Fatal("sensor should be closed after three failures in a row")
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
	if s.Open() {
		t.Error("a degraded sensor must not reopen")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	src := &fakeSource{frames: []image.Image{scene()}}
	s := newSensor(t, src, nil)
	s.Open()
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close %d: %v", i, err)
		}
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
	if !s.Open() {
		t.Error("a cleanly closed sensor should reopen")
	}
}

func TestSimulateBiasedTowardZero(t *testing.T) {
	s := newSensor(t, nil, nil)
	const n = 4000
	var sum uint
	for i := 0; i < n; i++ {
		v := s.Simulate()
		if v > 1 {
			t.Fatalf("Simulate() = %d, want 0 or 1", v)
		}
		sum += v
	}
	mean := float64(sum) / n
	if mean < 0.2 || mean > 0.3 {
		t.Errorf("mean simulated count = %.3f, want about 0.25", mean)
	}
}
