// Package sensor turns camera frames into per-direction vehicle counts.
//
// A PresenceSensor that could not open its frame source reports itself
// inactive; callers then use Simulate for a pseudo-random count so the
// arbitration policy keeps running without hardware.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/banshee-data/crossroads/internal/monitoring"
	"github.com/banshee-data/crossroads/internal/timeutil"
	"github.com/banshee-data/crossroads/internal/traffic"
	"github.com/banshee-data/crossroads/internal/vision"
)

// ErrUnavailable means no frame could be obtained. It is distinct from a
// reading of zero vehicles.
var ErrUnavailable = errors.New("sensor unavailable")

// DefaultMaxConsecutiveFailures is how many unavailable reads in a row an
// open sensor tolerates before it is closed and degraded to simulation.
const DefaultMaxConsecutiveFailures = 3

var logf = monitoring.Component("sensor")

// Config describes one presence sensor.
type Config struct {
	Direction traffic.Direction
	// Source may be nil, in which case Open always fails.
	Source FrameSource
	Params vision.Params
	Clock  timeutil.Clock
	// Rand drives Simulate. Nil uses a randomly seeded generator.
	Rand *rand.Rand
	// MaxConsecutiveFailures defaults to DefaultMaxConsecutiveFailures.
	MaxConsecutiveFailures int
}

// PresenceSensor counts vehicles for one direction.
type PresenceSensor struct {
	dir         traffic.Direction
	source      FrameSource
	detector    *vision.Detector
	clock       timeutil.Clock
	maxFailures int

	mu       sync.Mutex
	rng      *rand.Rand
	open     bool
	degraded bool
	failures int
}

// New validates cfg and builds a closed sensor.
func New(cfg Config) (*PresenceSensor, error) {
	if !cfg.Direction.Valid() {
		return nil, fmt.Errorf("invalid direction %d", int(cfg.Direction))
	}
	det, err := vision.NewDetector(cfg.Params)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &PresenceSensor{
		dir:         cfg.Direction,
		source:      cfg.Source,
		detector:    det,
		clock:       cfg.Clock,
		maxFailures: cfg.MaxConsecutiveFailures,
		rng:         cfg.Rand,
	}, nil
}

// Direction returns the direction this sensor watches.
func (s *PresenceSensor) Direction() traffic.Direction { return s.dir }

// Open acquires the frame source. A false return is expected when no camera
// is present and is not an error. A sensor that was degraded after repeated
// failures stays closed.
func (s *PresenceSensor) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return true
	}
	if s.degraded {
		return false
	}
	if s.source == nil {
		logf("%s: no camera configured, using simulated counts", s.dir)
		return false
	}
	if err := s.source.Open(); err != nil {
		logf("%s: could not open %s: %v; using simulated counts", s.dir, s.source, err)
		return false
	}
	s.detector.Reset()
	s.failures = 0
	s.open = true
	logf("%s: reading frames from %s", s.dir, s.source)
	return true
}

// Active reports whether Read can be used.
func (s *PresenceSensor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Read pulls one frame and counts the vehicles in it. It returns an error
// wrapping ErrUnavailable when the sensor is closed or the source produced no
// frame.
func (s *PresenceSensor) Read(ctx context.Context) (traffic.SensorReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return traffic.SensorReading{}, fmt.Errorf("%s: %w", s.dir, ErrUnavailable)
	}

	frame, err := s.source.Frame(ctx)
	if err != nil {
		s.failures++
		if s.failures >= s.maxFailures {
			logf("%s: %d consecutive failed reads, switching to simulated counts", s.dir, s.failures)
			s.closeLocked()
			s.degraded = true
		}
		return traffic.SensorReading{}, fmt.Errorf("%s: %w: %v", s.dir, ErrUnavailable, err)
	}
	s.failures = 0

	det, err := s.detector.Detect(frame)
	if err != nil {
		return traffic.SensorReading{}, fmt.Errorf("%s: detect: %w", s.dir, err)
	}
	return traffic.SensorReading{
		Direction:    s.dir,
		VehicleCount: uint(det.Count),
		SampledAt:    s.clock.Now(),
	}, nil
}

// Simulate returns a pseudo-random count: 1 with probability 1/4, otherwise 0.
func (s *PresenceSensor) Simulate() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.IntN(4) == 0 {
		return 1
	}
	return 0
}

// Close releases the frame source. It is safe to call repeatedly.
func (s *PresenceSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *PresenceSensor) closeLocked() error {
	if !s.open {
		return nil
	}
	s.open = false
	if err := s.source.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.source, err)
	}
	return nil
}
