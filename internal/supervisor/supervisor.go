// Package supervisor owns the sensors, the signal output and the arbitration
// loop, and exposes start, stop, status and event history to the API.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/crossroads/internal/arbiter"
	"github.com/banshee-data/crossroads/internal/monitoring"
	"github.com/banshee-data/crossroads/internal/signal"
	"github.com/banshee-data/crossroads/internal/timeutil"
	"github.com/banshee-data/crossroads/internal/traffic"
)

var (
	// ErrAlreadyRunning is returned by Start while the system runs.
	ErrAlreadyRunning = arbiter.ErrAlreadyRunning
	// ErrStopTimeout is returned by Stop when the loop did not exit in time.
	ErrStopTimeout = arbiter.ErrStopTimeout
	// ErrStillStopping is returned by Start while a timed-out run is alive.
	ErrStillStopping = arbiter.ErrStillStopping
)

// DefaultStopTimeout bounds how long Stop waits for the loop.
const DefaultStopTimeout = 5 * time.Second

var logf = monitoring.Component("supervisor")

// Sensor is a presence sensor whose source the supervisor opens on start and
// closes on stop.
type Sensor interface {
	arbiter.Sensor
	Open() bool
	Close() error
}

// EventStore serves event history from persistent storage.
type EventStore interface {
	RecentEvents(ctx context.Context, limit int, since time.Time) ([]traffic.Event, error)
}

// Config wires a Supervisor.
type Config struct {
	// Sensors is indexed by Direction.Index.
	Sensors [2]Sensor
	Output  signal.Output
	Timing  arbiter.Timing
	Clock   timeutil.Clock
	// Sink receives events and status; may be nil.
	Sink arbiter.Sink
	// Store answers RecentEvents; when nil the in-memory history is used.
	Store          EventStore
	StopTimeout    time.Duration
	RecentCapacity int
}

// Supervisor is the single engine handle passed to whatever serves start,
// stop and status requests.
type Supervisor struct {
	loop        *arbiter.Loop
	sensors     [2]Sensor
	output      signal.Output
	store       EventStore
	ring        *eventRing
	stopTimeout time.Duration

	// lifecycle requests are serialised
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the loop. ctx bounds every run started later, so cancelling it
// stops the loop as well.
func New(ctx context.Context, cfg Config) (*Supervisor, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = DefaultRecentCapacity
	}
	ring := newEventRing(cfg.RecentCapacity, cfg.Sink)

	var sensors [2]arbiter.Sensor
	for i, s := range cfg.Sensors {
		if s == nil {
			return nil, fmt.Errorf("supervisor: no sensor for %s", traffic.Directions[i])
		}
		sensors[i] = s
	}
	loop, err := arbiter.New(arbiter.Config{
		Sensors: sensors,
		Output:  cfg.Output,
		Timing:  cfg.Timing,
		Clock:   cfg.Clock,
		Sink:    ring,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		loop:        loop,
		sensors:     cfg.Sensors,
		output:      cfg.Output,
		store:       cfg.Store,
		ring:        ring,
		stopTimeout: cfg.StopTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start opens the sensors and launches the loop. Sensors that cannot open are
// simulated; that is logged, not returned.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop.Running() {
		logf("start requested but the system is already running")
		return ErrAlreadyRunning
	}
	if !s.loop.Exited() {
		// the sensors still belong to the previous run
		logf("start requested while the previous run is still stopping")
		return ErrStillStopping
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("supervisor closed: %w", err)
	}

	opened := 0
	for _, sn := range s.sensors {
		if sn.Open() {
			opened++
		}
	}
	if opened == 0 {
		logf("no cameras available, running in simulation mode")
	}

	if err := s.loop.Start(s.ctx); err != nil {
		if !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrStillStopping) {
			s.closeSensors()
		}
		return err
	}
	logf("traffic control system started (output %s)", s.output.Mode())
	return nil
}

// Stop asks the loop to exit, waiting up to timeout (StopTimeout when zero).
// On success both directions are Red and the sensors are closed. On
// ErrStopTimeout the sensors stay with the still-running loop.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(timeout)
}

func (s *Supervisor) stopLocked(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.stopTimeout
	}
	if err := s.loop.Stop(timeout); err != nil {
		logf("stop: %v", err)
		return err
	}
	s.closeSensors()
	logf("traffic control system stopped")
	return nil
}

// Restart stops then starts the system.
func (s *Supervisor) Restart(timeout time.Duration) error {
	if err := s.Stop(timeout); err != nil {
		return err
	}
	return s.Start()
}

func (s *Supervisor) closeSensors() {
	for _, sn := range s.sensors {
		if err := sn.Close(); err != nil {
			logf("close %s sensor: %v", sn.Direction(), err)
		}
	}
}

// Running reports whether the loop is running.
func (s *Supervisor) Running() bool { return s.loop.Running() }

// Stopping reports whether a stop was requested but the loop has not exited,
// which happens after Stop returned ErrStopTimeout.
func (s *Supervisor) Stopping() bool { return !s.loop.Running() && !s.loop.Exited() }

// Status returns the latest status snapshot.
func (s *Supervisor) Status() traffic.Status { return s.loop.Status() }

// Timing returns the switching policy configuration.
func (s *Supervisor) Timing() arbiter.Timing { return s.loop.Timing() }

// RecentEvents returns up to limit events no older than since, newest first.
func (s *Supervisor) RecentEvents(ctx context.Context, limit int, since time.Time) ([]traffic.Event, error) {
	if limit <= 0 {
		return []traffic.Event{}, nil
	}
	if s.store != nil {
		return s.store.RecentEvents(ctx, limit, since)
	}
	return s.ring.recent(limit, since), nil
}

// Close stops the loop, turns every light off and releases the run context.
// It is meant for process teardown.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopErr := s.stopLocked(s.stopTimeout)
	s.cancel()
	if stopErr != nil {
		// the loop still owns the output
		logf("output left as is: %v", stopErr)
		return stopErr
	}
	if err := s.output.Shutdown(); err != nil {
		return fmt.Errorf("shutdown output: %w", err)
	}
	return nil
}
