// Package arbiter decides which of two directions holds green. Decide is the
// pure switching policy; Loop polls the sensors, applies Decide's commands to
// the signal output and reports status and events once per tick.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/crossroads/internal/monitoring"
	"github.com/banshee-data/crossroads/internal/signal"
	"github.com/banshee-data/crossroads/internal/timeutil"
	"github.com/banshee-data/crossroads/internal/traffic"
)

var logf = monitoring.Component("arbiter")

// Sensor is the presence sensor contract the loop polls. When Active is
// false the loop uses Simulate instead of Read.
type Sensor interface {
	Direction() traffic.Direction
	Active() bool
	Read(ctx context.Context) (traffic.SensorReading, error)
	Simulate() uint
}

// Sink receives events and status snapshots. Delivery failures are logged
// and never retried.
type Sink interface {
	RecordEvent(traffic.Event) error
	RecordStatus(traffic.Status) error
}

// Config wires a Loop.
type Config struct {
	// Sensors is indexed by Direction.Index.
	Sensors [2]Sensor
	Output  signal.Output
	Timing  Timing
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Sink may be nil.
	Sink Sink
	// NewID generates event IDs; defaults to random UUIDs.
	NewID func() string
}

// Loop runs the poll, decide, act cycle on its own goroutine. The sensors
// and output are used only from that goroutine while it runs.
type Loop struct {
	sensors [2]Sensor
	output  signal.Output
	timing  Timing
	clock   timeutil.Clock
	sink    Sink
	newID   func() string

	// running is the only state shared with callers of Start and Stop.
	running atomic.Bool
	// wake cuts the inter-tick sleep short after Stop.
	wake chan struct{}

	mu     sync.Mutex
	done   chan struct{}
	status traffic.Status

	// owned by the loop goroutine
	counts    [2]uint
	simulated bool
}

// New validates cfg. Invalid timing is reported here, never at runtime.
func New(cfg Config) (*Loop, error) {
	if err := cfg.Timing.Validate(); err != nil {
		return nil, err
	}
	if cfg.Output == nil {
		return nil, errors.New("arbiter: output is required")
	}
	for _, d := range traffic.Directions {
		s := cfg.Sensors[d.Index()]
		if s == nil {
			return nil, fmt.Errorf("arbiter: no sensor for %s", d)
		}
		if s.Direction() != d {
			return nil, fmt.Errorf("arbiter: sensor for %s is wired to %s", d, s.Direction())
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	l := &Loop{
		sensors: cfg.Sensors,
		output:  cfg.Output,
		timing:  cfg.Timing,
		clock:   cfg.Clock,
		sink:    cfg.Sink,
		newID:   cfg.NewID,
		wake:    make(chan struct{}, 1),
	}
	l.status = l.stoppedStatus()
	return l, nil
}

// Timing returns the loop's timing configuration.
func (l *Loop) Timing() Timing { return l.timing }

// Running reports whether the loop has been started and not yet stopped.
func (l *Loop) Running() bool { return l.running.Load() }

// Status returns the snapshot published by the most recent tick.
func (l *Loop) Status() traffic.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Start launches the loop goroutine. ctx bounds the whole run, so it should
// be a long-lived context rather than a request context. Starting a running
// loop returns ErrAlreadyRunning and changes nothing.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		select {
		case <-l.done:
		default:
			if l.running.Load() {
				return ErrAlreadyRunning
			}
			return ErrStillStopping
		}
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	select {
	case <-l.wake:
	default:
	}
	done := make(chan struct{})
	l.done = done
	go l.run(ctx, done)
	return nil
}

// Stop asks the loop to exit and waits up to timeout for it to command both
// directions Red and return. Stopping a loop that is not running is a no-op.
// If the loop does not exit in time Stop returns ErrStopTimeout; the loop
// still exits on its own later.
func (l *Loop) Stop(timeout time.Duration) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	l.running.Store(false)
	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-done:
		return nil
	default:
	}
	timer := l.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C():
		logf("loop did not stop within %s", timeout)
		return fmt.Errorf("%w (waited %s)", ErrStopTimeout, timeout)
	}
}

// Done is closed when the current run exits. It is nil before the first Start.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Exited reports whether the most recent run has returned. It is true before
// the first Start.
func (l *Loop) Exited() bool {
	done := l.Done()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer l.running.Store(false)

	logf("control loop started")
	l.enter()

	state := Idle()
	// the flag is observed only here, never mid-tick
	for l.running.Load() && ctx.Err() == nil {
		next, err := l.Tick(ctx, state)
		state = next
		wait := l.timing.PollInterval
		if err != nil {
			l.reportTickError(err)
			wait = l.timing.ErrorBackoff
		}
		l.publish(true)
		l.sleep(ctx, wait)
	}

	l.exit()
	logf("control loop ended")
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	t := l.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
	case <-l.wake:
	case <-ctx.Done():
	}
}

// Tick runs one poll, decide, act iteration from state s and returns the
// state to continue from. A failed tick returns a *TickError and the state
// reached by the commands that did succeed.
func (l *Loop) Tick(ctx context.Context, s State) (next State, err error) {
	cur := s
	defer func() {
		if r := recover(); r != nil {
			next = cur
			err = &TickError{Kind: KindPanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	counts, err := l.sample(ctx)
	if err != nil {
		return s, err
	}

	target, steps := Decide(s, counts, l.clock.Now(), l.timing)
	for _, st := range steps {
		c := st.Command
		if err := l.output.Set(c.Direction, c.Light); err != nil {
			return cur, &TickError{Kind: KindOutput, Direction: c.Direction, Err: err}
		}
		cur = st.After
		l.lightChanged(c)
	}
	return target, nil
}

func (l *Loop) sample(ctx context.Context) ([2]uint, error) {
	var counts [2]uint
	simulated := false
	for _, d := range traffic.Directions {
		s := l.sensors[d.Index()]
		if !s.Active() {
			counts[d.Index()] = s.Simulate()
			simulated = true
			continue
		}
		r, err := s.Read(ctx)
		if err != nil {
			return counts, &TickError{Kind: KindSensor, Direction: d, Err: err}
		}
		counts[d.Index()] = r.VehicleCount
	}
	l.counts = counts
	l.simulated = simulated
	return counts, nil
}

func (l *Loop) enter() {
	for _, d := range traffic.Directions {
		if err := l.output.Set(d, traffic.Red); err != nil {
			l.reportTickError(&TickError{Kind: KindOutput, Direction: d, Err: err})
		}
	}
	l.counts = [2]uint{}
	l.emit(traffic.Event{
		Direction:   traffic.DirectionBoth,
		Type:        traffic.EventSystemStart,
		Description: "Traffic control system started",
		LightState:  traffic.Red.String(),
	})
	l.publish(true)
}

func (l *Loop) exit() {
	for _, d := range traffic.Directions {
		if err := l.output.Set(d, traffic.Red); err != nil {
			logf("could not set %s to RED on stop: %v", d, err)
		}
	}
	l.counts = [2]uint{}
	l.emit(traffic.Event{
		Direction:   traffic.DirectionBoth,
		Type:        traffic.EventSystemStop,
		Description: "Traffic control system stopped",
		LightState:  traffic.Red.String(),
	})
	l.publish(false)
}

func (l *Loop) lightChanged(c Command) {
	logf("%s switched to %s (%d vehicles, %s)", c.Direction, c.Light, c.Vehicles, c.Reason)
	l.emit(traffic.Event{
		Direction:        c.Direction.String(),
		Type:             traffic.EventLightChange,
		Description:      fmt.Sprintf("Light changed to %s for %s: %s", c.Light, c.Direction, c.Reason),
		VehiclesDetected: c.Vehicles,
		LightState:       c.Light.String(),
	})
}

func (l *Loop) reportTickError(err error) {
	te, ok := AsTickError(err)
	if !ok {
		te = &TickError{Kind: KindPanic, Err: err}
	}
	logf("tick failed: %v", te)
	l.emit(traffic.Event{
		Direction:   te.direction(),
		Type:        traffic.EventError,
		Description: te.Error(),
	})
}

func (l *Loop) emit(evt traffic.Event) {
	evt.ID = l.newID()
	evt.Timestamp = l.clock.Now()
	if l.sink == nil {
		return
	}
	if err := l.sink.RecordEvent(evt); err != nil {
		logf("failed to record %s event: %v", evt.Type, err)
	}
}

func (l *Loop) stoppedStatus() traffic.Status {
	st := traffic.StoppedStatus(l.clock.Now())
	st.LightOne = l.output.State(traffic.DirectionOne).String()
	st.LightTwo = l.output.State(traffic.DirectionTwo).String()
	st.OutputMode = l.output.Mode()
	return st
}

func (l *Loop) publish(running bool) {
	st := l.stoppedStatus()
	if running {
		st.Running = true
		st.VehiclesOne = l.counts[traffic.DirectionOne.Index()]
		st.VehiclesTwo = l.counts[traffic.DirectionTwo.Index()]
		st.SimulatedInput = l.simulated
	}
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()

	if l.sink == nil {
		return
	}
	if err := l.sink.RecordStatus(st); err != nil {
		logf("failed to record status: %v", err)
	}
}
