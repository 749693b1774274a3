package api

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/crossroads/internal/arbiter"
	"github.com/banshee-data/crossroads/internal/db"
	"github.com/banshee-data/crossroads/internal/traffic"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	stopping bool
	startErr error
	stopErr  error
	status   traffic.Status
	timing   arbiter.Timing
	events   []traffic.Event

	stopTimeout time.Duration
	lastLimit   int
	lastSince   time.Time
}

func newFakeController() *fakeController {
	return &fakeController{
		status: traffic.StoppedStatus(testNow),
		timing: arbiter.Timing{
			MinGreen:     10 * time.Second,
			MaxGreen:     60 * time.Second,
			PollInterval: time.Second,
			ErrorBackoff: time.Second,
		},
	}
}

func (c *fakeController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return arbiter.ErrAlreadyRunning
	}
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	c.status.Running = true
	return nil
}

func (c *fakeController) Stop(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimeout = timeout
	c.running = false
	c.status.Running = false
	if c.stopErr != nil {
		c.stopping = true
		return c.stopErr
	}
	c.stopping = false
	return nil
}

func (c *fakeController) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

func (c *fakeController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeController) Status() traffic.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeController) Timing() arbiter.Timing { return c.timing }

func (c *fakeController) RecentEvents(ctx context.Context, limit int, since time.Time) ([]traffic.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLimit = limit
	c.lastSince = since
	var out []traffic.Event
	for _, e := range c.events {
		if len(out) == limit {
			break
		}
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeStore struct {
	stats   db.Stats
	phases  []db.GreenPhase
	samples []traffic.Status
	err     error
}

func (s *fakeStore) Stats(ctx context.Context, since time.Time) (db.Stats, error) {
	st := s.stats
	st.Since = since
	return st, s.err
}

func (s *fakeStore) GreenPhases(ctx context.Context, since time.Time) ([]db.GreenPhase, error) {
	return s.phases, s.err
}

func (s *fakeStore) StatusSamples(ctx context.Context, since time.Time) ([]traffic.Status, error) {
	return s.samples, s.err
}
