package supervisor

import (
	"sync"
	"time"

	"github.com/banshee-data/crossroads/internal/arbiter"
	"github.com/banshee-data/crossroads/internal/traffic"
)

// DefaultRecentCapacity bounds the in-memory event history.
const DefaultRecentCapacity = 500

// eventRing keeps the newest events in memory and forwards everything to the
// next sink. It serves RecentEvents when no persistent store is configured.
type eventRing struct {
	next arbiter.Sink

	mu    sync.Mutex
	buf   []traffic.Event
	start int
}

func newEventRing(capacity int, next arbiter.Sink) *eventRing {
	return &eventRing{next: next, buf: make([]traffic.Event, 0, capacity)}
}

func (r *eventRing) RecordEvent(e traffic.Event) error {
	r.mu.Lock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, e)
	} else {
		r.buf[r.start] = e
		r.start = (r.start + 1) % len(r.buf)
	}
	r.mu.Unlock()

	if r.next == nil {
		return nil
	}
	return r.next.RecordEvent(e)
}

func (r *eventRing) RecordStatus(s traffic.Status) error {
	if r.next == nil {
		return nil
	}
	return r.next.RecordStatus(s)
}

// recent returns up to limit events at or after since, newest first.
func (r *eventRing) recent(limit int, since time.Time) []traffic.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]traffic.Event, 0, min(limit, len(r.buf)))
	for i := len(r.buf) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}
