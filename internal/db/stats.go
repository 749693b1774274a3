package db

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/crossroads/internal/traffic"
)

// GreenPhase is one interval during which a direction held green.
type GreenPhase struct {
	Direction traffic.Direction
	Start     time.Time
	Duration  time.Duration
}

// GreenPhasesFromEvents pairs each GREEN light change with the next RED
// change for the same direction. A system stop closes any open phase; a
// phase still open at the end of the log is dropped.
func GreenPhasesFromEvents(events []traffic.Event) []GreenPhase {
	var (
		phases []GreenPhase
		open   [2]*time.Time
	)
	closePhase := func(d traffic.Direction, at time.Time) {
		start := open[d.Index()]
		if start == nil {
			return
		}
		phases = append(phases, GreenPhase{Direction: d, Start: *start, Duration: at.Sub(*start)})
		open[d.Index()] = nil
	}

	for _, evt := range events {
		switch evt.Type {
		case traffic.EventLightChange:
			d, err := traffic.ParseDirection(evt.Direction)
			if err != nil {
				continue
			}
			switch evt.LightState {
			case traffic.Green.String():
				if open[d.Index()] == nil {
					ts := evt.Timestamp
					open[d.Index()] = &ts
				}
			case traffic.Red.String():
				closePhase(d, evt.Timestamp)
			}
		case traffic.EventSystemStop, traffic.EventSystemStart:
			for _, d := range traffic.Directions {
				closePhase(d, evt.Timestamp)
			}
		}
	}
	return phases
}

// GreenPhases reconstructs the green intervals that started at or after since.
func (db *DB) GreenPhases(ctx context.Context, since time.Time) ([]GreenPhase, error) {
	events, err := db.eventsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return GreenPhasesFromEvents(events), nil
}

// DirectionStats summarises the green phases of one direction in seconds.
type DirectionStats struct {
	Direction string  `json:"direction"`
	Phases    int     `json:"phases"`
	Mean      float64 `json:"mean_green_seconds"`
	StdDev    float64 `json:"stddev_green_seconds"`
	Median    float64 `json:"median_green_seconds"`
	P90       float64 `json:"p90_green_seconds"`
	Max       float64 `json:"max_green_seconds"`
}

// Stats is the summary served by the stats endpoint.
type Stats struct {
	Since      time.Time        `json:"since"`
	Directions []DirectionStats `json:"directions"`
	EventCount map[string]int   `json:"event_counts"`
}

// SummarizeGreenPhases computes per-direction statistics. Both directions are
// always present, with zero values when no phase was observed.
func SummarizeGreenPhases(phases []GreenPhase) []DirectionStats {
	var durations [2][]float64
	for _, p := range phases {
		durations[p.Direction.Index()] = append(durations[p.Direction.Index()], p.Duration.Seconds())
	}

	out := make([]DirectionStats, 0, len(traffic.Directions))
	for _, d := range traffic.Directions {
		xs := durations[d.Index()]
		ds := DirectionStats{Direction: d.String(), Phases: len(xs)}
		if len(xs) > 0 {
			sort.Float64s(xs)
			ds.Mean = stat.Mean(xs, nil)
			if len(xs) > 1 {
				ds.StdDev = stat.StdDev(xs, nil)
			}
			ds.Median = stat.Quantile(0.5, stat.Empirical, xs, nil)
			ds.P90 = stat.Quantile(0.9, stat.Empirical, xs, nil)
			ds.Max = xs[len(xs)-1]
		}
		out = append(out, ds)
	}
	return out
}

// Stats returns green-phase statistics and event counts since the given time.
func (db *DB) Stats(ctx context.Context, since time.Time) (Stats, error) {
	stats := Stats{Since: since, EventCount: map[string]int{}}

	phases, err := db.GreenPhases(ctx, since)
	if err != nil {
		return stats, err
	}
	stats.Directions = SummarizeGreenPhases(phases)

	rows, err := db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events WHERE timestamp_ns >= ? GROUP BY event_type`,
		since.UnixNano(),
	)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			evtType string
			n       int
		)
		if err := rows.Scan(&evtType, &n); err != nil {
			return stats, err
		}
		stats.EventCount[evtType] = n
	}
	return stats, rows.Err()
}
