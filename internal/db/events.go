package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/crossroads/internal/traffic"
)

// RecordEvent appends an event to the log. An event without an ID is given
// a random one.
func (db *DB) RecordEvent(evt traffic.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO events (
			event_id, timestamp_ns, direction, event_type, description,
			vehicles_detected, light_state
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.Timestamp.UnixNano(), evt.Direction, string(evt.Type), evt.Description,
		evt.VehiclesDetected, evt.LightState,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", evt.Type, err)
	}
	return nil
}

// RecentEvents returns at most limit events at or after since, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int, since time.Time) ([]traffic.Event, error) {
	if limit <= 0 {
		return []traffic.Event{}, nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, timestamp_ns, direction, event_type, description,
			vehicles_detected, light_state
		FROM events
		WHERE timestamp_ns >= ?
		ORDER BY timestamp_ns DESC, rowid DESC
		LIMIT ?`,
		since.UnixNano(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []traffic.Event{}
	for rows.Next() {
		var (
			evt     traffic.Event
			tsNanos int64
			evtType string
		)
		if err := rows.Scan(
			&evt.ID,
			&tsNanos,
			&evt.Direction,
			&evtType,
			&evt.Description,
			&evt.VehiclesDetected,
			&evt.LightState,
		); err != nil {
			return nil, err
		}
		evt.Timestamp = fromNanos(tsNanos)
		evt.Type = traffic.EventType(evtType)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// eventsSince returns every event at or after since, oldest first.
func (db *DB) eventsSince(ctx context.Context, since time.Time) ([]traffic.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT timestamp_ns, direction, event_type, light_state
		FROM events
		WHERE timestamp_ns >= ?
		ORDER BY timestamp_ns ASC, rowid ASC`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []traffic.Event
	for rows.Next() {
		var (
			evt     traffic.Event
			tsNanos int64
			evtType string
		)
		if err := rows.Scan(&tsNanos, &evt.Direction, &evtType, &evt.LightState); err != nil {
			return nil, err
		}
		evt.Timestamp = fromNanos(tsNanos)
		evt.Type = traffic.EventType(evtType)
		events = append(events, evt)
	}
	return events, rows.Err()
}
