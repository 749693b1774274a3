package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/crossroads/internal/traffic"
)

// RecordStatus upserts the single system_status row, appends a sample and
// prunes samples older than the retention window.
func (db *DB) RecordStatus(st traffic.Status) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	ts := st.UpdatedAt.UnixNano()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO system_status (
			status_id, is_running, direction_1_light, direction_2_light,
			direction_1_vehicles, direction_2_vehicles, simulated_input,
			output_mode, last_update_ns
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(status_id) DO UPDATE SET
			is_running = excluded.is_running,
			direction_1_light = excluded.direction_1_light,
			direction_2_light = excluded.direction_2_light,
			direction_1_vehicles = excluded.direction_1_vehicles,
			direction_2_vehicles = excluded.direction_2_vehicles,
			simulated_input = excluded.simulated_input,
			output_mode = excluded.output_mode,
			last_update_ns = excluded.last_update_ns`,
		boolInt(st.Running), st.LightOne, st.LightTwo,
		st.VehiclesOne, st.VehiclesTwo, boolInt(st.SimulatedInput),
		st.OutputMode, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert status: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO status_samples (
			timestamp_ns, is_running, direction_1_light, direction_2_light,
			direction_1_vehicles, direction_2_vehicles
		) VALUES (?, ?, ?, ?, ?, ?)`,
		ts, boolInt(st.Running), st.LightOne, st.LightTwo, st.VehiclesOne, st.VehiclesTwo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status sample: %w", err)
	}

	if retention := time.Duration(db.retention.Load()); retention > 0 {
		cutoff := st.UpdatedAt.Add(-retention).UnixNano()
		if _, err := tx.Exec(`DELETE FROM status_samples WHERE timestamp_ns < ?`, cutoff); err != nil {
			return fmt.Errorf("failed to prune status samples: %w", err)
		}
	}

	return tx.Commit()
}

// Status returns the last recorded status. A database that has never
// recorded one reports a stopped intersection.
func (db *DB) Status(ctx context.Context) (traffic.Status, error) {
	var (
		st        traffic.Status
		running   int
		simulated int
		tsNanos   int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT is_running, direction_1_light, direction_2_light,
			direction_1_vehicles, direction_2_vehicles, simulated_input,
			output_mode, last_update_ns
		FROM system_status WHERE status_id = 1`,
	).Scan(&running, &st.LightOne, &st.LightTwo, &st.VehiclesOne, &st.VehiclesTwo,
		&simulated, &st.OutputMode, &tsNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return traffic.StoppedStatus(time.Time{}), nil
	}
	if err != nil {
		return st, err
	}
	st.Running = running != 0
	st.SimulatedInput = simulated != 0
	st.UpdatedAt = fromNanos(tsNanos)
	return st, nil
}

// StatusSamples returns the samples recorded at or after since, oldest first.
func (db *DB) StatusSamples(ctx context.Context, since time.Time) ([]traffic.Status, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT timestamp_ns, is_running, direction_1_light, direction_2_light,
			direction_1_vehicles, direction_2_vehicles
		FROM status_samples
		WHERE timestamp_ns >= ?
		ORDER BY timestamp_ns ASC, sample_id ASC`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []traffic.Status{}
	for rows.Next() {
		var (
			st      traffic.Status
			tsNanos int64
			running int
		)
		if err := rows.Scan(&tsNanos, &running, &st.LightOne, &st.LightTwo, &st.VehiclesOne, &st.VehiclesTwo); err != nil {
			return nil, err
		}
		st.Running = running != 0
		st.UpdatedAt = fromNanos(tsNanos)
		samples = append(samples, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
