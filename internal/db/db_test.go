package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/crossroads/internal/traffic"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}
}

func TestNewDBMigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS: %v", err)
	}
	latest, err := GetLatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion: %v", err)
	}
	if latest != 2 {
		t.Errorf("latest version = %d, want 2", latest)
	}
	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d (dirty %v), want %d clean", version, dirty, latest)
	}

	for _, table := range []string{"events", "system_status", "status_samples"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatalf("checking %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if err := db.RecordEvent(traffic.Event{ID: "a", Timestamp: base, Direction: traffic.DirectionBoth, Type: traffic.EventSystemStart}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	db.Close()

	db, err = NewDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	events, err := db.RecentEvents(context.Background(), 10, time.Time{})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "a" {
		t.Errorf("events after reopen = %+v", events)
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	db := newTestDB(t)

	want := []traffic.Event{}
	for i := 0; i < 5; i++ {
		evt := traffic.Event{
			ID:               string(rune('a' + i)),
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
			Direction:        traffic.DirectionOne.String(),
			Type:             traffic.EventLightChange,
			Description:      "Light changed to GREEN for DIRECTION_1: vehicles waiting",
			VehiclesDetected: uint(i),
			LightState:       traffic.Green.String(),
		}
		if err := db.RecordEvent(evt); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
		want = append([]traffic.Event{evt}, want...)
	}

	got, err := db.RecentEvents(context.Background(), 50, time.Time{})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentEvents mismatch (-want +got):\n%s", diff)
	}

	limited, err := db.RecentEvents(context.Background(), 2, time.Time{})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if diff := cmp.Diff(want[:2], limited); diff != "" {
		t.Errorf("limited mismatch (-want +got):\n%s", diff)
	}

	recent, err := db.RecentEvents(context.Background(), 50, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "e" || recent[1].ID != "d" {
		t.Errorf("since filter returned %+v", recent)
	}

	none, err := db.RecentEvents(context.Background(), 0, time.Time{})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("limit 0 returned %d events", len(none))
	}
}

func TestRecordEventAssignsID(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordEvent(traffic.Event{Timestamp: base, Direction: traffic.DirectionBoth, Type: traffic.EventError}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	events, err := db.RecentEvents(context.Background(), 1, time.Time{})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID == "" {
		t.Errorf("expected a generated id, got %+v", events)
	}
}

func TestRecordEventDuplicateID(t *testing.T) {
	db := newTestDB(t)
	evt := traffic.Event{ID: "dup", Timestamp: base, Direction: traffic.DirectionBoth, Type: traffic.EventSystemStart}
	if err := db.RecordEvent(evt); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := db.RecordEvent(evt); err == nil {
		t.Error("expected primary key violation")
	}
}

func TestStatusDefaultsToStopped(t *testing.T) {
	db := newTestDB(t)
	st, err := db.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running || st.LightOne != "RED" || st.LightTwo != "RED" {
		t.Errorf("fresh status = %+v", st)
	}
}

func TestRecordStatusUpsertsSingleRow(t *testing.T) {
	db := newTestDB(t)

	running := traffic.Status{
		Running:        true,
		LightOne:       "GREEN",
		LightTwo:       "RED",
		VehiclesOne:    3,
		VehiclesTwo:    1,
		UpdatedAt:      base,
		SimulatedInput: true,
		OutputMode:     "simulated",
	}
	if err := db.RecordStatus(running); err != nil {
		t.Fatalf("RecordStatus: %v", err)
	}
	got, err := db.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if diff := cmp.Diff(running, got); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}

	stopped := traffic.StoppedStatus(base.Add(time.Second))
	if err := db.RecordStatus(stopped); err != nil {
		t.Fatalf("RecordStatus: %v", err)
	}
	got, err = db.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if diff := cmp.Diff(stopped, got); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM system_status").Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("system_status rows = %d, want 1", rows)
	}
}

func TestStatusSamplesPruned(t *testing.T) {
	db := newTestDB(t)
	db.SetSampleRetention(time.Hour)

	for i := 0; i < 4; i++ {
		st := traffic.Status{
			Running:     true,
			LightOne:    "GREEN",
			LightTwo:    "RED",
			VehiclesOne: uint(i),
			UpdatedAt:   base.Add(time.Duration(i) * 30 * time.Minute),
		}
		if err := db.RecordStatus(st); err != nil {
			t.Fatalf("RecordStatus: %v", err)
		}
	}

	// The last sample is at +90m, so anything before +30m is gone.
	samples, err := db.StatusSamples(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("StatusSamples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	for i, s := range samples {
		if s.VehiclesOne != uint(i+1) {
			t.Errorf("sample %d vehicles = %d, want %d", i, s.VehiclesOne, i+1)
		}
	}

	since, err := db.StatusSamples(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("StatusSamples: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("got %d samples since +1h, want 2", len(since))
	}
}

func TestStatusSamplesRetentionDisabled(t *testing.T) {
	db := newTestDB(t)
	db.SetSampleRetention(0)

	for i := 0; i < 3; i++ {
		st := traffic.StoppedStatus(base.Add(time.Duration(i) * 48 * time.Hour))
		if err := db.RecordStatus(st); err != nil {
			t.Fatalf("RecordStatus: %v", err)
		}
	}
	samples, err := db.StatusSamples(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("StatusSamples: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("got %d samples, want 3", len(samples))
	}
}
