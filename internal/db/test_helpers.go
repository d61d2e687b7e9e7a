package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/bledoubt/internal/timeutil"
)

// NewTestDB creates a migrated database in a per-test temporary directory
// and closes it when the test ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "bledoubt.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewTestDBWithClock is NewTestDB with a mock clock starting at now.
func NewTestDBWithClock(t testing.TB, now time.Time) (*DB, *timeutil.MockClock) {
	t.Helper()
	db := NewTestDB(t)
	clock := timeutil.NewMockClock(now)
	db.SetClock(clock)
	return db, clock
}

// TestRecord builds a complete detection record for address.
func TestRecord(address string, ts time.Time, lat, lon, accuracy float64) DetectionRecord {
	unix := ts.Unix()
	return DetectionRecord{
		Address:        address,
		TimestampUnix:  &unix,
		RSSI:           -70,
		Latitude:       &lat,
		Longitude:      &lon,
		AccuracyMeters: &accuracy,
	}
}
