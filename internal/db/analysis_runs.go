package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AnalysisRun is the persisted record of one analysis pass.
type AnalysisRun struct {
	RunID           string    `json:"run_id"`
	Trigger         string    `json:"trigger"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	DevicesAnalyzed int       `json:"devices_analyzed"`
	NewlySuspicious int       `json:"newly_suspicious"`
	SuspiciousCount int       `json:"suspicious_count"`
	Notification    string    `json:"notification,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// InsertAnalysisRun stores run, replacing any earlier record with the same ID.
func (db *DB) InsertAnalysisRun(ctx context.Context, run AnalysisRun) error {
	var finished sql.NullInt64
	if !run.FinishedAt.IsZero() {
		finished = sql.NullInt64{Int64: run.FinishedAt.Unix(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_runs (run_id, trigger, started_unix, finished_unix,
			devices_analyzed, newly_suspicious, suspicious_count, notification, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Trigger, run.StartedAt.Unix(), finished,
		run.DevicesAnalyzed, run.NewlySuspicious, run.SuspiciousCount,
		run.Notification, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record analysis run %s: %w", run.RunID, err)
	}
	return nil
}

// RecentAnalysisRuns returns up to limit runs, newest first.
func (db *DB) RecentAnalysisRuns(ctx context.Context, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, trigger, started_unix, finished_unix, devices_analyzed,
			newly_suspicious, suspicious_count, notification, error
		FROM analysis_runs
		ORDER BY started_unix DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []AnalysisRun{}
	for rows.Next() {
		var r AnalysisRun
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Trigger, &started, &finished, &r.DevicesAnalyzed,
			&r.NewlySuspicious, &r.SuspiciousCount, &r.Notification, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			r.FinishedAt = time.Unix(finished.Int64, 0).UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
