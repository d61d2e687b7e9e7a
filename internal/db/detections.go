package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/bledoubt/internal/trajectory"
)

// DetectionRecord is one stored sighting. Timestamp and position are nullable:
// partial scanner reports are kept but never reach a trajectory.
type DetectionRecord struct {
	Address        string   `json:"address"`
	TimestampUnix  *int64   `json:"timestamp_unix"`
	RSSI           int      `json:"rssi"`
	TxPower        *int     `json:"tx_power,omitempty"`
	DistanceMeters *float64 `json:"distance_m,omitempty"`
	Latitude       *float64 `json:"lat"`
	Longitude      *float64 `json:"lon"`
	AccuracyMeters *float64 `json:"accuracy_m"`
}

// Detection converts the record for trajectory analysis. ok is false when a
// required field is missing or the position is invalid.
func (r DetectionRecord) Detection() (d trajectory.Detection, ok bool) {
	if r.TimestampUnix == nil || r.Latitude == nil || r.Longitude == nil || r.AccuracyMeters == nil {
		return d, false
	}
	d = trajectory.Detection{
		Address:   r.Address,
		Timestamp: time.Unix(*r.TimestampUnix, 0).UTC(),
		SignalDBm: r.RSSI,
		Position: trajectory.Position{
			Latitude:       *r.Latitude,
			Longitude:      *r.Longitude,
			AccuracyMeters: *r.AccuracyMeters,
		},
	}
	return d, d.Valid()
}

// RecordDetection appends rec to the detection log and upserts meta in one
// transaction. Existing flags are never cleared, first-seen only moves back
// and last-seen only moves forward. Empty metadata fields do not overwrite
// known values.
func (db *DB) RecordDetection(ctx context.Context, meta DeviceMetadata, rec DetectionRecord) error {
	if meta.Address == "" {
		meta.Address = rec.Address
	}
	if meta.Address == "" {
		return fmt.Errorf("detection has no device address")
	}
	rec.Address = meta.Address

	seen := db.clock.Now().Unix()
	if rec.TimestampUnix != nil {
		seen = *rec.TimestampUnix
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertDevice(ctx, tx, meta, seen, seen); err != nil {
		return err
	}
	if err := insertDetection(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	db.publish(ctx)
	return nil
}

func upsertDevice(ctx context.Context, tx *sql.Tx, meta DeviceMetadata, firstSeen, lastSeen int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO devices (address, name, beacon_type, id1, id2, id3,
			first_seen_unix, last_seen_unix, is_safe, is_suspicious, is_notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE devices.name END,
			beacon_type = CASE WHEN excluded.beacon_type <> '' THEN excluded.beacon_type ELSE devices.beacon_type END,
			id1 = CASE WHEN excluded.id1 <> '' THEN excluded.id1 ELSE devices.id1 END,
			id2 = CASE WHEN excluded.id2 <> '' THEN excluded.id2 ELSE devices.id2 END,
			id3 = CASE WHEN excluded.id3 <> '' THEN excluded.id3 ELSE devices.id3 END,
			first_seen_unix = MIN(devices.first_seen_unix, excluded.first_seen_unix),
			last_seen_unix = MAX(devices.last_seen_unix, excluded.last_seen_unix),
			is_safe = MAX(devices.is_safe, excluded.is_safe),
			is_suspicious = MAX(devices.is_suspicious, excluded.is_suspicious),
			is_notified = MAX(devices.is_notified, excluded.is_notified)`,
		meta.Address, meta.Name, meta.BeaconType, meta.ID1, meta.ID2, meta.ID3,
		firstSeen, lastSeen, boolToInt(meta.IsSafe), boolToInt(meta.IsSuspicious), boolToInt(meta.IsNotified))
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", meta.Address, err)
	}
	return nil
}

func insertDetection(ctx context.Context, tx *sql.Tx, rec DetectionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO detections (address, timestamp_unix, rssi_dbm, tx_power_dbm,
			distance_m, latitude, longitude, accuracy_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Address, rec.TimestampUnix, rec.RSSI, rec.TxPower,
		rec.DistanceMeters, rec.Latitude, rec.Longitude, rec.AccuracyMeters)
	if err != nil {
		return fmt.Errorf("failed to insert detection for %s: %w", rec.Address, err)
	}
	return nil
}

// DetectionRecords returns every stored record for address in insertion
// order, including partial ones.
func (db *DB) DetectionRecords(ctx context.Context, address string) ([]DetectionRecord, error) {
	return detectionRecords(ctx, db, address)
}

func detectionRecords(ctx context.Context, q querier, address string) ([]DetectionRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT address, timestamp_unix, rssi_dbm, tx_power_dbm, distance_m,
			latitude, longitude, accuracy_m
		FROM detections WHERE address = ? ORDER BY detection_id`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []DetectionRecord{}
	for rows.Next() {
		var r DetectionRecord
		var ts, tx sql.NullInt64
		var dist, lat, lon, acc sql.NullFloat64
		if err := rows.Scan(&r.Address, &ts, &r.RSSI, &tx, &dist, &lat, &lon, &acc); err != nil {
			return nil, err
		}
		if ts.Valid {
			r.TimestampUnix = &ts.Int64
		}
		if tx.Valid {
			p := int(tx.Int64)
			r.TxPower = &p
		}
		r.DistanceMeters = nullFloat(dist)
		r.Latitude = nullFloat(lat)
		r.Longitude = nullFloat(lon)
		r.AccuracyMeters = nullFloat(acc)
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Trajectory returns the time-ordered trajectory of address. Records with a
// missing timestamp or position are skipped. An unknown address yields an
// empty trajectory.
func (db *DB) Trajectory(ctx context.Context, address string) (trajectory.Trajectory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT timestamp_unix, rssi_dbm, latitude, longitude, accuracy_m
		FROM detections
		WHERE address = ?
		  AND timestamp_unix IS NOT NULL
		  AND latitude IS NOT NULL
		  AND longitude IS NOT NULL
		  AND accuracy_m IS NOT NULL
		ORDER BY timestamp_unix, detection_id`, address)
	if err != nil {
		return trajectory.Trajectory{}, fmt.Errorf("failed to read trajectory for %s: %w", address, err)
	}
	defer rows.Close()

	var detections []trajectory.Detection
	for rows.Next() {
		var ts int64
		d := trajectory.Detection{Address: address}
		if err := rows.Scan(&ts, &d.SignalDBm, &d.Position.Latitude, &d.Position.Longitude, &d.Position.AccuracyMeters); err != nil {
			return trajectory.Trajectory{}, err
		}
		d.Timestamp = time.Unix(ts, 0).UTC()
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return trajectory.Trajectory{}, err
	}
	return trajectory.New(detections), nil
}
