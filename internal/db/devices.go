package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeviceMetadata describes one beacon: its identity as advertised and the
// flags the analysis and the user have set on it.
type DeviceMetadata struct {
	Address       string `json:"address"`
	Name          string `json:"name"`
	BeaconType    string `json:"beacon_type"`
	ID1           string `json:"id1"`
	ID2           string `json:"id2"`
	ID3           string `json:"id3"`
	FirstSeenUnix int64  `json:"first_seen_unix"`
	LastSeenUnix  int64  `json:"last_seen_unix"`
	IsSafe        bool   `json:"is_safe"`
	IsSuspicious  bool   `json:"is_suspicious"`
	IsNotified    bool   `json:"is_notified"`
}

// DeviceFilter selects a subset of the device list.
type DeviceFilter string

const (
	FilterAll        DeviceFilter = "all"
	FilterSafe       DeviceFilter = "safe"
	FilterSuspicious DeviceFilter = "suspicious"
	FilterNearby     DeviceFilter = "nearby"
)

// ParseDeviceFilter maps a query string value to a DeviceFilter. An empty
// string selects all devices.
func ParseDeviceFilter(s string) (DeviceFilter, error) {
	switch DeviceFilter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterSafe, FilterSuspicious, FilterNearby:
		return DeviceFilter(s), nil
	}
	return "", fmt.Errorf("unknown device filter %q", s)
}

const deviceColumns = `address, name, beacon_type, id1, id2, id3,
	first_seen_unix, last_seen_unix, is_safe, is_suspicious, is_notified`

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanDevice(row rowScanner) (DeviceMetadata, error) {
	var d DeviceMetadata
	var safe, suspicious, notified int
	err := row.Scan(&d.Address, &d.Name, &d.BeaconType, &d.ID1, &d.ID2, &d.ID3,
		&d.FirstSeenUnix, &d.LastSeenUnix, &safe, &suspicious, &notified)
	d.IsSafe = safe != 0
	d.IsSuspicious = suspicious != 0
	d.IsNotified = notified != 0
	return d, err
}

func (db *DB) queryDevices(ctx context.Context, where string, args ...any) ([]DeviceMetadata, error) {
	return queryDevices(ctx, db, where, args...)
}

func queryDevices(ctx context.Context, q querier, where string, args ...any) ([]DeviceMetadata, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY last_seen_unix DESC, address"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []DeviceMetadata{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Devices returns the devices matching f, most recently seen first.
func (db *DB) Devices(ctx context.Context, f DeviceFilter) ([]DeviceMetadata, error) {
	switch f {
	case "", FilterAll:
		return db.DeviceList(ctx)
	case FilterSafe:
		return db.SafeDevices(ctx)
	case FilterSuspicious:
		return db.SuspiciousDevices(ctx)
	case FilterNearby:
		return db.NearbyDevices(ctx, db.clock.Now().Add(-db.NearbyWindow))
	}
	return nil, fmt.Errorf("unknown device filter %q", f)
}

// DeviceList returns every device ever recorded.
func (db *DB) DeviceList(ctx context.Context) ([]DeviceMetadata, error) {
	return db.queryDevices(ctx, "")
}

// SafeDevices returns the devices the user has marked safe.
func (db *DB) SafeDevices(ctx context.Context) ([]DeviceMetadata, error) {
	return db.queryDevices(ctx, "is_safe = 1")
}

// SuspiciousDevices returns flagged devices that have not been marked safe.
func (db *DB) SuspiciousDevices(ctx context.Context) ([]DeviceMetadata, error) {
	return db.queryDevices(ctx, "is_suspicious = 1 AND is_safe = 0")
}

// NearbyDevices returns devices last seen at or after since.
func (db *DB) NearbyDevices(ctx context.Context, since time.Time) ([]DeviceMetadata, error) {
	return db.queryDevices(ctx, "last_seen_unix >= ?", since.Unix())
}

// CountSuspiciousDevices counts flagged devices that have not been marked safe.
func (db *DB) CountSuspiciousDevices(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE is_suspicious = 1 AND is_safe = 0`).Scan(&n)
	return n, err
}

// Device returns the metadata for address, or ErrDeviceNotFound.
func (db *DB) Device(ctx context.Context, address string) (DeviceMetadata, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE address = ?`, address)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceMetadata{}, ErrDeviceNotFound
	}
	return d, err
}

// IsSafe reports whether the user has marked address safe.
func (db *DB) IsSafe(ctx context.Context, address string) (bool, error) {
	var safe int
	err := db.QueryRowContext(ctx,
		`SELECT is_safe FROM devices WHERE address = ?`, address).Scan(&safe)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrDeviceNotFound
	}
	return safe != 0, err
}

// MarkSuspicious sets the suspicious flag on address. The update is a single
// conditional statement, so concurrent callers racing on the same device see
// exactly one changed == true.
func (db *DB) MarkSuspicious(ctx context.Context, address string, suspicious bool) (bool, error) {
	return db.setFlag(ctx, "is_suspicious", address, suspicious)
}

// MarkSafe sets the user's safe flag on address.
func (db *DB) MarkSafe(ctx context.Context, address string, safe bool) (bool, error) {
	return db.setFlag(ctx, "is_safe", address, safe)
}

func (db *DB) setFlag(ctx context.Context, column, address string, value bool) (bool, error) {
	v := boolToInt(value)
	res, err := db.ExecContext(ctx,
		`UPDATE devices SET `+column+` = ? WHERE address = ? AND `+column+` <> ?`,
		v, address, v)
	if err != nil {
		return false, fmt.Errorf("failed to update %s for %s: %w", column, address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE address = ?`, address).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrDeviceNotFound
		}
		return false, err
	}
	db.publish(ctx)
	return true, nil
}

// MarkNotified records that the user has been told about addresses. Unknown
// addresses are ignored.
func (db *DB) MarkNotified(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	args := make([]any, len(addresses))
	for i, a := range addresses {
		args[i] = a
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(addresses)), ", ")
	if _, err := db.ExecContext(ctx,
		`UPDATE devices SET is_notified = 1 WHERE is_notified = 0 AND address IN (`+placeholders+`)`,
		args...); err != nil {
		return fmt.Errorf("failed to mark devices notified: %w", err)
	}
	db.publish(ctx)
	return nil
}
