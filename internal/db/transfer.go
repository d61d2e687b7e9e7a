package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
)

// HistoryDocument is the portable form of the whole store.
type HistoryDocument struct {
	Devices    []DeviceMetadata  `json:"devices"`
	Detections []DetectionRecord `json:"detections"`
}

// Snapshot reads every device and its detections inside one transaction, so
// a concurrent ingest or ClearAll is seen either entirely or not at all.
func (db *DB) Snapshot(ctx context.Context) (HistoryDocument, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return HistoryDocument{}, err
	}
	defer tx.Rollback()

	devices, err := queryDevices(ctx, tx, "")
	if err != nil {
		return HistoryDocument{}, err
	}
	doc := HistoryDocument{Devices: devices, Detections: []DetectionRecord{}}
	for _, d := range devices {
		records, err := detectionRecords(ctx, tx, d.Address)
		if err != nil {
			return HistoryDocument{}, err
		}
		doc.Detections = append(doc.Detections, records...)
	}
	return doc, tx.Commit()
}

// ExportJSON writes the whole store to w.
func (db *DB) ExportJSON(ctx context.Context, w io.Writer) error {
	doc, err := db.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ImportJSON replaces the contents of the store with the document read from
// r. The replacement is a single transaction: on error the previous contents
// are kept. Detections whose device is absent from the document get a
// placeholder device.
func (db *DB) ImportJSON(ctx context.Context, r io.Reader) error {
	var doc HistoryDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}
	return db.Replace(ctx, doc)
}

// Replace swaps the store contents for doc.
func (db *DB) Replace(ctx context.Context, doc HistoryDocument) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := clearTables(ctx, tx); err != nil {
		return err
	}

	for _, d := range doc.Devices {
		if d.Address == "" {
			return fmt.Errorf("device without address in history")
		}
		if err := upsertDevice(ctx, tx, d, d.FirstSeenUnix, d.LastSeenUnix); err != nil {
			return err
		}
	}

	for _, rec := range doc.Detections {
		if rec.Address == "" {
			return fmt.Errorf("detection without address in history")
		}
		if rec.TimestampUnix != nil {
			ts := *rec.TimestampUnix
			if err := upsertDevice(ctx, tx, DeviceMetadata{Address: rec.Address}, ts, ts); err != nil {
				return err
			}
		} else if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO devices (address, first_seen_unix, last_seen_unix) VALUES (?, 0, 0)`,
			rec.Address); err != nil {
			return err
		}
		if err := insertDetection(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	db.publish(ctx)
	return nil
}

// ClearAll removes every device and detection.
func (db *DB) ClearAll(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := clearTables(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	db.publish(ctx)
	return nil
}

func clearTables(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"detections", "devices"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
