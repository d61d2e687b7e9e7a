// Package ingest turns scanner reports into stored detections. Reports
// arrive one JSON object per line, from the serial scanner or over HTTP.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/bledoubt/internal/db"
)

var (
	// ErrMalformed marks a line that is not a usable report.
	ErrMalformed = errors.New("malformed report")
	// ErrOutOfRange marks a report from a beacon too far away to be
	// co-located with the user.
	ErrOutOfRange = errors.New("beacon out of range")
)

// pathLossExponent is used to estimate range from RSSI when the scanner
// does not report a distance. 2 is free space.
const pathLossExponent = 2.0

// Report is one scanner observation of one beacon.
type Report struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	ID1     string `json:"id1,omitempty"`
	ID2     string `json:"id2,omitempty"`
	ID3     string `json:"id3,omitempty"`

	RSSI           int      `json:"rssi"`
	TxPower        *int     `json:"tx_power,omitempty"`
	DistanceMeters *float64 `json:"distance_m,omitempty"`

	// UNIX seconds. Missing timestamps are stamped on receipt.
	Timestamp *int64 `json:"timestamp,omitempty"`

	// Receiver position. Any missing field leaves the detection out of
	// trajectory analysis.
	Latitude       *float64 `json:"lat,omitempty"`
	Longitude      *float64 `json:"lon,omitempty"`
	AccuracyMeters *float64 `json:"accuracy_m,omitempty"`
}

// ParseLine decodes one report. The address is trimmed and upper-cased.
func ParseLine(line string) (Report, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Report{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	var r Report
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := r.normalize(); err != nil {
		return Report{}, err
	}
	return r, nil
}

func (r *Report) normalize() error {
	r.Address = strings.ToUpper(strings.TrimSpace(r.Address))
	if r.Address == "" {
		return fmt.Errorf("%w: missing address", ErrMalformed)
	}
	for _, f := range []*float64{r.Latitude, r.Longitude, r.AccuracyMeters, r.DistanceMeters} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return fmt.Errorf("%w: non-finite number", ErrMalformed)
		}
	}
	return nil
}

// RangeMeters is the beacon's distance from the receiver: the scanner's own
// estimate if present, else a log-distance estimate from tx power and RSSI.
// ok is false when neither is available.
func (r Report) RangeMeters() (meters float64, ok bool) {
	if r.DistanceMeters != nil {
		return *r.DistanceMeters, true
	}
	if r.TxPower == nil || r.RSSI == 0 {
		return 0, false
	}
	return math.Pow(10, float64(*r.TxPower-r.RSSI)/(10*pathLossExponent)), true
}

// Metadata is the device identity carried by the report.
func (r Report) Metadata() db.DeviceMetadata {
	return db.DeviceMetadata{
		Address:    r.Address,
		Name:       r.Name,
		BeaconType: r.Type,
		ID1:        r.ID1,
		ID2:        r.ID2,
		ID3:        r.ID3,
	}
}

// Record is the detection carried by the report.
func (r Report) Record() db.DetectionRecord {
	return db.DetectionRecord{
		Address:        r.Address,
		TimestampUnix:  r.Timestamp,
		RSSI:           r.RSSI,
		TxPower:        r.TxPower,
		DistanceMeters: r.DistanceMeters,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: r.AccuracyMeters,
	}
}

// Filter drops reports that cannot be from a beacon travelling with the
// user.
type Filter struct {
	// MaxRangeMeters is the furthest a co-located beacon can be. Zero
	// disables the check.
	MaxRangeMeters float64
}

// Check returns ErrOutOfRange for a report beyond MaxRangeMeters. Reports
// with no range information pass.
func (f Filter) Check(r Report) error {
	if f.MaxRangeMeters <= 0 {
		return nil
	}
	if d, ok := r.RangeMeters(); ok && d > f.MaxRangeMeters {
		return fmt.Errorf("%w: %s at %.1fm (max %.1fm)", ErrOutOfRange, r.Address, d, f.MaxRangeMeters)
	}
	return nil
}
