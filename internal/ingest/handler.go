package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/monitoring"
	"github.com/banshee-data/bledoubt/internal/serialmux"
	"github.com/banshee-data/bledoubt/internal/timeutil"
)

// Recorder stores detections. *db.DB implements it.
type Recorder interface {
	RecordDetection(ctx context.Context, meta db.DeviceMetadata, rec db.DetectionRecord) error
}

// Stats counts what the handler has done with the reports it was given.
type Stats struct {
	Recorded   int64 `json:"recorded"`
	OutOfRange int64 `json:"out_of_range"`
	Malformed  int64 `json:"malformed"`
	Failed     int64 `json:"failed"`
}

// Handler filters reports and records the rest.
type Handler struct {
	store  Recorder
	filter Filter
	clock  timeutil.Clock

	recorded, outOfRange, malformed, failed atomic.Int64
}

// NewHandler returns a handler writing to store. A nil clock uses real time.
func NewHandler(store Recorder, filter Filter, clock timeutil.Clock) *Handler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Handler{store: store, filter: filter, clock: clock}
}

// HandleLine parses and records one scanner line.
func (h *Handler) HandleLine(ctx context.Context, line string) error {
	r, err := ParseLine(line)
	if err != nil {
		h.malformed.Add(1)
		return err
	}
	return h.HandleReport(ctx, r)
}

// HandleReport records r unless the filter rejects it.
func (h *Handler) HandleReport(ctx context.Context, r Report) error {
	if err := r.normalize(); err != nil {
		h.malformed.Add(1)
		return err
	}
	if err := h.filter.Check(r); err != nil {
		h.outOfRange.Add(1)
		return err
	}
	if r.Timestamp == nil {
		now := h.clock.Now().Unix()
		r.Timestamp = &now
	}
	if err := h.store.RecordDetection(ctx, r.Metadata(), r.Record()); err != nil {
		h.failed.Add(1)
		return err
	}
	h.recorded.Add(1)
	return nil
}

// Stats returns the running counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Recorded:   h.recorded.Load(),
		OutOfRange: h.outOfRange.Load(),
		Malformed:  h.malformed.Load(),
		Failed:     h.failed.Load(),
	}
}

// Consume feeds scanner lines from mux to h until ctx is done or the mux is
// closed. Only detection lines are parsed; dropped reports are logged and
// do not stop the loop.
func Consume(ctx context.Context, mux serialmux.SerialMuxInterface, h *Handler) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch serialmux.ClassifyLine(line) {
			case serialmux.LineTypeDetection:
			case serialmux.LineTypeStatus:
				monitoring.Logf("scanner: %s", line)
				continue
			default:
				continue
			}
			err := h.HandleLine(ctx, line)
			switch {
			case err == nil, errors.Is(err, ErrOutOfRange):
			case errors.Is(err, context.Canceled):
				return err
			default:
				monitoring.Logf("failed to record detection: %v", err)
			}
		}
	}
}
