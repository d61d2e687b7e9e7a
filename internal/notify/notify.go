// Package notify delivers suspicious-device alerts. The analysis pass is
// handed a Notifier rather than reaching for a global, so the delivery
// channel can be swapped or fanned out.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/monitoring"
)

// Notifier raises alerts for suspicious devices.
type Notifier interface {
	// NotifySuspiciousDevice announces a single suspicious device.
	NotifySuspiciousDevice(ctx context.Context, device db.DeviceMetadata) error
	// NotifySuspiciousDevices announces that count devices are suspicious.
	NotifySuspiciousDevices(ctx context.Context, count int) error
}

// LogNotifier writes alerts to the diagnostic log.
type LogNotifier struct{}

func (LogNotifier) NotifySuspiciousDevice(_ context.Context, d db.DeviceMetadata) error {
	monitoring.Logf("⚠️  suspicious device %s (%s %q) has been following you", d.Address, d.BeaconType, d.Name)
	return nil
}

func (LogNotifier) NotifySuspiciousDevices(_ context.Context, count int) error {
	monitoring.Logf("⚠️  %d suspicious devices have been following you", count)
	return nil
}

// Multi delivers every alert to each notifier in turn. All notifiers are
// attempted; their errors are joined.
type Multi []Notifier

func (m Multi) NotifySuspiciousDevice(ctx context.Context, d db.DeviceMetadata) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifySuspiciousDevice(ctx, d))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifySuspiciousDevices(ctx context.Context, count int) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifySuspiciousDevices(ctx, count))
	}
	return errors.Join(errs...)
}

// Recorder keeps every alert in memory. Used in tests and the dev server.
type Recorder struct {
	mu      sync.Mutex
	Devices []db.DeviceMetadata
	Counts  []int
}

func (r *Recorder) NotifySuspiciousDevice(_ context.Context, d db.DeviceMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Devices = append(r.Devices, d)
	return nil
}

func (r *Recorder) NotifySuspiciousDevices(_ context.Context, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Counts = append(r.Counts, count)
	return nil
}

// Total returns the number of alerts recorded so far.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Devices) + len(r.Counts)
}
