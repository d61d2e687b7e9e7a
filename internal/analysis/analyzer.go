// Package analysis runs the suspicion classifier over every known device,
// writes verdicts back to the store and raises notifications.
package analysis

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/bledoubt/internal/classifier"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/monitoring"
	"github.com/banshee-data/bledoubt/internal/notify"
	"github.com/banshee-data/bledoubt/internal/timeutil"
	"github.com/banshee-data/bledoubt/internal/trajectory"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the slice of the detection store an analysis pass needs.
type Store interface {
	DeviceList(ctx context.Context) ([]db.DeviceMetadata, error)
	Trajectory(ctx context.Context, address string) (trajectory.Trajectory, error)
	MarkSuspicious(ctx context.Context, address string, suspicious bool) (bool, error)
	SuspiciousDevices(ctx context.Context) ([]db.DeviceMetadata, error)
	MarkNotified(ctx context.Context, addresses []string) error
}

// Notification kinds recorded in Result.Notified.
const (
	NotifiedNone      = ""
	NotifiedSingle    = "single"
	NotifiedAggregate = "aggregate"
)

// Result summarises one analysis pass.
type Result struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DevicesAnalyzed int       `json:"devices_analyzed"`
	NewlySuspicious []string  `json:"newly_suspicious"`
	SuspiciousCount int       `json:"suspicious_count"`
	Notified        string    `json:"notified,omitempty"`
}

// Analyzer holds no state between passes; concurrent passes are safe
// because the store's flag update is a compare-and-set.
type Analyzer struct {
	store      Store
	classifier *classifier.Classifier
	notifier   notify.Notifier
	clock      timeutil.Clock

	// Workers bounds how many trajectories are classified at once. Zero
	// means one per CPU.
	Workers int
}

// NewAnalyzer returns an analyzer. A nil notifier logs alerts.
func NewAnalyzer(store Store, c *classifier.Classifier, n notify.Notifier) *Analyzer {
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Analyzer{store: store, classifier: c, notifier: n, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to stamp results.
func (a *Analyzer) SetClock(c timeutil.Clock) {
	a.clock = c
}

func (a *Analyzer) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return runtime.NumCPU()
}

// RunOnce classifies every device and flags the suspicious ones. Flags are
// only ever set, never cleared. When a suspicious device has not been
// reported yet, the user is notified: about that device if it is the only
// suspicious one, otherwise with the count. Devices are marked notified only
// after delivery succeeds, so a failed notification, or a pass that aborted
// after flagging, is retried by the next pass.
//
// On cancellation no further devices are started and the context error is
// returned with the partial result. Store errors abort the pass.
func (a *Analyzer) RunOnce(ctx context.Context) (res Result, err error) {
	res = Result{
		RunID:           uuid.New().String(),
		StartedAt:       a.clock.Now(),
		NewlySuspicious: []string{},
	}
	defer func() { res.FinishedAt = a.clock.Now() }()

	devices, err := a.store.DeviceList(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list devices: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())

	for _, d := range devices {
		if gctx.Err() != nil {
			break
		}
		address := d.Address
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			flagged, err := a.analyzeDevice(gctx, address)
			if err != nil {
				return err
			}
			mu.Lock()
			res.DevicesAnalyzed++
			if flagged {
				res.NewlySuspicious = append(res.NewlySuspicious, address)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Strings(res.NewlySuspicious)
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	sort.Strings(res.NewlySuspicious)

	suspicious, err := a.store.SuspiciousDevices(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list suspicious devices: %w", err)
	}
	res.SuspiciousCount = len(suspicious)

	res.Notified, err = a.notify(ctx, suspicious)
	return res, err
}

// analyzeDevice reports whether this call changed the device's flag.
func (a *Analyzer) analyzeDevice(ctx context.Context, address string) (bool, error) {
	t, err := a.store.Trajectory(ctx, address)
	if err != nil {
		return false, err
	}
	v := a.classifier.Evaluate(t)
	if !v.Suspicious {
		return false, nil
	}

	changed, err := a.store.MarkSuspicious(ctx, address, true)
	if err != nil {
		return false, fmt.Errorf("failed to flag %s: %w", address, err)
	}
	if changed {
		e := v.Evidence
		monitoring.Logf("device %s flagged suspicious: %.0fs over %.0fm (lower bound %.0fm) in %d detections",
			address, e.DurationSeconds, e.DiameterMeters, e.DiameterLowerBoundMeters, e.Detections)
	}
	return changed, nil
}

// notify alerts the user when any of the suspicious devices has not been
// reported yet, then marks all of them reported.
func (a *Analyzer) notify(ctx context.Context, suspicious []db.DeviceMetadata) (string, error) {
	pending := false
	addresses := make([]string, 0, len(suspicious))
	for _, d := range suspicious {
		pending = pending || !d.IsNotified
		addresses = append(addresses, d.Address)
	}
	if !pending {
		return NotifiedNone, nil
	}

	kind := NotifiedAggregate
	var err error
	if len(suspicious) == 1 {
		kind = NotifiedSingle
		err = a.notifier.NotifySuspiciousDevice(ctx, suspicious[0])
	} else {
		err = a.notifier.NotifySuspiciousDevices(ctx, len(suspicious))
	}
	if err != nil {
		return NotifiedNone, fmt.Errorf("failed to send notification: %w", err)
	}
	return kind, a.store.MarkNotified(ctx, addresses)
}
