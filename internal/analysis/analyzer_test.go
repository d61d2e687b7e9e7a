package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/bledoubt/internal/classifier"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/notify"
	"github.com/banshee-data/bledoubt/internal/testutil"
	"github.com/banshee-data/bledoubt/internal/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// recordWalk stores one detection every 30s for the given duration while
// the receiver moves north at speed m/s.
func recordWalk(t *testing.T, store *db.DB, address string, start time.Time, dur time.Duration, speed float64) {
	t.Helper()
	ctx := context.Background()
	for _, f := range testutil.Walk(start, dur, 30*time.Second, 45, 7, speed) {
		rec := db.TestRecord(address, f.Time, f.Latitude, f.Longitude, 5)
		require.NoError(t, store.RecordDetection(ctx, db.DeviceMetadata{Address: address, Name: address}, rec))
	}
}

func newAnalyzer(t *testing.T, store Store, n notify.Notifier) *Analyzer {
	t.Helper()
	c, err := classifier.New(classifier.DefaultParams())
	require.NoError(t, err)
	a := NewAnalyzer(store, c, n)
	a.Workers = 4
	return a
}

func TestRunOnce_SingleSuspiciousDevice(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "TAIL", t0, 10*time.Minute, 1.5)     // 900m over 600s
	recordWalk(t, store, "CAFE", t0, 10*time.Minute, 0)       // stationary
	recordWalk(t, store, "BRIEF", t0, 2*time.Minute, 10)      // wide but short
	rec := &notify.Recorder{}

	res, err := newAnalyzer(t, store, rec).RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 3, res.DevicesAnalyzed)
	assert.Equal(t, []string{"TAIL"}, res.NewlySuspicious)
	assert.Equal(t, 1, res.SuspiciousCount)
	assert.Equal(t, NotifiedSingle, res.Notified)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	require.Len(t, rec.Devices, 1)
	assert.Equal(t, "TAIL", rec.Devices[0].Address)
	assert.Empty(t, rec.Counts)

	d, err := store.Device(context.Background(), "TAIL")
	require.NoError(t, err)
	assert.True(t, d.IsSuspicious)
}

func TestRunOnce_AggregateNotification(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "A", t0, 10*time.Minute, 1.5)
	recordWalk(t, store, "B", t0.Add(time.Hour), 10*time.Minute, 1.5)
	rec := &notify.Recorder{}

	res, err := newAnalyzer(t, store, rec).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.NewlySuspicious)
	assert.Equal(t, NotifiedAggregate, res.Notified)
	assert.Equal(t, []int{2}, rec.Counts)
	assert.Empty(t, rec.Devices)
}

func TestRunOnce_Idempotent(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "TAIL", t0, 10*time.Minute, 1.5)
	rec := &notify.Recorder{}
	a := newAnalyzer(t, store, rec)

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	res, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.NewlySuspicious)
	assert.Equal(t, 1, res.SuspiciousCount)
	assert.Equal(t, NotifiedNone, res.Notified)
	assert.Equal(t, 1, rec.Total(), "second pass must not notify again")
}

func TestRunOnce_NeverClearsFlag(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "CAFE", t0, 10*time.Minute, 0)
	ctx := context.Background()
	_, err := store.MarkSuspicious(ctx, "CAFE", true)
	require.NoError(t, err)

	res, err := newAnalyzer(t, store, &notify.Recorder{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.NewlySuspicious)

	d, err := store.Device(ctx, "CAFE")
	require.NoError(t, err)
	assert.True(t, d.IsSuspicious)
}

func TestRunOnce_SafeDevicesAreNotAnnounced(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "MINE", t0, 10*time.Minute, 1.5)
	_, err := store.MarkSafe(context.Background(), "MINE", true)
	require.NoError(t, err)
	rec := &notify.Recorder{}

	res, err := newAnalyzer(t, store, rec).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"MINE"}, res.NewlySuspicious)
	assert.Equal(t, 0, res.SuspiciousCount)
	assert.Equal(t, NotifiedNone, res.Notified)
	assert.Zero(t, rec.Total())
}

func TestRunOnce_ConcurrentPassesFlagOnce(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "TAIL", t0, 10*time.Minute, 1.5)
	a := newAnalyzer(t, store, &notify.Recorder{})

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.RunOnce(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	flagged := 0
	for _, r := range results {
		flagged += len(r.NewlySuspicious)
	}
	assert.Equal(t, 1, flagged)
}

func TestRunOnce_Cancelled(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "TAIL", t0, 10*time.Minute, 1.5)
	rec := &notify.Recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newAnalyzer(t, store, rec).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.DevicesAnalyzed)
	assert.Zero(t, rec.Total())
}

type brokenStore struct {
	Store
	listErr, trajErr error
}

func (b brokenStore) DeviceList(ctx context.Context) ([]db.DeviceMetadata, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return []db.DeviceMetadata{{Address: "A"}, {Address: "B"}}, nil
}

func (b brokenStore) Trajectory(context.Context, string) (trajectory.Trajectory, error) {
	return trajectory.Trajectory{}, b.trajErr
}

func TestRunOnce_StoreErrors(t *testing.T) {
	unavailable := errors.New("database is locked")

	_, err := newAnalyzer(t, brokenStore{listErr: unavailable}, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, unavailable)

	_, err = newAnalyzer(t, brokenStore{trajErr: unavailable}, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, unavailable)
}

type failingNotifier struct{ notify.Recorder }

func (f *failingNotifier) NotifySuspiciousDevice(context.Context, db.DeviceMetadata) error {
	return errors.New("push service down")
}

func TestRunOnce_NotificationFailureIsReported(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "TAIL", t0, 10*time.Minute, 1.5)

	res, err := newAnalyzer(t, store, &failingNotifier{}).RunOnce(context.Background())
	assert.ErrorContains(t, err, "push service down")
	assert.Equal(t, []string{"TAIL"}, res.NewlySuspicious)
	assert.Equal(t, NotifiedNone, res.Notified)
}

// flakyNotifier fails the first failures deliveries.
type flakyNotifier struct {
	notify.Recorder
	failures int
}

func (f *flakyNotifier) NotifySuspiciousDevice(ctx context.Context, d db.DeviceMetadata) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("push gateway down")
	}
	return f.Recorder.NotifySuspiciousDevice(ctx, d)
}

func TestRunOnce_RetriesFailedNotification(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "TAIL", t0, 10*time.Minute, 1.5)
	n := &flakyNotifier{failures: 1}
	a := newAnalyzer(t, store, n)
	ctx := context.Background()

	_, err := a.RunOnce(ctx)
	require.ErrorContains(t, err, "push gateway down")
	d, err := store.Device(ctx, "TAIL")
	require.NoError(t, err)
	assert.True(t, d.IsSuspicious)
	assert.False(t, d.IsNotified)

	res, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.NewlySuspicious)
	assert.Equal(t, NotifiedSingle, res.Notified)
	require.Len(t, n.Devices, 1)
	assert.Equal(t, "TAIL", n.Devices[0].Address)

	res, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, NotifiedNone, res.Notified)
	assert.Equal(t, 1, n.Total())
}

// listOnceFails fails the first SuspiciousDevices call, after the pass has
// already committed its flags.
type listOnceFails struct {
	*db.DB
	failed bool
}

func (s *listOnceFails) SuspiciousDevices(ctx context.Context) ([]db.DeviceMetadata, error) {
	if !s.failed {
		s.failed = true
		return nil, errors.New("database is locked")
	}
	return s.DB.SuspiciousDevices(ctx)
}

func TestRunOnce_AbortedPassNotifiesLater(t *testing.T) {
	store := &listOnceFails{DB: db.NewTestDB(t)}
	recordWalk(t, store.DB, "TAIL", t0, 10*time.Minute, 1.5)
	rec := &notify.Recorder{}
	a := newAnalyzer(t, store, rec)

	res, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"TAIL"}, res.NewlySuspicious)
	assert.Zero(t, rec.Total())

	res, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.NewlySuspicious)
	assert.Equal(t, NotifiedSingle, res.Notified)
	assert.Equal(t, 1, rec.Total())
}

func TestRunOnce_ReportedDeviceJoinsAggregate(t *testing.T) {
	store := db.NewTestDB(t)
	recordWalk(t, store, "A", t0, 10*time.Minute, 1.5)
	rec := &notify.Recorder{}
	a := newAnalyzer(t, store, rec)

	res, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotifiedSingle, res.Notified)

	recordWalk(t, store, "B", t0.Add(time.Hour), 10*time.Minute, 1.5)
	res, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.NewlySuspicious)
	assert.Equal(t, NotifiedAggregate, res.Notified)
	assert.Equal(t, []int{2}, rec.Counts)
}
