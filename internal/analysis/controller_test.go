package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/timeutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
	runs  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: make(chan struct{}, 16)}
}

func (f *fakeRunner) RunOnce(ctx context.Context) (Result, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	f.runs <- struct{}{}
	return Result{RunID: uuid.New().String(), DevicesAnalyzed: 2}, err
}

func (f *fakeRunner) waitRun(t *testing.T) {
	t.Helper()
	select {
	case <-f.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for analysis run")
	}
}

func (f *fakeRunner) expectNoRun(t *testing.T) {
	t.Helper()
	select {
	case <-f.runs:
		t.Fatal("unexpected analysis run")
	case <-time.After(50 * time.Millisecond):
	}
}

func startController(t *testing.T, c *Controller) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestController_InitialPeriodicAndManualRuns(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	runner := newFakeRunner()
	store := db.NewTestDB(t)
	c := NewController(runner, store, 15*time.Minute, clock)

	startController(t, c)
	runner.waitRun(t) // initial

	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, 5*time.Millisecond)
	clock.Advance(15 * time.Minute)
	runner.waitRun(t) // periodic

	assert.True(t, c.TriggerManualRun())
	runner.waitRun(t) // manual

	require.Eventually(t, func() bool { return c.Status().RunCount == 3 }, time.Second, 5*time.Millisecond)
	status := c.Status()
	assert.True(t, status.Enabled)
	assert.True(t, status.IsHealthy)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "manual", status.LastRun.Trigger)
	assert.Equal(t, 2, status.LastRun.Result.DevicesAnalyzed)

	require.Eventually(t, func() bool {
		runs, err := store.RecentAnalysisRuns(context.Background(), 10)
		return err == nil && len(runs) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestController_LoggingModeSkipsRuns(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	runner := newFakeRunner()
	c := NewController(runner, nil, time.Minute, clock)
	c.SetEnabled(false)
	// Disabling does not queue a run, so the loop starts idle.
	assert.False(t, c.IsEnabled())

	startController(t, c)
	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, 5*time.Millisecond)
	runner.expectNoRun(t)

	clock.Advance(time.Minute)
	runner.expectNoRun(t)

	c.SetEnabled(true) // triggers an immediate run
	runner.waitRun(t)
}

func TestController_TriggerCoalesces(t *testing.T) {
	c := NewController(newFakeRunner(), nil, time.Minute, timeutil.NewMockClock(t0))
	assert.True(t, c.TriggerManualRun())
	assert.False(t, c.TriggerManualRun())
}

func TestController_StatusReportsErrorsAndStaleness(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	runner := newFakeRunner()
	runner.err = errors.New("database is locked")
	c := NewController(runner, nil, time.Minute, clock)

	startController(t, c)
	runner.waitRun(t)
	require.Eventually(t, func() bool { return c.Status().RunCount == 1 }, time.Second, 5*time.Millisecond)

	status := c.Status()
	assert.False(t, status.IsHealthy)
	assert.Equal(t, "database is locked", status.LastRunError)

	runner.mu.Lock()
	runner.err = nil
	runner.mu.Unlock()
	assert.True(t, c.TriggerManualRun())
	runner.waitRun(t)
	require.Eventually(t, func() bool { return c.Status().RunCount == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Status().IsHealthy)

	// No run for more than twice the interval. Set avoids firing the ticker.
	clock.Set(t0.Add(3 * time.Minute))
	assert.False(t, c.Status().IsHealthy)
}

func TestController_RunReturnsOnCancel(t *testing.T) {
	runner := newFakeRunner()
	c := NewController(runner, nil, time.Minute, timeutil.NewMockClock(t0))
	cancel, done := startController(t, c)
	runner.waitRun(t)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		done <- err // for cleanup
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
