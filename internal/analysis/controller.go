package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/monitoring"
	"github.com/banshee-data/bledoubt/internal/timeutil"
)

// RunRecorder persists a summary of each pass. *db.DB implements it.
type RunRecorder interface {
	InsertAnalysisRun(ctx context.Context, run db.AnalysisRun) error
}

// Runner is a single analysis pass. *Analyzer implements it.
type Runner interface {
	RunOnce(ctx context.Context) (Result, error)
}

// RunInfo captures details about a single pass.
type RunInfo struct {
	Trigger    string    `json:"trigger,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Status is the controller state reported by the API.
type Status struct {
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval_ns"`
	LastRunAt    time.Time     `json:"last_run_at"`
	LastRunError string        `json:"last_run_error,omitempty"`
	RunCount     int64         `json:"run_count"`
	IsHealthy    bool          `json:"is_healthy"`
	CurrentRun   *RunInfo      `json:"current_run,omitempty"`
	LastRun      *RunInfo      `json:"last_run,omitempty"`
}

// Controller runs analysis passes on a fixed interval and on demand. While
// disabled (logging mode) passes are skipped so that data can be collected
// without notifications.
type Controller struct {
	runner   Runner
	recorder RunRecorder
	clock    timeutil.Clock
	interval time.Duration

	// Buffered with size 1 so rapid triggers coalesce into one pending run.
	manualTrigger chan struct{}

	mu           sync.RWMutex
	enabled      bool
	lastRunAt    time.Time
	lastRunError error
	runCount     int64
	currentRun   *RunInfo
	lastRun      *RunInfo
}

// NewController returns an enabled controller. recorder may be nil.
func NewController(runner Runner, recorder RunRecorder, interval time.Duration, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		runner:        runner,
		recorder:      recorder,
		clock:         clock,
		interval:      interval,
		enabled:       true,
		manualTrigger: make(chan struct{}, 1),
	}
}

func (c *Controller) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled turns analysis on or off. Enabling also triggers a run.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()

	if enabled {
		c.TriggerManualRun()
	}
}

// TriggerManualRun requests a run without blocking. It reports false when a
// run is already pending.
func (c *Controller) TriggerManualRun() bool {
	select {
	case c.manualTrigger <- struct{}{}:
		return true
	default:
		monitoring.Logf("Analysis manual trigger skipped (already pending)")
		return false
	}
}

// Status returns a snapshot of the controller state. It is unhealthy when
// the last run failed or when enabled and no run has finished within twice
// the interval.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		Enabled:   c.enabled,
		Interval:  c.interval,
		LastRunAt: c.lastRunAt,
		RunCount:  c.runCount,
		IsHealthy: true,
	}
	if c.lastRunError != nil {
		status.LastRunError = c.lastRunError.Error()
		status.IsHealthy = false
	}
	if c.currentRun != nil {
		run := *c.currentRun
		status.CurrentRun = &run
	}
	if c.lastRun != nil {
		run := *c.lastRun
		status.LastRun = &run
	}
	if c.enabled && !c.lastRunAt.IsZero() && c.clock.Since(c.lastRunAt) > 2*c.interval {
		status.IsHealthy = false
	}
	return status
}

func (c *Controller) run(ctx context.Context, trigger string) {
	if !c.IsEnabled() {
		monitoring.Logf("Analysis %s run skipped (logging mode)", trigger)
		return
	}

	c.mu.Lock()
	c.currentRun = &RunInfo{Trigger: trigger, StartedAt: c.clock.Now()}
	c.mu.Unlock()

	res, err := c.runner.RunOnce(ctx)

	c.mu.Lock()
	now := c.clock.Now()
	run := c.currentRun
	run.FinishedAt = now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	run.Result = &res
	if err != nil {
		run.Error = err.Error()
	}
	c.lastRun = run
	c.currentRun = nil
	c.lastRunAt = now
	c.lastRunError = err
	c.runCount++
	c.mu.Unlock()

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		monitoring.Logf("Analysis %s run error: %v", trigger, err)
	case err == nil:
		monitoring.Logf("Analysis %s run complete: devices=%d newly_suspicious=%d suspicious=%d",
			trigger, res.DevicesAnalyzed, len(res.NewlySuspicious), res.SuspiciousCount)
	}

	if c.recorder != nil && res.RunID != "" {
		rec := db.AnalysisRun{
			RunID:           res.RunID,
			Trigger:         trigger,
			StartedAt:       run.StartedAt,
			FinishedAt:      now,
			DevicesAnalyzed: res.DevicesAnalyzed,
			NewlySuspicious: len(res.NewlySuspicious),
			SuspiciousCount: res.SuspiciousCount,
			Notification:    res.Notified,
			Error:           run.Error,
		}
		if err := c.recorder.InsertAnalysisRun(context.WithoutCancel(ctx), rec); err != nil {
			monitoring.Logf("failed to record analysis run: %v", err)
		}
	}
}

// Run executes one pass immediately, then one per interval and on each
// manual trigger, until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	monitoring.Logf("Analysis loop started: enabled=%t interval=%s", c.IsEnabled(), c.interval)

	c.run(ctx, "initial")

	for {
		select {
		case <-ticker.C():
			c.run(ctx, "periodic")
		case <-c.manualTrigger:
			c.run(ctx, "manual")
		case <-ctx.Done():
			monitoring.Logf("Analysis loop terminated")
			return ctx.Err()
		}
	}
}
