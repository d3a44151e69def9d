/*
scheduler.go - Fixed-interval tick scheduler

PURPOSE:
  Drives the engine's Tick on a fixed interval so round transitions, slot
  projections and notification fan-outs happen without any inbound request.

DESIGN:
  - cron (robfig/cron) with an "@every" schedule; the interval comes from
    configuration (TICK_INTERVAL)
  - An immediate tick on Start so a restarted process catches up with the
    calendar right away instead of waiting a full interval
  - Overlap guard at the scheduler level: if a tick is still running when
    the next interval fires, the new firing is dropped. The engine has its
    own per-group guard underneath; this one just keeps whole passes from
    stacking up on a slow store.

USAGE:
  scheduler := NewTickScheduler(engine, time.Minute, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ikimina/engine.go: Tick, the pass this drives
  - handlers.go: TriggerTick endpoint (manual pass)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/umusanzu/ikimina-engine/ikimina"
)

// TickScheduler runs engine ticks on a fixed interval.
type TickScheduler struct {
	Engine   *ikimina.Engine
	Interval time.Duration
	Log      *logrus.Logger

	cron *cron.Cron
	mu   sync.Mutex // overlap guard: at most one pass in flight
}

// NewTickScheduler creates a scheduler with the given interval.
func NewTickScheduler(engine *ikimina.Engine, interval time.Duration, log *logrus.Logger) *TickScheduler {
	return &TickScheduler{
		Engine:   engine,
		Interval: interval,
		Log:      log,
	}
}

// Start runs one immediate tick, then ticks every interval until Stop.
func (ts *TickScheduler) Start() error {
	ts.cron = cron.New()
	spec := fmt.Sprintf("@every %s", ts.Interval)
	if _, err := ts.cron.AddFunc(spec, ts.runOnce); err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}

	// Catch up with the calendar immediately on startup.
	go ts.runOnce()

	ts.cron.Start()
	ts.Log.WithField("interval", ts.Interval.String()).Info("tick scheduler started")
	return nil
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (ts *TickScheduler) Stop() {
	if ts.cron != nil {
		<-ts.cron.Stop().Done()
	}
	// Acquiring the guard means no pass is in flight anymore.
	ts.mu.Lock()
	ts.mu.Unlock()
	ts.Log.Info("tick scheduler stopped")
}

// RunNow triggers an immediate pass (for testing/admin).
func (ts *TickScheduler) RunNow() {
	ts.runOnce()
}

func (ts *TickScheduler) runOnce() {
	if !ts.mu.TryLock() {
		ts.Log.Warn("tick still in flight, skipping this interval")
		return
	}
	defer ts.mu.Unlock()

	started := time.Now()
	report := ts.Engine.Tick(context.Background())
	ts.Log.WithFields(logrus.Fields{
		"groups":        report.Groups,
		"skipped":       report.Skipped,
		"failed":        report.Failed,
		"slots_updated": report.SlotsUpdated,
		"duration":      time.Since(started).String(),
	}).Info("tick pass completed")
}
