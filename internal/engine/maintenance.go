package engine

import (
	"os"
	"path/filepath"
	"time"
)

// registerMaintenance schedules the periodic housekeeping jobs: batch GC
// (cfg.BatchGCInterval, default 5m), a circuit-breaker tick that logs the
// tracked breaker count (every minute), and the orphaned-scratch sweep
// (cfg.ScratchSweepEvery, default 10m).
func (e *Engine) registerMaintenance() error {
	batchGC := e.cfg.BatchGCInterval
	if batchGC <= 0 {
		batchGC = 5 * time.Minute
	}
	scratchSweep := e.cfg.ScratchSweepEvery
	if scratchSweep <= 0 {
		scratchSweep = 10 * time.Minute
	}
	if _, err := e.cron.AddFunc("@every "+batchGC.String(), e.gcBatches); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc("@every 1m", e.compactBreakers); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc("@every "+scratchSweep.String(), e.sweepScratch); err != nil {
		return err
	}
	return nil
}

func (e *Engine) gcBatches() {
	removed := e.batches.GC(time.Now())
	if len(removed) > 0 {
		e.logger.Debug("garbage collected stale batches", "count", len(removed))
	}
}

// compactBreakers logs the current breaker population. Per-breaker window
// eviction already happens inline on every RecordSuccess/RecordFailure, so
// this is an observability tick rather than a sweep; ResetAll is reserved
// for operator-triggered resets.
func (e *Engine) compactBreakers() {
	e.logger.Debug("circuit breaker compaction tick", "tracked", e.breakers.Len())
}

// sweepScratch removes scratch subdirectories with no corresponding live
// task, left behind by a process crash between scratch creation and task
// registration.
func (e *Engine) sweepScratch() {
	entries, err := os.ReadDir(e.cfg.ScratchRoot)
	if err != nil {
		return
	}

	e.mu.Lock()
	live := make(map[string]bool, len(e.tasks))
	for id := range e.tasks {
		live[id.String()] = true
	}
	e.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() || live[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil || time.Since(info.ModTime()) < time.Hour {
			continue
		}
		orphan := filepath.Join(e.cfg.ScratchRoot, entry.Name())
		if err := os.RemoveAll(orphan); err != nil {
			e.logger.Warn("failed to remove orphaned scratch directory", "path", orphan, "error", err)
		} else {
			e.logger.Info("removed orphaned scratch directory", "path", orphan)
		}
	}
}
