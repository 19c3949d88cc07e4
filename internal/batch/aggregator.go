// Package batch implements per-batch progress rollup and completion
// detection.
package batch

import (
	"sync"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
)

// MemberProgress is one member task's current progress snapshot, as fed to
// the aggregator on every progress update.
type MemberProgress struct {
	TaskID          model.ID
	State           model.TaskState
	BytesDownloaded int64
	TotalBytes      int64 // 0 if unknown
	SpeedBps        float64
	ETASeconds      float64
}

const staleAfter = 30 * time.Second

type batchEntry struct {
	batch      model.Batch
	members    map[model.ID]MemberProgress
	completedOnce bool
	lastUpdate time.Time
}

// Aggregator owns every live batch and recomputes rollups on each task
// progress update.
type Aggregator struct {
	mu      sync.Mutex
	batches map[model.ID]*batchEntry

	onComplete []func(model.Batch)
}

// New constructs an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{batches: make(map[model.ID]*batchEntry)}
}

// OnComplete registers a callback fired exactly once per batch when it
// transitions to complete.
func (a *Aggregator) OnComplete(fn func(model.Batch)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onComplete = append(a.onComplete, fn)
}

// CreateBatch registers a new batch with the given member task ids.
func (a *Aggregator) CreateBatch(name string, members []model.ID) model.ID {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := model.NewID()
	entry := &batchEntry{
		batch:   model.Batch{ID: id, Name: name, TaskIDs: append([]model.ID(nil), members...), StartTime: time.Now()},
		members: make(map[model.ID]MemberProgress, len(members)),
	}
	for _, m := range members {
		entry.members[m] = MemberProgress{TaskID: m}
	}
	a.batches[id] = entry
	a.recomputeLocked(entry)
	return id
}

// Update folds one member's progress into its owning batch and recomputes
// the rollup. batchID must be a batch previously created via CreateBatch.
func (a *Aggregator) Update(batchID model.ID, progress MemberProgress) {
	a.mu.Lock()
	entry, ok := a.batches[batchID]
	if !ok {
		a.mu.Unlock()
		return
	}
	entry.members[progress.TaskID] = progress
	entry.lastUpdate = time.Now()
	a.recomputeLocked(entry)

	var fireComplete bool
	var snapshot model.Batch
	if entry.batch.IsComplete() && !entry.completedOnce {
		entry.completedOnce = true
		fireComplete = true
		snapshot = entry.batch
	}
	callbacks := append([]func(model.Batch)(nil), a.onComplete...)
	a.mu.Unlock()

	if fireComplete {
		for _, fn := range callbacks {
			fn(snapshot)
		}
	}
}

func (a *Aggregator) recomputeLocked(entry *batchEntry) {
	b := &entry.batch
	b.Pending, b.Active, b.Completed, b.Failed, b.Paused = 0, 0, 0, 0, 0

	var totalBytes, downloadedBytes int64
	knownTotal := true
	var speedSum float64
	var percentSum float64
	var etaSum float64
	activeWithETA := 0

	for _, m := range entry.members {
		switch m.State {
		case model.StateCompleted:
			b.Completed++
		case model.StateFailed:
			b.Failed++
		case model.StatePaused:
			b.Paused++
		case model.StateRunning, model.StateRetrying, model.StateResuming:
			b.Active++
			speedSum += m.SpeedBps
			if m.ETASeconds > 0 {
				etaSum += m.ETASeconds
				activeWithETA++
			}
		default:
			b.Pending++
		}

		if m.TotalBytes > 0 {
			totalBytes += m.TotalBytes
			downloadedBytes += m.BytesDownloaded
			if m.TotalBytes > 0 {
				percentSum += float64(m.BytesDownloaded) / float64(m.TotalBytes)
			}
		} else {
			knownTotal = false
		}
	}

	total := len(entry.members)
	if knownTotal && totalBytes > 0 {
		b.Progress = float64(downloadedBytes) / float64(totalBytes)
	} else if total > 0 {
		b.Progress = percentSum / float64(total)
	}

	b.SpeedBps = speedSum

	if knownTotal && totalBytes > 0 && speedSum > 0 {
		remaining := totalBytes - downloadedBytes
		b.ETASeconds = float64(remaining) / speedSum
	} else if activeWithETA > 0 {
		b.ETASeconds = etaSum / float64(activeWithETA)
	} else {
		b.ETASeconds = 0
	}
}

// Get returns a snapshot of the batch, if it exists.
func (a *Aggregator) Get(id model.ID) (model.Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.batches[id]
	if !ok {
		return model.Batch{}, false
	}
	return entry.batch, true
}

// GC removes stale batches: no active members and a last update older
// than 30 seconds.
func (a *Aggregator) GC(now time.Time) []model.ID {
	a.mu.Lock()
	defer a.mu.Unlock()

	var removed []model.ID
	for id, entry := range a.batches {
		if entry.batch.Active == 0 && now.Sub(entry.lastUpdate) > staleAfter {
			removed = append(removed, id)
			delete(a.batches, id)
		}
	}
	return removed
}
