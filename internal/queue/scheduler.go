// Package queue implements the QueueScheduler: admission control over
// concurrently running tasks, dependency gating, and a pluggable
// selection strategy.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
)

// Strategy names a selection algorithm for choosing which pending tasks
// to admit next.
type Strategy string

const (
	StrategyPriorityFirst  Strategy = "priority_first"
	StrategySizeOptimized  Strategy = "size_optimized"
	StrategyTimeBalanced   Strategy = "time_balanced"
	StrategyResourceAware  Strategy = "resource_aware"
)

// ResourceSample is the system-load snapshot ResourceAware consults.
type ResourceSample struct {
	CPUPercent     float64
	MemoryPercent  float64
	NetworkPercent float64
}

// Config tunes the scheduler. ConcurrencyLimit is the default maximum of
// simultaneously running tasks; AdmissionTick is the periodic admission
// interval used even when nothing else triggers admission.
type Config struct {
	ConcurrencyLimit int
	AdmissionTick    time.Duration
	Strategy         Strategy
}

// DefaultConfig returns the standard admission tuning.
func DefaultConfig() Config {
	return Config{ConcurrencyLimit: 3, AdmissionTick: 5 * time.Second, Strategy: StrategyPriorityFirst}
}

// ResourceSource supplies the live sample ResourceAware reduces the
// concurrency limit against. Nil means "no reduction".
type ResourceSource func() ResourceSample

// Scheduler maintains pending (ordered), running, and terminal task sets
// and runs admission on submission, completion, failure, and a periodic
// tick.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	pending  []*model.Task
	running  map[model.ID]*model.Task
	terminal map[model.ID]*model.Task
	resource ResourceSource
	onAdmit  []func(*model.Task)
}

// New constructs a Scheduler. A nil resource source disables
// ResourceAware's concurrency reduction (it then orders like PriorityFirst).
func New(cfg Config, resource ResourceSource) *Scheduler {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = DefaultConfig().ConcurrencyLimit
	}
	if cfg.AdmissionTick <= 0 {
		cfg.AdmissionTick = DefaultConfig().AdmissionTick
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultConfig().Strategy
	}
	return &Scheduler{
		cfg:      cfg,
		running:  make(map[model.ID]*model.Task),
		terminal: make(map[model.ID]*model.Task),
		resource: resource,
	}
}

// OnAdmit registers a callback invoked (outside the lock) for each task
// the scheduler admits into Running.
func (s *Scheduler) OnAdmit(fn func(*model.Task)) {
	s.mu.Lock()
	s.onAdmit = append(s.onAdmit, fn)
	s.mu.Unlock()
}

// Submit adds a task to pending and immediately runs admission.
func (s *Scheduler) Submit(t *model.Task) {
	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()
	s.Admit()
}

// Complete moves a running task to terminal and runs admission.
func (s *Scheduler) Complete(id model.ID) {
	s.mu.Lock()
	if t, ok := s.running[id]; ok {
		delete(s.running, id)
		s.terminal[id] = t
	}
	s.mu.Unlock()
	s.Admit()
}

// Fail is identical to Complete for scheduling purposes: the task leaves
// the running set regardless of outcome.
func (s *Scheduler) Fail(id model.ID) {
	s.Complete(id)
}

func (s *Scheduler) completedSet() map[model.ID]bool {
	out := make(map[model.ID]bool, len(s.terminal))
	for id, t := range s.terminal {
		if t.State == model.StateCompleted {
			out[id] = true
		}
	}
	return out
}

// Admit runs one admission pass: select eligible pending tasks under the
// concurrency limit (as adjusted by strategy) whose dependencies are all
// completed, and move them into Running.
func (s *Scheduler) Admit() {
	s.mu.Lock()

	limit := s.effectiveLimitLocked()
	slack := limit - len(s.running)
	if slack <= 0 {
		s.mu.Unlock()
		return
	}

	completed := s.completedSet()
	eligible := make([]*model.Task, 0, len(s.pending))
	rest := make([]*model.Task, 0, len(s.pending))
	for _, t := range s.pending {
		if t.DependenciesSatisfied(completed) {
			eligible = append(eligible, t)
		} else {
			rest = append(rest, t)
		}
	}

	ordered := s.selectLocked(eligible)
	if len(ordered) > slack {
		ordered = ordered[:slack]
	}

	admittedSet := make(map[model.ID]bool, len(ordered))
	for _, t := range ordered {
		admittedSet[t.ID] = true
		s.running[t.ID] = t
	}

	remaining := rest
	for _, t := range eligible {
		if !admittedSet[t.ID] {
			remaining = append(remaining, t)
		}
	}
	s.pending = remaining

	callbacks := append([]func(*model.Task){}, s.onAdmit...)
	s.mu.Unlock()

	for _, t := range ordered {
		for _, cb := range callbacks {
			cb(t)
		}
	}
}

func (s *Scheduler) effectiveLimitLocked() int {
	limit := s.cfg.ConcurrencyLimit
	if s.cfg.Strategy != StrategyResourceAware || s.resource == nil {
		return limit
	}
	sample := s.resource()
	if sample.NetworkPercent > 90 {
		limit -= 2
	} else if sample.CPUPercent > 80 || sample.MemoryPercent > 80 {
		limit--
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (s *Scheduler) selectLocked(tasks []*model.Task) []*model.Task {
	out := append([]*model.Task{}, tasks...)
	switch s.cfg.Strategy {
	case StrategySizeOptimized:
		sortBySizeWithinPriority(out)
	case StrategyTimeBalanced:
		sortByTimeBalancedScore(out)
	case StrategyResourceAware:
		if s.resource != nil && s.resource().CPUPercent > 80 {
			sortBySizeWithinPriority(out)
		} else {
			sortByPriorityFirst(out)
		}
	default:
		sortByPriorityFirst(out)
	}
	return out
}

func sortByPriorityFirst(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func sortBySizeWithinPriority(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].DeclaredSize < tasks[j].DeclaredSize
	})
}

func sizeScore(bytes int64) float64 {
	switch {
	case bytes <= 0:
		return 0.5
	case bytes < 1<<20:
		return 1.0
	case bytes < 10*(1<<20):
		return 0.9
	case bytes < 100*(1<<20):
		return 0.7
	case bytes < 1<<30:
		return 0.5
	case bytes < 5*(1<<30):
		return 0.3
	default:
		return 0.1
	}
}

func durationScore(t *model.Task) float64 {
	age := time.Since(t.CreatedAt)
	return 1.0 - 1.0/(1.0+age.Hours())
}

func priorityScore(t *model.Task) float64 {
	return (6.0 - float64(t.Priority)) / 5.0
}

func timeBalancedScore(t *model.Task) float64 {
	return 0.5*priorityScore(t) + 0.3*sizeScore(t.DeclaredSize) + 0.2*durationScore(t)
}

func sortByTimeBalancedScore(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return timeBalancedScore(tasks[i]) > timeBalancedScore(tasks[j])
	})
}

// Remove drops a still-pending task from the queue without admitting it.
// It reports false if id is not currently pending (already running or
// terminal).
func (s *Scheduler) Remove(id model.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.pending {
		if t.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Reorder sets a still-pending task's priority; the next Admit call
// re-sorts pending under the configured strategy. It reports false if id
// is not currently pending.
func (s *Scheduler) Reorder(id model.ID, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.pending {
		if t.ID == id {
			t.Priority = priority
			return true
		}
	}
	return false
}

// Pending, Running, Terminal expose read-only snapshots for diagnostics.
func (s *Scheduler) Pending() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Task{}, s.pending...)
}

func (s *Scheduler) Running() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Task, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) Terminal() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Task, 0, len(s.terminal))
	for _, t := range s.terminal {
		out = append(out, t)
	}
	return out
}
