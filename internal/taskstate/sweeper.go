package taskstate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically checks every registered Machine for an expired
// transitional-state deadline and forces it to Failed.
type Sweeper struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs a sweeper that ticks every interval (defaulting to
// TransitionalTimeout/6 for reasonably prompt detection).
func NewSweeper(interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = TransitionalTimeout / 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{machines: make(map[string]*Machine), interval: interval, logger: logger}
}

// Register adds a machine to be swept under the given key (typically the
// task id string).
func (s *Sweeper) Register(key string, m *Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[key] = m
}

// Unregister removes a machine, called once the task reaches a terminal state.
func (s *Sweeper) Unregister(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, key)
}

// Run blocks, sweeping on each tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepOnce(now)
		}
	}
}

func (s *Sweeper) sweepOnce(now time.Time) {
	s.mu.RLock()
	machines := make([]*Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.RUnlock()

	for _, m := range machines {
		if m.CheckTimeout(now) {
			s.logger.Warn("forced transitional timeout", slog.String("state", string(m.State())))
		}
	}
}
