package queue

import (
	"context"
	"time"
)

// Run ticks admission every cfg.AdmissionTick until ctx is canceled,
// guaranteeing forward progress even when Submit/Complete/Fail callbacks
// are missed or coalesced.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AdmissionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Admit()
		}
	}
}
