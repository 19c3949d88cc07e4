package model

import "time"

// Batch aggregates the progress of a named group of tasks.
type Batch struct {
	ID        ID
	Name      string
	TaskIDs   []ID
	StartTime time.Time

	Progress   float64 // 0..1
	SpeedBps   float64
	ETASeconds float64

	Pending   int
	Active    int
	Completed int
	Failed    int
	Paused    int

	lastUpdate time.Time
	completed  bool
}

// TotalTasks returns the member count.
func (b *Batch) TotalTasks() int {
	return len(b.TaskIDs)
}

// IsComplete reports whether every member task has completed; a failed or
// canceled member keeps it false.
func (b *Batch) IsComplete() bool {
	return b.Completed == b.TotalTasks() && b.TotalTasks() > 0
}

// HistoryStatus enumerates terminal outcomes recorded to history.
type HistoryStatus string

const (
	HistoryCompleted HistoryStatus = "completed"
	HistoryFailed    HistoryStatus = "failed"
	HistoryCanceled  HistoryStatus = "canceled"
	HistoryPartial   HistoryStatus = "partial"
)

// HistoryRecord is an immutable snapshot of a task's terminal outcome.
type HistoryRecord struct {
	ID                 ID
	TaskName           string
	URL                string
	OutputPath         string
	FinalSize          int64
	Status             HistoryStatus
	StartTime          time.Time
	EndTime             time.Time
	Duration            time.Duration
	AverageSpeedBps     float64
	PeakSpeedBps        float64
	SegmentsDeclared    int
	SegmentsCompleted   int
	RetryCount          int
	ErrorMessage        string
	Metadata            map[string]string
	Tags                []string
}
