package model

import "time"

// TaskState enumerates the strict lifecycle states a Task may occupy.
type TaskState string

const (
	StateCreated    TaskState = "created"
	StateQueued     TaskState = "queued"
	StatePreparing  TaskState = "preparing"
	StateRunning    TaskState = "running"
	StatePausing    TaskState = "pausing"
	StatePaused     TaskState = "paused"
	StateResuming   TaskState = "resuming"
	StateCanceling  TaskState = "canceling"
	StateCanceled   TaskState = "canceled"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
	StateRetrying   TaskState = "retrying"
	StateCleaningUp TaskState = "cleaning_up"
)

// Transitional reports whether a state is a bounded, timeout-supervised
// state (Pausing, Resuming, Canceling, CleaningUp).
func (s TaskState) Transitional() bool {
	switch s {
	case StatePausing, StateResuming, StateCanceling, StateCleaningUp:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted from s.
// Failed is semi-terminal and intentionally excluded.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateCanceled
}

// Task is a single download unit: one playlist URL assembled into one output file.
type Task struct {
	ID              ID
	Name            string
	SourceURL       string
	OutputPath      string
	DeclaredSize    int64 // 0 until resolved from the playlist
	Priority        int   // 1..5, 1 = urgent
	CreatedAt       time.Time
	Deadline        *time.Time
	DependsOn       []ID
	MaxAttempts     int
	AttemptCount    int
	ScratchDir      string
	Metadata        map[string]string
	BatchID         *ID

	State         TaskState
	RetryCount    int
	ErrorCount    int
	LastError     string
	BytesDownloaded int64
}

// DependenciesSatisfied reports whether every dependency in completed is present.
func (t *Task) DependenciesSatisfied(completed map[ID]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// EncryptionMethod identifies the key-derivation scheme for a segment.
type EncryptionMethod string

const (
	EncryptionNone    EncryptionMethod = ""
	EncryptionAES128  EncryptionMethod = "AES-128"
)

// EncryptionDescriptor describes how to decrypt segments referencing it.
type EncryptionDescriptor struct {
	Method EncryptionMethod
	KeyURL string
	IV     [16]byte // explicit IV; zero value means "derive from segment sequence"
	HasIV  bool
}

// SegmentState tracks a segment's completion lifecycle.
type SegmentState string

const (
	SegmentPending  SegmentState = "pending"
	SegmentInFlight SegmentState = "in_flight"
	SegmentComplete SegmentState = "complete"
	SegmentFailed   SegmentState = "failed"
)

// Segment is one media fragment of a Stream.
type Segment struct {
	Index         int
	URL           string
	Duration      float64
	Encryption    *EncryptionDescriptor
	Discontinuity bool
	State         SegmentState
	DiskOffset    int64
	Size          int64
	RetryCount    int
}

// Stream is one variant of a parsed playlist.
type Stream struct {
	Bandwidth        int
	Resolution       string
	Codecs           string
	Name             string
	BaseURL          string
	Segments         []Segment
	Duration         float64
	DefaultEncryption *EncryptionDescriptor
}
