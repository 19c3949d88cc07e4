// Package taskstate implements the strict task lifecycle state machine:
// validated transitions, transitional-state timeouts enforced by a
// sweeper, and per-state/per-transition callbacks.
package taskstate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
)

// TransitionalTimeout bounds how long a transitional state may last before
// the sweeper forces a Failed transition.
const TransitionalTimeout = 30 * time.Second

var allowed = map[model.TaskState]map[model.TaskState]bool{
	model.StateCreated:    set(model.StateQueued, model.StateCanceled),
	model.StateQueued:     set(model.StatePreparing, model.StateCanceled),
	model.StatePreparing:  set(model.StateRunning, model.StateFailed, model.StateCanceled),
	model.StateRunning:    set(model.StatePausing, model.StateCanceling, model.StateCompleted, model.StateFailed, model.StateRetrying, model.StateCleaningUp),
	model.StatePaused:     set(model.StateResuming, model.StateCanceling, model.StateFailed),
	model.StatePausing:    set(model.StatePaused, model.StateCanceling, model.StateFailed),
	model.StateResuming:   set(model.StateRunning, model.StateFailed, model.StateCanceling),
	model.StateRetrying:   set(model.StateRunning, model.StateFailed, model.StateCanceling),
	model.StateCanceling:  set(model.StateCanceled, model.StateCleaningUp),
	model.StateCleaningUp: set(model.StateCompleted, model.StateFailed, model.StateCanceled),
	model.StateCompleted:  {},
	model.StateFailed:     set(model.StateRetrying, model.StateQueued),
	model.StateCanceled:   {},
}

func set(states ...model.TaskState) map[model.TaskState]bool {
	m := make(map[model.TaskState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// Permitted reports whether from→to is a legal transition.
func Permitted(from, to model.TaskState) bool {
	next, ok := allowed[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionCallback observes a state change. A panic in a callback is
// recovered and logged, never propagated.
type TransitionCallback func(taskID model.ID, from, to model.TaskState)

// Machine owns one task's state and its transition timer, guarded by a
// per-task lock so callbacks can run outside the lock.
type Machine struct {
	mu   sync.Mutex
	task *model.Task

	deadline time.Time // transitional-state deadline; zero when not transitional

	onState      map[model.TaskState][]TransitionCallback
	onTransition []TransitionCallback

	logger *slog.Logger
}

// New constructs a Machine for task, initially in Created state unless the
// task already carries a state (e.g. loaded from persisted manifest).
func New(task *model.Task, logger *slog.Logger) *Machine {
	if task.State == "" {
		task.State = model.StateCreated
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{task: task, logger: logger, onState: make(map[model.TaskState][]TransitionCallback)}
}

// OnState registers a callback invoked whenever the task enters state s.
func (m *Machine) OnState(s model.TaskState, cb TransitionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState[s] = append(m.onState[s], cb)
}

// OnTransition registers a callback invoked on every transition.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = append(m.onTransition, cb)
}

// State returns the task's current state.
func (m *Machine) State() model.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task.State
}

// Transition attempts from→to; force bypasses the permitted-transitions
// table and is reserved for recovery paths, always logged.
func (m *Machine) Transition(to model.TaskState, reason string, force bool) error {
	m.mu.Lock()
	from := m.task.State
	if !force && !Permitted(from, to) {
		m.mu.Unlock()
		return &IllegalTransitionError{From: from, To: to}
	}

	m.applySideEffectsLocked(to, reason)
	m.task.State = to
	if to.Transitional() {
		m.deadline = time.Now().Add(TransitionalTimeout)
	} else {
		m.deadline = time.Time{}
	}

	stateCallbacks := append([]TransitionCallback(nil), m.onState[to]...)
	allCallbacks := append([]TransitionCallback(nil), m.onTransition...)
	taskID := m.task.ID
	m.mu.Unlock()

	if force {
		m.logger.Warn("forced task state transition", slog.String("task_id", taskID.String()), slog.String("from", string(from)), slog.String("to", string(to)), slog.String("reason", reason))
	}

	runCallbacksSafely(m.logger, taskID, from, to, stateCallbacks)
	runCallbacksSafely(m.logger, taskID, from, to, allCallbacks)
	return nil
}

func (m *Machine) applySideEffectsLocked(to model.TaskState, reason string) {
	switch to {
	case model.StateRetrying:
		m.task.RetryCount++
	case model.StateFailed:
		m.task.ErrorCount++
		m.task.LastError = reason
	case model.StateCompleted:
		m.task.LastError = ""
	}
}

func runCallbacksSafely(logger *slog.Logger, taskID model.ID, from, to model.TaskState, callbacks []TransitionCallback) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("task state callback panicked", slog.Any("recover", r), slog.String("task_id", taskID.String()))
				}
			}()
			cb(taskID, from, to)
		}()
	}
}

// CheckTimeout forces a Failed transition with reason "transitional timeout"
// if the task has been in a transitional state past TransitionalTimeout.
// Intended to be called by the engine's background sweeper.
func (m *Machine) CheckTimeout(now time.Time) bool {
	m.mu.Lock()
	deadline := m.deadline
	current := m.task.State
	m.mu.Unlock()

	if deadline.IsZero() || !current.Transitional() || now.Before(deadline) {
		return false
	}
	_ = m.Transition(model.StateFailed, "transitional timeout", true)
	return true
}

// IllegalTransitionError reports a rejected state transition.
type IllegalTransitionError struct {
	From, To model.TaskState
}

func (e *IllegalTransitionError) Error() string {
	return "illegal task transition: " + string(e.From) + " -> " + string(e.To)
}
