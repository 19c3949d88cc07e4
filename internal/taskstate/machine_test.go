package taskstate

import (
	"testing"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask() *model.Task {
	return &model.Task{ID: model.NewID(), State: model.StateCreated}
}

func TestPermittedTransitions(t *testing.T) {
	assert.True(t, Permitted(model.StateCreated, model.StateQueued))
	assert.True(t, Permitted(model.StateRunning, model.StateCompleted))
	assert.False(t, Permitted(model.StateCompleted, model.StateRunning))
	assert.False(t, Permitted(model.StateCreated, model.StateRunning))
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	m := New(newTestTask(), nil)
	err := m.Transition(model.StateRunning, "", false)
	require.Error(t, err)
	assert.Equal(t, model.StateCreated, m.State())
}

func TestTransitionAppliesSideEffects(t *testing.T) {
	task := newTestTask()
	m := New(task, nil)
	require.NoError(t, m.Transition(model.StateQueued, "", false))
	require.NoError(t, m.Transition(model.StatePreparing, "", false))
	require.NoError(t, m.Transition(model.StateRunning, "", false))
	require.NoError(t, m.Transition(model.StateRetrying, "", false))
	assert.Equal(t, 1, task.RetryCount)

	require.NoError(t, m.Transition(model.StateRunning, "", false))
	require.NoError(t, m.Transition(model.StateFailed, "disk full", false))
	assert.Equal(t, 1, task.ErrorCount)
	assert.Equal(t, "disk full", task.LastError)
}

func TestForceBypassesTable(t *testing.T) {
	m := New(newTestTask(), nil)
	err := m.Transition(model.StateRunning, "manual recovery", true)
	assert.NoError(t, err)
	assert.Equal(t, model.StateRunning, m.State())
}

func TestCallbacksNeverPropagatePanics(t *testing.T) {
	m := New(newTestTask(), nil)
	called := false
	m.OnState(model.StateQueued, func(model.ID, model.TaskState, model.TaskState) {
		panic("boom")
	})
	m.OnTransition(func(model.ID, model.TaskState, model.TaskState) {
		called = true
	})
	assert.NotPanics(t, func() {
		require.NoError(t, m.Transition(model.StateQueued, "", false))
	})
	assert.True(t, called)
}

func TestTransitionalTimeoutForcesFailed(t *testing.T) {
	task := newTestTask()
	m := New(task, nil)
	require.NoError(t, m.Transition(model.StateQueued, "", false))
	require.NoError(t, m.Transition(model.StatePreparing, "", false))
	require.NoError(t, m.Transition(model.StateRunning, "", false))
	require.NoError(t, m.Transition(model.StateCanceling, "", false))

	forced := m.CheckTimeout(time.Now().Add(TransitionalTimeout + time.Second))
	assert.True(t, forced)
	assert.Equal(t, model.StateFailed, m.State())
	assert.Equal(t, "transitional timeout", task.LastError)
}
