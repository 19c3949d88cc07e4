package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightwavehq/streamfetch/internal/model"
)

func newTask(priority int, size int64) *model.Task {
	return &model.Task{ID: model.NewID(), Priority: priority, DeclaredSize: size, CreatedAt: time.Now(), State: model.StateQueued}
}

func TestAdmitRespectsConcurrencyLimit(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 2}, nil)
	for i := 0; i < 5; i++ {
		s.Submit(newTask(3, 1000))
	}
	assert.Len(t, s.Running(), 2)
	assert.Len(t, s.Pending(), 3)
}

func TestAdmitPriorityFirstOrdersByPriorityThenAge(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 1, Strategy: StrategyPriorityFirst}, nil)
	low := newTask(5, 100)
	high := newTask(1, 100)
	s.Submit(low)
	s.Submit(high)

	running := s.Running()
	require.Len(t, running, 1)
	assert.Equal(t, high.ID, running[0].ID)
}

func TestCompleteFreesSlotForNextAdmission(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 1}, nil)
	a := newTask(3, 100)
	b := newTask(3, 100)
	s.Submit(a)
	s.Submit(b)
	require.Len(t, s.Running(), 1)
	require.Len(t, s.Pending(), 1)

	a.State = model.StateCompleted
	s.Complete(a.ID)

	assert.Len(t, s.Running(), 1)
	assert.Len(t, s.Pending(), 0)
	assert.Len(t, s.Terminal(), 1)
}

func TestDependencyGatingBlocksAdmission(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 5}, nil)
	dep := newTask(3, 100)
	dependent := newTask(3, 100)
	dependent.DependsOn = []model.ID{dep.ID}

	s.Submit(dependent)
	assert.Len(t, s.Running(), 0, "dependent task must not run before its dependency completes")
	assert.Len(t, s.Pending(), 1)

	s.Submit(dep)
	dep.State = model.StateCompleted
	s.Complete(dep.ID)

	running := s.Running()
	require.Len(t, running, 1)
	assert.Equal(t, dependent.ID, running[0].ID)
}

func TestSizeOptimizedPrefersSmallerWithinPriorityBand(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 1, Strategy: StrategySizeOptimized}, nil)
	big := newTask(3, 1<<30)
	small := newTask(3, 1<<10)
	s.Submit(big)
	s.Submit(small)

	running := s.Running()
	require.Len(t, running, 1)
	assert.Equal(t, small.ID, running[0].ID)
}

func TestResourceAwareReducesConcurrencyUnderLoad(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 3, Strategy: StrategyResourceAware}, func() ResourceSample {
		return ResourceSample{NetworkPercent: 95}
	})
	for i := 0; i < 3; i++ {
		s.Submit(newTask(3, 100))
	}
	assert.Len(t, s.Running(), 1, "network>90%% should reduce the limit by 2")
}

func TestOnAdmitFiresForEachAdmittedTask(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 2}, nil)
	var admitted []model.ID
	s.OnAdmit(func(t *model.Task) { admitted = append(admitted, t.ID) })

	a := newTask(3, 100)
	s.Submit(a)
	assert.Contains(t, admitted, a.ID)
}

func TestRemoveDropsPendingTask(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 1}, nil)
	running := newTask(3, 100)
	pending := newTask(3, 100)
	s.Submit(running)
	s.Submit(pending)
	require.Len(t, s.Pending(), 1)

	assert.True(t, s.Remove(pending.ID))
	assert.Len(t, s.Pending(), 0)
	assert.False(t, s.Remove(pending.ID), "removing twice should report false")
}

func TestRemoveReportsFalseForRunningTask(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 1}, nil)
	running := newTask(3, 100)
	s.Submit(running)
	require.Len(t, s.Running(), 1)

	assert.False(t, s.Remove(running.ID))
}

func TestReorderChangesAdmissionOrder(t *testing.T) {
	s := New(Config{ConcurrencyLimit: 1, Strategy: StrategyPriorityFirst}, nil)
	blocker := newTask(3, 100)
	low := newTask(5, 100)
	s.Submit(blocker)
	s.Submit(low)
	require.Len(t, s.Pending(), 1)

	assert.True(t, s.Reorder(low.ID, 1))
	s.Complete(blocker.ID)

	running := s.Running()
	require.Len(t, running, 1)
	assert.Equal(t, low.ID, running[0].ID)
}
