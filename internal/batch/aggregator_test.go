package batch

import (
	"testing"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteWeightedProgress(t *testing.T) {
	a := New()
	t1, t2 := model.NewID(), model.NewID()
	id := a.CreateBatch("batch", []model.ID{t1, t2})

	a.Update(id, MemberProgress{TaskID: t1, State: model.StateRunning, BytesDownloaded: 50, TotalBytes: 100, SpeedBps: 10})
	a.Update(id, MemberProgress{TaskID: t2, State: model.StateRunning, BytesDownloaded: 100, TotalBytes: 100, SpeedBps: 20})

	b, ok := a.Get(id)
	require.True(t, ok)
	assert.InDelta(t, 150.0/200.0, b.Progress, 1e-9)
	assert.Equal(t, 30.0, b.SpeedBps)
}

func TestCompletionFiresOnce(t *testing.T) {
	a := New()
	calls := 0
	a.OnComplete(func(model.Batch) { calls++ })

	t1 := model.NewID()
	id := a.CreateBatch("solo", []model.ID{t1})
	a.Update(id, MemberProgress{TaskID: t1, State: model.StateCompleted, BytesDownloaded: 100, TotalBytes: 100})
	a.Update(id, MemberProgress{TaskID: t1, State: model.StateCompleted, BytesDownloaded: 100, TotalBytes: 100})

	assert.Equal(t, 1, calls)
}

func TestStaleBatchGC(t *testing.T) {
	a := New()
	t1 := model.NewID()
	id := a.CreateBatch("idle", []model.ID{t1})
	a.Update(id, MemberProgress{TaskID: t1, State: model.StateFailed})

	removed := a.GC(time.Now().Add(40 * time.Second))
	require.Len(t, removed, 1)
	assert.Equal(t, id, removed[0])

	_, ok := a.Get(id)
	assert.False(t, ok)
}
