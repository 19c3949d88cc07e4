package history

import (
	"testing"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := Open(db)
	require.NoError(t, err)
	return store
}

func TestAppendAndQueryByStatus(t *testing.T) {
	store := setupTestStore(t)

	now := time.Now()
	require.NoError(t, store.Append(model.HistoryRecord{
		ID: model.NewID(), TaskName: "episode-1", Status: model.HistoryCompleted,
		StartTime: now, EndTime: now.Add(time.Minute), FinalSize: 1 << 20,
		SegmentsDeclared: 3, SegmentsCompleted: 3,
	}))
	require.NoError(t, store.Append(model.HistoryRecord{
		ID: model.NewID(), TaskName: "episode-2", Status: model.HistoryFailed,
		StartTime: now, FinalSize: 0,
	}))

	completed, err := store.Query(Filter{Status: model.HistoryCompleted}, SortStartTimeDesc, 0, 0)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "episode-1", completed[0].TaskName)
}

func TestQueryFiltersByFileSizeRange(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now()
	for i, size := range []int64{100, 1000, 10000} {
		require.NoError(t, store.Append(model.HistoryRecord{
			ID: model.NewID(), TaskName: "t", Status: model.HistoryCompleted,
			StartTime: now.Add(time.Duration(i) * time.Second), FinalSize: size,
		}))
	}

	rows, err := store.Query(Filter{MinFileSize: 500, MaxFileSize: 5000}, SortStartTimeAsc, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1000), rows[0].FinalSize)
}

func TestStoreProvidesAppendAndQuery(t *testing.T) {
	// Compile-time assertion: Store provides Append and Query with these signatures.
	var _ interface {
		Append(model.HistoryRecord) error
		Query(Filter, SortKey, int, int) ([]model.HistoryRecord, error)
	} = (*Store)(nil)
}
