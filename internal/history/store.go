// Package history implements the append-only download history store:
// one row per terminal task, queryable by predicate and sort key,
// backed by GORM against sqlite/postgres/mysql.
package history

import (
	"fmt"
	"time"

	"github.com/brightwavehq/streamfetch/internal/model"
	"gorm.io/gorm"
)

// Record is the GORM-mapped row. TableName and indexes mirror the
// teacher's JobHistory pattern (a separate, lean history table distinct
// from the live entity).
type Record struct {
	ID                model.ID `gorm:"primarykey;type:varchar(26)"`
	TaskName          string   `gorm:"index:idx_task_name"`
	URL               string
	OutputPath        string
	FinalSize         int64 `gorm:"index:idx_file_size"`
	Status            string `gorm:"index:idx_status_start"`
	StartTime         time.Time `gorm:"index:idx_status_start"`
	EndTime           time.Time
	DurationMs        int64
	AverageSpeedBps   float64
	PeakSpeedBps      float64
	SegmentsDeclared  int
	SegmentsCompleted int
	RetryCount        int
	ErrorMessage      string
	MetadataJSON      string
	TagsJSON          string
}

// TableName pins the table name regardless of struct renames.
func (Record) TableName() string {
	return "history_records"
}

func toRecord(h model.HistoryRecord) Record {
	return Record{
		ID:                h.ID,
		TaskName:          h.TaskName,
		URL:               h.URL,
		OutputPath:        h.OutputPath,
		FinalSize:         h.FinalSize,
		Status:            string(h.Status),
		StartTime:         h.StartTime,
		EndTime:           h.EndTime,
		DurationMs:        h.Duration.Milliseconds(),
		AverageSpeedBps:   h.AverageSpeedBps,
		PeakSpeedBps:      h.PeakSpeedBps,
		SegmentsDeclared:  h.SegmentsDeclared,
		SegmentsCompleted: h.SegmentsCompleted,
		RetryCount:        h.RetryCount,
		ErrorMessage:      h.ErrorMessage,
	}
}

func fromRecord(r Record) model.HistoryRecord {
	return model.HistoryRecord{
		ID:                r.ID,
		TaskName:          r.TaskName,
		URL:               r.URL,
		OutputPath:        r.OutputPath,
		FinalSize:         r.FinalSize,
		Status:            model.HistoryStatus(r.Status),
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		Duration:          time.Duration(r.DurationMs) * time.Millisecond,
		AverageSpeedBps:   r.AverageSpeedBps,
		PeakSpeedBps:      r.PeakSpeedBps,
		SegmentsDeclared:  r.SegmentsDeclared,
		SegmentsCompleted: r.SegmentsCompleted,
		RetryCount:        r.RetryCount,
		ErrorMessage:      r.ErrorMessage,
	}
}

// SortKey names an allowed ordering column.
type SortKey string

const (
	SortStartTimeDesc SortKey = "start_time_desc"
	SortStartTimeAsc  SortKey = "start_time_asc"
	SortFileSizeDesc  SortKey = "file_size_desc"
)

// Filter narrows a Query by predicate. Zero values are "no constraint".
type Filter struct {
	Status           model.HistoryStatus
	TaskNameContains string
	MinFileSize      int64
	MaxFileSize      int64
	StartAfter       time.Time
	StartBefore      time.Time
}

// Store is the append-only history interface: Append is the only mutating
// method.
type Store struct {
	db *gorm.DB
}

// Open migrates the history schema on db (AutoMigrate) and wraps it.
func Open(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records one terminal task outcome. It is the only write path.
func (s *Store) Append(h model.HistoryRecord) error {
	rec := toRecord(h)
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("appending history record: %w", err)
	}
	return nil
}

// Query returns records matching filter, ordered by sort, paginated.
func (s *Store) Query(filter Filter, sort SortKey, limit, offset int) ([]model.HistoryRecord, error) {
	q := s.db.Model(&Record{})

	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.TaskNameContains != "" {
		q = q.Where("task_name LIKE ?", "%"+filter.TaskNameContains+"%")
	}
	if filter.MinFileSize > 0 {
		q = q.Where("final_size >= ?", filter.MinFileSize)
	}
	if filter.MaxFileSize > 0 {
		q = q.Where("final_size <= ?", filter.MaxFileSize)
	}
	if !filter.StartAfter.IsZero() {
		q = q.Where("start_time >= ?", filter.StartAfter)
	}
	if !filter.StartBefore.IsZero() {
		q = q.Where("start_time <= ?", filter.StartBefore)
	}

	switch sort {
	case SortStartTimeAsc:
		q = q.Order("start_time ASC")
	case SortFileSizeDesc:
		q = q.Order("final_size DESC")
	default:
		q = q.Order("start_time DESC")
	}

	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var rows []Record
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}

	out := make([]model.HistoryRecord, len(rows))
	for i, r := range rows {
		out[i] = fromRecord(r)
	}
	return out, nil
}
