package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/brightwavehq/streamfetch/internal/engine"
	"github.com/brightwavehq/streamfetch/internal/history"
	"github.com/brightwavehq/streamfetch/internal/model"
)

// taskDTO is the wire representation of a Task.
type taskDTO struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	SourceURL       string            `json:"source_url"`
	OutputPath      string            `json:"output_path"`
	DeclaredSize    int64             `json:"declared_size"`
	Priority        int               `json:"priority"`
	State           string            `json:"state"`
	BytesDownloaded int64             `json:"bytes_downloaded"`
	RetryCount      int               `json:"retry_count"`
	ErrorCount      int               `json:"error_count"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	BatchID         string            `json:"batch_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func toTaskDTO(t *model.Task) taskDTO {
	dto := taskDTO{
		ID: t.ID.String(), Name: t.Name, SourceURL: t.SourceURL, OutputPath: t.OutputPath,
		DeclaredSize: t.DeclaredSize, Priority: t.Priority, State: string(t.State),
		BytesDownloaded: t.BytesDownloaded, RetryCount: t.RetryCount, ErrorCount: t.ErrorCount,
		LastError: t.LastError, CreatedAt: t.CreatedAt, Metadata: t.Metadata,
	}
	if t.BatchID != nil {
		dto.BatchID = t.BatchID.String()
	}
	return dto
}

// taskHandler registers the task submission and control operations.
type taskHandler struct {
	engine *engine.Engine
}

func (h *taskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      "POST",
		Path:        "/tasks",
		Summary:     "Submit a download task",
		Tags:        []string{"tasks"},
	}, h.submit)

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      "GET",
		Path:        "/tasks/{id}",
		Summary:     "Get a task by id",
		Tags:        []string{"tasks"},
	}, h.get)

	huma.Register(api, huma.Operation{
		OperationID: "pause-task",
		Method:      "POST",
		Path:        "/tasks/{id}/pause",
		Summary:     "Pause a running task",
		Tags:        []string{"tasks"},
	}, h.pause)

	huma.Register(api, huma.Operation{
		OperationID: "resume-task",
		Method:      "POST",
		Path:        "/tasks/{id}/resume",
		Summary:     "Resume a paused task",
		Tags:        []string{"tasks"},
	}, h.resume)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      "DELETE",
		Path:        "/tasks/{id}",
		Summary:     "Cancel a task",
		Tags:        []string{"tasks"},
	}, h.cancel)

	huma.Register(api, huma.Operation{
		OperationID: "remove-task",
		Method:      "DELETE",
		Path:        "/tasks/{id}/remove",
		Summary:     "Remove a still-pending task from the queue",
		Tags:        []string{"tasks"},
	}, h.remove)

	huma.Register(api, huma.Operation{
		OperationID: "set-task-priority",
		Method:      "PATCH",
		Path:        "/tasks/{id}/priority",
		Summary:     "Reprioritize a still-pending task",
		Tags:        []string{"tasks"},
	}, h.setPriority)

	huma.Register(api, huma.Operation{
		OperationID: "reorder-queue",
		Method:      "POST",
		Path:        "/queue/reorder",
		Summary:     "Reprioritize a batch of pending tasks in one call",
		Tags:        []string{"queue"},
	}, h.reorderQueue)

	huma.Register(api, huma.Operation{
		OperationID: "get-history",
		Method:      "GET",
		Path:        "/history",
		Summary:     "Query terminal task history",
		Tags:        []string{"history"},
	}, h.getHistory)

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      "GET",
		Path:        "/batches/{id}",
		Summary:     "Get a batch's rollup progress",
		Tags:        []string{"batches"},
	}, h.getBatch)

	huma.Register(api, huma.Operation{
		OperationID: "submit-batch",
		Method:      "POST",
		Path:        "/batches",
		Summary:     "Submit a group of tasks as a single batch",
		Tags:        []string{"batches"},
	}, h.submitBatch)
}

type submitInput struct {
	Body struct {
		Name       string            `json:"name" doc:"Human-readable task name"`
		SourceURL  string            `json:"source_url" doc:"HLS manifest URL"`
		OutputPath string            `json:"output_path" doc:"Destination file path"`
		Priority   int               `json:"priority,omitempty" doc:"1 (urgent) through 5 (low)" minimum:"1" maximum:"5" default:"3"`
		BatchID    string            `json:"batch_id,omitempty" doc:"Existing batch to attach this task to"`
		Metadata   map[string]string `json:"metadata,omitempty"`
	}
}

type taskOutput struct {
	Body taskDTO
}

func (h *taskHandler) submit(ctx context.Context, in *submitInput) (*taskOutput, error) {
	if in.Body.SourceURL == "" || in.Body.OutputPath == "" {
		return nil, huma.Error400BadRequest("source_url and output_path are required")
	}
	priority := in.Body.Priority
	if priority == 0 {
		priority = 3
	}

	task := &model.Task{
		Name:       in.Body.Name,
		SourceURL:  in.Body.SourceURL,
		OutputPath: in.Body.OutputPath,
		Priority:   priority,
		MaxAttempts: 3,
		Metadata:   in.Body.Metadata,
	}
	if in.Body.BatchID != "" {
		batchID, err := model.ParseID(in.Body.BatchID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid batch_id", err)
		}
		task.BatchID = &batchID
	}

	if err := h.engine.Submit(task); err != nil {
		return nil, huma.Error400BadRequest("could not submit task", err)
	}
	return &taskOutput{Body: toTaskDTO(task)}, nil
}

type taskIDInput struct {
	ID string `path:"id" doc:"Task id (ULID)"`
}

func (h *taskHandler) get(ctx context.Context, in *taskIDInput) (*taskOutput, error) {
	task, err := h.parseAndLookup(in.ID)
	if err != nil {
		return nil, err
	}
	return &taskOutput{Body: toTaskDTO(task)}, nil
}

func (h *taskHandler) parseAndLookup(rawID string) (*model.Task, error) {
	id, err := model.ParseID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}
	task := h.engine.TaskByID(id)
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}
	return task, nil
}

type emptyOutput struct{}

func (h *taskHandler) pause(ctx context.Context, in *taskIDInput) (*emptyOutput, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}
	if err := h.engine.Pause(id); err != nil {
		return nil, mapControlError(err)
	}
	return &emptyOutput{}, nil
}

func (h *taskHandler) resume(ctx context.Context, in *taskIDInput) (*emptyOutput, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}
	if err := h.engine.Resume(id); err != nil {
		return nil, mapControlError(err)
	}
	return &emptyOutput{}, nil
}

func (h *taskHandler) cancel(ctx context.Context, in *taskIDInput) (*emptyOutput, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}
	if err := h.engine.Cancel(id); err != nil {
		return nil, mapControlError(err)
	}
	return &emptyOutput{}, nil
}

func (h *taskHandler) remove(ctx context.Context, in *taskIDInput) (*emptyOutput, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}
	if err := h.engine.Remove(id); err != nil {
		return nil, mapControlError(err)
	}
	return &emptyOutput{}, nil
}

type setPriorityInput struct {
	ID   string `path:"id"`
	Body struct {
		Priority int `json:"priority" minimum:"1" maximum:"5"`
	}
}

func (h *taskHandler) setPriority(ctx context.Context, in *setPriorityInput) (*emptyOutput, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id", err)
	}
	if err := h.engine.SetPriority(id, in.Body.Priority); err != nil {
		return nil, mapControlError(err)
	}
	return &emptyOutput{}, nil
}

type reorderQueueInput struct {
	Body struct {
		Entries []struct {
			ID       string `json:"id"`
			Priority int    `json:"priority" minimum:"1" maximum:"5"`
		} `json:"entries"`
	}
}

type reorderQueueOutput struct {
	Body struct {
		Applied int      `json:"applied"`
		Failed  []string `json:"failed,omitempty"`
	}
}

func (h *taskHandler) reorderQueue(ctx context.Context, in *reorderQueueInput) (*reorderQueueOutput, error) {
	out := &reorderQueueOutput{}
	for _, e := range in.Body.Entries {
		id, err := model.ParseID(e.ID)
		if err != nil {
			out.Body.Failed = append(out.Body.Failed, e.ID)
			continue
		}
		if err := h.engine.SetPriority(id, e.Priority); err != nil {
			out.Body.Failed = append(out.Body.Failed, e.ID)
			continue
		}
		out.Body.Applied++
	}
	return out, nil
}

func mapControlError(err error) error {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, engine.ErrNotRunning), errors.Is(err, engine.ErrNotPaused):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}

type historyRecordDTO struct {
	ID                string    `json:"id"`
	TaskName          string    `json:"task_name"`
	URL               string    `json:"url"`
	OutputPath        string    `json:"output_path"`
	FinalSize         int64     `json:"final_size"`
	Status            string    `json:"status"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	DurationSeconds   float64   `json:"duration_seconds"`
	AverageSpeedBps   float64   `json:"average_speed_bps"`
	PeakSpeedBps      float64   `json:"peak_speed_bps"`
	SegmentsDeclared  int       `json:"segments_declared"`
	SegmentsCompleted int       `json:"segments_completed"`
	RetryCount        int       `json:"retry_count"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

func toHistoryDTO(r model.HistoryRecord) historyRecordDTO {
	return historyRecordDTO{
		ID: r.ID.String(), TaskName: r.TaskName, URL: r.URL, OutputPath: r.OutputPath,
		FinalSize: r.FinalSize, Status: string(r.Status), StartTime: r.StartTime, EndTime: r.EndTime,
		DurationSeconds: r.Duration.Seconds(), AverageSpeedBps: r.AverageSpeedBps, PeakSpeedBps: r.PeakSpeedBps,
		SegmentsDeclared: r.SegmentsDeclared, SegmentsCompleted: r.SegmentsCompleted,
		RetryCount: r.RetryCount, ErrorMessage: r.ErrorMessage,
	}
}

type historyInput struct {
	Status string `query:"status" doc:"Filter by terminal status" enum:"completed,failed,canceled,partial"`
	Sort   string `query:"sort" doc:"Sort order" enum:"start_time_desc,start_time_asc,file_size_desc" default:"start_time_desc"`
	Limit  int    `query:"limit" minimum:"1" maximum:"200" default:"50"`
	Offset int    `query:"offset" minimum:"0" default:"0"`
}

type historyOutput struct {
	Body struct {
		Records []historyRecordDTO `json:"records"`
	}
}

func (h *taskHandler) getHistory(ctx context.Context, in *historyInput) (*historyOutput, error) {
	filter := history.Filter{Status: model.HistoryStatus(in.Status)}
	sortKey := history.SortKey(in.Sort)
	if sortKey == "" {
		sortKey = history.SortStartTimeDesc
	}
	limit := in.Limit
	if limit == 0 {
		limit = 50
	}

	records, err := h.engine.History().Query(filter, sortKey, limit, in.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("querying history", err)
	}

	out := &historyOutput{}
	out.Body.Records = make([]historyRecordDTO, len(records))
	for i, r := range records {
		out.Body.Records[i] = toHistoryDTO(r)
	}
	return out, nil
}

type batchDTO struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Progress   float64 `json:"progress"`
	SpeedBps   float64 `json:"speed_bps"`
	ETASeconds float64 `json:"eta_seconds"`
	Pending    int     `json:"pending"`
	Active     int     `json:"active"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Paused     int     `json:"paused"`
	TotalTasks int     `json:"total_tasks"`
	Complete   bool    `json:"complete"`
}

func toBatchDTO(b model.Batch) batchDTO {
	return batchDTO{
		ID: b.ID.String(), Name: b.Name, Progress: b.Progress, SpeedBps: b.SpeedBps, ETASeconds: b.ETASeconds,
		Pending: b.Pending, Active: b.Active, Completed: b.Completed, Failed: b.Failed, Paused: b.Paused,
		TotalTasks: b.TotalTasks(), Complete: b.IsComplete(),
	}
}

type batchOutput struct {
	Body batchDTO
}

func (h *taskHandler) getBatch(ctx context.Context, in *taskIDInput) (*batchOutput, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid batch id", err)
	}
	b, ok := h.engine.Batch(id)
	if !ok {
		return nil, huma.Error404NotFound("batch not found")
	}
	return &batchOutput{Body: toBatchDTO(b)}, nil
}

type submitBatchInput struct {
	Body struct {
		Name  string `json:"name" doc:"Human-readable batch name"`
		Tasks []struct {
			Name       string            `json:"name"`
			SourceURL  string            `json:"source_url"`
			OutputPath string            `json:"output_path"`
			Priority   int               `json:"priority,omitempty" minimum:"1" maximum:"5" default:"3"`
			Metadata   map[string]string `json:"metadata,omitempty"`
		} `json:"tasks"`
	}
}

type submitBatchOutput struct {
	Body struct {
		BatchID string    `json:"batch_id"`
		Tasks   []taskDTO `json:"tasks"`
	}
}

func (h *taskHandler) submitBatch(ctx context.Context, in *submitBatchInput) (*submitBatchOutput, error) {
	if len(in.Body.Tasks) == 0 {
		return nil, huma.Error400BadRequest("tasks must not be empty")
	}

	tasks := make([]*model.Task, len(in.Body.Tasks))
	for i, t := range in.Body.Tasks {
		if t.SourceURL == "" || t.OutputPath == "" {
			return nil, huma.Error400BadRequest("source_url and output_path are required for every task")
		}
		priority := t.Priority
		if priority == 0 {
			priority = 3
		}
		tasks[i] = &model.Task{
			Name: t.Name, SourceURL: t.SourceURL, OutputPath: t.OutputPath,
			Priority: priority, MaxAttempts: 3, Metadata: t.Metadata,
		}
	}

	batchID, err := h.engine.SubmitBatch(in.Body.Name, tasks)
	if err != nil {
		return nil, huma.Error400BadRequest("could not submit batch", err)
	}

	out := &submitBatchOutput{}
	out.Body.BatchID = batchID.String()
	out.Body.Tasks = make([]taskDTO, len(tasks))
	for i, t := range tasks {
		out.Body.Tasks[i] = toTaskDTO(t)
	}
	return out, nil
}
