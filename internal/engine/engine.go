package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brightwavehq/streamfetch/internal/bandwidth"
	"github.com/brightwavehq/streamfetch/internal/batch"
	"github.com/brightwavehq/streamfetch/internal/circuitbreaker"
	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/brightwavehq/streamfetch/internal/connpool"
	"github.com/brightwavehq/streamfetch/internal/eta"
	"github.com/brightwavehq/streamfetch/internal/executor"
	"github.com/brightwavehq/streamfetch/internal/history"
	"github.com/brightwavehq/streamfetch/internal/model"
	"github.com/brightwavehq/streamfetch/internal/playlist"
	"github.com/brightwavehq/streamfetch/internal/priority"
	"github.com/brightwavehq/streamfetch/internal/queue"
	"github.com/brightwavehq/streamfetch/internal/retry"
	"github.com/brightwavehq/streamfetch/internal/taskstate"
)

// Engine is the single wiring point for every subsystem; every dependency
// an Engine needs is constructed here and held on the struct. Process-wide
// state lives outside it in two places: httpclient.DefaultRegistry, into
// which the connection pool registers every per-host client, and
// observability.GlobalLogLevel.
type Engine struct {
	cfg Config

	pool     *connpool.Pool
	retry    *retry.Engine
	breakers *circuitbreaker.Registry
	scheduler *queue.Scheduler
	prio     *priority.Engine
	bw       *bandwidth.Monitor
	batches  *batch.Aggregator
	history  *history.Store
	exec     *executor.Executor
	sweeper  *taskstate.Sweeper
	notify   *notifier
	cron     *cron.Cron
	logger   *slog.Logger

	mu       sync.Mutex
	tasks    map[model.ID]*model.Task
	machines map[model.ID]*taskstate.Machine
	etas     map[model.ID]*eta.Calc

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a fully wired Engine. Callers must call Start to begin
// the scheduler tick, the bandwidth monitor, and the maintenance cron.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = DefaultConfig(nil).ScratchRoot
	}
	if err := os.MkdirAll(cfg.ScratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root: %w", err)
	}

	histStore, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	pool := connpool.New(cfg.ConnectionPool, cfg.UserAgent)
	retryEngine := retry.New(cfg.RetryTable)
	breakers := circuitbreaker.NewRegistryWithDefaults(cfg.BreakerDefaults)
	prio := priority.New(cfg.PriorityWeights)
	bw := bandwidth.New(cfg.Bandwidth, nil, nil)
	batches := batch.New()
	exec := executor.New(pool, retryEngine, breakers, logger)
	sweeperInterval := cfg.SweeperInterval
	if sweeperInterval <= 0 {
		sweeperInterval = 5 * time.Second
	}
	sweeper := taskstate.NewSweeper(sweeperInterval, logger)

	e := &Engine{
		cfg:       cfg,
		pool:      pool,
		retry:     retryEngine,
		breakers:  breakers,
		prio:      prio,
		bw:        bw,
		batches:   batches,
		history:   histStore,
		exec:      exec,
		sweeper:   sweeper,
		notify:    newNotifier(logger),
		cron:      cron.New(),
		logger:    logger,
		tasks:     make(map[model.ID]*model.Task),
		machines:  make(map[model.ID]*taskstate.Machine),
		etas:      make(map[model.ID]*eta.Calc),
	}

	e.scheduler = queue.New(cfg.Scheduler, nil)
	e.scheduler.OnAdmit(e.onTaskAdmitted)
	e.batches.OnComplete(e.onBatchComplete)

	if err := e.registerMaintenance(); err != nil {
		return nil, err
	}
	return e, nil
}

// Subscribe registers a listener for the given capabilities. The returned
// channel delivers matching events until the unsubscribe func is called.
func (e *Engine) Subscribe(caps ...Capability) (<-chan Event, func()) {
	return e.notify.Subscribe(caps...)
}

// Start begins the scheduler's periodic admission tick, the bandwidth
// monitor's sampling loop, the transitional-state sweeper, and the
// maintenance cron. It returns immediately; everything runs in the
// background until ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.runCancel = context.WithCancel(ctx)

	e.wg.Add(3)
	go func() { defer e.wg.Done(); e.scheduler.Run(e.runCtx) }()
	go func() { defer e.wg.Done(); e.bw.Run(e.runCtx) }()
	go func() { defer e.wg.Done(); e.sweeper.Run(e.runCtx) }()

	e.bw.OnHint(e.onBandwidthHint)
	e.cron.Start()
}

// Stop cancels every background loop and blocks until they exit.
func (e *Engine) Stop() {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.wg.Wait()
	ctx := e.cron.Stop()
	<-ctx.Done()
}

// Submit admits a new task into the engine: registers its state machine
// and hands it to the scheduler for admission.
func (e *Engine) Submit(task *model.Task) error {
	if task.ID.IsZero() {
		task.ID = model.NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.ScratchDir == "" {
		task.ScratchDir = filepath.Join(e.cfg.ScratchRoot, task.ID.String())
	}
	task.State = model.StateCreated

	machine := taskstate.New(task, e.logger)
	machine.OnTransition(e.onStateTransition)

	e.mu.Lock()
	e.tasks[task.ID] = task
	e.machines[task.ID] = machine
	e.etas[task.ID] = eta.New(eta.NewRing())
	e.mu.Unlock()

	e.sweeper.Register(task.ID.String(), machine)

	if err := machine.Transition(model.StateQueued, "submitted", false); err != nil {
		return err
	}
	e.scheduler.Submit(task)
	return nil
}

// ErrTaskNotFound is returned by the task-control methods when taskID is
// not known to the engine.
var ErrTaskNotFound = errors.New("engine: task not found")

// ErrNotRunning is returned by Pause when the task is not currently in
// StateRunning.
var ErrNotRunning = errors.New("engine: task not running")

// ErrNotPaused is returned by Resume when the task is not currently in
// StatePaused.
var ErrNotPaused = errors.New("engine: task not paused")

// Pause requests a cooperative pause of a running task. The task settles
// into StatePaused once the executor drains its in-flight segments; the
// caller should watch CapabilityStateChange events rather than assume the
// pause is immediate.
func (e *Engine) Pause(taskID model.ID) error {
	machine := e.machineFor(taskID)
	if machine == nil {
		return ErrTaskNotFound
	}
	if machine.State() != model.StateRunning {
		return ErrNotRunning
	}
	if err := machine.Transition(model.StatePausing, "pause requested", false); err != nil {
		return err
	}
	e.exec.Pause(taskID)
	return nil
}

// Resume re-admits a paused task for execution, picking up from the
// segments already recorded in its on-disk manifest.
func (e *Engine) Resume(taskID model.ID) error {
	e.mu.Lock()
	task := e.tasks[taskID]
	machine := e.machines[taskID]
	e.mu.Unlock()
	if task == nil || machine == nil {
		return ErrTaskNotFound
	}
	if machine.State() != model.StatePaused {
		return ErrNotPaused
	}
	if err := machine.Transition(model.StateResuming, "resume requested", false); err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTask(task, machine)
	}()
	return nil
}

// Cancel aborts a task, whether pending, paused, or running. A pending
// task is removed from the scheduler and marked canceled immediately; a
// running task is signaled to stop as soon as possible and settles into
// StateCanceled once its executor unwinds.
func (e *Engine) Cancel(taskID model.ID) error {
	machine := e.machineFor(taskID)
	if machine == nil {
		return ErrTaskNotFound
	}

	switch machine.State() {
	case model.StateCreated, model.StateQueued, model.StatePreparing:
		e.scheduler.Remove(taskID)
		return machine.Transition(model.StateCanceled, "canceled before start", false)
	case model.StatePaused:
		if err := machine.Transition(model.StateCanceling, "cancel requested", false); err != nil {
			return err
		}
		if err := machine.Transition(model.StateCanceled, "canceled while paused", false); err != nil {
			return err
		}
		if task := e.taskFor(taskID); task != nil {
			os.RemoveAll(task.ScratchDir)
		}
		return nil
	case model.StateRunning, model.StatePausing, model.StateResuming, model.StateRetrying:
		if err := machine.Transition(model.StateCanceling, "cancel requested", false); err != nil {
			return err
		}
		e.exec.Cancel(taskID)
		return nil
	default:
		return nil
	}
}

// SetPriority reprioritizes a still-pending task. It reports
// ErrTaskNotFound if taskID is not pending (already running or terminal
// tasks cannot be reprioritized; cancel and resubmit instead).
func (e *Engine) SetPriority(taskID model.ID, priority int) error {
	if !e.scheduler.Reorder(taskID, priority) {
		return ErrTaskNotFound
	}
	return nil
}

// Remove deletes a still-pending task from the queue entirely, without
// recording any history. It reports ErrTaskNotFound if taskID is not
// pending.
func (e *Engine) Remove(taskID model.ID) error {
	machine := e.machineFor(taskID)
	if machine == nil {
		return ErrTaskNotFound
	}
	if !e.scheduler.Remove(taskID) {
		return ErrTaskNotFound
	}
	_ = machine.Transition(model.StateCanceled, "removed from queue", true)
	e.sweeper.Unregister(taskID.String())

	e.mu.Lock()
	delete(e.tasks, taskID)
	delete(e.machines, taskID)
	delete(e.etas, taskID)
	e.mu.Unlock()
	return nil
}

// TaskByID returns the live task record for id, or nil if unknown.
func (e *Engine) TaskByID(id model.ID) *model.Task {
	return e.taskFor(id)
}

// History exposes the terminal-outcome store for querying.
func (e *Engine) History() *history.Store {
	return e.history
}

// Batch returns the current rollup snapshot for a batch, if it exists.
func (e *Engine) Batch(id model.ID) (model.Batch, bool) {
	return e.batches.Get(id)
}

// SubmitBatch creates a batch grouping tasks and submits every member.
// Tasks are given the new batch id before submission so their progress
// rolls up into the batch from the first sample onward.
func (e *Engine) SubmitBatch(name string, tasks []*model.Task) (model.ID, error) {
	for _, t := range tasks {
		if t.ID.IsZero() {
			t.ID = model.NewID()
		}
	}
	ids := make([]model.ID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	batchID := e.batches.CreateBatch(name, ids)
	for _, t := range tasks {
		t.BatchID = &batchID
		if err := e.Submit(t); err != nil {
			return batchID, err
		}
	}
	return batchID, nil
}

func (e *Engine) onStateTransition(taskID model.ID, from, to model.TaskState) {
	e.notify.publish(Event{Capability: CapabilityStateChange, TaskID: taskID, FromState: from, ToState: to})
}

func (e *Engine) onTaskAdmitted(task *model.Task) {
	machine := e.machineFor(task.ID)
	if machine == nil {
		return
	}
	if err := machine.Transition(model.StatePreparing, "admitted by scheduler", false); err != nil {
		e.logger.Warn("failed to enter preparing", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTask(task, machine)
	}()
}

func (e *Engine) taskFor(id model.ID) *model.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[id]
}

func (e *Engine) machineFor(id model.ID) *taskstate.Machine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machines[id]
}

func (e *Engine) etaFor(id model.ID) *eta.Calc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.etas[id]
}

func (e *Engine) runTask(task *model.Task, machine *taskstate.Machine) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	streams, err := playlist.ParseWithFallback(task.SourceURL, playlistFetcher{pool: e.pool})
	if err != nil {
		e.failTask(task, machine, classifyTaskError(err))
		return
	}
	stream, ok := playlist.BestQuality(streams)
	if !ok {
		e.failTask(task, machine, classify.Validation(classify.VariantPlaylistParse, "no variants available", nil))
		return
	}

	if err := machine.Transition(model.StateRunning, "starting segment execution", false); err != nil {
		e.failTask(task, machine, err)
		return
	}

	startedAt := time.Now()
	calc := e.etaFor(task.ID)
	runErr := e.exec.Run(ctx, task, &stream, 0, func(sample model.ProgressSample) {
		if calc != nil {
			calc.AddSample(eta.Sample{At: sample.Timestamp, SpeedBps: sample.SpeedBps, BytesDownloaded: sample.BytesDownloaded})
		}
		e.notify.publish(Event{Capability: CapabilityProgress, TaskID: task.ID, Progress: &sample})
		if task.BatchID != nil {
			e.batches.Update(*task.BatchID, batch.MemberProgress{
				TaskID: task.ID, State: model.StateRunning,
				BytesDownloaded: sample.BytesDownloaded, TotalBytes: task.DeclaredSize, SpeedBps: sample.SpeedBps,
			})
		}
	})

	switch {
	case errors.Is(runErr, executor.ErrPaused):
		if err := machine.Transition(model.StatePaused, "paused mid-dispatch", false); err != nil {
			e.logger.Warn("could not mark task paused", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		}
		return
	case errors.Is(runErr, context.Canceled):
		if err := machine.Transition(model.StateCanceled, "canceled mid-dispatch", false); err != nil {
			e.logger.Warn("could not mark task canceled", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		}
		e.scheduler.Fail(task.ID)
		_ = e.history.Append(model.HistoryRecord{
			ID: model.NewID(), TaskName: task.Name, URL: task.SourceURL, OutputPath: task.OutputPath,
			Status: model.HistoryCanceled, StartTime: startedAt, EndTime: time.Now(), Duration: time.Since(startedAt),
			RetryCount: task.RetryCount,
		})
		return
	case runErr != nil:
		e.failTask(task, machine, runErr)
		return
	}

	if err := machine.Transition(model.StateCompleted, "all segments assembled", false); err != nil {
		e.logger.Warn("could not mark task completed", slog.String("task_id", task.ID.String()), slog.Any("error", err))
	}
	e.scheduler.Complete(task.ID)

	_ = e.history.Append(model.HistoryRecord{
		ID: model.NewID(), TaskName: task.Name, URL: task.SourceURL, OutputPath: task.OutputPath,
		FinalSize: task.BytesDownloaded, Status: model.HistoryCompleted,
		StartTime: startedAt, EndTime: time.Now(), Duration: time.Since(startedAt),
		SegmentsDeclared: len(stream.Segments), SegmentsCompleted: len(stream.Segments), RetryCount: task.RetryCount,
	})

	e.prio.Adapt(priority.Outcome{Succeeded: true, FinalScore: 1.0})

	if task.BatchID != nil {
		e.batches.Update(*task.BatchID, batch.MemberProgress{TaskID: task.ID, State: model.StateCompleted, BytesDownloaded: task.BytesDownloaded, TotalBytes: task.BytesDownloaded, SpeedBps: 0})
	}
}

func (e *Engine) failTask(task *model.Task, machine *taskstate.Machine, cause error) {
	task.LastError = cause.Error()
	_ = machine.Transition(model.StateFailed, cause.Error(), false)
	e.scheduler.Fail(task.ID)

	_ = e.history.Append(model.HistoryRecord{
		ID: model.NewID(), TaskName: task.Name, URL: task.SourceURL, OutputPath: task.OutputPath,
		Status: model.HistoryFailed, StartTime: task.CreatedAt, EndTime: time.Now(),
		ErrorMessage: cause.Error(), RetryCount: task.RetryCount,
	})
	e.prio.Adapt(priority.Outcome{Succeeded: false, FinalScore: 0})
}

func classifyTaskError(err error) error {
	if _, ok := classify.As(err); ok {
		return err
	}
	return classify.Parsing(classify.VariantPlaylistParse, "resolving playlist", err)
}

func (e *Engine) onBatchComplete(b model.Batch) {
	e.notify.publish(Event{Capability: CapabilityBatch, BatchID: b.ID})
}

func (e *Engine) onBandwidthHint(h bandwidth.Hint) {
	e.notify.publish(Event{Capability: CapabilityBandwidthHint, Hint: string(h)})
}

// playlistFetcher adapts the connection pool to playlist.Fetcher.
type playlistFetcher struct {
	pool *connpool.Pool
}

func (f playlistFetcher) FetchText(rawURL string) (string, error) {
	handle, err := f.pool.Acquire(context.Background(), rawURL)
	if err != nil {
		return "", err
	}
	text, err := handle.FetchText(rawURL)
	f.pool.Release(handle, connpool.Outcome{Failed: err != nil})
	if err != nil {
		return "", err
	}
	return text, nil
}
