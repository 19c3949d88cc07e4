// Package executor implements the SegmentExecutor: concurrent segment
// fetch, AES-128-CBC decryption, ordered assembly, and the
// pause/resume/cancel cooperative protocol.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brightwavehq/streamfetch/internal/circuitbreaker"
	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/brightwavehq/streamfetch/internal/connpool"
	"github.com/brightwavehq/streamfetch/internal/model"
	"github.com/brightwavehq/streamfetch/internal/retry"
)

// ErrPaused is returned by Run when the task was cooperatively paused
// mid-dispatch, distinguishing a pause from genuine completion.
var ErrPaused = errors.New("executor: task paused")

// Config tunes a single task's execution.
type Config struct {
	PerTaskParallelism  int
	SamplingInterval    time.Duration
	PerSegmentMaxRetries int
}

// DefaultConfig returns the standard per-task execution tuning.
func DefaultConfig() Config {
	return Config{PerTaskParallelism: 4, SamplingInterval: time.Second, PerSegmentMaxRetries: 5}
}

// Reason names why a task-level failure occurred, surfaced on the task's
// LastError field alongside the classified cause.
type Reason string

const (
	ReasonSegmentDownload Reason = "SegmentDownloadError"
	ReasonPlaylistShrunk  Reason = "PlaylistShrunk"
	ReasonAssemblyError   Reason = "AssemblyError"
)

// TaskError pairs a Reason with its underlying classified cause.
type TaskError struct {
	Reason Reason
	Cause  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// ProgressSink receives one sample roughly every SamplingInterval while a
// task is running.
type ProgressSink func(model.ProgressSample)

// control is the cooperative pause/cancel signal shared by a task's
// in-flight workers. Pausing/canceling never interrupts a worker mid
// segment; it is only consulted between segments and before dispatch.
type control struct {
	paused   chan struct{}
	canceled chan struct{}
	once     sync.Once
}

func newControl() *control {
	return &control{paused: make(chan struct{}), canceled: make(chan struct{})}
}

func (c *control) Pause()  { closeOnce(&c.paused) }
func (c *control) Cancel() { closeOnce(&c.canceled) }

func closeOnce(ch *chan struct{}) {
	select {
	case <-*ch:
	default:
		close(*ch)
	}
}

func (c *control) isPaused() bool {
	select {
	case <-c.paused:
		return true
	default:
		return false
	}
}

func (c *control) isCanceled() bool {
	select {
	case <-c.canceled:
		return true
	default:
		return false
	}
}

// Executor runs the segment-fetch/decrypt/assemble pipeline. One Executor
// serves every task: each Run has its own pause/cancel control keyed by task
// id, and the queue scheduler's concurrency limit bounds how many run at once.
type Executor struct {
	pool      *connpool.Pool
	retry     *retry.Engine
	breakers  *circuitbreaker.Registry
	logger    *slog.Logger

	keyMu  sync.Mutex
	keys   map[string][]byte

	controlMu sync.Mutex
	controls  map[model.ID]*control
}

// New constructs an Executor sharing the given connection pool, retry
// engine, and circuit breaker registry across every task it runs.
func New(pool *connpool.Pool, retryEngine *retry.Engine, breakers *circuitbreaker.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		pool:     pool,
		retry:    retryEngine,
		breakers: breakers,
		logger:   logger,
		keys:     make(map[string][]byte),
		controls: make(map[model.ID]*control),
	}
}

// Pause signals task's in-flight executor to stop dispatching new segments
// and transition to Paused once current work drains. A no-op if the task
// has no registered control (not currently running).
func (e *Executor) Pause(taskID model.ID) {
	if c := e.controlFor(taskID); c != nil {
		c.Pause()
	}
}

// Cancel signals task's in-flight executor to abort as soon as possible.
func (e *Executor) Cancel(taskID model.ID) {
	if c := e.controlFor(taskID); c != nil {
		c.Cancel()
	}
}

func (e *Executor) controlFor(taskID model.ID) *control {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()
	return e.controls[taskID]
}

func (e *Executor) register(taskID model.ID) *control {
	c := newControl()
	e.controlMu.Lock()
	e.controls[taskID] = c
	e.controlMu.Unlock()
	return c
}

func (e *Executor) unregister(taskID model.ID) {
	e.controlMu.Lock()
	delete(e.controls, taskID)
	e.controlMu.Unlock()
}

// Run executes a single task against an already-selected stream, writing
// into task.ScratchDir and finally to task.OutputPath. priorSegmentCount
// is the segment count recorded on a previous (resumed) run, or 0 for a
// fresh task; it guards against a truncated server-side playlist.
func (e *Executor) Run(ctx context.Context, task *model.Task, stream *model.Stream, priorSegmentCount int, sink ProgressSink) error {
	if priorSegmentCount > 0 && len(stream.Segments) < priorSegmentCount {
		return &TaskError{Reason: ReasonPlaylistShrunk, Cause: classify.Validation(classify.VariantPlaylistParse,
			fmt.Sprintf("playlist now has %d segments, prior run recorded %d", len(stream.Segments), priorSegmentCount), nil)}
	}

	if err := os.MkdirAll(task.ScratchDir, 0o755); err != nil {
		return &TaskError{Reason: ReasonAssemblyError, Cause: classify.Filesystem(classify.VariantInsufficientSpace, "creating scratch directory", err)}
	}

	man := loadManifest(task.ScratchDir)
	ctl := e.register(task.ID)
	defer e.unregister(task.ID)

	cfg := DefaultConfig()
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, cfg.PerTaskParallelism)

	var downloaded int64
	var mu sync.Mutex
	lastSample := time.Now()

	terminalIdx := len(stream.Segments) - 1

	for i := range stream.Segments {
		if man.isComplete(stream.Segments[i].Index) {
			continue
		}
		if ctl.isCanceled() {
			break
		}
		if ctl.isPaused() {
			break
		}

		seg := &stream.Segments[i]
		isTerminal := i == terminalIdx

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break
		}

		g.Go(func() error {
			defer func() { <-sem }()
			if ctl.isCanceled() {
				return nil
			}
			n, err := e.runSegment(gctx, task, seg, man, isTerminal, cfg)
			if err != nil {
				return &TaskError{Reason: ReasonSegmentDownload, Cause: err}
			}
			mu.Lock()
			downloaded += n
			elapsed := time.Since(lastSample)
			if elapsed >= cfg.SamplingInterval && sink != nil {
				lastSample = time.Now()
				bps := float64(downloaded) / elapsed.Seconds()
				sink(model.ProgressSample{Timestamp: lastSample, TaskID: task.ID, BytesDownloaded: downloaded, SpeedBps: bps})
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if ctl.isCanceled() {
		os.RemoveAll(task.ScratchDir)
		return context.Canceled
	}
	if ctl.isPaused() {
		return ErrPaused
	}

	if err := assembleOutput(task.ScratchDir, task.OutputPath, len(stream.Segments)); err != nil {
		return &TaskError{Reason: ReasonAssemblyError, Cause: err}
	}
	task.BytesDownloaded = downloaded
	return nil
}

// runSegment fetches, decrypts, and persists one segment, retrying under
// the shared RetryEngine and CircuitBreaker up to PerSegmentMaxRetries.
// It returns the plaintext byte count written.
func (e *Executor) runSegment(ctx context.Context, task *model.Task, seg *model.Segment, man *manifest, terminal bool, cfg Config) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.PerSegmentMaxRetries; attempt++ {
		n, err := e.fetchAndDecryptOnce(ctx, task, seg, man, terminal)
		if err == nil {
			return n, nil
		}
		lastErr = err

		cerr, ok := classify.As(err)
		if !ok {
			return 0, err
		}
		if !e.retry.ShouldRetry(cerr, attempt) {
			return 0, err
		}
		delay := e.retry.Delay(cerr, attempt)
		e.logger.Warn("segment fetch failed, retrying", slog.Int("segment", seg.Index), slog.Int("attempt", attempt), slog.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, lastErr
}

func (e *Executor) fetchAndDecryptOnce(ctx context.Context, task *model.Task, seg *model.Segment, man *manifest, terminal bool) (int64, error) {
	var host string
	if breakerErr := e.checkBreaker(seg.URL, &host); breakerErr != nil {
		return 0, breakerErr
	}

	handle, err := e.pool.Acquire(ctx, seg.URL)
	if err != nil {
		return 0, err
	}

	body, fetchErr := handle.Fetch(ctx, seg.URL)
	outcome := connpool.Outcome{Failed: fetchErr != nil, BytesMoved: int64(len(body))}
	e.pool.Release(handle, outcome)
	e.recordBreakerOutcome(host, fetchErr == nil)
	if fetchErr != nil {
		return 0, fetchErr
	}

	plaintext := body
	if seg.Encryption != nil && seg.Encryption.Method == model.EncryptionAES128 {
		key, keyErr := e.fetchKey(ctx, task.ID, seg.Encryption.KeyURL)
		if keyErr != nil {
			return 0, keyErr
		}
		iv := seg.Encryption.IV
		if !seg.Encryption.HasIV {
			iv = deriveIV(seg.Index)
		}
		plaintext, err = decryptSegment(body, key, iv, terminal)
		if err != nil {
			return 0, err
		}
	}

	crc, err := writeSegmentPart(task.ScratchDir, seg.Index, plaintext)
	if err != nil {
		return 0, classify.Filesystem(classify.VariantGeneric, "writing segment part", err)
	}
	if err := man.markComplete(seg.Index, int64(len(plaintext)), crc); err != nil {
		return 0, classify.Filesystem(classify.VariantGeneric, "updating manifest", err)
	}
	seg.State = model.SegmentComplete
	seg.Size = int64(len(plaintext))
	return int64(len(plaintext)), nil
}

func (e *Executor) checkBreaker(segURL string, host *string) *classify.Error {
	h, err := hostOf(segURL)
	if err != nil {
		return classify.Validation(classify.VariantInvalidURL, "invalid segment URL", err)
	}
	*host = h
	return e.breakers.Allow(h, classify.CategoryNetwork)
}

func (e *Executor) recordBreakerOutcome(host string, success bool) {
	b := e.breakers.GetOrCreate(host, classify.CategoryNetwork)
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

func (e *Executor) fetchKey(ctx context.Context, taskID model.ID, keyURL string) ([]byte, error) {
	cacheKey := taskID.String() + "|" + keyURL

	e.keyMu.Lock()
	if key, ok := e.keys[cacheKey]; ok {
		e.keyMu.Unlock()
		return key, nil
	}
	e.keyMu.Unlock()

	handle, err := e.pool.Acquire(ctx, keyURL)
	if err != nil {
		return nil, err
	}
	key, err := handle.Fetch(ctx, keyURL)
	e.pool.Release(handle, connpool.Outcome{Failed: err != nil, BytesMoved: int64(len(key))})
	if err != nil {
		return nil, classify.Encryption(classify.VariantKeyFetch, "fetching decryption key", err)
	}

	e.keyMu.Lock()
	e.keys[cacheKey] = key
	e.keyMu.Unlock()
	return key, nil
}
