package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/brightwavehq/streamfetch/internal/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	cfg := DefaultConfig(db)
	cfg.ScratchRoot = t.TempDir()

	eng, err := New(cfg, nil)
	require.NoError(t, err)
	return eng
}

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media.m3u8":
			w.Write([]byte("#EXTM3U\n#EXTINF:1,\ns0.ts\n#EXT-X-ENDLIST\n"))
		case "/s0.ts":
			w.Write([]byte("segment-bytes"))
		}
	}))
	defer srv.Close()

	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	events, unsubscribe := eng.Subscribe(CapabilityStateChange)
	defer unsubscribe()

	outPath := filepath.Join(t.TempDir(), "out.ts")
	task := &model.Task{Name: "ep1", SourceURL: srv.URL + "/media.m3u8", OutputPath: outPath, Priority: 1}
	require.NoError(t, eng.Submit(task))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ToState == model.StateCompleted || ev.ToState == model.StateFailed {
				assert.Equal(t, model.StateCompleted, ev.ToState)
				data, err := os.ReadFile(outPath)
				require.NoError(t, err)
				assert.Equal(t, "segment-bytes", string(data))
				return
			}
		case <-deadline:
			t.Fatal("task did not reach a terminal state in time")
		}
	}
}

func TestPauseThenResumeCompletesTask(t *testing.T) {
	const segmentCount = 20
	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n")
	for i := 0; i < segmentCount; i++ {
		fmt.Fprintf(&playlist, "#EXTINF:1,\ns%d.ts\n", i)
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/media.m3u8" {
			w.Write([]byte(playlist.String()))
			return
		}
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	events, unsubscribe := eng.Subscribe(CapabilityStateChange)
	defer unsubscribe()

	outPath := filepath.Join(t.TempDir(), "out.ts")
	task := &model.Task{Name: "ep1", SourceURL: srv.URL + "/media.m3u8", OutputPath: outPath, Priority: 1}
	require.NoError(t, eng.Submit(task))

	require.Eventually(t, func() bool {
		return eng.Pause(task.ID) == nil
	}, 3*time.Second, 10*time.Millisecond, "task never reached running state")

	deadline := time.After(3 * time.Second)
waitPaused:
	for {
		select {
		case ev := <-events:
			if ev.ToState == model.StatePaused {
				break waitPaused
			}
			if ev.ToState == model.StateFailed {
				t.Fatal("task unexpectedly failed while pausing")
			}
		case <-deadline:
			t.Fatal("task did not reach paused state in time")
		}
	}

	require.NoError(t, eng.Resume(task.ID))

	deadline = time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ToState == model.StateCompleted {
				return
			}
			if ev.ToState == model.StateFailed {
				t.Fatal("task unexpectedly failed after resume")
			}
		case <-deadline:
			t.Fatal("task did not complete after resume in time")
		}
	}
}

func TestCancelPendingTaskRemovesItFromQueue(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	cfg := DefaultConfig(db)
	cfg.ScratchRoot = t.TempDir()
	cfg.Scheduler.ConcurrencyLimit = 1
	eng, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	blocker := &model.Task{Name: "blocker", SourceURL: srv.URL + "/media.m3u8", OutputPath: filepath.Join(t.TempDir(), "a.ts"), Priority: 1}
	require.NoError(t, eng.Submit(blocker))

	pending := &model.Task{Name: "queued", SourceURL: srv.URL + "/media.m3u8", OutputPath: filepath.Join(t.TempDir(), "b.ts"), Priority: 1}
	require.NoError(t, eng.Submit(pending))

	require.Eventually(t, func() bool {
		return len(eng.scheduler.Pending()) == 1
	}, 3*time.Second, 10*time.Millisecond, "second task never settled into pending")

	require.NoError(t, eng.Cancel(pending.ID))
	assert.Equal(t, model.StateCanceled, pending.State)

	close(block)
	cancel()
	eng.Stop()
}

func TestSetPriorityReportsNotFoundForUnknownTask(t *testing.T) {
	eng := newTestEngine(t)
	assert.ErrorIs(t, eng.SetPriority(model.NewID(), 1), ErrTaskNotFound)
}

func TestSubmitFailsOnUnreachableSource(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	events, unsubscribe := eng.Subscribe(CapabilityStateChange)
	defer unsubscribe()

	task := &model.Task{Name: "broken", SourceURL: "http://127.0.0.1:1/missing.m3u8", OutputPath: filepath.Join(t.TempDir(), "out.ts"), Priority: 1}
	require.NoError(t, eng.Submit(task))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ToState == model.StateFailed {
				return
			}
			if ev.ToState == model.StateCompleted {
				t.Fatal("unreachable source should not complete")
			}
		case <-deadline:
			t.Fatal("task did not reach a terminal state in time")
		}
	}
}
