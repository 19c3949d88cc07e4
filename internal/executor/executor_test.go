package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightwavehq/streamfetch/internal/circuitbreaker"
	"github.com/brightwavehq/streamfetch/internal/connpool"
	"github.com/brightwavehq/streamfetch/internal/model"
	"github.com/brightwavehq/streamfetch/internal/retry"
)

func newTestExecutor() *Executor {
	pool := connpool.New(connpool.DefaultHostConfig(), "streamfetch-test")
	return New(pool, retry.New(nil), circuitbreaker.NewRegistry(), nil)
}

func TestRunDownloadsAndAssemblesPlainSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/s0.ts":
			w.Write([]byte("AAA"))
		case "/s1.ts":
			w.Write([]byte("BBB"))
		}
	}))
	defer srv.Close()

	exec := newTestExecutor()
	scratch := t.TempDir()
	outPath := filepath.Join(t.TempDir(), "out.ts")

	task := &model.Task{ID: model.NewID(), ScratchDir: scratch, OutputPath: outPath}
	stream := &model.Stream{Segments: []model.Segment{
		{Index: 0, URL: srv.URL + "/s0.ts", State: model.SegmentPending},
		{Index: 1, URL: srv.URL + "/s1.ts", State: model.SegmentPending},
	}}

	err := exec.Run(context.Background(), task, stream, 0, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))
}

func TestRunDetectsPlaylistShrunk(t *testing.T) {
	exec := newTestExecutor()
	task := &model.Task{ID: model.NewID(), ScratchDir: t.TempDir(), OutputPath: filepath.Join(t.TempDir(), "out.ts")}
	stream := &model.Stream{Segments: []model.Segment{{Index: 0, URL: "https://h/s0.ts"}}}

	err := exec.Run(context.Background(), task, stream, 5, nil)
	require.Error(t, err)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, ReasonPlaylistShrunk, taskErr.Reason)
}

func TestRunResumesFromManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/s1.ts" {
			w.Write([]byte("BBB"))
			return
		}
		t.Errorf("unexpected fetch of already-complete segment %s", r.URL.Path)
	}))
	defer srv.Close()

	scratch := t.TempDir()
	m := loadManifest(scratch)
	_, err := writeSegmentPart(scratch, 0, []byte("AAA"))
	require.NoError(t, err)
	require.NoError(t, m.markComplete(0, 3, 0))

	exec := newTestExecutor()
	outPath := filepath.Join(t.TempDir(), "out.ts")
	task := &model.Task{ID: model.NewID(), ScratchDir: scratch, OutputPath: outPath}
	stream := &model.Stream{Segments: []model.Segment{
		{Index: 0, URL: srv.URL + "/s0.ts"},
		{Index: 1, URL: srv.URL + "/s1.ts"},
	}}

	require.NoError(t, exec.Run(context.Background(), task, stream, 2, nil))
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))
}
