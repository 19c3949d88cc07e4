package connpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReusesIdleHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pool := New(DefaultHostConfig(), "streamfetch-test")
	ctx := context.Background()

	h1, err := pool.Acquire(ctx, srv.URL+"/a")
	require.NoError(t, err)
	body, err := h1.Fetch(ctx, srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	pool.Release(h1, Outcome{Duration: time.Millisecond, BytesMoved: int64(len(body))})

	h2, err := pool.Acquire(ctx, srv.URL+"/b")
	require.NoError(t, err)
	assert.Same(t, h1, h2, "expected idle handle to be reused for the same host")
	pool.Release(h2, Outcome{Duration: time.Millisecond})
}

func TestAcquireBlocksAtMaxConcurrency(t *testing.T) {
	cfg := DefaultHostConfig()
	cfg.MaxConnections = 1
	pool := New(cfg, "streamfetch-test")

	ctx := context.Background()
	h1, err := pool.Acquire(ctx, "https://example.test/a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h2, err := pool.Acquire(ctx, "https://example.test/b")
		require.NoError(t, err)
		close(acquired)
		pool.Release(h2, Outcome{})
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while first handle is held")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(h1, Outcome{})

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestReleaseDiscardsUnhealthyHandle(t *testing.T) {
	pool := New(DefaultHostConfig(), "streamfetch-test")
	ctx := context.Background()

	h1, err := pool.Acquire(ctx, "https://example.test/a")
	require.NoError(t, err)
	pool.Release(h1, Outcome{Failed: true})

	h2, err := pool.Acquire(ctx, "https://example.test/b")
	require.NoError(t, err)
	assert.NotSame(t, h1, h2, "a failed handle should not be returned to the idle pool")
	pool.Release(h2, Outcome{})
}

func TestIsRetryableMethodRestrictsToIdempotent(t *testing.T) {
	assert.True(t, IsRetryableMethod(http.MethodGet))
	assert.True(t, IsRetryableMethod(http.MethodHead))
	assert.False(t, IsRetryableMethod(http.MethodPost))
	assert.False(t, IsRetryableMethod(http.MethodPatch))
}
