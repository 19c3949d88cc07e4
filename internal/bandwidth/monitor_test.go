package bandwidth

import (
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	counters map[string]net.IOCountersStat
	conns    int
}

func (f *fakeSource) Counters() (map[string]net.IOCountersStat, error) {
	return f.counters, nil
}

func (f *fakeSource) Connections() (int, error) {
	return f.conns, nil
}

func TestSampleOnceComputesRateFromDelta(t *testing.T) {
	src := &fakeSource{counters: map[string]net.IOCountersStat{
		"eth0": {Name: "eth0", BytesRecv: 1000, BytesSent: 100},
	}, conns: 2}

	m := New(DefaultConfig(), src, nil)
	m.selectPrimaryInterface()

	time.Sleep(5 * time.Millisecond)
	src.counters = map[string]net.IOCountersStat{
		"eth0": {Name: "eth0", BytesRecv: 2000, BytesSent: 300},
	}
	m.sampleOnce()

	current, ok := m.Current()
	require.True(t, ok)
	assert.Greater(t, current.DownloadBps, 0.0)
	assert.Equal(t, 2, current.ConnCount)
}

func TestEvaluateHintLowUtilizationRecommendsIncrease(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg, &fakeSource{counters: map[string]net.IOCountersStat{}}, func() int { return 1 })
	m.mu.Lock()
	m.primaryIface = "eth0"
	m.ring.add(Sample{At: time.Now(), DownloadBps: 1000, ConnCount: 1})
	m.mu.Unlock()

	hint, ok := m.evaluateHint()
	require.True(t, ok)
	assert.Equal(t, HintIncreaseConcurrency, hint)
}

func TestEvaluateHintHighUtilizationRecommendsReduce(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg, &fakeSource{counters: map[string]net.IOCountersStat{}}, func() int { return 10 })
	m.mu.Lock()
	m.ring.add(Sample{At: time.Now(), DownloadBps: cfg.TheoreticalMaxBps * 0.95, ConnCount: 10})
	m.mu.Unlock()

	hint, ok := m.evaluateHint()
	require.True(t, ok)
	assert.Equal(t, HintReduceConcurrency, hint)
}
