// Package bandwidth implements interface-level network sampling and
// optimization hints, sampling the OS network counters via gopsutil on
// a single background goroutine.
package bandwidth

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/net"
)

// Sample is one point-in-time bandwidth observation.
type Sample struct {
	At            time.Time
	DownloadBps   float64
	UploadBps     float64
	ConnCount     int
}

const ringCapacity = 3600 // one hour at 1 Hz

type ring struct {
	buf  []Sample
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) add(s Sample) {
	cap := len(r.buf)
	if r.size < cap {
		r.buf[(r.head+r.size)%cap] = s
		r.size++
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % cap
}

func (r *ring) last() (Sample, bool) {
	if r.size == 0 {
		return Sample{}, false
	}
	cap := len(r.buf)
	return r.buf[(r.head+r.size-1)%cap], true
}

func (r *ring) snapshot() []Sample {
	out := make([]Sample, r.size)
	cap := len(r.buf)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%cap]
	}
	return out
}

// Hint identifies an optimization recommendation.
type Hint string

const (
	HintIncreaseConcurrency    Hint = "increase_concurrency"
	HintReduceConcurrency      Hint = "reduce_concurrency"
	HintOptimizeNetwork        Hint = "optimize_network"
	HintEnableBandwidthLimiting Hint = "enable_bandwidth_limiting"
)

// CounterSource abstracts the OS network-counter lookup so tests can supply
// synthetic series without touching the real network stack.
type CounterSource interface {
	// Counters returns per-interface cumulative bytes sent/received.
	Counters() (map[string]net.IOCountersStat, error)
	// Connections returns the number of established sockets.
	Connections() (int, error)
}

// gopsutilSource is the production CounterSource, backed by gopsutil's
// per-interface network counters.
type gopsutilSource struct{}

func (gopsutilSource) Counters() (map[string]net.IOCountersStat, error) {
	stats, err := net.IOCounters(true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]net.IOCountersStat, len(stats))
	for _, s := range stats {
		out[s.Name] = s
	}
	return out, nil
}

func (gopsutilSource) Connections() (int, error) {
	conns, err := net.Connections("inet")
	if err != nil {
		return 0, err
	}
	established := 0
	for _, c := range conns {
		if c.Status == "ESTABLISHED" {
			established++
		}
	}
	return established, nil
}

// Config tunes the monitor.
type Config struct {
	SampleInterval       time.Duration
	HintInterval         time.Duration
	TheoreticalMaxBps    float64
}

// DefaultConfig returns 1s sampling, 30s hints, and a 100 Mb/s ceiling.
func DefaultConfig() Config {
	return Config{SampleInterval: time.Second, HintInterval: 30 * time.Second, TheoreticalMaxBps: 100e6 / 8}
}

// ActiveTaskCounter reports how many tasks are currently downloading, used
// by the hint thresholds.
type ActiveTaskCounter func() int

// Monitor samples the primary interface and publishes optimization hints.
type Monitor struct {
	cfg    Config
	source CounterSource
	active ActiveTaskCounter

	mu          sync.Mutex
	ring        *ring
	primaryIface string
	lastCounters map[string]net.IOCountersStat
	lastSampleAt time.Time

	hintMu  sync.Mutex
	hintSub []func(Hint)
}

// New constructs a Monitor. A nil source uses the production gopsutil source.
func New(cfg Config, source CounterSource, active ActiveTaskCounter) *Monitor {
	if source == nil {
		source = gopsutilSource{}
	}
	if active == nil {
		active = func() int { return 0 }
	}
	return &Monitor{cfg: cfg, source: source, active: active, ring: newRing(ringCapacity)}
}

// OnHint registers a callback invoked whenever a new hint is published.
func (m *Monitor) OnHint(fn func(Hint)) {
	m.hintMu.Lock()
	defer m.hintMu.Unlock()
	m.hintSub = append(m.hintSub, fn)
}

// Run samples on cfg.SampleInterval and publishes hints on cfg.HintInterval
// until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	sampleTicker := time.NewTicker(m.cfg.SampleInterval)
	hintTicker := time.NewTicker(m.cfg.HintInterval)
	defer sampleTicker.Stop()
	defer hintTicker.Stop()

	m.selectPrimaryInterface()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sampleTicker.C:
			m.sampleOnce()
		case <-hintTicker.C:
			m.publishHint()
		}
	}
}

func (m *Monitor) selectPrimaryInterface() {
	counters, err := m.source.Counters()
	if err != nil {
		return
	}
	var best string
	var bestRecv uint64
	for name, c := range counters {
		if c.BytesRecv > bestRecv {
			bestRecv = c.BytesRecv
			best = name
		}
	}
	m.mu.Lock()
	m.primaryIface = best
	m.lastCounters = counters
	m.lastSampleAt = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) sampleOnce() {
	counters, err := m.source.Counters()
	if err != nil {
		return
	}
	connCount, _ := m.source.Connections()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	dt := now.Sub(m.lastSampleAt).Seconds()
	if dt <= 0 {
		dt = m.cfg.SampleInterval.Seconds()
	}

	iface := m.primaryIface
	cur, ok := counters[iface]
	if !ok {
		return
	}
	prev, hadPrev := m.lastCounters[iface]

	var downBps, upBps float64
	if hadPrev {
		downBps = float64(cur.BytesRecv-prev.BytesRecv) / dt
		upBps = float64(cur.BytesSent-prev.BytesSent) / dt
	}

	m.ring.add(Sample{At: now, DownloadBps: downBps, UploadBps: upBps, ConnCount: connCount})
	m.lastCounters = counters
	m.lastSampleAt = now
}

// Current returns the most recent sample, if any.
func (m *Monitor) Current() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.last()
}

// History returns all retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.snapshot()
}

func (m *Monitor) publishHint() {
	hint, ok := m.evaluateHint()
	if !ok {
		return
	}
	m.hintMu.Lock()
	subs := append([]func(Hint){}, m.hintSub...)
	m.hintMu.Unlock()
	for _, fn := range subs {
		fn(hint)
	}
}

func (m *Monitor) evaluateHint() (Hint, bool) {
	current, ok := m.Current()
	if !ok {
		return "", false
	}
	maxBps := m.cfg.TheoreticalMaxBps
	if maxBps <= 0 {
		maxBps = DefaultConfig().TheoreticalMaxBps
	}
	utilization := current.DownloadBps / maxBps
	activeTasks := m.active()

	avg := m.averageDownloadBps()
	efficiency := math.Inf(-1)
	if maxBps > 0 {
		efficiency = avg / maxBps
	}

	switch {
	case utilization < 0.30 && activeTasks < 5:
		return HintIncreaseConcurrency, true
	case utilization > 0.90:
		return HintReduceConcurrency, true
	case efficiency < 0.5:
		return HintOptimizeNetwork, true
	case utilization > 0.80 && activeTasks > 3:
		return HintEnableBandwidthLimiting, true
	default:
		return "", false
	}
}

func (m *Monitor) averageDownloadBps() float64 {
	samples := m.History()
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.DownloadBps
	}
	return sum / float64(len(samples))
}
