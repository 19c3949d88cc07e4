// Package connpool implements the per-host HTTP connection pool: bounded
// concurrency, idle-handle reuse, health checks, and transport-level
// retry restricted to idempotent methods and the documented status set,
// layered over pkg/httpclient's resilient client.
package connpool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/brightwavehq/streamfetch/internal/playlist"
	"github.com/brightwavehq/streamfetch/pkg/httpclient"
)

// HostConfig is the per-host tunable set.
type HostConfig struct {
	MaxConnections      int
	MaxIdleConnections  int
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	KeepAliveTimeout    time.Duration
	HealthCheckInterval time.Duration
	RetryBudget         int
	RetryBackoffFactor  float64
}

// DefaultHostConfig returns the standard per-host pool tuning.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		MaxConnections:      5,
		MaxIdleConnections:  5,
		ConnectTimeout:      30 * time.Second,
		ReadTimeout:         60 * time.Second,
		KeepAliveTimeout:    300 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		RetryBudget:         3,
		RetryBackoffFactor:  0.3,
	}
}

// Stats tracks a handle's lifetime usage.
type Stats struct {
	Requests        int64
	BytesTransferred int64
	AvgResponseTime time.Duration
	ErrorRate       float64
	LastUsed        time.Time
}

func (s *Stats) recordRequest(d time.Duration, failed bool, bytes int64) {
	s.Requests++
	s.BytesTransferred += bytes
	if s.Requests == 1 {
		s.AvgResponseTime = d
	} else {
		// count-weighted exponential moving average
		weight := 1.0 / float64(s.Requests)
		s.AvgResponseTime = time.Duration((1-weight)*float64(s.AvgResponseTime) + weight*float64(d))
	}
	errCount := s.ErrorRate * float64(s.Requests-1)
	if failed {
		errCount++
	}
	s.ErrorRate = errCount / float64(s.Requests)
	s.LastUsed = time.Now()
}

// Handle is a checked-out session usable by exactly one caller at a time.
type Handle struct {
	host      string
	client    *httpclient.Client
	stats     Stats
	createdAt time.Time
	healthy   bool
}

func (h *Handle) isExpired(keepAlive time.Duration) bool {
	return time.Since(h.stats.LastUsed) > keepAlive && h.stats.Requests > 0
}

// Outcome describes a completed request for release bookkeeping.
type Outcome struct {
	Failed      bool
	Duration    time.Duration
	BytesMoved  int64
	Expired     bool
}

type hostPool struct {
	mu    sync.Mutex
	sem   chan struct{}
	idle  []*Handle
	inFlight int
	cfg   HostConfig
}

// Pool is the full per-host connection pool.
type Pool struct {
	mu    sync.Mutex
	hosts map[string]*hostPool
	cfg   HostConfig
	userAgent string
}

// New constructs a Pool with the given default host config.
func New(cfg HostConfig, userAgent string) *Pool {
	return &Pool{hosts: make(map[string]*hostPool), cfg: cfg, userAgent: userAgent}
}

func hostKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

func (p *Pool) poolFor(key string) *hostPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp, ok := p.hosts[key]
	if !ok {
		hp = &hostPool{sem: make(chan struct{}, p.cfg.MaxConnections), cfg: p.cfg}
		p.hosts[key] = hp
	}
	return hp
}

// Acquire returns a healthy handle for rawURL's host, blocking on a
// per-host semaphore if the host is already at max concurrency.
func (p *Pool) Acquire(ctx context.Context, rawURL string) (*Handle, error) {
	key, err := hostKey(rawURL)
	if err != nil {
		return nil, classify.Validation(classify.VariantInvalidURL, "invalid URL", err)
	}
	hp := p.poolFor(key)

	select {
	case hp.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	hp.mu.Lock()
	defer hp.mu.Unlock()

	for len(hp.idle) > 0 {
		h := hp.idle[len(hp.idle)-1]
		hp.idle = hp.idle[:len(hp.idle)-1]
		if h.isExpired(hp.cfg.KeepAliveTimeout) || h.stats.ErrorRate > 0.5 {
			continue
		}
		hp.inFlight++
		return h, nil
	}

	h := &Handle{
		host:      key,
		client:    newClient(hp.cfg, p.userAgent),
		createdAt: time.Now(),
		healthy:   true,
	}
	httpclient.DefaultRegistry.Register(key, h.client)
	hp.inFlight++
	return h, nil
}

func newClient(cfg HostConfig, userAgent string) *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Timeout:             cfg.ReadTimeout,
		RetryAttempts:       cfg.RetryBudget,
		RetryDelay:          time.Duration(float64(time.Second) * cfg.RetryBackoffFactor),
		RetryMaxDelay:       cfg.ReadTimeout,
		BackoffMultiplier:   2.0,
		UserAgent:           userAgent,
		EnableDecompression: true,
	})
}

// Release returns a handle to its host pool, updating stats and evicting
// unhealthy or expired handles.
func (p *Pool) Release(h *Handle, outcome Outcome) {
	key := h.host
	p.mu.Lock()
	hp, ok := p.hosts[key]
	p.mu.Unlock()
	if !ok {
		return
	}

	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.inFlight--
	<-hp.sem

	h.stats.recordRequest(outcome.Duration, outcome.Failed, outcome.BytesMoved)

	if outcome.Failed {
		h.healthy = false
	}
	if outcome.Expired || !h.healthy || h.isExpired(hp.cfg.KeepAliveTimeout) {
		return // discarded, not returned to idle
	}
	if len(hp.idle) < hp.cfg.MaxIdleConnections {
		hp.idle = append(hp.idle, h)
	}
}

// retryableMethods restricts transport-layer automatic retry to idempotent
// methods.
var retryableMethods = map[string]bool{http.MethodHead: true, http.MethodGet: true, http.MethodOptions: true}

// Fetch issues a GET through h and returns the full body plus a classified
// error on failure. Stream-oriented callers (segment fetch) should use
// Do directly instead, to avoid buffering large segments.
func (h *Handle) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, classify.Validation(classify.VariantInvalidURL, "building request", err)
	}
	resp, err := h.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatusError(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify.Network(classify.VariantGeneric, "reading response body", err)
	}
	return body, nil
}

// FetchText is a convenience wrapper implementing playlist.Fetcher. It
// transparently decompresses bodies a CDN serves pre-compressed without a
// Content-Encoding header.
func (h *Handle) FetchText(rawURL string) (string, error) {
	body, err := h.Fetch(context.Background(), rawURL)
	if err != nil {
		return "", err
	}
	text, err := playlist.DecompressBody(body)
	if err != nil {
		return "", classify.Parsing(classify.VariantPlaylistParse, "decompressing playlist body", err)
	}
	return text, nil
}

func classifyTransportError(err error) *classify.Error {
	return classify.Network(classify.VariantGeneric, "transport failure", err)
}

func classifyStatusError(code int) *classify.Error {
	if code == 429 {
		return classify.Network(classify.VariantRateLimit, fmt.Sprintf("rate limited (status %d)", code), nil)
	}
	if code >= 500 {
		return classify.Network(classify.VariantHTTP5xx, fmt.Sprintf("server error (status %d)", code), nil)
	}
	return classify.Network(classify.VariantHTTP4xx, fmt.Sprintf("client error (status %d)", code), nil)
}

// IsRetryableMethod reports whether method is eligible for transport-level
// automatic retry.
func IsRetryableMethod(method string) bool {
	return retryableMethods[method]
}
