// Package connectivity classifies the link to the remote store as online,
// degraded or offline.
//
// A link that is up but answers the heartbeat slowly, with an error, or not
// at all is degraded: automatic sync is skipped, manual sync is still allowed.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/metrics"
)

// Status is the classified link state.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Statuses lists every Status.
var Statuses = []Status{StatusOnline, StatusDegraded, StatusOffline}

const (
	DefaultProbeTimeout  = 3 * time.Second
	DefaultSlowThreshold = 2500 * time.Millisecond
	DefaultCheckInterval = 30 * time.Second
	DefaultHeartbeatPath = "/api/heartbeat"
)

// Prober performs one reachability probe.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber probes a heartbeat URL with HEAD.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates a prober for url.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, Client: http.DefaultClient}
}

// Probe issues HEAD URL with caching disabled. Any non-2xx answer is an error.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("heartbeat: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Config holds monitor timings. Zero values take the defaults.
type Config struct {
	ProbeTimeout  time.Duration
	SlowThreshold time.Duration
	CheckInterval time.Duration
	Metrics       *metrics.Metrics
}

// Monitor tracks the link state and the result of the last probe.
type Monitor struct {
	prober  Prober
	timeout time.Duration
	slow    time.Duration
	every   time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	linkUp   bool
	status   Status
	handlers []func(Status)
	recheck  chan struct{}
}

// NewMonitor creates a Monitor. The link starts up and the status starts
// offline until the first check.
func NewMonitor(prober Prober, cfg Config) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Monitor{
		prober:  prober,
		timeout: cfg.ProbeTimeout,
		slow:    cfg.SlowThreshold,
		every:   cfg.CheckInterval,
		metrics: cfg.Metrics,
		now:     time.Now,
		linkUp:  true,
		status:  StatusOffline,
		recheck: make(chan struct{}, 1),
	}
}

// Status returns the last classified state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsOnline reports whether the status is online.
func (m *Monitor) IsOnline() bool {
	return m.Status() == StatusOnline
}

// OnChange registers a handler called with the new status on every change.
// Handlers run synchronously on the goroutine that observed the change.
func (m *Monitor) OnChange(handler func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// SetLinkState records an OS-level link change. Going down sets offline
// immediately; coming up requests a check from the Start loop.
func (m *Monitor) SetLinkState(up bool) {
	m.mu.Lock()
	m.linkUp = up
	m.mu.Unlock()

	if !up {
		m.set(StatusOffline)
		return
	}
	select {
	case m.recheck <- struct{}{}:
	default:
	}
}

// Check classifies the link now and returns the new status.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	up := m.linkUp
	m.mu.RUnlock()
	if !up {
		m.set(StatusOffline)
		return StatusOffline
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	err := m.prober.Probe(probeCtx)
	elapsed := m.now().Sub(start)
	m.metrics.Probe(elapsed)

	status := StatusOnline
	switch {
	case err != nil:
		logging.Debug("Heartbeat probe failed", map[string]interface{}{
			"error": err.Error(),
		})
		status = StatusDegraded
	case elapsed > m.slow:
		logging.Debug("Heartbeat probe slow", map[string]interface{}{
			"elapsed_ms": elapsed.Milliseconds(),
		})
		status = StatusDegraded
	}
	m.set(status)
	return status
}

// Start checks immediately and then every CheckInterval, and on every
// SetLinkState(true), until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.every)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		case <-m.recheck:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) set(status Status) {
	m.mu.Lock()
	prev := m.status
	m.status = status
	handlers := append([]func(Status){}, m.handlers...)
	m.mu.Unlock()

	if prev == status {
		return
	}
	all := make([]string, len(Statuses))
	for i, s := range Statuses {
		all[i] = string(s)
	}
	m.metrics.Connectivity(string(status), all)
	logging.Info("Connectivity changed", map[string]interface{}{
		"from": prev,
		"to":   status,
	})
	for _, h := range handlers {
		h(status)
	}
}
