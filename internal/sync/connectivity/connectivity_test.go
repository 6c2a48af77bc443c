package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestMonitor(p Prober, roundTrip time.Duration) *Monitor {
	m := NewMonitor(p, Config{})
	clock := &fakeClock{t: time.Unix(0, 0), step: roundTrip}
	m.now = clock.now
	return m
}

func TestNewMonitor_defaults(t *testing.T) {
	m := NewMonitor(ProberFunc(func(context.Context) error { return nil }), Config{})
	assert.Equal(t, DefaultProbeTimeout, m.timeout)
	assert.Equal(t, DefaultSlowThreshold, m.slow)
	assert.Equal(t, DefaultCheckInterval, m.every)
	assert.Equal(t, StatusOffline, m.Status())
}

func TestCheck_classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		roundTrip time.Duration
		want      Status
	}{
		{"fast success", nil, 100 * time.Millisecond, StatusOnline},
		{"at threshold", nil, 2500 * time.Millisecond, StatusOnline},
		{"slow success", nil, 2501 * time.Millisecond, StatusDegraded},
		{"probe error", errors.New("refused"), 10 * time.Millisecond, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(ProberFunc(func(context.Context) error { return tt.err }), tt.roundTrip)
			assert.Equal(t, tt.want, m.Check(context.Background()))
			assert.Equal(t, tt.want, m.Status())
			assert.Equal(t, tt.want == StatusOnline, m.IsOnline())
		})
	}
}

func TestCheck_linkDownSkipsProbe(t *testing.T) {
	called := false
	m := newTestMonitor(ProberFunc(func(context.Context) error {
		called = true
		return nil
	}), time.Millisecond)

	m.SetLinkState(false)
	assert.Equal(t, StatusOffline, m.Check(context.Background()))
	assert.False(t, called)
}

func TestCheck_probeTimeout(t *testing.T) {
	m := NewMonitor(ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), Config{ProbeTimeout: 20 * time.Millisecond})

	assert.Equal(t, StatusDegraded, m.Check(context.Background()))
}

func TestOnChange(t *testing.T) {
	var err error
	m := newTestMonitor(ProberFunc(func(context.Context) error { return err }), time.Millisecond)

	var got []Status
	m.OnChange(func(s Status) { got = append(got, s) })

	m.Check(context.Background())
	m.Check(context.Background())
	err = errors.New("down")
	m.Check(context.Background())
	m.SetLinkState(false)

	assert.Equal(t, []Status{StatusOnline, StatusDegraded, StatusOffline}, got)
}

func TestHTTPProber(t *testing.T) {
	var gotMethod, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCache = r.Header.Get("Cache-Control")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL + DefaultHeartbeatPath)
	require.NoError(t, p.Probe(context.Background()))
	assert.Equal(t, http.MethodHead, gotMethod)
	assert.Equal(t, "no-store", gotCache)
}

func TestHTTPProber_non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPProber(srv.URL).Probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStart_recheckOnLinkUp(t *testing.T) {
	probes := make(chan struct{}, 10)
	m := NewMonitor(ProberFunc(func(context.Context) error {
		probes <- struct{}{}
		return nil
	}), Config{CheckInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	waitProbe(t, probes)
	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	m.SetLinkState(false)
	assert.Equal(t, StatusOffline, m.Status())
	m.SetLinkState(true)
	waitProbe(t, probes)

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func waitProbe(t *testing.T, probes <-chan struct{}) {
	t.Helper()
	select {
	case <-probes:
	case <-time.After(2 * time.Second):
		t.Fatal("probe not called")
	}
}
