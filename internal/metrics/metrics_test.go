package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_nilRegistry(t *testing.T) {
	m := New(nil)
	assert.Nil(t, m)

	// Every recorder must be safe on nil.
	m.SyncFinished(true, time.Second)
	m.SyncFailed(time.Second)
	m.Pushed("members", "create")
	m.PushFailed("members", "SYNC_FAILED")
	m.Pulled("events", 3)
	m.Conflict()
	m.QueueDepth(2)
	m.LastSync(1000)
	m.Connectivity("online", []string{"online", "offline"})
	m.Probe(time.Millisecond)
}

func TestMetrics_record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.SyncFinished(true, 10*time.Millisecond)
	m.SyncFinished(false, 10*time.Millisecond)
	m.SyncFailed(time.Millisecond)
	m.Pushed("attendance", "create")
	m.Pushed("attendance", "create")
	m.Pulled("members", 4)
	m.Conflict()
	m.QueueDepth(7)
	m.LastSync(2500)
	m.Connectivity("degraded", []string{"online", "degraded", "offline"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pushed.WithLabelValues("attendance", "create")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.pulled.WithLabelValues("members")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.lastSync))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectivity.WithLabelValues("degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectivity.WithLabelValues("online")))
}

func TestNew_registersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
