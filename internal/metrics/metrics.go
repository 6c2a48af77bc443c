// Package metrics exposes Prometheus instruments for the sync engine, the
// connectivity monitor and the scheduler.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attendsync"

// Metrics holds the registered instruments.
type Metrics struct {
	syncRuns      *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	pushed        *prometheus.CounterVec
	pushFailures  *prometheus.CounterVec
	pulled        *prometheus.CounterVec
	conflicts     prometheus.Counter
	queueDepth    prometheus.Gauge
	connectivity  *prometheus.GaugeVec
	probeDuration prometheus.Histogram
	lastSync      prometheus.Gauge
}

// New registers the instruments with registry. A nil registry returns nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)

	return &Metrics{
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Number of sync runs by outcome",
		}, []string{"outcome"}),
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs",
			Buckets:   prometheus.DefBuckets,
		}),
		pushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_total",
			Help:      "Queue entries pushed to the remote store",
		}, []string{"table", "action"}),
		pushFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failures_total",
			Help:      "Failed push attempts",
		}, []string{"table", "code"}),
		pulled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_records_total",
			Help:      "Remote records merged into the local store",
		}, []string{"table"}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Pending local rows overwritten by pulled records",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries left in the sync queue after the last sync",
		}),
		connectivity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_status",
			Help:      "1 for the current connectivity status, 0 otherwise",
		}, []string{"status"}),
		probeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Heartbeat probe round trip",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		lastSync: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Start time of the last sync whose pull completed",
		}),
	}
}

// SyncFinished records one sync run.
func (m *Metrics) SyncFinished(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "partial"
	}
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(d.Seconds())
}

// SyncFailed records a sync run that returned an error.
func (m *Metrics) SyncFailed(d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues("failed").Inc()
	m.syncDuration.Observe(d.Seconds())
}

// Pushed records a queue entry accepted by the remote store.
func (m *Metrics) Pushed(table, action string) {
	if m == nil {
		return
	}
	m.pushed.WithLabelValues(table, action).Inc()
}

// PushFailed records a failed push attempt.
func (m *Metrics) PushFailed(table, code string) {
	if m == nil {
		return
	}
	m.pushFailures.WithLabelValues(table, code).Inc()
}

// Pulled records n merged records of table.
func (m *Metrics) Pulled(table string, n int) {
	if m == nil {
		return
	}
	m.pulled.WithLabelValues(table).Add(float64(n))
}

// Conflict records a pending local row overwritten by a pull.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// QueueDepth sets the number of queued entries.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// LastSync sets the last sync timestamp from Unix milliseconds.
func (m *Metrics) LastSync(ms int64) {
	if m == nil {
		return
	}
	m.lastSync.Set(float64(ms) / 1000)
}

// Connectivity marks status as current among all.
func (m *Metrics) Connectivity(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.connectivity.WithLabelValues(s).Set(v)
	}
}

// Probe records a heartbeat round trip.
func (m *Metrics) Probe(d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.Observe(d.Seconds())
}
