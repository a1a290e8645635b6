package worktreesync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lastSuccessTimestamp *prometheus.GaugeVec
	syncCount            *prometheus.CounterVec
	syncLatency          *prometheus.HistogramVec
	quarantineCount      *prometheus.CounterVec
	retryCount           *prometheus.CounterVec
	orphansRemovedTotal  *prometheus.CounterVec
)

// EnableMetrics registers the Prometheus collectors every Repository
// publishes to: one GaugeVec/CounterVec/HistogramVec set registered once
// for the whole process, looked up by repo label on every Sync.
//
//   - sync_last_success_timestamp (tags: repo)
//   - sync_count (tags: repo, result)
//   - sync_latency_seconds (tags: repo)
//   - sync_quarantine_count (tags: repo)
//   - sync_retry_count (tags: repo)
//   - sync_orphans_removed_total (tags: repo)
func EnableMetrics(namespace string, registerer prometheus.Registerer) {
	lastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp",
		Help:      "Timestamp of the last successful sync pass",
	}, []string{"repo"})

	syncCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_count",
		Help:      "Count of sync passes",
	}, []string{"repo", "result"})

	syncLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_latency_seconds",
		Help:      "Latency of a sync pass",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	}, []string{"repo"})

	quarantineCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_quarantine_count",
		Help:      "Count of worktrees moved into quarantine",
	}, []string{"repo"})

	retryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_retry_count",
		Help:      "Count of sync retry attempts",
	}, []string{"repo"})

	orphansRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_orphans_removed_total",
		Help:      "Count of orphan directories removed from the worktree root",
	}, []string{"repo"})

	registerer.MustRegister(
		lastSuccessTimestamp,
		syncCount,
		syncLatency,
		quarantineCount,
		retryCount,
		orphansRemovedTotal,
	)
}

func recordSync(repo string, success bool, start time.Time) {
	if syncCount == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
		lastSuccessTimestamp.WithLabelValues(repo).Set(float64(time.Now().Unix()))
	}
	syncCount.WithLabelValues(repo, result).Inc()
	syncLatency.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}

func recordQuarantine(repo string) {
	if quarantineCount == nil {
		return
	}
	quarantineCount.WithLabelValues(repo).Inc()
}

func recordRetry(repo string) {
	if retryCount == nil {
		return
	}
	retryCount.WithLabelValues(repo).Inc()
}

func recordOrphansRemoved(repo string, n int) {
	if orphansRemovedTotal == nil || n == 0 {
		return
	}
	orphansRemovedTotal.WithLabelValues(repo).Add(float64(n))
}
