// Package metrics counts what syncs plan, fetch and remove. The counters
// live in their own registry and are written as a node exporter textfile
// after a CLI run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cperrin88/yumsync/pkg/model"
)

const namespace = "yumsync"

// Removal reasons.
const (
	ReasonRetention = "retention"
	ReasonMissing   = "missing"
	ReasonDuplicate = "duplicate"
)

// Recorder holds the sync metrics. A nil Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	planned    *prometheus.CounterVec
	downloaded *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	associated *prometheus.CounterVec
	removed    *prometheus.CounterVec
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New registers the sync metrics in a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		planned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_planned_total",
			Help:      "Units selected for a repository by the sync planner.",
		}, []string{"repo", "content_type"}),
		downloaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_downloaded_total",
			Help:      "Units fetched from upstream.",
		}, []string{"repo"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Declared size of the units fetched from upstream.",
		}, []string{"repo"}),
		associated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_associated_total",
			Help:      "Units associated with a repository.",
		}, []string{"repo"}),
		removed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_removed_total",
			Help:      "Units unassociated from a repository.",
		}, []string{"repo", "reason"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Finished syncs by terminal state.",
		}, []string{"repo", "state"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of repository syncs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"repo"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Planned counts units the planner wants.
func (r *Recorder) Planned(repo string, ct model.ContentType, n int) {
	if r == nil {
		return
	}
	r.planned.WithLabelValues(repo, string(ct)).Add(float64(n))
}

// Downloaded counts fetched units and their declared size.
func (r *Recorder) Downloaded(repo string, n int, bytes int64) {
	if r == nil {
		return
	}
	r.downloaded.WithLabelValues(repo).Add(float64(n))
	r.bytes.WithLabelValues(repo).Add(float64(bytes))
}

// Associated counts units added to a repository.
func (r *Recorder) Associated(repo string, n int) {
	if r == nil {
		return
	}
	r.associated.WithLabelValues(repo).Add(float64(n))
}

// Removed counts units removed for reason.
func (r *Recorder) Removed(repo, reason string, n int) {
	if r == nil {
		return
	}
	r.removed.WithLabelValues(repo, reason).Add(float64(n))
}

// SyncFinished records a sync's terminal state and duration.
func (r *Recorder) SyncFinished(repo, state string, took time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(repo, state).Inc()
	r.duration.WithLabelValues(repo).Observe(took.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
