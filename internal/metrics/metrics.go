package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SubmissionsTotal counts submit attempts by outcome (success, invalid, upload_failed, record_failed).
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkpoint",
		Subsystem: "capture",
		Name:      "submissions_total",
		Help:      "Total number of submit attempts by outcome.",
	}, []string{"outcome"})

	// CapturesTotal counts preview images taken, by source.
	CapturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkpoint",
		Subsystem: "capture",
		Name:      "previews_total",
		Help:      "Total number of previews captured by source (camera, file).",
	}, []string{"source"})

	// UploadBytes observes uploaded image sizes.
	UploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "checkpoint",
		Subsystem: "capture",
		Name:      "upload_bytes",
		Help:      "Size of uploaded images in bytes.",
		Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10),
	})

	// SignalWritesTotal counts signal writes by state and outcome.
	SignalWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkpoint",
		Subsystem: "review",
		Name:      "signal_writes_total",
		Help:      "Total number of approve/disapprove signal writes.",
	}, []string{"state", "outcome"})

	// ProjectionSize is the number of submissions in the latest admin projection.
	ProjectionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkpoint",
		Subsystem: "review",
		Name:      "projection_size",
		Help:      "Number of submissions in the most recent admin projection.",
	})

	// SessionsActive is the number of open capture/admin sessions.
	SessionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "checkpoint",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of open sessions by kind.",
	}, []string{"kind"})
)

// Register registers metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			CapturesTotal,
			UploadBytes,
			SignalWritesTotal,
			ProjectionSize,
			SessionsActive,
		)
	})
}
