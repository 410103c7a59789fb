// Package metrics exposes pipeline counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "variagen_"

var activeJobsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "active_jobs",
		Help: "Jobs currently being processed",
	},
)

var queuedJobsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "queued_jobs",
		Help: "Jobs waiting for a free processing slot",
	},
)

var jobsFinishedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_finished_total",
		Help: "Jobs that reached a terminal status",
	},
	[]string{"status"},
)

var jobsSubmittedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "jobs_submitted_total",
		Help: "Jobs accepted by the submission endpoint",
	},
)

var persistenceFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "persistence_failures_total",
		Help: "Job store writes that failed after retries",
	},
	[]string{"kind"},
)

var strandedJobsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "stranded_jobs",
		Help: "Jobs left in processing because their terminal status could not be stored",
	},
)

var variationDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "variation_duration_seconds",
		Help:    "Wall time of a single variation render",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	},
	[]string{"result"},
)

var publishFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "publish_failures_total",
		Help: "Archive uploads to external destinations that failed",
	},
	[]string{"destination"},
)

// SetQueueStats records the scheduler's current occupancy.
func SetQueueStats(active, queued int) {
	activeJobsGauge.Set(float64(active))
	queuedJobsGauge.Set(float64(queued))
}

func RecordSubmitted() {
	jobsSubmittedCounter.Inc()
}

// RecordFinished counts a job reaching status "done" or "error".
func RecordFinished(status string) {
	jobsFinishedCounter.WithLabelValues(status).Inc()
}

// RecordPersistenceFailure counts a write that was given up on. kind is
// "progress" or "terminal".
func RecordPersistenceFailure(kind string) {
	persistenceFailuresCounter.WithLabelValues(kind).Inc()
}

// SetStrandedJobs records how many jobs are stuck in processing until the
// next restart.
func SetStrandedJobs(n int) {
	strandedJobsGauge.Set(float64(n))
}

func RecordVariation(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	variationDurationHist.WithLabelValues(result).Observe(d.Seconds())
}

func RecordPublishFailure(destination string) {
	publishFailuresCounter.WithLabelValues(destination).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
