package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQueueStats(t *testing.T) {
	SetQueueStats(1, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(activeJobsGauge))
	assert.Equal(t, 4.0, testutil.ToFloat64(queuedJobsGauge))

	SetStrandedJobs(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(strandedJobsGauge))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsFinishedCounter.WithLabelValues("done"))
	RecordFinished("done")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsFinishedCounter.WithLabelValues("done")))

	before = testutil.ToFloat64(persistenceFailuresCounter.WithLabelValues("terminal"))
	RecordPersistenceFailure("terminal")
	assert.Equal(t, before+1, testutil.ToFloat64(persistenceFailuresCounter.WithLabelValues("terminal")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordSubmitted()
	RecordVariation(1500*time.Millisecond, nil)
	RecordVariation(time.Second, errors.New("boom"))
	RecordPublishFailure("s3")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "variagen_jobs_submitted_total")
	assert.Contains(t, body, `variagen_variation_duration_seconds_count{result="error"}`)
	assert.Contains(t, body, `variagen_publish_failures_total{destination="s3"}`)
}
