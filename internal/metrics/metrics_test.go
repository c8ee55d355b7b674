package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	assert.GreaterOrEqual(t, timer.Duration(), 10*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestSubmissionsTotalByOutcome(t *testing.T) {
	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("test_outcome"))
	SubmissionsTotal.WithLabelValues("test_outcome").Inc()
	after := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("test_outcome"))
	require.Equal(t, before+1, after)
}
