package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStep(t *testing.T) {
	stepsTotal.Reset()

	RecordStep("Skipped", "previous-has-results")
	RecordStep("Skipped", "previous-has-results")
	RecordStep("Failed", "UpstreamError")

	metric := &dto.Metric{}
	require.NoError(t, stepsTotal.WithLabelValues("Skipped", "previous-has-results").Write(metric))
	assert.Equal(t, float64(2), metric.Counter.GetValue())

	metric = &dto.Metric{}
	require.NoError(t, stepsTotal.WithLabelValues("Failed", "UpstreamError").Write(metric))
	assert.Equal(t, float64(1), metric.Counter.GetValue())
}

func TestRecordRun(t *testing.T) {
	runsTotal.Reset()

	RecordRun("success")

	metric := &dto.Metric{}
	require.NoError(t, runsTotal.WithLabelValues("success").Write(metric))
	assert.Equal(t, float64(1), metric.Counter.GetValue())
}

func TestRecordDispatch(t *testing.T) {
	dispatchDuration.Reset()

	RecordDispatch("GET", 0.2)
	RecordDispatch("GET", 3)

	metric := &dto.Metric{}
	observer := dispatchDuration.WithLabelValues("GET")
	require.NoError(t, observer.(interface{ Write(*dto.Metric) error }).Write(metric))
	assert.Equal(t, uint64(2), metric.Histogram.GetSampleCount())
}
