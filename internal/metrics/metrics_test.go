package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/metrics"
)

func TestIncSliceRetryIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.IncSliceRetry("rate_limit")
	m.IncSliceRetry("rate_limit")
	m.IncSliceRetry("network")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found map[string]float64
	for _, f := range families {
		if f.GetName() == "hearing_transcribe_slice_retries_total" {
			found = make(map[string]float64)
			for _, metric := range f.Metric {
				found[labelValue(metric, "kind")] = metric.GetCounter().GetValue()
			}
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 2.0, found["rate_limit"])
	assert.Equal(t, 1.0, found["network"])
}

func TestSetJobOverallPercentRecordsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SetJobOverallPercent("job-1", 42.5)

	families, err := reg.Gather()
	require.NoError(t, err)

	var value float64
	var seen bool
	for _, f := range families {
		if f.GetName() == "hearing_transcribe_job_overall_percent" {
			for _, metric := range f.Metric {
				if labelValue(metric, "job_id") == "job-1" {
					value = metric.GetGauge().GetValue()
					seen = true
				}
			}
		}
	}
	require.True(t, seen)
	assert.Equal(t, 42.5, value)
}

func TestNilRegistryMethodsDoNotPanic(t *testing.T) {
	var m *metrics.Registry
	assert.NotPanics(t, func() {
		m.IncSliceRetry("rate_limit")
		m.IncSliceOutcome("succeeded")
		m.SetJobOverallPercent("job-1", 10)
		m.IncJobCompleted("success")
		m.ObserveRateLimiterWait(1.5)
	})
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
