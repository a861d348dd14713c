package profiler

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepCollector struct{ step float64 }

func (c *stepCollector) CollectMetrics() map[string]float64 {
	return map[string]float64{"global_step": c.step}
}

func TestRecordMetric(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 3}, golog.NewTestLogger(t))

	_, ok := rp.Metric("loss")
	assert.False(t, ok)

	for _, v := range []float64{4, 2, 6, 8} {
		rp.RecordMetric("loss", v)
	}

	stats, ok := rp.Metric("loss")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Samples, "oldest sample is dropped")
	assert.Equal(t, int64(4), stats.Count)
	assert.InDelta(t, 16.0/3.0, stats.Avg, 1e-9)
	assert.Equal(t, 2.0, stats.Min)
	assert.Equal(t, 8.0, stats.Max)
	assert.Equal(t, 8.0, stats.Last)
}

func TestRecordOperation(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{}, golog.NewTestLogger(t))

	rp.RecordOperation("train_step", 30*time.Millisecond)
	rp.RecordOperation("train_step", 10*time.Millisecond)
	done := rp.StartOperation("train_step")
	assert.GreaterOrEqual(t, done(), time.Duration(0))

	stats, ok := rp.Operation("train_step")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Samples)
	assert.Equal(t, 30*time.Millisecond, stats.Max)
	assert.LessOrEqual(t, stats.Min, 10*time.Millisecond)
}

func TestCollectorsAndReports(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{
		SampleInterval: 5 * time.Millisecond,
		ReportInterval: 5 * time.Millisecond,
	}, golog.NewTestLogger(t))
	rp.AddMetricsCollector(&stepCollector{step: 7})
	rp.RecordOperation("predict", time.Millisecond)

	rp.Start()
	rp.Start()
	require.Eventually(t, func() bool {
		stats, ok := rp.Metric("global_step")
		return ok && stats.Last == 7
	}, 2*time.Second, 5*time.Millisecond)
	rp.Stop()
	rp.Stop()
}

func TestRestartAfterStop(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{
		SampleInterval: 5 * time.Millisecond,
		ReportInterval: time.Hour,
	}, golog.NewTestLogger(t))
	rp.AddMetricsCollector(&stepCollector{step: 1})

	sampled := func() int64 {
		stats, _ := rp.Metric("global_step")
		return stats.Count
	}

	rp.Start()
	require.Eventually(t, func() bool { return sampled() > 0 }, 2*time.Second, 5*time.Millisecond)
	rp.Stop()

	stopped := sampled()
	rp.Start()
	defer rp.Stop()
	require.Eventually(t, func() bool { return sampled() > stopped }, 2*time.Second, 5*time.Millisecond)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
