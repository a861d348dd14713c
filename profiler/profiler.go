// Package profiler - Tracks step timings and training metrics and reports
// them periodically through the logger.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/edaniels/golog"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler keeps rolling statistics of named metrics and operation
// durations. It is safe for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	logger         golog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	memStats   runtime.MemStats
	collectors []MetricsCollector
	metrics    map[string]*MetricTracker
	operations map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric over the last
// maxSamples values.
type MetricTracker struct {
	values   []float64
	sum      float64
	min      float64
	max      float64
	count    int64
	lastTime time.Time
}

func (t *MetricTracker) add(value float64, maxSamples int) {
	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.values = append(t.values, value)
	t.sum += value
	if len(t.values) > maxSamples {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}
	t.count++
	t.lastTime = time.Now()
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

func (t *TimeTracker) add(d time.Duration, maxSamples int) {
	if t.count == 0 || d < t.minTime {
		t.minTime = d
	}
	if t.count == 0 || d > t.maxTime {
		t.maxTime = d
	}
	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > maxSamples {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 1m)
	ReportInterval time.Duration
	// SampleInterval specifies how often collectors are polled (default: 1s)
	SampleInterval time.Duration
	// MaxSamples specifies maximum number of samples to keep (default: 600)
	MaxSamples int
}

// MetricStats is a snapshot of one metric.
type MetricStats struct {
	Avg, Min, Max, Last float64
	Samples             int
	Count               int64
}

// OperationStats is a snapshot of one operation's timings.
type OperationStats struct {
	Avg, Min, Max time.Duration
	Samples       int
	Count         int64
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
func NewRuntimeProfiler(opts ProfilingOptions, logger golog.Logger) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = time.Minute
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 600
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		metrics:        make(map[string]*MetricTracker),
		operations:     make(map[string]*TimeTracker),
	}
}

// Start begins polling collectors and emitting periodic reports. Calling it
// on a running profiler does nothing. A stopped profiler can be started again.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()
	if rp.ctx.Err() != nil {
		rp.ctx, rp.cancel = context.WithCancel(context.Background())
	}

	rp.wg.Add(2)
	go rp.loop(rp.ctx, rp.sampleInterval, rp.sample)
	go rp.loop(rp.ctx, rp.reportInterval, rp.emitStatusReport)
}

func (rp *RuntimeProfiler) loop(ctx context.Context, interval time.Duration, fn func()) {
	defer rp.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop gracefully stops the profiler and waits for all goroutines to complete.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a collector polled every sample interval.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, ok := rp.metrics[name]
	if !ok {
		tracker = &MetricTracker{values: make([]float64, 0, rp.maxSamples)}
		rp.metrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation and returns the function that
// ends it, reporting the elapsed time.
func (rp *RuntimeProfiler) StartOperation(name string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		rp.RecordOperation(name, d)
		return d
	}
}

// RecordOperation records one completed operation.
func (rp *RuntimeProfiler) RecordOperation(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.operations[name]
	if !ok {
		tracker = &TimeTracker{}
		rp.operations[name] = tracker
	}
	tracker.add(d, rp.maxSamples)
}

func (rp *RuntimeProfiler) sample() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	// Collectors run unlocked so they may call back into the profiler.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	runtime.ReadMemStats(&rp.memStats)
	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordMetricLocked(name, value)
		}
	}
}

// Metric returns a snapshot of the named metric.
func (rp *RuntimeProfiler) Metric(name string) (MetricStats, bool) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	t, ok := rp.metrics[name]
	if !ok || len(t.values) == 0 {
		return MetricStats{}, false
	}
	return MetricStats{
		Avg:     t.sum / float64(len(t.values)),
		Min:     t.min,
		Max:     t.max,
		Last:    t.values[len(t.values)-1],
		Samples: len(t.values),
		Count:   t.count,
	}, true
}

// Operation returns a snapshot of the named operation's timings.
func (rp *RuntimeProfiler) Operation(name string) (OperationStats, bool) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	t, ok := rp.operations[name]
	if !ok || len(t.durations) == 0 {
		return OperationStats{}, false
	}
	return OperationStats{
		Avg:     t.totalTime / time.Duration(len(t.durations)),
		Min:     t.minTime,
		Max:     t.maxTime,
		Samples: len(t.durations),
		Count:   t.count,
	}, true
}

// emitStatusReport logs uptime, memory, metrics and operation timings.
func (rp *RuntimeProfiler) emitStatusReport() {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	rp.logger.Infow("profiler report",
		"uptime", time.Since(rp.startTime).Truncate(time.Millisecond),
		"goroutines", runtime.NumGoroutine(),
		"heap_alloc", formatBytes(rp.memStats.HeapAlloc),
		"sys", formatBytes(rp.memStats.Sys),
		"gc_cycles", rp.memStats.NumGC)

	for name, t := range rp.metrics {
		if len(t.values) == 0 {
			continue
		}
		rp.logger.Infow("metric",
			"name", name,
			"avg", t.sum/float64(len(t.values)),
			"min", t.min,
			"max", t.max,
			"samples", len(t.values))
	}
	for name, t := range rp.operations {
		if len(t.durations) == 0 {
			continue
		}
		rp.logger.Infow("operation",
			"name", name,
			"avg", (t.totalTime / time.Duration(len(t.durations))).Truncate(time.Microsecond),
			"min", t.minTime.Truncate(time.Microsecond),
			"max", t.maxTime.Truncate(time.Microsecond),
			"count", t.count)
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
