package benchmark

import (
	"context"
	"image"
	"runtime"
	"sort"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolou/inference"
)

// Scenario defines one benchmark run.
type Scenario struct {
	Name           string  `json:"name"`
	Engine         string  `json:"engine"`
	Iterations     int     `json:"iterations"`
	WarmupRuns     int     `json:"warmup_runs"`
	ScoreThreshold float32 `json:"score_threshold"`
}

// Run predicts scenario.Iterations times, cycling through imgs, after
// scenario.WarmupRuns untimed predictions. Failed predictions count towards
// ErrorRate and are otherwise skipped.
func Run(ctx context.Context, p inference.Predictor, imgs []image.Image, scenario Scenario, logger golog.Logger) (*PerformanceMetrics, error) {
	if len(imgs) == 0 {
		return nil, errors.New("no images to benchmark")
	}
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("invalid iteration count %d", scenario.Iterations)
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := p.Predict(ctx, imgs[i%len(imgs)]); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debugw("warmup prediction failed", "error", err)
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &PerformanceMetrics{Scenario: scenario, Timestamp: time.Now()}
	durations := make([]time.Duration, 0, scenario.Iterations)
	failures := 0

	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		predictStart := time.Now()
		res, err := p.Predict(ctx, imgs[i%len(imgs)])
		if err != nil {
			failures++
			logger.Debugw("prediction failed", "iteration", i, "error", err)
			continue
		}
		durations = append(durations, time.Since(predictStart))
		if res.Score >= scenario.ScoreThreshold {
			metrics.DetectionCount++
		}
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.FramesPerSecond = float64(len(durations)) / metrics.TotalDuration.Seconds()
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	metrics.InferenceDuration = latencyStats(durations)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}

	logger.Infow("benchmark finished",
		"scenario", scenario.Name,
		"iterations", scenario.Iterations,
		"fps", metrics.FramesPerSecond,
		"p50", metrics.InferenceDuration.P50,
		"p95", metrics.InferenceDuration.P95,
		"error_rate", metrics.ErrorRate)
	return metrics, nil
}

// latencyStats uses nearest-rank percentiles.
func latencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	rank := func(p float64) time.Duration {
		i := int(p*float64(len(sorted))+0.999999) - 1
		if i < 0 {
			i = 0
		}
		return sorted[i]
	}
	return LatencyStats{
		Min:  sorted[0],
		Mean: total / time.Duration(len(sorted)),
		P50:  rank(0.5),
		P95:  rank(0.95),
		Max:  sorted[len(sorted)-1],
	}
}
