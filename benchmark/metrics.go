// Package benchmark - Measures predictor latency over a set of images.
package benchmark

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// PerformanceMetrics captures detailed performance data
type PerformanceMetrics struct {
	Scenario          Scenario      `json:"scenario"`
	Timestamp         time.Time     `json:"timestamp"`
	TotalDuration     time.Duration `json:"total_duration"`
	InferenceDuration LatencyStats  `json:"inference_duration"`
	FramesPerSecond   float64       `json:"frames_per_second"`
	MemoryStats       MemoryMetrics `json:"memory_stats"`
	// DetectionCount counts predictions scoring at least Scenario.ScoreThreshold.
	DetectionCount int     `json:"detection_count"`
	ErrorRate      float64 `json:"error_rate"`
}

// LatencyStats summarises per-prediction durations.
type LatencyStats struct {
	Min  time.Duration `json:"min"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	Max  time.Duration `json:"max"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// WriteJSON writes m to path, creating its directory.
func (m *PerformanceMetrics) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %q", filepath.Dir(path))
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(os.WriteFile(path, b, 0o644), "write %q", path)
}
