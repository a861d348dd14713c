package benchmark

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-yolou/models/postprocess"
)

type scriptedPredictor struct {
	calls  int
	failOn map[int]bool
	score  float32
}

func (p *scriptedPredictor) Predict(ctx context.Context, _ image.Image) (postprocess.Result, error) {
	p.calls++
	if p.failOn[p.calls] {
		return postprocess.Result{}, errors.New("boom")
	}
	return postprocess.Result{Score: p.score}, nil
}

func (p *scriptedPredictor) Close() error { return nil }

func testImages() []image.Image {
	return []image.Image{image.NewRGBA(image.Rect(0, 0, 4, 4))}
}

func TestRun(t *testing.T) {
	// Call 1 is the warmup; calls 3 and 5 fail.
	p := &scriptedPredictor{failOn: map[int]bool{1: true, 3: true, 5: true}, score: 0.8}
	scenario := Scenario{Name: "cpu", Iterations: 8, WarmupRuns: 1, ScoreThreshold: 0.5}

	m, err := Run(context.Background(), p, testImages(), scenario, golog.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 9, p.calls)
	assert.Equal(t, 6, m.DetectionCount)
	assert.InDelta(t, 0.25, m.ErrorRate, 1e-9)
	assert.Positive(t, m.FramesPerSecond)
	assert.LessOrEqual(t, m.InferenceDuration.Min, m.InferenceDuration.P50)
	assert.LessOrEqual(t, m.InferenceDuration.P95, m.InferenceDuration.Max)
}

func TestRunBelowThreshold(t *testing.T) {
	p := &scriptedPredictor{score: 0.1}
	m, err := Run(context.Background(), p, testImages(), Scenario{Iterations: 3, ScoreThreshold: 0.5}, golog.NewTestLogger(t))
	require.NoError(t, err)
	assert.Zero(t, m.DetectionCount)
	assert.Zero(t, m.ErrorRate)
}

func TestRunErrors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	p := &scriptedPredictor{}

	_, err := Run(context.Background(), p, nil, Scenario{Iterations: 1}, logger)
	require.Error(t, err)

	_, err = Run(context.Background(), p, testImages(), Scenario{}, logger)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, p, testImages(), Scenario{Iterations: 2}, logger)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLatencyStats(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	var durations []time.Duration
	for i := 20; i >= 1; i-- {
		durations = append(durations, ms(i))
	}

	s := latencyStats(durations)
	assert.Equal(t, ms(1), s.Min)
	assert.Equal(t, ms(10), s.P50)
	assert.Equal(t, ms(19), s.P95)
	assert.Equal(t, ms(20), s.Max)
	assert.Equal(t, 10500*time.Microsecond, s.Mean)
	assert.Equal(t, LatencyStats{}, latencyStats(nil))
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "cpu.json")
	m := &PerformanceMetrics{Scenario: Scenario{Name: "cpu", Iterations: 2}, DetectionCount: 2}
	require.NoError(t, m.WriteJSON(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got PerformanceMetrics
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "cpu", got.Scenario.Name)
	assert.Equal(t, 2, got.DetectionCount)
}
