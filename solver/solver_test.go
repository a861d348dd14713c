package solver

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/chewxy/math32"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/dataset"
	"github.com/nvr-ai/go-yolou/models/yolou"
	"github.com/nvr-ai/go-yolou/profiler"
)

const tinySize = 45

type fixedDataset struct {
	batch *dataset.Batch
	calls int
}

func (d *fixedDataset) Batch(ctx context.Context) (*dataset.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.calls++
	return d.batch, nil
}

func (d *fixedDataset) BatchSize() int { return 1 }
func (d *fixedDataset) Close() error   { return nil }

func newFixedDataset(fill func(i int) float32) *fixedDataset {
	pixels := make([]float32, tinySize*tinySize*3)
	for i := range pixels {
		pixels[i] = fill(i)
	}
	return &fixedDataset{batch: &dataset.Batch{
		Images: tensor.New(tensor.WithShape(1, tinySize, tinySize, 3), tensor.WithBacking(pixels)),
		Labels: tensor.New(tensor.WithShape(1, 2, 5), tensor.WithBacking([]float32{
			22, 20, 12, 8, 0,
			0, 0, 0, 0, 0,
		})),
		ObjectsNum: []int32{1},
	}}
}

func pattern(i int) float32 {
	return float32(i%7)/3 - 1
}

func tinyNetOptions() yolou.Options {
	return yolou.Options{
		ImageSize:   tinySize,
		BatchSize:   1,
		MaxObjects:  2,
		BaseFilters: 2,
		PoolLayers:  0,
		LeakyAlpha:  0.1,
		GridSizes:   yolou.DefaultGridSizes,
		Scales:      yolou.Scales{Object: 1, NoObject: 0.5, Class: 1, Coord: 5},
		Assignment:  yolou.AssignAspect,
	}
}

func tinySolverOptions(dir string) Options {
	return Options{
		Width:           tinySize,
		Height:          tinySize,
		BatchSize:       1,
		MaxObjects:      2,
		Moment:          0.9,
		LearningRate:    0.001,
		TrainDir:        dir,
		MaxIterators:    3,
		PretrainPath:    NoPretrain,
		LogEvery:        1,
		SummaryEvery:    2,
		CheckpointEvery: 1,
		MaxToKeep:       2,
	}
}

func newTinySolver(t *testing.T, ds dataset.Dataset, opts Options) *YoloUSolver {
	t.Helper()
	g := G.NewGraph()
	net, err := yolou.New(g, tinyNetOptions())
	require.NoError(t, err)
	s, err := New(g, ds, net, opts, golog.NewTestLogger(t))
	require.NoError(t, err)
	return s
}

func TestNewOptions(t *testing.T) {
	params := &config.Params{
		Common: config.Section{"image_size": "360", "batch_size": "16", "max_objects_per_image": "20"},
		Solver: config.Section{
			"moment":              "0.9",
			"lr":                  "0.00001",
			"train_dir":           "models/train",
			"max_iterators":       "1000000",
			"pretrain_model_path": "None",
			"checkpoint_every":    "100",
		},
	}

	opts, err := NewOptions(params)
	require.NoError(t, err)
	assert.Equal(t, 360, opts.Width)
	assert.Equal(t, 360, opts.Height)
	assert.Equal(t, 16, opts.BatchSize)
	assert.Equal(t, 20, opts.MaxObjects)
	assert.Equal(t, 0.9, opts.Moment)
	assert.Equal(t, 0.00001, opts.LearningRate)
	assert.Equal(t, "models/train", opts.TrainDir)
	assert.Equal(t, 1000000, opts.MaxIterators)
	assert.False(t, opts.hasPretrain())
	assert.Equal(t, 1, opts.LogEvery)
	assert.Equal(t, 1000, opts.SummaryEvery)
	assert.Equal(t, 100, opts.CheckpointEvery)
	assert.Equal(t, 3, opts.MaxToKeep)
	assert.Zero(t, opts.WeightDecay)

	delete(params.Solver, "lr")
	_, err = NewOptions(params)
	assert.True(t, errors.Is(err, config.ErrMissingOption))

	params.Solver["lr"] = "fast"
	_, err = NewOptions(params)
	assert.True(t, errors.Is(err, config.ErrInvalidOption))
}

func TestSolve(t *testing.T) {
	dir := t.TempDir()
	ds := newFixedDataset(pattern)
	s := newTinySolver(t, ds, tinySolverOptions(dir))

	require.NoError(t, s.Solve(context.Background()))
	assert.Equal(t, 3, ds.calls)
	assert.Equal(t, int64(3), s.GlobalStep())

	metrics := s.CollectMetrics()
	assert.Equal(t, 3.0, metrics["global_step"])
	assert.Positive(t, metrics["loss"])
	assert.Positive(t, metrics["examples_per_sec"])

	// Checkpoints every step, the newest two kept.
	assert.NoDirExists(t, filepath.Join(dir, "model.ckpt-0"))
	assert.DirExists(t, filepath.Join(dir, "model.ckpt-1"))
	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.ckpt-2"), latest)

	// Summaries at steps 0 and 2.
	events := readEvents(t, dir)
	require.Len(t, events, 2)
	assert.Equal(t, int64(0), events[0].Step)
	assert.Equal(t, int64(2), events[1].Step)
	assert.Equal(t, "loss", events[1].Tag)
}

func TestSolveUpdatesLearnables(t *testing.T) {
	dir := t.TempDir()
	opts := tinySolverOptions(dir)
	opts.SummaryEvery = 1
	s := newTinySolver(t, newFixedDataset(pattern), opts)

	before := make([][]float32, len(s.Learnables()))
	for i, n := range s.Learnables() {
		before[i] = append([]float32(nil), n.Value().Data().([]float32)...)
	}

	require.NoError(t, s.Solve(context.Background()))
	for i, n := range s.Learnables() {
		assert.NotEqual(t, before[i], n.Value().Data(), n.Name())
	}

	// The same batch every step, so the loss falls.
	events := readEvents(t, dir)
	require.Len(t, events, 3)
	assert.Greater(t, events[0].Value, events[2].Value)
}

func TestSolveRestoresPretrainedModel(t *testing.T) {
	dir := t.TempDir()
	trained := newTinySolver(t, newFixedDataset(pattern), tinySolverOptions(dir))
	require.NoError(t, trained.Solve(context.Background()))
	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)

	opts := tinySolverOptions(t.TempDir())
	opts.PretrainPath = latest
	opts.IsPredict = true
	restored := newTinySolver(t, nil, opts)

	require.NoError(t, Restore(latest, restored.Learnables()))
	for i, n := range trained.Learnables() {
		assert.Equal(t, n.Value().Data(), restored.Learnables()[i].Value().Data(), n.Name())
	}

	_, err = restored.ModelPredict(context.Background(), newFixedDataset(pattern).batch.Images)
	require.NoError(t, err)
}

func TestSolveMissingPretrainedModel(t *testing.T) {
	opts := tinySolverOptions(t.TempDir())
	opts.PretrainPath = filepath.Join(t.TempDir(), "model.ckpt-7")
	s := newTinySolver(t, newFixedDataset(pattern), opts)
	require.Error(t, s.Solve(context.Background()))
}

func TestSolveDiverged(t *testing.T) {
	ds := newFixedDataset(func(int) float32 { return math32.NaN() })
	s := newTinySolver(t, ds, tinySolverOptions(t.TempDir()))

	err := s.Solve(context.Background())
	assert.True(t, errors.Is(err, ErrDiverged))
	assert.Equal(t, 1, ds.calls)
}

func TestSolveDivergedWeights(t *testing.T) {
	ds := newFixedDataset(pattern)
	s := newTinySolver(t, ds, tinySolverOptions(t.TempDir()))
	weights := s.Learnables()[0].Value().Data().([]float32)
	weights[0] = math32.NaN()

	err := s.Solve(context.Background())
	assert.True(t, errors.Is(err, ErrDiverged))
	assert.Equal(t, 1, ds.calls)
	assert.Zero(t, s.GlobalStep())
}

func TestHasNonFinite(t *testing.T) {
	for _, tc := range []struct {
		data []float32
		want bool
	}{
		{[]float32{0, 1, -2}, false},
		{[]float32{0, math32.NaN()}, true},
		{[]float32{math32.Inf(1)}, true},
		{[]float32{math32.Inf(-1), 3}, true},
	} {
		v := tensor.New(tensor.WithShape(len(tc.data)), tensor.WithBacking(tc.data))
		assert.Equal(t, tc.want, hasNonFinite(v), "%v", tc.data)
	}
}

func TestSolveCancelled(t *testing.T) {
	ds := newFixedDataset(pattern)
	s := newTinySolver(t, ds, tinySolverOptions(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(s.Solve(ctx), context.Canceled))
	assert.Zero(t, ds.calls)
}

func TestSolvePredictMode(t *testing.T) {
	opts := tinySolverOptions(t.TempDir())
	opts.IsPredict = true
	s := newTinySolver(t, nil, opts)
	assert.True(t, errors.Is(s.Solve(context.Background()), ErrPredictMode))
}

func TestModelPredict(t *testing.T) {
	opts := tinySolverOptions(t.TempDir())
	opts.IsPredict = true
	s := newTinySolver(t, nil, opts)

	rp := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{}, golog.NewTestLogger(t))
	s.WithProfiler(rp)

	// A zero image keeps every convolution at zero, so every output is 0.5
	// and the first predictor of cell (0, 0) wins.
	zero := tensor.New(tensor.WithShape(1, tinySize, tinySize, 3), tensor.WithBacking(make([]float32, tinySize*tinySize*3)))
	res, err := s.ModelPredict(context.Background(), zero)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, res.Score, 1e-6)
	assert.Equal(t, 0, res.Class)
	assert.InDelta(t, 0, res.Box.X1, 1e-4)
	assert.InDelta(t, -8.75, res.Box.Y1, 1e-4)
	assert.InDelta(t, 13.75, res.Box.X2, 1e-4)
	assert.InDelta(t, 13.75, res.Box.Y2, 1e-4)

	stats, ok := rp.Operation("predict")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Count)

	wrong := tensor.New(tensor.WithShape(1, 9, 9, 3), tensor.WithBacking(make([]float32, 9*9*3)))
	_, err = s.ModelPredict(context.Background(), wrong)
	require.Error(t, err)
}

func TestPredictScalesToSourceImage(t *testing.T) {
	opts := tinySolverOptions(t.TempDir())
	opts.IsPredict = true
	s := newTinySolver(t, nil, opts)

	img := image.NewRGBA(image.Rect(0, 0, 90, 45))
	for y := 0; y < 45; y++ {
		for x := 0; x < 90; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}

	res, err := s.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.Greater(t, res.Box.X2, res.Box.X1)
	assert.Greater(t, res.Box.Y2, res.Box.Y1)
	assert.Greater(t, res.Score, float32(0))
	assert.Less(t, res.Score, float32(1))
}
