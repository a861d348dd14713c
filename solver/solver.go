// Package solver - Builds the YOLO-U training graph and drives training and
// single-image prediction.
package solver

import (
	"context"
	"image"
	"time"

	"github.com/chewxy/math32"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/dataset"
	"github.com/nvr-ai/go-yolou/images"
	"github.com/nvr-ai/go-yolou/inference"
	"github.com/nvr-ai/go-yolou/models/model"
	"github.com/nvr-ai/go-yolou/models/postprocess"
	"github.com/nvr-ai/go-yolou/profiler"
)

// ErrDiverged is returned by Solve when training produces a NaN or Inf value.
var ErrDiverged = errors.New("model diverged with loss = NaN")

// ErrPredictMode is returned by Solve when the solver was built without a
// training objective.
var ErrPredictMode = errors.New("solver was built for prediction")

const (
	// NoPretrain disables restoring weights before training or prediction.
	NoPretrain = "None"

	// PredictGrid is the grid decoded by ModelPredict.
	PredictGrid = 9
)

// TrainGrids are the grids whose losses make up the training objective.
var TrainGrids = []int{9, 15}

// Solver trains a network and predicts with it.
type Solver interface {
	Solve(ctx context.Context) error
	ModelPredict(ctx context.Context, img *tensor.Dense) (postprocess.Result, error)
}

// Options holds the Common and Solver settings.
type Options struct {
	Width, Height int
	BatchSize     int
	MaxObjects    int

	Moment       float64
	LearningRate float64
	WeightDecay  float64

	TrainDir     string
	MaxIterators int
	PretrainPath string

	LogEvery        int
	SummaryEvery    int
	CheckpointEvery int
	MaxToKeep       int

	IsPredict bool
}

// NewOptions reads solver options from the loaded configuration.
func NewOptions(params *config.Params) (Options, error) {
	var (
		opts Options
		err  error
	)
	if opts.Width, err = params.Common.Int("image_size"); err != nil {
		return opts, err
	}
	opts.Height = opts.Width
	if opts.BatchSize, err = params.Common.Int("batch_size"); err != nil {
		return opts, err
	}
	if opts.MaxObjects, err = params.Common.Int("max_objects_per_image"); err != nil {
		return opts, err
	}

	s := params.Solver
	if opts.Moment, err = s.Float("moment"); err != nil {
		return opts, err
	}
	if opts.LearningRate, err = s.Float("lr"); err != nil {
		return opts, err
	}
	if opts.TrainDir, err = s.String("train_dir"); err != nil {
		return opts, err
	}
	if opts.MaxIterators, err = s.Int("max_iterators"); err != nil {
		return opts, err
	}
	if opts.PretrainPath, err = s.String("pretrain_model_path"); err != nil {
		return opts, err
	}
	if opts.LogEvery, err = s.IntOr("log_every", 1); err != nil {
		return opts, err
	}
	if opts.SummaryEvery, err = s.IntOr("summary_every", 1000); err != nil {
		return opts, err
	}
	if opts.CheckpointEvery, err = s.IntOr("checkpoint_every", 5000); err != nil {
		return opts, err
	}
	if opts.MaxToKeep, err = s.IntOr("max_to_keep", 3); err != nil {
		return opts, err
	}
	if opts.WeightDecay, err = s.FloatOr("weight_decay", 0); err != nil {
		return opts, err
	}
	opts.IsPredict = params.IsPredict

	switch {
	case opts.Width <= 0:
		return opts, errors.Wrapf(config.ErrInvalidOption, "image_size %d", opts.Width)
	case opts.BatchSize <= 0:
		return opts, errors.Wrapf(config.ErrInvalidOption, "batch_size %d", opts.BatchSize)
	case opts.MaxObjects <= 0:
		return opts, errors.Wrapf(config.ErrInvalidOption, "max_objects_per_image %d", opts.MaxObjects)
	case opts.LogEvery <= 0 || opts.SummaryEvery <= 0 || opts.CheckpointEvery <= 0:
		return opts, errors.Wrap(config.ErrInvalidOption, "log_every, summary_every and checkpoint_every must be positive")
	}
	return opts, nil
}

func (o Options) hasPretrain() bool {
	return o.PretrainPath != "" && o.PretrainPath != NoPretrain
}

// YoloUSolver owns the graph of one network: its input placeholder, the
// per-grid predictions, and in training mode the losses and the optimizer.
type YoloUSolver struct {
	opts     Options
	dataset  dataset.Dataset
	net      model.Net
	logger   golog.Logger
	profiler *profiler.RuntimeProfiler

	g          *G.ExprGraph
	images     *G.Node
	predicts   map[string]*G.Node
	losses     []*model.Loss
	totalLoss  *G.Node
	learnables G.Nodes
	solver     G.Solver

	globalStep atomic.Int64
	lastLoss   atomic.Float64
	lastExPerS atomic.Float64
}

var (
	_ Solver              = (*YoloUSolver)(nil)
	_ inference.Predictor = (*YoloUSolver)(nil)
)

// New builds the solver graph for net, whose nodes must live on g. ds may be
// nil when only ModelPredict is used.
func New(g *G.ExprGraph, ds dataset.Dataset, net model.Net, opts Options, logger golog.Logger) (*YoloUSolver, error) {
	s := &YoloUSolver{
		opts:    opts,
		dataset: ds,
		net:     net,
		logger:  logger,
		g:       g,
	}
	if err := s.constructGraph(); err != nil {
		return nil, errors.Wrap(err, "construct graph")
	}
	return s, nil
}

// WithProfiler records step and prediction timings in p. p is started and
// stopped by its owner.
func (s *YoloUSolver) WithProfiler(p *profiler.RuntimeProfiler) *YoloUSolver {
	s.profiler = p
	p.AddMetricsCollector(s)
	return s
}

// CollectMetrics reports the training progress to the profiler.
func (s *YoloUSolver) CollectMetrics() map[string]float64 {
	return map[string]float64{
		"global_step":      float64(s.globalStep.Load()),
		"loss":             s.lastLoss.Load(),
		"examples_per_sec": s.lastExPerS.Load(),
	}
}

// GlobalStep returns the number of optimizer updates applied so far.
func (s *YoloUSolver) GlobalStep() int64 {
	return s.globalStep.Load()
}

// Learnables returns the network's trainable nodes.
func (s *YoloUSolver) Learnables() G.Nodes {
	return s.learnables
}

func (s *YoloUSolver) constructGraph() error {
	s.images = G.NewTensor(s.g, tensor.Float32, 4,
		G.WithShape(s.opts.BatchSize, s.opts.Height, s.opts.Width, images.Channels),
		G.WithName("images"))

	predicts, err := s.net.Inference(s.images)
	if err != nil {
		return err
	}
	for _, grid := range TrainGrids {
		if _, ok := predicts[model.PredictsName(grid)]; !ok {
			return errors.Errorf("network has no %s output", model.PredictsName(grid))
		}
	}
	s.predicts = predicts
	s.learnables = s.net.Learnables()

	if s.opts.IsPredict {
		return nil
	}

	totals := make(G.Nodes, 0, len(TrainGrids))
	for _, grid := range TrainGrids {
		s.net.SetCellSize(grid)
		loss, err := s.net.Loss(predicts[model.PredictsName(grid)])
		if err != nil {
			return errors.Wrapf(err, "loss for grid %d", grid)
		}
		s.losses = append(s.losses, loss)
		totals = append(totals, loss.Total)
	}

	sum, err := G.ReduceAdd(totals)
	if err != nil {
		return err
	}
	s.totalLoss, err = G.Mul(sum, G.NewConstant(float32(1)/float32(len(totals))))
	if err != nil {
		return err
	}

	if _, err := G.Grad(s.totalLoss, s.learnables...); err != nil {
		return errors.Wrap(err, "gradients")
	}

	solverOpts := []G.SolverOpt{G.WithLearnRate(s.opts.LearningRate), G.WithMomentum(s.opts.Moment)}
	if s.opts.WeightDecay > 0 {
		solverOpts = append(solverOpts, G.WithL2Reg(s.opts.WeightDecay))
	}
	s.solver = G.NewMomentum(solverOpts...)
	return nil
}

// Solve trains for MaxIterators steps. It logs progress, writes the loss
// summary and saves checkpoints under TrainDir.
func (s *YoloUSolver) Solve(ctx context.Context) error {
	if s.opts.IsPredict {
		return ErrPredictMode
	}
	if s.dataset == nil {
		return errors.New("solver has no dataset")
	}

	if s.opts.hasPretrain() {
		if err := Restore(s.opts.PretrainPath, s.learnables); err != nil {
			return errors.Wrap(err, "restore pretrained model")
		}
		s.logger.Infow("restored pretrained model", "path", s.opts.PretrainPath)
	}

	saver, err := NewSaver(s.opts.TrainDir, s.opts.MaxToKeep)
	if err != nil {
		return err
	}
	summary, err := NewSummaryWriter(s.opts.TrainDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := summary.Close(); err != nil {
			s.logger.Warnw("failed to close summary writer", "error", err)
		}
	}()

	vm := G.NewTapeMachine(s.g, G.BindDualValues(s.learnables...), G.WithNaNWatch(), G.WithInfWatch())
	defer vm.Close()

	s.logger.Infow("training started",
		"run", summary.Run(),
		"max_iterators", s.opts.MaxIterators,
		"batch_size", s.opts.BatchSize,
		"train_dir", s.opts.TrainDir)

	for step := 0; step < s.opts.MaxIterators; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		loss, err := s.trainStep(ctx, vm)
		if err != nil {
			return errors.Wrapf(err, "step %d", step)
		}
		duration := time.Since(start)

		if math32.IsNaN(loss) {
			return ErrDiverged
		}

		examplesPerSec := float64(s.opts.BatchSize) / duration.Seconds()
		s.lastLoss.Store(float64(loss))
		s.lastExPerS.Store(examplesPerSec)
		if s.profiler != nil {
			s.profiler.RecordOperation("train_step", duration)
		}

		if step%s.opts.LogEvery == 0 {
			s.logger.Infof("step %d, loss = %.2f (%.1f examples/sec; %.3f sec/batch)",
				step, loss, examplesPerSec, duration.Seconds())
		}
		if step%s.opts.SummaryEvery == 0 {
			if err := summary.AddScalar("loss", int64(step), float64(loss)); err != nil {
				return err
			}
		}
		if step%s.opts.CheckpointEvery == 0 {
			path, err := saver.Save(int64(step), s.learnables)
			if err != nil {
				return errors.Wrap(err, "save checkpoint")
			}
			s.logger.Debugw("saved checkpoint", "path", path)
		}
	}
	return nil
}

func (s *YoloUSolver) trainStep(ctx context.Context, vm G.VM) (float32, error) {
	defer vm.Reset()

	batch, err := s.dataset.Batch(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.feed(batch); err != nil {
		return 0, err
	}
	// The watches stop the tape at the first non-finite value, before
	// max-pool backward ops index into NaN activations.
	if err := vm.RunAll(); err != nil {
		if s.diverged() {
			return 0, ErrDiverged
		}
		return 0, errors.Wrap(err, "run graph")
	}
	if err := s.solver.Step(G.NodesToValueGrads(s.learnables)); err != nil {
		return 0, errors.Wrap(err, "apply gradients")
	}
	s.globalStep.Inc()
	return scalar(s.totalLoss.Value())
}

func (s *YoloUSolver) feed(batch *dataset.Batch) error {
	if !batch.Images.Shape().Eq(s.images.Shape()) {
		return errors.Errorf("batch images shape %v, want %v", batch.Images.Shape(), s.images.Shape())
	}
	if err := G.Let(s.images, batch.Images); err != nil {
		return errors.Wrap(err, "let images")
	}
	for _, loss := range s.losses {
		if err := loss.Feeder.Feed(batch.Labels, batch.ObjectsNum); err != nil {
			return errors.Wrapf(err, "feed labels for grid %d", loss.CellSize)
		}
	}
	return nil
}

// ProcessPredicts decodes the best box of the first batch item of predicts,
// a (N, cellSize, cellSize, 11) tensor, in network input pixels.
func (s *YoloUSolver) ProcessPredicts(predicts tensor.Tensor, cellSize int) (postprocess.Result, error) {
	return postprocess.ProcessPredicts(predicts, cellSize, s.opts.Width, s.opts.Height)
}

// ModelPredict runs the network on img, a (1, height, width, 3) tensor
// normalised to [-1, 1], and decodes the 9x9 grid. Weights are restored from
// the pretrain path first unless it is None.
func (s *YoloUSolver) ModelPredict(ctx context.Context, img *tensor.Dense) (postprocess.Result, error) {
	if err := ctx.Err(); err != nil {
		return postprocess.Result{}, err
	}
	if !img.Shape().Eq(s.images.Shape()) {
		return postprocess.Result{}, errors.Errorf("image shape %v, want %v", img.Shape(), s.images.Shape())
	}

	if s.opts.hasPretrain() {
		if err := Restore(s.opts.PretrainPath, s.learnables); err != nil {
			return postprocess.Result{}, errors.Wrap(err, "restore pretrained model")
		}
	}

	out := s.predicts[model.PredictsName(PredictGrid)]
	vm := G.NewTapeMachine(s.g.SubgraphRoots(out))
	defer vm.Close()

	if err := G.Let(s.images, img); err != nil {
		return postprocess.Result{}, errors.Wrap(err, "let images")
	}

	start := time.Now()
	if err := vm.RunAll(); err != nil {
		return postprocess.Result{}, errors.Wrap(err, "run graph")
	}
	duration := time.Since(start)
	if s.profiler != nil {
		s.profiler.RecordOperation("predict", duration)
	}

	res, err := s.ProcessPredicts(out.Value().(tensor.Tensor), PredictGrid)
	if err != nil {
		return postprocess.Result{}, err
	}
	s.logger.Debugw("predicted", "duration", duration, "box", res.Box, "score", res.Score)
	return res, nil
}

// Predict resizes img to the network input, runs ModelPredict and maps the
// box back onto img.
func (s *YoloUSolver) Predict(ctx context.Context, img image.Image) (postprocess.Result, error) {
	data := make([]float32, s.opts.Width*s.opts.Height*images.Channels)
	if err := images.ToTensor(img, s.opts.Width, s.opts.Height, data); err != nil {
		return postprocess.Result{}, err
	}
	in := tensor.New(tensor.WithShape(1, s.opts.Height, s.opts.Width, images.Channels), tensor.WithBacking(data))

	res, err := s.ModelPredict(ctx, in)
	if err != nil {
		return postprocess.Result{}, err
	}
	b := img.Bounds()
	return res.Scale(float32(b.Dx())/float32(s.opts.Width), float32(b.Dy())/float32(s.opts.Height)), nil
}

// Close releases nothing; the dataset is closed by its owner.
func (s *YoloUSolver) Close() error {
	return nil
}

// diverged reports whether any value in the graph holds NaN or Inf.
func (s *YoloUSolver) diverged() bool {
	for _, n := range s.g.AllNodes() {
		if v := n.Value(); v != nil && hasNonFinite(v) {
			return true
		}
	}
	return false
}

func hasNonFinite(v G.Value) bool {
	var data []float32
	switch x := v.Data().(type) {
	case float32:
		data = []float32{x}
	case []float32:
		data = x
	default:
		return false
	}
	for _, f := range data {
		if math32.IsNaN(f) || math32.IsInf(f, 0) {
			return true
		}
	}
	return false
}

func scalar(v G.Value) (float32, error) {
	if v == nil {
		return 0, errors.New("loss has no value")
	}
	switch x := v.Data().(type) {
	case float32:
		return x, nil
	case []float32:
		if len(x) == 1 {
			return x[0], nil
		}
	}
	return 0, errors.Errorf("loss holds %T, want a float32 scalar", v.Data())
}
