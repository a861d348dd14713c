package inference

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/images"
	"github.com/nvr-ai/go-yolou/models/model"
	"github.com/nvr-ai/go-yolou/models/postprocess"
)

// ONNXOptions configures an ONNXPredictor.
type ONNXOptions struct {
	ModelPath string
	// ImageSize is the square network input size.
	ImageSize int
	// Grid is the cell size of the decoded output. Defaults to 9.
	Grid     int
	Provider ExecutionProvider
	Threads  int
}

func (o *ONNXOptions) validate() error {
	if o.Grid == 0 {
		o.Grid = 9
	}
	switch {
	case o.ModelPath == "":
		return errors.New("onnx model path is required")
	case o.ImageSize <= 0:
		return errors.Errorf("invalid image size %d", o.ImageSize)
	case o.Grid <= 0:
		return errors.Errorf("invalid grid %d", o.Grid)
	}
	return nil
}

// ONNXPredictor runs an exported network that takes "images" (1, size, size, 3)
// and produces predicts_g<grid> (1, grid, grid, 11).
type ONNXPredictor struct {
	mu      sync.Mutex
	opts    ONNXOptions
	session *Session
	logger  golog.Logger
}

var _ Predictor = (*ONNXPredictor)(nil)

// NewONNXPredictor loads the model at opts.ModelPath.
func NewONNXPredictor(opts ONNXOptions, logger golog.Logger) (*ONNXPredictor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	size := int64(opts.ImageSize)
	grid := int64(opts.Grid)
	session, err := NewSession(SessionOptions{
		ModelPath:      opts.ModelPath,
		InputName:      "images",
		OutputName:     model.PredictsName(opts.Grid),
		InputShape:     []int64{1, size, size, images.Channels},
		OutputShape:    []int64{1, grid, grid, postprocess.Channels},
		Provider:       opts.Provider,
		IntraOpThreads: opts.Threads,
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("loaded onnx model", "path", opts.ModelPath, "provider", opts.Provider, "grid", opts.Grid)
	return &ONNXPredictor{opts: opts, session: session, logger: logger}, nil
}

// Predict resizes img into the input tensor, runs the session and decodes the
// best box back onto img.
func (p *ONNXPredictor) Predict(ctx context.Context, img image.Image) (postprocess.Result, error) {
	if err := ctx.Err(); err != nil {
		return postprocess.Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return postprocess.Result{}, errors.New("model not loaded")
	}

	size := p.opts.ImageSize
	if err := images.ToTensor(img, size, size, p.session.Input.GetData()); err != nil {
		return postprocess.Result{}, err
	}

	start := time.Now()
	if err := p.session.Session.Run(); err != nil {
		return postprocess.Result{}, errors.Wrap(err, "run onnx session")
	}
	p.logger.Debugw("onnx inference", "duration", time.Since(start))

	out := tensor.New(
		tensor.WithShape(1, p.opts.Grid, p.opts.Grid, postprocess.Channels),
		tensor.WithBacking(p.session.Output.GetData()),
	)
	res, err := postprocess.ProcessPredicts(out, p.opts.Grid, size, size)
	if err != nil {
		return postprocess.Result{}, err
	}

	b := img.Bounds()
	return res.Scale(float32(b.Dx())/float32(size), float32(b.Dy())/float32(size)), nil
}

// Close releases the session.
func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		p.session.Close()
		p.session = nil
	}
	return nil
}
