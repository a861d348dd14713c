package yolou

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/images"
	"github.com/nvr-ai/go-yolou/models/model"
	"github.com/nvr-ai/go-yolou/models/postprocess"
)

var (
	kernel3x3 = tensor.Shape{3, 3}
	kernel1x1 = tensor.Shape{1, 1}
	pad1      = []int{1, 1}
	pad0      = []int{0, 0}
	stride1   = []int{1, 1}
	dilation1 = []int{1, 1}
)

// YoloUNet is the two-grid detection network.
//
// Backbone: conv3x3 + leaky ReLU, then PoolLayers stages of 2x2 max-pool and
// a conv3x3 that doubles the filters. Each grid g pools the backbone output
// down to g x g and projects it with a 1x1 convolution to
// postprocess.Channels sigmoid outputs laid out as (batch, g, g, channels).
type YoloUNet struct {
	g        *G.ExprGraph
	opts     Options
	cellSize int

	backbone []*G.Node
	heads    map[int]*G.Node
}

var _ model.Net = (*YoloUNet)(nil)

// New creates the network's weights on g.
func New(g *G.ExprGraph, opts Options) (*YoloUNet, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := &YoloUNet{
		g:        g,
		opts:     opts,
		cellSize: opts.GridSizes[0],
		heads:    make(map[int]*G.Node, len(opts.GridSizes)),
	}

	in, out := images.Channels, opts.BaseFilters
	for i := 0; i <= opts.PoolLayers; i++ {
		n.backbone = append(n.backbone, n.weight(fmt.Sprintf("conv%d_w", i), out, in, 3))
		in, out = out, out*2
	}
	for _, grid := range opts.GridSizes {
		n.heads[grid] = n.weight(fmt.Sprintf("head_g%d_w", grid), postprocess.Channels, in, 1)
	}
	return n, nil
}

func (n *YoloUNet) weight(name string, out, in, k int) *G.Node {
	return G.NewTensor(n.g, tensor.Float32, 4,
		G.WithShape(out, in, k, k),
		G.WithName(name),
		G.WithInit(G.GlorotN(1.0)))
}

// Learnables returns the backbone weights followed by the head weights in
// grid order.
func (n *YoloUNet) Learnables() G.Nodes {
	nodes := make(G.Nodes, 0, len(n.backbone)+len(n.heads))
	nodes = append(nodes, n.backbone...)
	for _, grid := range n.opts.GridSizes {
		nodes = append(nodes, n.heads[grid])
	}
	return nodes
}

// SetCellSize selects the grid used by the next Loss call.
func (n *YoloUNet) SetCellSize(gridSize int) {
	n.cellSize = gridSize
}

// CellSize returns the grid used by the next Loss call.
func (n *YoloUNet) CellSize() int {
	return n.cellSize
}

// Inference builds the forward pass on images (batch, size, size, 3).
func (n *YoloUNet) Inference(input *G.Node) (map[string]*G.Node, error) {
	want := tensor.Shape{n.opts.BatchSize, n.opts.ImageSize, n.opts.ImageSize, images.Channels}
	if !input.Shape().Eq(want) {
		return nil, errors.Errorf("images shape %v, want %v", input.Shape(), want)
	}

	// NHWC -> NCHW for the convolutions.
	x, err := G.Transpose(input, 0, 3, 1, 2)
	if err != nil {
		return nil, errors.Wrap(err, "transpose input")
	}

	for i, w := range n.backbone {
		if i > 0 {
			if x, err = G.MaxPool2D(x, tensor.Shape{2, 2}, pad0, []int{2, 2}); err != nil {
				return nil, errors.Wrapf(err, "pool %d", i)
			}
		}
		if x, err = G.Conv2d(x, w, kernel3x3, pad1, stride1, dilation1); err != nil {
			return nil, errors.Wrapf(err, "conv %d", i)
		}
		if x, err = G.LeakyRelu(x, n.opts.LeakyAlpha); err != nil {
			return nil, errors.Wrapf(err, "activation %d", i)
		}
	}

	predicts := make(map[string]*G.Node, len(n.opts.GridSizes))
	for _, grid := range n.opts.GridSizes {
		p, err := n.head(x, grid)
		if err != nil {
			return nil, errors.Wrapf(err, "grid %d", grid)
		}
		predicts[model.PredictsName(grid)] = p
	}
	return predicts, nil
}

func (n *YoloUNet) head(features *G.Node, grid int) (*G.Node, error) {
	var err error
	x := features
	if k := n.opts.FeatureSize() / grid; k > 1 {
		if x, err = G.MaxPool2D(x, tensor.Shape{k, k}, pad0, []int{k, k}); err != nil {
			return nil, err
		}
	}
	if x, err = G.Conv2d(x, n.heads[grid], kernel1x1, pad0, stride1, dilation1); err != nil {
		return nil, err
	}
	if x, err = G.Sigmoid(x); err != nil {
		return nil, err
	}
	// NCHW -> (batch, row, col, channel).
	return G.Transpose(x, 0, 2, 3, 1)
}

// Loss builds sum(weights * (predicts - targets)^2) / batch for the current
// cell size. The returned feeder owns the targets and weights placeholders.
func (n *YoloUNet) Loss(predicts *G.Node) (*model.Loss, error) {
	cell := n.cellSize
	want := tensor.Shape{n.opts.BatchSize, cell, cell, postprocess.Channels}
	if !predicts.Shape().Eq(want) {
		return nil, errors.Errorf("predicts shape %v, want %v for cell size %d", predicts.Shape(), want, cell)
	}

	targets := G.NewTensor(n.g, tensor.Float32, 4, G.WithShape(want...), G.WithName(fmt.Sprintf("targets_g%d", cell)))
	weights := G.NewTensor(n.g, tensor.Float32, 4, G.WithShape(want...), G.WithName(fmt.Sprintf("weights_g%d", cell)))

	diff, err := G.Sub(predicts, targets)
	if err != nil {
		return nil, err
	}
	sq, err := G.Square(diff)
	if err != nil {
		return nil, err
	}
	weighted, err := G.HadamardProd(sq, weights)
	if err != nil {
		return nil, err
	}
	sum, err := G.Sum(weighted)
	if err != nil {
		return nil, err
	}
	total, err := G.Div(sum, G.NewConstant(float32(n.opts.BatchSize)))
	if err != nil {
		return nil, err
	}

	size := want.TotalSize()
	return &model.Loss{
		Total:    total,
		CellSize: cell,
		Feeder: &lossFeeder{
			encoder: LabelEncoder{
				CellSize:   cell,
				ImageSize:  n.opts.ImageSize,
				Scales:     n.opts.Scales,
				Assignment: n.opts.Assignment,
			},
			targetsNode: targets,
			weightsNode: weights,
			targets:     tensor.New(tensor.WithShape(want...), tensor.WithBacking(make([]float32, size))),
			weights:     tensor.New(tensor.WithShape(want...), tensor.WithBacking(make([]float32, size))),
		},
	}, nil
}

type lossFeeder struct {
	encoder                  LabelEncoder
	targetsNode, weightsNode *G.Node
	targets, weights         *tensor.Dense
}

func (f *lossFeeder) Feed(labels *tensor.Dense, objectsNum []int32) error {
	if err := f.encoder.Encode(labels, objectsNum, f.targets.Float32s(), f.weights.Float32s()); err != nil {
		return err
	}
	if err := G.Let(f.targetsNode, f.targets); err != nil {
		return errors.Wrap(err, "let targets")
	}
	if err := G.Let(f.weightsNode, f.weights); err != nil {
		return errors.Wrap(err, "let weights")
	}
	return nil
}
