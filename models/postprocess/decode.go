package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/images"
)

// Layout of the last axis of a prediction tensor: one class probability,
// BoxesPerCell confidences, then BoxesPerCell (x, y, w, h) coordinates.
const (
	BoxesPerCell = 2
	NumClasses   = 1
	Channels     = NumClasses + BoxesPerCell + BoxesPerCell*4
)

// ErrPredictShape is returned when a prediction tensor does not have the
// (batch, cell, cell, Channels) float32 layout.
var ErrPredictShape = errors.New("unexpected prediction tensor shape")

// grid is a read-only view over batch item 0 of a prediction tensor.
type grid struct {
	data          []float32
	cell          int
	width, height float32
}

func newGrid(predicts tensor.Tensor, cellSize, width, height int) (*grid, error) {
	if predicts == nil {
		return nil, errors.Wrap(ErrPredictShape, "nil tensor")
	}
	shape := predicts.Shape()
	if len(shape) != 4 || shape[0] < 1 || shape[1] != cellSize || shape[2] != cellSize || shape[3] != Channels {
		return nil, errors.Wrapf(ErrPredictShape, "got %v, want (N, %d, %d, %d)", shape, cellSize, cellSize, Channels)
	}
	if predicts.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrPredictShape, "dtype %v, want float32", predicts.Dtype())
	}

	dense, ok := predicts.(*tensor.Dense)
	if !ok {
		return nil, errors.Wrapf(ErrPredictShape, "unsupported tensor type %T", predicts)
	}
	if dense.IsMaterializable() {
		dense = dense.Materialize().(*tensor.Dense)
	}
	data := dense.Float32s()

	return &grid{
		data:   data[:cellSize*cellSize*Channels],
		cell:   cellSize,
		width:  float32(width),
		height: float32(height),
	}, nil
}

// score returns class probability times the confidence of box in (row, col).
func (g *grid) score(row, col, box int) float32 {
	base := (row*g.cell + col) * Channels
	return g.data[base+1+box] * g.data[base]
}

// box converts the coordinates of one predictor into input pixels. Only the
// x extremes are clamped at zero.
func (g *grid) box(row, col, box int) images.Rect {
	base := (row*g.cell+col)*Channels + 1 + BoxesPerCell + box*4
	c := g.data[base : base+4]

	xcenter := (float32(col) + c[0]) * (g.width / float32(g.cell))
	ycenter := (float32(row) + c[1]) * (g.height / float32(g.cell))
	w := c[2] * g.width
	h := c[3] * g.height

	xmin := xcenter - w/2.0
	ymin := ycenter - h/2.0
	xmax := xmin + w
	ymax := ymin + h

	return images.Rect{
		X1: math32.Max(0, xmin),
		Y1: ymin,
		X2: math32.Max(0, xmax),
		Y2: ymax,
	}
}

// ProcessPredicts decodes the single best box of batch item 0.
//
// The score of every predictor is class probability times box confidence.
// The predictor with the highest score wins, and the first one wins ties.
// A NaN score outranks every number.
// Its cell-relative centre and image-relative size are converted to pixel
// corners of a width x height image.
//
// Arguments:
//   - predicts: Tensor shaped (N, cellSize, cellSize, Channels).
//   - cellSize: Grid size the tensor was produced for.
//   - width, height: Network input size in pixels.
//
// Returns:
//   - Result: Box corners (xmin, ymin, xmax, ymax), score and class index.
//   - error: ErrPredictShape if the tensor layout is wrong.
func ProcessPredicts(predicts tensor.Tensor, cellSize, width, height int) (Result, error) {
	g, err := newGrid(predicts, cellSize, width, height)
	if err != nil {
		return Result{}, err
	}

	bestRow, bestCol, bestBox := 0, 0, 0
	best := math32.Inf(-1)
	for row := 0; row < cellSize; row++ {
		for col := 0; col < cellSize; col++ {
			for b := 0; b < BoxesPerCell; b++ {
				// NaN ranks above every number and the first NaN wins.
				if s := g.score(row, col, b); s > best || (math32.IsNaN(s) && !math32.IsNaN(best)) {
					best = s
					bestRow, bestCol, bestBox = row, col, b
				}
			}
		}
	}

	return Result{
		Box:   g.box(bestRow, bestCol, bestBox),
		Score: g.score(bestRow, bestCol, bestBox),
		Class: 0,
	}, nil
}

// DecodeAll decodes every predictor whose score is at least threshold,
// highest score first. Pass the result to ApplyGreedyNMS to drop duplicates.
func DecodeAll(predicts tensor.Tensor, cellSize, width, height int, threshold float32) ([]Result, error) {
	g, err := newGrid(predicts, cellSize, width, height)
	if err != nil {
		return nil, err
	}

	var results []Result
	for row := 0; row < cellSize; row++ {
		for col := 0; col < cellSize; col++ {
			for b := 0; b < BoxesPerCell; b++ {
				s := g.score(row, col, b)
				if s < threshold {
					continue
				}
				results = append(results, Result{
					Box:   g.box(row, col, b),
					Score: s,
					Class: 0,
				})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}
