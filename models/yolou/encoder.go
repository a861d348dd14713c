package yolou

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/models/postprocess"
)

// Label columns.
const (
	labelXCenter = iota
	labelYCenter
	labelWidth
	labelHeight
	labelClass
	labelColumns
)

// LabelEncoder converts box labels into the per-cell targets and weights of
// one grid. Both outputs share the (batch, cell, cell, Channels) layout of
// the predictions, so the loss is a weighted squared error.
type LabelEncoder struct {
	CellSize   int
	ImageSize  int
	Scales     Scales
	Assignment Assignment
}

// Encode fills targets and weights, each of length batch*cell*cell*Channels.
//
// Cells without an object ask for zero class probability and zero
// confidence. The first object whose centre falls in a cell owns it; its
// responsible slots ask for confidence 1 and regress (x, y) as offsets in the
// cell and (w, h) as fractions of the image.
func (e *LabelEncoder) Encode(labels *tensor.Dense, objectsNum []int32, targets, weights []float32) error {
	shape := labels.Shape()
	if len(shape) != 3 || shape[2] != labelColumns {
		return errors.Errorf("labels shape %v, want (batch, max_objects, %d)", shape, labelColumns)
	}
	batch, maxObjects := shape[0], shape[1]
	if len(objectsNum) != batch {
		return errors.Errorf("objects_num has %d entries, want %d", len(objectsNum), batch)
	}
	cell := e.CellSize
	cellChannels := cell * cell * postprocess.Channels
	if len(targets) != batch*cellChannels || len(weights) != batch*cellChannels {
		return errors.Errorf("target buffers hold %d/%d floats, want %d", len(targets), len(weights), batch*cellChannels)
	}

	data := labels.Float32s()
	size := float32(e.ImageSize)
	cellPixels := size / float32(cell)

	for b := 0; b < batch; b++ {
		t := targets[b*cellChannels : (b+1)*cellChannels]
		w := weights[b*cellChannels : (b+1)*cellChannels]
		for i := range t {
			t[i] = 0
			w[i] = 0
		}
		for c := 0; c < cell*cell; c++ {
			base := c * postprocess.Channels
			w[base] = e.Scales.NoObject
			for s := 0; s < postprocess.BoxesPerCell; s++ {
				w[base+1+s] = e.Scales.NoObject
			}
		}

		n := int(objectsNum[b])
		if n > maxObjects {
			n = maxObjects
		}
		owned := make([]bool, cell*cell)
		for o := 0; o < n; o++ {
			row := data[(b*maxObjects+o)*labelColumns : (b*maxObjects+o+1)*labelColumns]
			xc, yc, bw, bh := row[labelXCenter], row[labelYCenter], row[labelWidth], row[labelHeight]
			if bw <= 0 || bh <= 0 {
				continue
			}

			col := clampIndex(int(xc/cellPixels), cell)
			r := clampIndex(int(yc/cellPixels), cell)
			if owned[r*cell+col] {
				continue
			}
			owned[r*cell+col] = true

			base := (r*cell + col) * postprocess.Channels
			t[base] = 1
			w[base] = e.Scales.Class

			coords := [4]float32{
				xc/cellPixels - float32(col),
				yc/cellPixels - float32(r),
				bw / size,
				bh / size,
			}
			for _, s := range e.slots(bw, bh) {
				t[base+1+s] = 1
				w[base+1+s] = e.Scales.Object
				c := base + 1 + postprocess.BoxesPerCell + s*4
				for k := 0; k < 4; k++ {
					t[c+k] = coords[k]
					w[c+k] = e.Scales.Coord
				}
			}
		}
	}
	return nil
}

func (e *LabelEncoder) slots(w, h float32) []int {
	if e.Assignment == AssignShared {
		return []int{0, 1}
	}
	if w >= h {
		return []int{0}
	}
	return []int{1}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
