// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"github.com/nvr-ai/go-yolou/common"
	"github.com/nvr-ai/go-yolou/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result in network input pixels.
	Box images.Rect
	// The confidence score of the result, class probability times box confidence.
	Score float32
	// The predicted class index of the result.
	Class int
}

// Scale maps the box from network input pixels onto an image whose size
// differs by sx horizontally and sy vertically.
func (r Result) Scale(sx, sy float32) Result {
	r.Box = images.Rect{
		X1: r.Box.X1 * sx,
		Y1: r.Box.Y1 * sy,
		X2: r.Box.X2 * sx,
		Y2: r.Box.Y2 * sy,
	}
	return r
}

// BoundingBox converts r to a labelled bounding box. Class indices outside
// labels keep an empty label.
func (r Result) BoundingBox(labels []string) common.BoundingBox {
	label := ""
	if r.Class >= 0 && r.Class < len(labels) {
		label = labels[r.Class]
	}
	return common.BoundingBox{
		Label:      label,
		Confidence: r.Score,
		X1:         r.Box.X1,
		Y1:         r.Box.Y1,
		X2:         r.Box.X2,
		Y2:         r.Box.Y2,
	}
}
