// Package annotate - Draws predicted boxes onto images with OpenCV.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-yolou/common"
)

var (
	// BoxColor is the outline color of drawn boxes.
	BoxColor = color.RGBA{0, 255, 0, 0}
	// TextColor is the color of the box caption.
	TextColor = color.RGBA{255, 255, 255, 0}
)

const (
	thickness = 2
	fontScale = 0.5
)

// Draw outlines box on img, clipped to the image, with a "label score"
// caption above it. Boxes entirely outside img are skipped.
//
// Returns:
//   - bool: Whether anything was drawn.
func Draw(img *gocv.Mat, box common.BoundingBox) bool {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	rect := box.Clip(bounds)
	if rect.Empty() {
		return false
	}

	gocv.Rectangle(img, rect, BoxColor, thickness)

	caption := fmt.Sprintf("%s %.2f", box.Label, box.Confidence)
	size := gocv.GetTextSize(caption, gocv.FontHersheySimplex, fontScale, 1)
	origin := image.Pt(rect.Min.X, rect.Min.Y-4)
	if origin.Y < size.Y {
		origin.Y = rect.Min.Y + size.Y + 4
	}
	gocv.PutText(img, caption, origin, gocv.FontHersheySimplex, fontScale, TextColor, 1)
	return true
}

// File reads the image at src, draws boxes and writes the result to dst. The
// output format follows dst's extension.
func File(src, dst string, boxes ...common.BoundingBox) error {
	img := gocv.IMRead(src, gocv.IMReadColor)
	if img.Empty() {
		return errors.Errorf("failed to read image %q", src)
	}
	defer img.Close()

	for _, box := range boxes {
		Draw(&img, box)
	}

	if !gocv.IMWrite(dst, img) {
		return errors.Errorf("failed to write image %q", dst)
	}
	return nil
}
