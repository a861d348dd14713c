package postprocess

import "github.com/nvr-ai/go-yolou/images"

func rect(x1, y1, x2, y2 float32) images.Rect {
	return images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}
