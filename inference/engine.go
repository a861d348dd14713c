// Package inference - Single-image predictors backed by the gorgonia graph or
// an exported ONNX model.
package inference

import (
	"context"
	"image"

	"github.com/nvr-ai/go-yolou/models/postprocess"
)

// Predictor finds the best box in an image.
type Predictor interface {
	// Predict returns the best box in img's own pixel coordinates.
	Predict(ctx context.Context, img image.Image) (postprocess.Result, error)
	Close() error
}

// EngineType selects the runtime that backs a Predictor.
type EngineType string

const (
	// EngineGorgonia runs the network graph built by the solver.
	EngineGorgonia EngineType = "gorgonia"
	// EngineONNX runs an exported model through the onnxruntime library.
	EngineONNX EngineType = "onnx"
)

// Engines is a list of all supported engines.
var Engines = []EngineType{EngineGorgonia, EngineONNX}
