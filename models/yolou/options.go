// Package yolou - YOLO-U network: a small convolutional backbone with two
// detection grids, and its training loss.
package yolou

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolou/config"
)

// Assignment selects which predictor slots of a cell learn an object.
type Assignment string

const (
	// AssignAspect trains slot 0 on wide boxes (w >= h) and slot 1 on tall ones.
	AssignAspect Assignment = "aspect"
	// AssignShared trains both slots on every object.
	AssignShared Assignment = "shared"
)

// Scales weight the terms of the loss.
type Scales struct {
	Object   float32
	NoObject float32
	Class    float32
	Coord    float32
}

// Options configure a YoloUNet.
type Options struct {
	// ImageSize is the width and height of the input.
	ImageSize int
	// BatchSize is the leading dimension of the input.
	BatchSize int
	// MaxObjects is the second dimension of the label tensor.
	MaxObjects int
	// BaseFilters is the width of the first convolution. It doubles after
	// every pooling layer.
	BaseFilters int
	// PoolLayers is the number of 2x2 max-pool stages in the backbone.
	PoolLayers int
	// LeakyAlpha is the negative slope of the activations.
	LeakyAlpha float64
	// GridSizes lists the detection grids.
	GridSizes []int
	Scales    Scales
	// Assignment is the predictor slot policy of the label encoder.
	Assignment Assignment
}

// DefaultGridSizes are the two grids of the network.
var DefaultGridSizes = []int{9, 15}

// NewOptions reads the network options from the Common, Net and BoxEncoder
// sections.
func NewOptions(common, net, boxEncoder config.Section) (Options, error) {
	opts := Options{GridSizes: DefaultGridSizes}
	var err error

	if opts.ImageSize, err = common.Int("image_size"); err != nil {
		return opts, err
	}
	if opts.BatchSize, err = common.Int("batch_size"); err != nil {
		return opts, err
	}
	if opts.MaxObjects, err = common.IntOr("max_objects_per_image", 20); err != nil {
		return opts, err
	}
	if opts.BaseFilters, err = net.IntOr("base_filters", 16); err != nil {
		return opts, err
	}
	if opts.PoolLayers, err = net.IntOr("pool_layers", 3); err != nil {
		return opts, err
	}
	if opts.LeakyAlpha, err = net.FloatOr("leaky_alpha", 0.1); err != nil {
		return opts, err
	}

	scales := []struct {
		key string
		def float64
		dst *float32
	}{
		{"object_scale", 1, &opts.Scales.Object},
		{"noobject_scale", 0.5, &opts.Scales.NoObject},
		{"class_scale", 1, &opts.Scales.Class},
		{"coord_scale", 5, &opts.Scales.Coord},
	}
	for _, s := range scales {
		v, err := net.FloatOr(s.key, s.def)
		if err != nil {
			return opts, err
		}
		*s.dst = float32(v)
	}

	opts.Assignment = Assignment(boxEncoder.StringOr("assignment", string(AssignAspect)))
	return opts, opts.Validate()
}

// FeatureSize is the spatial size of the backbone output.
func (o Options) FeatureSize() int {
	return o.ImageSize >> o.PoolLayers
}

// Validate checks that every grid tiles the backbone output exactly.
func (o Options) Validate() error {
	if o.ImageSize <= 0 || o.BatchSize <= 0 || o.BaseFilters <= 0 || o.MaxObjects <= 0 {
		return errors.Errorf("image_size, batch_size, max_objects_per_image and base_filters must be positive")
	}
	if o.PoolLayers < 0 {
		return errors.Errorf("pool_layers must not be negative, got %d", o.PoolLayers)
	}
	if o.ImageSize%(1<<o.PoolLayers) != 0 {
		return errors.Errorf("image_size %d is not divisible by 2^%d", o.ImageSize, o.PoolLayers)
	}
	fs := o.FeatureSize()
	for _, g := range o.GridSizes {
		if g <= 0 || fs%g != 0 {
			return errors.Errorf("feature size %d (image_size %d / 2^%d) is not divisible by grid %d",
				fs, o.ImageSize, o.PoolLayers, g)
		}
	}
	switch o.Assignment {
	case AssignAspect, AssignShared:
	default:
		return errors.Errorf("unknown box assignment %q", o.Assignment)
	}
	return nil
}
