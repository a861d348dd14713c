// Package model - Contract between the solver and the detection networks.
package model

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Name is the unique identifier of a network, as written in the Net section.
type Name string

const (
	// ModelNameYoloUNet is the name of the two-grid YOLO-U network.
	ModelNameYoloUNet Name = "YoloUNet"
)

// PredictsName returns the key under which Net.Inference publishes the
// prediction node of a grid, e.g. "predicts_g9".
func PredictsName(gridSize int) string {
	return fmt.Sprintf("predicts_g%d", gridSize)
}

// LabelFeeder turns one batch of labels into the values of the loss
// placeholders it owns.
type LabelFeeder interface {
	// Feed encodes labels (batch, max_objects, 5) holding (xcenter, ycenter,
	// w, h, class) in input pixels, of which only the first objectsNum[i]
	// rows of item i are valid.
	Feed(labels *tensor.Dense, objectsNum []int32) error
}

// Loss is the scalar training loss of one grid.
type Loss struct {
	// Total is the scalar cost node.
	Total *G.Node
	// CellSize is the grid size the loss was built for.
	CellSize int
	// Feeder must be fed before every run of the graph.
	Feeder LabelFeeder
}

// Net is a detection network that can be placed on a gorgonia graph.
type Net interface {
	// Inference builds the forward pass on images (batch, height, width, 3)
	// and returns one prediction node per grid, keyed by PredictsName.
	Inference(images *G.Node) (map[string]*G.Node, error)
	// SetCellSize selects the grid used by the next Loss call.
	SetCellSize(gridSize int)
	// Loss builds the training loss of predicts for the current grid.
	Loss(predicts *G.Node) (*Loss, error)
	// Learnables returns every trainable node.
	Learnables() G.Nodes
}
