package models

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/models/model"
	"github.com/nvr-ai/go-yolou/models/yolou"
)

// NewNet creates the network named by Net.name on g. An absent name selects
// the YOLO-U network.
//
// Arguments:
//   - g: The graph the network's nodes are created on.
//   - params: The loaded configuration.
//
// Returns:
//   - model.Net: The network.
//   - error: An error if the name is unknown or its options are invalid.
func NewNet(g *G.ExprGraph, params *config.Params) (model.Net, error) {
	name := model.Name(params.Net.StringOr("name", string(model.ModelNameYoloUNet)))
	switch name {
	case model.ModelNameYoloUNet:
		opts, err := yolou.NewOptions(params.Common, params.Net, params.BoxEncoder)
		if err != nil {
			return nil, err
		}
		return yolou.New(g, opts)
	default:
		return nil, errors.Errorf("unsupported net name: %s", name)
	}
}
