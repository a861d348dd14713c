package main

import (
	"fmt"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-yolou/annotate"
	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/images"
	"github.com/nvr-ai/go-yolou/inference"
	"github.com/nvr-ai/go-yolou/models"
	"github.com/nvr-ai/go-yolou/solver"
)

type predictFlags struct {
	image    string
	onnx     string
	output   string
	provider string
}

func newPredictCommand(root *rootFlags) *cobra.Command {
	flags := &predictFlags{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Find the best box in a single image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			defer logger.Sync() //nolint:errcheck

			params, err := config.Load(root.config)
			if err != nil {
				return err
			}
			params.ForPredict()

			img, err := images.Load(flags.image)
			if err != nil {
				return err
			}

			predictor, err := newPredictor(params, flags, logger)
			if err != nil {
				return err
			}
			defer predictor.Close()

			res, err := predictor.Predict(cmd.Context(), img)
			if err != nil {
				return err
			}

			box := res.BoundingBox(models.ParseClasses(params.Common.StringOr("classes", "")))
			logger.Infow("prediction", "box", box.String())
			fmt.Fprintf(cmd.OutOrStdout(), "%.0f %.0f %.0f %.0f %d\n", box.X1, box.Y1, box.X2, box.Y2, res.Class)

			if flags.output != "" {
				if err := annotate.File(flags.image, flags.output, box); err != nil {
					return err
				}
				logger.Infow("wrote annotated image", "path", flags.output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.image, "image", "i", "", "image to run prediction on")
	cmd.Flags().StringVar(&flags.onnx, "onnx", "", "exported ONNX model; the gorgonia graph is used when empty")
	cmd.Flags().StringVar(&flags.provider, "provider", string(inference.ProviderCPU), "onnxruntime execution provider (cpu, coreml, openvino)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "write the annotated image to this path")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newPredictor(params *config.Params, flags *predictFlags, logger golog.Logger) (inference.Predictor, error) {
	if flags.onnx != "" {
		size, err := params.Common.Int("image_size")
		if err != nil {
			return nil, err
		}
		return inference.NewONNXPredictor(inference.ONNXOptions{
			ModelPath: flags.onnx,
			ImageSize: size,
			Grid:      solver.PredictGrid,
			Provider:  inference.ExecutionProvider(flags.provider),
		}, logger)
	}

	g := G.NewGraph()
	net, err := models.NewNet(g, params)
	if err != nil {
		return nil, err
	}
	opts, err := solver.NewOptions(params)
	if err != nil {
		return nil, errors.Wrap(err, "solver options")
	}
	return solver.New(g, nil, net, opts, logger)
}
