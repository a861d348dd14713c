package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-yolou/benchmark"
	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/images"
	"github.com/nvr-ai/go-yolou/inference"
)

func newBenchmarkCommand(root *rootFlags) *cobra.Command {
	var (
		dir      string
		output   string
		scenario benchmark.Scenario
		pf       = &predictFlags{}
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure prediction latency over a directory of images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			defer logger.Sync() //nolint:errcheck

			params, err := config.Load(root.config)
			if err != nil {
				return err
			}
			params.ForPredict()

			imgs, err := images.LoadDirectory(dir)
			if err != nil {
				return err
			}

			predictor, err := newPredictor(params, pf, logger)
			if err != nil {
				return err
			}
			defer predictor.Close()

			scenario.Engine = string(inference.EngineGorgonia)
			if pf.onnx != "" {
				scenario.Engine = string(inference.EngineONNX)
			}
			if scenario.Name == "" {
				scenario.Name = scenario.Engine
			}

			metrics, err := benchmark.Run(cmd.Context(), predictor, imgs, scenario, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.1f fps, p50 %s, p95 %s, error rate %.2f\n",
				scenario.Name, metrics.FramesPerSecond, metrics.InferenceDuration.P50,
				metrics.InferenceDuration.P95, metrics.ErrorRate)

			if output != "" {
				return metrics.WriteJSON(output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "images", "", "directory of images to predict on")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the metrics as JSON to this path")
	cmd.Flags().StringVar(&scenario.Name, "name", "", "scenario name; defaults to the engine")
	cmd.Flags().IntVar(&scenario.Iterations, "iterations", 100, "timed predictions")
	cmd.Flags().IntVar(&scenario.WarmupRuns, "warmup", 5, "untimed predictions before timing")
	cmd.Flags().Float32Var(&scenario.ScoreThreshold, "threshold", 0.5, "score at which a prediction counts as a detection")
	cmd.Flags().StringVar(&pf.onnx, "onnx", "", "exported ONNX model; the gorgonia graph is used when empty")
	cmd.Flags().StringVar(&pf.provider, "provider", string(inference.ProviderCPU), "onnxruntime execution provider (cpu, coreml, openvino)")
	_ = cmd.MarkFlagRequired("images")
	return cmd
}
