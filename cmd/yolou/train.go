package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/dataset"
	"github.com/nvr-ai/go-yolou/models"
	"github.com/nvr-ai/go-yolou/profiler"
	"github.com/nvr-ai/go-yolou/solver"
)

func newTrainCommand(root *rootFlags) *cobra.Command {
	var report time.Duration
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the network described by the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			defer logger.Sync() //nolint:errcheck

			params, err := config.Load(root.config)
			if err != nil {
				return err
			}
			if params.IsPredict {
				return errors.New("configuration has is_predict=True; use the predict command")
			}

			dsOpts, err := dataset.NewOptions(params.Common, params.DataSet)
			if err != nil {
				return errors.Wrap(err, "dataset options")
			}
			ds, err := dataset.NewTextDataSet(dsOpts, logger)
			if err != nil {
				return err
			}
			defer ds.Close()

			g := G.NewGraph()
			net, err := models.NewNet(g, params)
			if err != nil {
				return err
			}
			opts, err := solver.NewOptions(params)
			if err != nil {
				return errors.Wrap(err, "solver options")
			}
			s, err := solver.New(g, ds, net, opts, logger)
			if err != nil {
				return err
			}

			rp := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{ReportInterval: report}, logger)
			s.WithProfiler(rp)
			rp.Start()
			defer rp.Stop()

			return s.Solve(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&report, "report-interval", time.Minute, "interval between profiler reports")
	return cmd
}
