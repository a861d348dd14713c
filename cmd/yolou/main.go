// Command yolou trains the YOLO-U detector and runs single-image prediction.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
	"github.com/spf13/cobra"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCommand().ExecuteContext(ctx)
}

type rootFlags struct {
	config string
	debug  bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "yolou",
		Short:         "Train, run and benchmark the YOLO-U single-class detector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "path to the INI configuration file")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	_ = cmd.MarkPersistentFlagRequired("config")

	cmd.AddCommand(newTrainCommand(flags), newPredictCommand(flags), newBenchmarkCommand(flags))
	return cmd
}

func (f *rootFlags) logger() golog.Logger {
	if f.debug {
		return golog.NewDebugLogger("yolou")
	}
	return golog.NewDevelopmentLogger("yolou")
}
