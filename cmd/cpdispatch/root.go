package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cpdispatch/pkg/logger"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpdispatch",
		Short: "Run CellProfiler jobs in parallel on one host",
		Long: `cpdispatch runs a batch of headless CellProfiler jobs in parallel,
one process per job and at most one process per CPU, and writes a log file
for every job once the whole batch has finished.

Batches are described by a YAML manifest. The stage subcommands prepare
image directories before a run and check finds jobs that produced no results.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		l, err := logger.New(logger.CLIConfig(*debugLogging))
		if err != nil {
			return err
		}
		cliLogger = l
		return nil
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newCheckCommand())
	cmd.AddCommand(newStageCommand())

	return cmd
}

// cliLogger is replaced in PersistentPreRunE. Subcommands executed directly
// in tests keep the no-op logger.
var cliLogger = zap.NewNop()

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}
