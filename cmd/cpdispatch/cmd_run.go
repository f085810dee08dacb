package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cpdispatch/pkg/executor"
	"cpdispatch/pkg/executor/runner"
	"cpdispatch/pkg/manifest"
	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"
	"cpdispatch/pkg/storage/sqlite"
	"cpdispatch/pkg/validator"
)

type runOptions struct {
	manifest string
	runName  string
	logDir   string
	workers  int
	store    string
	strict   bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run --manifest <file>",
		Short: "Validate and run every job of a manifest",
		Long: `Validate every job of the manifest, then run them all in parallel.

Nothing is launched if any job fails validation: a missing program, pipeline
or input directory rejects the whole batch. Output directories are created
only once every job has passed. After the last job terminates one log file
per job is written to the log directory as <job>_<run>_run.log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "Path to the batch manifest (required)")
	cmd.Flags().StringVar(&opts.runName, "run-name", "", "Override the manifest's run name")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "logs", "Directory for per-job log files")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Cap on concurrent jobs (default: one per CPU)")
	cmd.Flags().StringVar(&opts.store, "store", "", "SQLite file to record run history in")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit with status 1 when any job exits non-zero")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func runBatch(cmd *cobra.Command, opts *runOptions) error {
	m, err := manifest.Load(opts.manifest)
	if err != nil {
		return err
	}
	req := m.Request()
	if opts.runName != "" {
		req.RunName = opts.runName
	}

	var runs storage.RunStore = storage.NopRunStore{}
	if opts.store != "" {
		s, err := sqlite.Open(opts.store)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer s.Close()
		runs = s
	}

	processor := executor.NewProcessor(executor.ProcessorConfig{
		LogDir:    opts.logDir,
		Validator: validator.New(validator.WithLogger(cliLogger)),
		Dispatcher: executor.NewDispatcher(runner.NewShellRunner(),
			executor.WithMaxWorkers(opts.workers),
			executor.WithDispatcherLogger(cliLogger),
		),
		RunStore: runs,
		Report:   cmd.OutOrStdout(),
		Logger:   cliLogger,
	})

	summary, err := processor.Process(cmd.Context(), req)
	if err != nil {
		return err
	}
	if opts.strict && len(summary.Failed) > 0 {
		return &JobFailureError{Message: fmt.Sprintf("%d of %d jobs failed", len(summary.Failed), summary.Total)}
	}
	if summary.Status != models.RunCompleted {
		return fmt.Errorf("run ended %s", summary.Status)
	}
	return nil
}
