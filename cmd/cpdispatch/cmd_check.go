package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cpdispatch/pkg/completion"
	"cpdispatch/pkg/manifest"
)

func newCheckCommand() *cobra.Command {
	var manifestPath, loadfile string
	cmd := &cobra.Command{
		Use:   "check --manifest <file>",
		Short: "Report jobs whose output has no results database",
		Long: `Check every job of the manifest for a non-empty SQLite results file in its
output directory. Jobs without one are listed, and with --loadfile written as
tab-separated "name input_dir output_dir" lines for a rerun.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			batch, err := m.Batch()
			if err != nil {
				return err
			}

			report, err := completion.Check(cmd.Context(), batch)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, miss := range report.Incomplete {
				fmt.Fprintf(out, "INCOMPLETE: %s (%s): %s\n", miss.Job.Name, miss.Job.OutputDir, miss.Reason)
			}
			fmt.Fprintf(out, "%d of %d jobs complete\n", report.Complete(), report.Checked)

			if loadfile != "" && len(report.Incomplete) > 0 {
				if err := completion.WriteLoadfile(loadfile, report.Incomplete); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %d jobs to %s\n", len(report.Incomplete), loadfile)
			}
			if len(report.Incomplete) > 0 {
				return &JobFailureError{Message: fmt.Sprintf("%d jobs incomplete", len(report.Incomplete))}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to the batch manifest (required)")
	cmd.Flags().StringVar(&loadfile, "loadfile", "", "Write incomplete jobs to this file")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}
