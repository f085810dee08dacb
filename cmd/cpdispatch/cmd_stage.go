package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cpdispatch/pkg/staging"
)

func newStageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Prepare image directories for a run",
	}
	cmd.AddCommand(newStageFlattenCommand())
	cmd.AddCommand(newStageCheckCommand())
	return cmd
}

func newStageFlattenCommand() *cobra.Command {
	var src, dst string
	var exts []string
	cmd := &cobra.Command{
		Use:   "flatten --src <dir> --dst <dir>",
		Short: "Copy every image under src into one flat directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := staging.Flatten(src, dst, exts)
			if err != nil {
				return err
			}
			cliLogger.Debug("flattened images", zap.String("src", src), zap.String("dst", dst), zap.Int("files", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %d images to %s\n", n, dst)
			return nil
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "Directory tree to copy images from (required)")
	cmd.Flags().StringVar(&dst, "dst", "", "Flat destination directory (required)")
	cmd.Flags().StringSliceVar(&exts, "ext", staging.DefaultImageExts, "Image file extensions to copy")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

func newStageCheckCommand() *cobra.Command {
	var dir string
	var channels []string
	var quarantine bool
	cmd := &cobra.Command{
		Use:   "check --dir <dir> --channels <c1,c2,...>",
		Short: "Find image sets missing a channel",
		Long: `Group the images in dir by well, site and z-slice and list every set that
lacks one of the required channels. With --quarantine the files of those
sets are moved to an incomplete_data directory next to dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := staging.IncompleteSets(dir, channels)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sets {
				fmt.Fprintf(out, "INCOMPLETE: %s missing %v\n", s.ID(), s.Missing)
			}
			if len(sets) == 0 {
				fmt.Fprintln(out, "All image sets are complete")
				return nil
			}
			if !quarantine {
				return &JobFailureError{Message: fmt.Sprintf("%d incomplete image sets", len(sets))}
			}
			moved, err := staging.QuarantineIncomplete(dir, sets)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Moved %d files to %s\n", moved, staging.QuarantineDir(dir))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Flat image directory (required)")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "Required channel names (required)")
	cmd.Flags().BoolVar(&quarantine, "quarantine", false, "Move incomplete sets aside")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("channels")
	return cmd
}
