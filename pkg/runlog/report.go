package runlog

import (
	"fmt"
	"io"

	"cpdispatch/pkg/models"
)

// Report prints one warning line per failing job and returns their names in
// outcome order. It only reports. Logs and outcomes are left as they are.
func Report(w io.Writer, outcomes []models.Outcome) []string {
	var failed []string
	for _, o := range outcomes {
		if !o.Failed() {
			continue
		}
		failed = append(failed, o.JobName)
		fmt.Fprintf(w, "WARNING: job %q returned exit code %d, which means there was an error in the run.\n", o.JobName, o.ExitCode)
	}
	return failed
}

// Summary prints the closing lines of a batch.
func Summary(w io.Writer, total, failed int, logDir string) {
	fmt.Fprintf(w, "All %d processes have been completed! (%d failed)\n", total, failed)
	fmt.Fprintf(w, "All results have been converted to log files in %s!\n", logDir)
}
