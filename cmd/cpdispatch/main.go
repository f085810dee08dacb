package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // every job ran, or every check passed
	ExitJobsFailed = 1 // the batch ran but some jobs failed or are incomplete
	ExitError      = 2 // configuration, validation or launch error
)

// JobFailureError reports a batch that ran to the end with failed or
// incomplete jobs.
type JobFailureError struct {
	Message string
}

func (e *JobFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var failure *JobFailureError
		if errors.As(err, &failure) {
			os.Exit(ExitJobsFailed)
		}
		os.Exit(ExitError)
	}
}
