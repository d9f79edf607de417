package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // Run finished and every gate passed
	ExitTestFailed = 1 // Evaluation ran, but accuracy fell below the gate
	ExitError      = 2 // Configuration or runtime error
)

// TestFailureError indicates that an evaluation ran to completion but the
// results did not meet the configured threshold.
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var testFailureErr *TestFailureError
		if errors.As(err, &testFailureErr) {
			os.Exit(ExitTestFailed)
		}

		os.Exit(ExitError)
	}
}
