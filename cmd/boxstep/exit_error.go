// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/boxstep/boxstep/internal/launch"
)

// ExitCodeInterrupted is returned when a build is cancelled by a signal.
const ExitCodeInterrupted launch.ExitCode = 130

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code launch.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}
