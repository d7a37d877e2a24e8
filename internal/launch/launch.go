// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code.
	// Exit codes are in the range 0-255 on POSIX systems.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}

	// ProcSpec describes a process to launch.
	ProcSpec struct {
		// Cmd is the program followed by its arguments.
		Cmd []string
		// Env holds variables added on top of the launcher's base environment.
		Env map[string]string
		// Dir is the working directory. Empty means the launcher's default.
		Dir string

		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer

		// Quiet suppresses the command-line log record.
		Quiet bool
	}

	// Proc is a launched process.
	Proc interface {
		// Wait blocks until the process exits. A non-zero exit is reported
		// through the code, not the error.
		Wait() (ExitCode, error)
	}

	// Launcher starts processes.
	Launcher interface {
		Launch(ctx context.Context, spec ProcSpec) (Proc, error)
	}

	// completedProc is a Proc whose outcome is already known.
	completedProc struct {
		code ExitCode
		err  error
	}

	// CommandError reports a captured command that exited non-zero.
	CommandError struct {
		Cmd    []string
		Code   ExitCode
		Stderr string
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the code is outside 0-255.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }

// Completed returns a Proc that has already finished with the given outcome.
func Completed(code ExitCode, err error) Proc {
	return &completedProc{code: code, err: err}
}

func (p *completedProc) Wait() (ExitCode, error) { return p.code, p.err }

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", strings.Join(e.Cmd, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Run launches spec and waits for it.
func Run(ctx context.Context, l Launcher, spec ProcSpec) (ExitCode, error) {
	proc, err := l.Launch(ctx, spec)
	if err != nil {
		return 1, err
	}
	return proc.Wait()
}

// Output runs spec quietly and returns its trimmed stdout. A non-zero exit
// is returned as a *CommandError carrying stderr.
func Output(ctx context.Context, l Launcher, spec ProcSpec) (string, error) {
	var stdout, stderr bytes.Buffer
	spec.Stdout = &stdout
	spec.Stderr = &stderr
	spec.Quiet = true

	code, err := Run(ctx, l, spec)
	if err != nil {
		return "", err
	}
	if !code.IsSuccess() {
		return "", &CommandError{Cmd: spec.Cmd, Code: code, Stderr: stderr.String()}
	}
	return strings.TrimSpace(stdout.String()), nil
}
