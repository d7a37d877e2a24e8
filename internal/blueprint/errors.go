// SPDX-License-Identifier: MPL-2.0

package blueprint

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoWorkspace is the sentinel wrapped by WorkspaceError.
	ErrNoWorkspace = errors.New("workspace unavailable")
	// ErrNotFound is the sentinel wrapped by NotFoundError.
	ErrNotFound = errors.New("no blueprint file")
	// ErrJobNotFound is the sentinel wrapped by JobNotFoundError.
	ErrJobNotFound = errors.New("job not found")
	// ErrParse is the sentinel wrapped by ParseError.
	ErrParse = errors.New("invalid blueprint")
)

type (
	// WorkspaceError reports a workspace that is missing or not a directory.
	WorkspaceError struct {
		Path   string
		Reason string
	}

	// NotFoundError reports a workspace without a blueprint file.
	NotFoundError struct {
		Workspace string
	}

	// JobNotFoundError reports a job name the blueprint does not define.
	JobNotFoundError struct {
		Name      string
		Path      string
		Available []string
	}

	// ParseError reports a blueprint that could not be decoded or validated.
	ParseError struct {
		Path string
		Err  error
	}
)

func (e *WorkspaceError) Error() string {
	if e.Path == "" {
		return "workspace unavailable: " + e.Reason
	}
	return fmt.Sprintf("workspace %s unavailable: %s", e.Path, e.Reason)
}

// Unwrap returns ErrNoWorkspace for errors.Is() compatibility.
func (e *WorkspaceError) Unwrap() error { return ErrNoWorkspace }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no blueprint file (%s) in %s", strings.Join(FileNames, ", "), e.Workspace)
}

// Unwrap returns ErrNotFound for errors.Is() compatibility.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func (e *JobNotFoundError) Error() string {
	msg := fmt.Sprintf("no such job %q in %s", e.Name, e.Path)
	if len(e.Available) > 0 {
		msg += " (available: " + strings.Join(e.Available, ", ") + ")"
	}
	return msg
}

// Unwrap returns ErrJobNotFound for errors.Is() compatibility.
func (e *JobNotFoundError) Unwrap() error { return ErrJobNotFound }

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }
