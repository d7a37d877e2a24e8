// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"errors"
	"fmt"

	"github.com/boxstep/boxstep/internal/container"
)

var (
	// ErrConfiguration is the sentinel wrapped by ConfigurationError.
	ErrConfiguration = errors.New("invalid container configuration")
	// ErrMissingArtifact is the sentinel wrapped by MissingArtifactError.
	ErrMissingArtifact = errors.New("missing build artifact")
	// ErrImageResolution is the sentinel wrapped by ImageResolutionError.
	ErrImageResolution = errors.New("image resolution failed")
	// ErrContainerStart is the sentinel wrapped by ContainerStartError.
	ErrContainerStart = errors.New("container start failed")
	// ErrBaseEnvironment is the sentinel wrapped by BaseEnvironmentError.
	ErrBaseEnvironment = errors.New("container environment unavailable")
	// ErrCancelled is the sentinel wrapped by CancellationError.
	ErrCancelled = errors.New("build cancelled")
	// ErrTeardown is the sentinel wrapped by TeardownError.
	ErrTeardown = errors.New("container teardown failed")
	// ErrNotStarted is returned when an operation needs a running container.
	ErrNotStarted = errors.New("build container not started")
)

type (
	// ConfigurationError reports a job whose container section cannot be used.
	// No runtime call is made once it is raised.
	ConfigurationError struct {
		Job    string
		Reason string
	}

	// MissingArtifactError reports a Dockerfile absent from the workspace.
	MissingArtifactError struct {
		Path string
	}

	// ImageResolutionError reports a failed pull or build.
	ImageResolutionError struct {
		// Image is the image reference, or the build context for builds.
		Image string
		// Op is "pull", "build" or "inspect".
		Op  string
		Err error
	}

	// ContainerStartError reports a container that could not be started.
	ContainerStartError struct {
		Image string
		Err   error
	}

	// BaseEnvironmentError reports a failure to read the running container's
	// environment. Execution is not attempted without it.
	BaseEnvironmentError struct {
		ContainerID container.ContainerID
		Err         error
	}

	// CancellationError reports an operation interrupted by its context.
	// It matches both ErrCancelled and the context error with errors.Is.
	CancellationError struct {
		Op  string
		Err error
	}

	// TeardownError reports a failure to stop or remove the container.
	TeardownError struct {
		ContainerID container.ContainerID
		Err         error
	}

	// EnvironmentInvariantViolation is a recovered warning: an overlay tried
	// to change a pinned variable and was reverted. It is never returned as an
	// error from execution.
	EnvironmentInvariantViolation struct {
		Key       string
		Attempted string
		Kept      string
	}
)

func (e *ConfigurationError) Error() string {
	if e.Job == "" {
		return "invalid container configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid container configuration for job %q: %s", e.Job, e.Reason)
}

// Unwrap returns ErrConfiguration for errors.Is() compatibility.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("dockerfile not found: %s", e.Path)
}

// Unwrap returns ErrMissingArtifact for errors.Is() compatibility.
func (e *MissingArtifactError) Unwrap() error { return ErrMissingArtifact }

func (e *ImageResolutionError) Error() string {
	return fmt.Sprintf("failed to %s image %s: %v", e.Op, e.Image, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *ImageResolutionError) Unwrap() []error { return []error{ErrImageResolution, e.Err} }

func (e *ContainerStartError) Error() string {
	return fmt.Sprintf("failed to start container from image %s: %v", e.Image, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *ContainerStartError) Unwrap() []error { return []error{ErrContainerStart, e.Err} }

func (e *BaseEnvironmentError) Error() string {
	return fmt.Sprintf("failed to read environment of container %s: %v", e.ContainerID.Short(), e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *BaseEnvironmentError) Unwrap() []error { return []error{ErrBaseEnvironment, e.Err} }

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the context error.
func (e *CancellationError) Unwrap() []error { return []error{ErrCancelled, e.Err} }

func (e *TeardownError) Error() string {
	return fmt.Sprintf("failed to tear down container %s: %v", e.ContainerID.Short(), e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *TeardownError) Unwrap() []error { return []error{ErrTeardown, e.Err} }

func (e *EnvironmentInvariantViolation) Error() string {
	return e.Key + " may not be overridden by build steps"
}

// asCancellation returns a CancellationError when ctx is done or err is a
// context error, and nil otherwise.
func asCancellation(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CancellationError{Op: op, Err: ctxErr}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancellationError{Op: op, Err: err}
	}
	return nil
}
