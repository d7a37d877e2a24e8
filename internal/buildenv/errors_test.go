// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		sentinel error
		contains string
	}{
		{&ConfigurationError{Job: "build", Reason: "no image"}, ErrConfiguration, `job "build": no image`},
		{&ConfigurationError{Reason: "no image"}, ErrConfiguration, "invalid container configuration: no image"},
		{&MissingArtifactError{Path: "/ws/Dockerfile"}, ErrMissingArtifact, "dockerfile not found: /ws/Dockerfile"},
		{&ImageResolutionError{Image: "alpine", Op: "pull", Err: errBoom}, ErrImageResolution, "failed to pull image alpine: boom"},
		{&ContainerStartError{Image: "alpine", Err: errBoom}, ErrContainerStart, "from image alpine"},
		{&BaseEnvironmentError{ContainerID: "c0ffee0123456789", Err: errBoom}, ErrBaseEnvironment, "container c0ffee012345"},
		{&CancellationError{Op: "pull", Err: context.Canceled}, ErrCancelled, "pull cancelled"},
		{&TeardownError{ContainerID: "abc", Err: errBoom}, ErrTeardown, "tear down container abc"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestAsCancellation(t *testing.T) {
	t.Parallel()

	if err := asCancellation(context.Background(), "op", errBoom); err != nil {
		t.Errorf("plain error classified as cancellation: %v", err)
	}

	wrapped := fmt.Errorf("pull: %w", context.DeadlineExceeded)
	err := asCancellation(context.Background(), "pull", wrapped)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrCancelled) {
		t.Errorf("asCancellation(deadline) = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = asCancellation(ctx, "exec", errBoom)
	var cerr *CancellationError
	if !errors.As(err, &cerr) || cerr.Op != "exec" || !errors.Is(err, context.Canceled) {
		t.Errorf("asCancellation(cancelled ctx) = %v", err)
	}
}
