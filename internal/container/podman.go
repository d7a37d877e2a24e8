// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
)

type (
	// PodmanEngine implements the Engine interface using Podman CLI.
	// It embeds BaseCLIEngine for common CLI operations.
	PodmanEngine struct {
		*BaseCLIEngine
	}

	// SELinuxCheckFunc reports whether bind mounts need SELinux relabeling.
	SELinuxCheckFunc func() bool
)

// podmanBinaryNames lists the binaries tried, in preference order.
var podmanBinaryNames = []string{"podman", "podman-remote"}

// NewPodmanEngine creates a new Podman engine.
// Mounts are labeled :z when SELinux is present, and containers run with
// --userns=keep-id so files written to bind mounts keep the caller's owner.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	return NewPodmanEngineWithSELinuxCheck(isSELinuxPresent, opts...)
}

// NewPodmanEngineWithSELinuxCheck creates a Podman engine with an injected
// SELinux check.
func NewPodmanEngineWithSELinuxCheck(selinux SELinuxCheckFunc, opts ...BaseCLIEngineOption) *PodmanEngine {
	allOpts := append([]BaseCLIEngineOption{
		WithName(string(EngineTypePodman)),
		WithBinaryPath(findPodmanBinary()),
		WithVolumeFormatter(makeSELinuxLabelAdder(selinux)),
		WithRunArgsTransformer(makeUsernsKeepIDAdder()),
	}, opts...)

	return &PodmanEngine{
		BaseCLIEngine: NewBaseCLIEngine("", allOpts...),
	}
}

// Name returns the engine name.
func (e *PodmanEngine) Name() string {
	return string(EngineTypePodman)
}

// Available checks if Podman is available.
func (e *PodmanEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.CreateCommand(context.Background(), "version", "--format", "{{.Version}}")
	return cmd.Run() == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HasImage uses "podman image exists", which exits 1 when the image is absent.
func (e *PodmanEngine) HasImage(ctx context.Context, image ImageTag) (bool, error) {
	cmd := e.CreateCommand(ctx, "image", "exists", string(image))
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("podman image exists %s: %w", image, err)
}

// findPodmanBinary returns the first podman binary found on PATH, or "".
func findPodmanBinary() string {
	for _, name := range podmanBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// isSELinuxPresent checks for the SELinux filesystem rather than enforce
// status; labels are harmless when SELinux is permissive.
func isSELinuxPresent() bool {
	_, err := os.Stat("/sys/fs/selinux")
	return err == nil
}

// makeSELinuxLabelAdder labels unlabeled mounts :z when selinux reports true.
func makeSELinuxLabelAdder(selinux SELinuxCheckFunc) VolumeFormatFunc {
	return func(volume VolumeMount) string {
		if volume.SELinux == SELinuxLabelNone && selinux() {
			volume.SELinux = SELinuxLabelShared
		}
		return FormatVolumeMount(volume)
	}
}

// makeUsernsKeepIDAdder inserts --userns=keep-id before the image argument of
// run commands. Other commands pass through untouched.
func makeUsernsKeepIDAdder() RunArgsTransformer {
	valueFlags := []string{"--name", "-w", "-e", "-v", "-p", "--net", "-m", "--cpu-shares", "--add-host"}
	return func(args []string) []string {
		if len(args) == 0 || args[0] != "run" {
			return args
		}
		i := 1
		for i < len(args) && strings.HasPrefix(args[i], "-") {
			if slices.Contains(valueFlags, args[i]) {
				i++
			}
			i++
		}
		out := make([]string, 0, len(args)+1)
		out = append(out, args[:i]...)
		out = append(out, "--userns=keep-id")
		return append(out, args[i:]...)
	}
}
