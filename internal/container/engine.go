// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
	// EngineTypeDockerAPI talks to the Docker Engine API directly instead of shelling out.
	EngineTypeDockerAPI EngineType = "docker-api"
)

// ErrEngineNotAvailable is the sentinel wrapped by EngineNotAvailableError.
var ErrEngineNotAvailable = errors.New("container engine not available")

type (
	// Engine is the runtime capability consumed by the build environment.
	// Every blocking call honors ctx cancellation.
	Engine interface {
		// Name returns the engine name (docker, podman, docker-api).
		Name() string
		// Available checks if the engine is usable on this host.
		Available() bool
		// Version returns the engine server version.
		Version(ctx context.Context) (string, error)

		// HasImage reports whether image is present in the local store.
		HasImage(ctx context.Context, image ImageTag) (bool, error)
		// PullImage fetches image from its registry.
		PullImage(ctx context.Context, image ImageTag, opts PullOptions) error
		// BuildImage builds an image and returns the reference to run it by.
		BuildImage(ctx context.Context, opts BuildOptions) (ImageTag, error)
		// RunDetached starts a long-lived container and returns without waiting for it.
		RunDetached(ctx context.Context, opts RunOptions) (*Started, error)
		// ExecuteIn runs a command inside a running container and waits for it.
		// A non-zero exit status is returned as ExitCode, not as an error.
		ExecuteIn(ctx context.Context, opts ExecOptions) (ExitCode, error)
		// Env returns the configured environment of a running container.
		Env(ctx context.Context, id ContainerID) (map[string]string, error)
		// Stop stops and force-removes a container.
		Stop(ctx context.Context, id ContainerID) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// ContainerID identifies a created container.
	ContainerID string

	// ImageTag is an image reference (name[:tag] or image ID).
	ImageTag string

	// ExitCode is the exit status of a process run inside a container.
	ExitCode int

	// PullOptions contains options for pulling an image.
	PullOptions struct {
		// Output receives progress messages; nil discards them.
		Output io.Writer
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the Dockerfile name, relative to ContextDir.
		Dockerfile string
		// Tag is the tag applied to the built image.
		Tag ImageTag
		// ForcePull always attempts to pull newer base images.
		ForcePull bool
		Stdout    io.Writer
		Stderr    io.Writer
	}

	// RunOptions describes a detached container start.
	RunOptions struct {
		Image   ImageTag
		Name    string
		WorkDir string
		// Command keeps the container alive; it must block.
		Command []string
		// Env is the explicit container environment.
		Env map[string]string
		// SecretKeys names Env entries whose values must never appear in
		// command lines or logs.
		SecretKeys []string
		Volumes    []VolumeMount
		Ports      []PortMapping
		Network    string
		// Memory is a human readable limit such as "512m".
		Memory string
		// CPU is the relative CPU share weight.
		CPU        string
		Privileged bool
		// Verbose logs the engine command line at info level instead of debug.
		Verbose bool
	}

	// Started describes a container returned by RunDetached.
	Started struct {
		ID      ContainerID
		ImageID string
	}

	// ExecOptions describes a command executed inside a running container.
	ExecOptions struct {
		ContainerID ContainerID
		// User is "uid:gid".
		User       string
		Command    []string
		Env        map[string]string
		// SecretKeys names Env entries passed by name only, as in RunOptions.
		SecretKeys []string
		WorkDir    string
		Privileged bool
		Stdin      io.Reader
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// EngineNotAvailableError is returned when a container engine is not available.
	EngineNotAvailableError struct {
		Engine EngineType
		Reason string
	}
)

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// String returns the string representation of the ContainerID.
func (id ContainerID) String() string { return string(id) }

// Short returns the first twelve characters of the ID, as the engines print it.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// String returns the string representation of the ImageTag.
func (t ImageTag) String() string { return string(t) }

// Validate checks that the options describe a startable container.
func (o RunOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(string(o.Image)) == "" {
		errs = append(errs, errors.New("image must not be empty"))
	}
	if len(o.Command) == 0 {
		errs = append(errs, errors.New("command must not be empty"))
	}
	for _, v := range o.Volumes {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range o.Ports {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the options describe a buildable image.
func (o BuildOptions) Validate() error {
	if strings.TrimSpace(o.ContextDir) == "" {
		return errors.New("build context directory must not be empty")
	}
	return nil
}

// envPairs renders env as sorted KEY=VALUE pairs.
func envPairs(env map[string]string) []string {
	keys := sortedKeys(env)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

// ParseEnv parses KEY=VALUE lines into a map. Lines without '=' are ignored.
func ParseEnv(lines []string) map[string]string {
	env := make(map[string]string, len(lines))
	for _, line := range lines {
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
