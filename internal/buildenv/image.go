// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/expand"
)

type (
	// ContainerSpec is a job's container section.
	ContainerSpec struct {
		// Image is a registry reference. It wins over ImageDockerfile.
		Image string
		// ImageDockerfile is a workspace-relative Dockerfile path; its
		// directory is the build context.
		ImageDockerfile string
		// Command keeps the container alive. Empty means the configured default.
		Command string

		Verbose    bool
		Privileged bool
		ForcePull  bool

		// Group overrides the gid commands run with.
		Group  string
		Net    string
		Memory string
		CPU    string

		Volumes []Mount
		// Ports are "host:container[/proto]" mappings.
		Ports []string
	}

	// ResolveOptions carries what ResolveImage needs beyond the spec.
	ResolveOptions struct {
		Job       string
		Workspace string
		Vars      expand.Vars
		// Tag names a built image.
		Tag container.ImageTag
		// PullAttempts bounds retries of transient pull failures.
		PullAttempts int
		// Output receives pull and build progress.
		Output io.Writer
	}
)

// Validate checks that the spec names an image source.
func (s *ContainerSpec) Validate(job string) error {
	if s == nil {
		return &ConfigurationError{Job: job, Reason: "job has no docker section"}
	}
	if strings.TrimSpace(s.Image) == "" && strings.TrimSpace(s.ImageDockerfile) == "" {
		return &ConfigurationError{Job: job, Reason: "neither image nor imageDockerfile is set"}
	}
	for _, p := range s.Ports {
		if _, err := container.ParsePortMapping(p); err != nil {
			return &ConfigurationError{Job: job, Reason: err.Error()}
		}
	}
	for _, m := range s.Volumes {
		if m.HostPath == "" || (m.ContainerPath != "" && !filepath.IsAbs(m.ContainerPath)) {
			return &ConfigurationError{Job: job, Reason: fmt.Sprintf("invalid volume %s:%s", m.HostPath, m.ContainerPath)}
		}
	}
	return nil
}

// SplitDockerfilePath splits a workspace-relative Dockerfile path into its
// build context directory and file name. A leading "./" is ignored; a path
// without a separator has the workspace root ("") as its context.
func SplitDockerfilePath(path string) (contextDir, dockerfile string) {
	path = strings.TrimPrefix(path, "./")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// ResolveImage returns the image reference to start the build container
// from, pulling or building it as needed. Failures happen before any
// container exists.
func ResolveImage(ctx context.Context, spec *ContainerSpec, engine container.Engine, opts ResolveOptions) (container.ImageTag, error) {
	if err := spec.Validate(opts.Job); err != nil {
		return "", err
	}

	if image := strings.TrimSpace(spec.Image); image != "" {
		return pullImage(ctx, image, spec.ForcePull, engine, opts)
	}
	return buildImage(ctx, spec, engine, opts)
}

func pullImage(ctx context.Context, image string, forcePull bool, engine container.Engine, opts ResolveOptions) (container.ImageTag, error) {
	ref, err := opts.Vars.Expand(image)
	if err != nil {
		return "", &ConfigurationError{Job: opts.Job, Reason: err.Error()}
	}
	tag := container.ImageTag(ref)

	pull := forcePull
	if !pull {
		present, err := engine.HasImage(ctx, tag)
		if err != nil {
			if cerr := asCancellation(ctx, "image inspect", err); cerr != nil {
				return "", cerr
			}
			return "", &ImageResolutionError{Image: ref, Op: "inspect", Err: err}
		}
		pull = !present
	}

	if !pull {
		slog.Debug("image present locally", "image", ref)
		return tag, nil
	}

	slog.Info("pulling image", "image", ref, "engine", engine.Name())
	if err := container.PullWithRetry(ctx, engine, tag, container.PullOptions{Output: opts.Output}, opts.PullAttempts); err != nil {
		if cerr := asCancellation(ctx, "image pull", err); cerr != nil {
			return "", cerr
		}
		return "", &ImageResolutionError{Image: ref, Op: "pull", Err: err}
	}
	return tag, nil
}

func buildImage(ctx context.Context, spec *ContainerSpec, engine container.Engine, opts ResolveOptions) (container.ImageTag, error) {
	contextDir, dockerfile := SplitDockerfilePath(spec.ImageDockerfile)
	contextDir, err := opts.Vars.Expand(contextDir)
	if err != nil {
		return "", &ConfigurationError{Job: opts.Job, Reason: err.Error()}
	}

	absContext := filepath.Join(opts.Workspace, contextDir)
	dockerfilePath := filepath.Join(absContext, dockerfile)
	info, err := os.Stat(dockerfilePath)
	if err != nil || info.IsDir() {
		return "", &MissingArtifactError{Path: dockerfilePath}
	}

	slog.Info("building image", "context", absContext, "dockerfile", dockerfile, "tag", opts.Tag, "engine", engine.Name())
	ref, err := engine.BuildImage(ctx, container.BuildOptions{
		ContextDir: absContext,
		Dockerfile: dockerfile,
		Tag:        opts.Tag,
		ForcePull:  spec.ForcePull,
		Stdout:     opts.Output,
		Stderr:     opts.Output,
	})
	if err != nil {
		if cerr := asCancellation(ctx, "image build", err); cerr != nil {
			return "", cerr
		}
		return "", &ImageResolutionError{Image: absContext, Op: "build", Err: err}
	}
	if ref == "" {
		return "", &ImageResolutionError{Image: absContext, Op: "build", Err: errors.New("engine returned no image reference")}
	}
	return ref, nil
}
