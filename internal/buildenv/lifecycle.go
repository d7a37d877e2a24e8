// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/boxstep/boxstep/internal/container"
)

// EnsureContainer starts the build container unless one is already recorded.
func (c *Context) EnsureContainer(ctx context.Context) error {
	if c.handle.id != "" {
		return nil
	}
	if c.handle.state == StateTornDown {
		return fmt.Errorf("%w: context already torn down", ErrNotStarted)
	}
	if err := c.Prepare(ctx); err != nil {
		return err
	}

	c.handle.state = StateStarting

	identity, err := ResolveIdentity(ctx, c.host, c.opts.Spec.Group)
	if err != nil {
		c.handle.state = StateUnstarted
		if cerr := asCancellation(ctx, "identity resolution", err); cerr != nil {
			return cerr
		}
		return &ContainerStartError{Image: string(c.image), Err: err}
	}

	mounts := c.aggregateMounts()
	env := containerEnv(c.opts.Vars, c.opts.JobEnv)
	run := container.RunOptions{
		Image:      c.image,
		Name:       containerName(c.opts.Job),
		WorkDir:    c.opts.Workspace,
		Command:    c.command(),
		Env:        env,
		SecretKeys: secretKeys(env, c.opts.SecretKeys),
		Volumes:    mounts.Volumes(),
		Network:    c.opts.Spec.Net,
		Memory:     c.opts.Spec.Memory,
		CPU:        c.opts.Spec.CPU,
		Privileged: c.opts.Spec.Privileged,
		Verbose:    c.opts.Spec.Verbose,
	}
	for _, p := range c.opts.Spec.Ports {
		pm, err := container.ParsePortMapping(p)
		if err != nil {
			c.handle.state = StateUnstarted
			return &ConfigurationError{Job: c.opts.Job, Reason: err.Error()}
		}
		run.Ports = append(run.Ports, pm)
	}

	slog.Info("starting build container", "image", c.image, "name", run.Name, "mounts", mounts.Len(), "user", identity)
	started, err := c.engine.RunDetached(ctx, run)
	if err != nil {
		c.handle.state = StateUnstarted
		if cerr := asCancellation(ctx, "container start", err); cerr != nil {
			return cerr
		}
		return &ContainerStartError{Image: string(c.image), Err: err}
	}

	c.handle.id = started.ID
	c.handle.imageID = started.ImageID
	c.handle.identity = identity
	c.handle.mounts = mounts
	c.handle.state = StateRunning
	slog.Debug("build container running", "container", started.ID.Short(), "image_id", started.ImageID)
	return nil
}

// Enable redirects the Context's launcher into the container. The container
// must be running.
func (c *Context) Enable() error {
	if c.handle.id == "" || c.handle.state != StateRunning {
		return ErrNotStarted
	}
	c.handle.enabled = true
	return nil
}

// Teardown stops and removes the container. Only the first call with a
// recorded container reaches the engine; later calls return nil. Teardown is
// not cut short by ctx cancellation; it is bounded by the stop timeout.
func (c *Context) Teardown(ctx context.Context) error {
	if c.handle.id == "" || c.handle.state == StateTornDown {
		return nil
	}
	id := c.handle.id
	c.handle.state = StateTornDown
	c.handle.enabled = false

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.StopTimeout)
	defer cancel()

	slog.Debug("stopping build container", "container", id.Short())
	if err := c.engine.Stop(tctx, id); err != nil {
		return &TeardownError{ContainerID: id, Err: err}
	}
	return nil
}

// aggregateMounts collects the mandatory mounts, configured tools and the
// job's volumes.
func (c *Context) aggregateMounts() *MountSet {
	set := NewMountSet(Mount{HostPath: c.opts.Workspace})
	if c.opts.AgentRoot != "" {
		set.Add(Mount{HostPath: c.opts.AgentRoot})
	}
	set.Add(Mount{HostPath: os.TempDir()})

	if dir := c.buildDataDir(); dir != "" {
		set.Add(Mount{HostPath: dir, ContainerPath: c.opts.BuildDataMount})
	}

	for _, tool := range c.opts.ToolMounts {
		if _, err := os.Stat(tool.HostPath); err != nil {
			slog.Debug("skipping tool mount", "path", tool.HostPath, "error", err)
			continue
		}
		set.Add(tool)
	}

	set.Add(c.opts.Spec.Volumes...)
	return set
}

// buildDataDir creates <ci_data_dir>/<job>/<build>/build-data on the host.
// Creation failures are reported but do not stop the build.
func (c *Context) buildDataDir() string {
	if c.opts.CIDataDir == "" {
		return ""
	}
	build := c.opts.BuildNumber
	if build == "" {
		build = "0"
	}
	dir := filepath.Join(c.opts.CIDataDir, safeName(c.opts.Job), safeName(build), "build-data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("could not create build-data directory", "path", dir, "error", err)
		fmt.Fprintf(c.opts.Output, "WARNING: could not create build-data directory %s: %v\n", dir, err)
	}
	return dir
}
