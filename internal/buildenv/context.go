// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/expand"
	"github.com/boxstep/boxstep/internal/launch"
)

const (
	// DefaultCommand keeps a detached container with a TTY alive.
	DefaultCommand = "/bin/cat"
	// DefaultStopTimeout bounds teardown.
	DefaultStopTimeout = 30 * time.Second
	// DefaultBuildDataMount is where the build-data directory appears in the container.
	DefaultBuildDataMount = "/build-data"
)

var nameUnsafe = regexp.MustCompile(`[^a-z0-9_.-]+`)

type (
	// Options configures a Context.
	Options struct {
		// Job and BuildNumber identify the execution; they name the
		// container and the build-data directory.
		Job         string
		BuildNumber string
		// Workspace is the host directory steps run in. It is mounted at the
		// same path and used as the default working directory.
		Workspace string

		Spec *ContainerSpec

		// Vars are the build variables. They are expanded into image
		// references and exported to the container.
		Vars expand.Vars
		// HostEnv is the host environment. It is only consulted when
		// expanding image references and is never exported.
		HostEnv map[string]string
		// JobEnv holds the job's own variables, exported to the container.
		JobEnv map[string]string
		// SecretKeys name variables whose values must not appear in command lines.
		SecretKeys []string
		// EnvContributors are context-level layers applied before each
		// step's variables on every exec.
		EnvContributors []map[string]string

		// AgentRoot is the agent's root directory, mounted at the same path.
		AgentRoot string
		// CIDataDir is where per-build data directories are created.
		CIDataDir string
		// BuildDataMount is the container path of the build-data directory.
		BuildDataMount string
		// ToolMounts are configured host tool directories.
		ToolMounts []Mount

		// DefaultCommand replaces an empty Spec.Command.
		DefaultCommand string
		StopTimeout    time.Duration
		PullAttempts   int

		// Output receives image progress and environment warnings.
		Output io.Writer
	}

	// Context is one containerized execution context. It owns exactly one
	// container handle and is used by a single goroutine.
	Context struct {
		opts     Options
		engine   container.Engine
		host     launch.Launcher
		image    container.ImageTag
		handle   Handle
		launcher *Launcher
	}

	// StepFunc runs build work through the given launcher.
	StepFunc func(ctx context.Context, l launch.Launcher) error
)

// New validates opts and returns an unstarted Context. A ConfigurationError
// is returned before any runtime call when the container section is unusable.
func New(engine container.Engine, host launch.Launcher, opts Options) (*Context, error) {
	if err := opts.Spec.Validate(opts.Job); err != nil {
		return nil, err
	}
	if opts.Workspace == "" {
		return nil, &ConfigurationError{Job: opts.Job, Reason: "workspace is not set"}
	}
	if opts.DefaultCommand == "" {
		opts.DefaultCommand = DefaultCommand
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.BuildDataMount == "" {
		opts.BuildDataMount = DefaultBuildDataMount
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}

	c := &Context{opts: opts, engine: engine, host: host}
	c.launcher = &Launcher{inner: host, bc: c}
	return c, nil
}

// Handle returns the container handle.
func (c *Context) Handle() *Handle { return &c.handle }

// Image returns the resolved image, empty before Prepare.
func (c *Context) Image() container.ImageTag { return c.image }

// Launcher returns the decorated launcher. Until Enable is called it
// forwards to the host launcher.
func (c *Context) Launcher() *Launcher { return c.launcher }

// Prepare resolves the image. It is a no-op once an image is known.
func (c *Context) Prepare(ctx context.Context) error {
	if c.image != "" {
		return nil
	}
	image, err := ResolveImage(ctx, c.opts.Spec, c.engine, ResolveOptions{
		Job:          c.opts.Job,
		Workspace:    c.opts.Workspace,
		Vars:         expand.Merge(c.opts.HostEnv, c.opts.JobEnv, c.opts.Vars),
		Tag:          container.ImageTag(buildTag(c.opts.Job)),
		PullAttempts: c.opts.PullAttempts,
		Output:       c.opts.Output,
	})
	if err != nil {
		return err
	}
	c.image = image
	return nil
}

// Run starts the container, enables the decorated launcher, runs step and
// tears the container down on every exit path. A step error is returned in
// preference to a teardown error, which is then only logged.
func (c *Context) Run(ctx context.Context, step StepFunc) (err error) {
	defer func() {
		tdErr := c.Teardown(ctx)
		if tdErr == nil {
			return
		}
		if err == nil {
			err = tdErr
			return
		}
		slog.Warn("container teardown failed after step failure", "error", tdErr)
	}()

	if err := c.EnsureContainer(ctx); err != nil {
		return err
	}
	if err := c.Enable(); err != nil {
		return err
	}
	return step(ctx, c.launcher)
}

// baseEnv reads the container environment once.
func (c *Context) baseEnv(ctx context.Context) (map[string]string, error) {
	if c.handle.baseEnv != nil {
		return c.handle.baseEnv, nil
	}
	env, err := c.engine.Env(ctx, c.handle.id)
	if err != nil {
		if cerr := asCancellation(ctx, "container environment", err); cerr != nil {
			return nil, cerr
		}
		return nil, &BaseEnvironmentError{ContainerID: c.handle.id, Err: err}
	}
	if env == nil {
		env = map[string]string{}
	}
	c.handle.baseEnv = env
	return env, nil
}

func (c *Context) command() []string {
	if fields := strings.Fields(c.opts.Spec.Command); len(fields) > 0 {
		return fields
	}
	return strings.Fields(c.opts.DefaultCommand)
}

func containerName(job string) string {
	return "boxstep-" + safeName(job) + "-" + uuid.NewString()[:8]
}

func buildTag(job string) string {
	return "boxstep/" + safeName(job) + ":" + uuid.NewString()[:8]
}

// safeName lowercases s and replaces characters not allowed in container
// names and image repositories.
func safeName(s string) string {
	s = strings.Trim(nameUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-._")
	if s == "" {
		return "job"
	}
	return s
}
