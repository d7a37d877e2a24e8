// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boxstep/boxstep/internal/blueprint"
	"github.com/boxstep/boxstep/internal/buildenv"
	"github.com/boxstep/boxstep/internal/config"
	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/expand"
	"github.com/boxstep/boxstep/internal/issue"
	"github.com/boxstep/boxstep/internal/launch"
	"github.com/boxstep/boxstep/internal/shellstep"
)

func newRunCommand(app *App, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [job]",
		Short: "Run a job's script inside its build container",
		Long: `Run a job's script inside its build container.

The job may be omitted when the blueprint defines exactly one job. The
process exits with the script's exit code, or 130 when interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runJob(cmd.Context(), app, flags, name)
		},
	}
}

func runJob(ctx context.Context, app *App, flags *globalFlags, name string) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}

	ws, err := resolveWorkspace(flags.workspace)
	if err != nil {
		return err
	}

	job, err := loadJob(ws, name)
	if err != nil {
		return err
	}

	engine, err := selectEngine(app, cfg, flags.engine)
	if err != nil {
		return err
	}
	if closer, ok := engine.(io.Closer); ok {
		defer closer.Close()
	}
	if version, err := engine.Version(ctx); err == nil {
		slog.Debug("container engine selected", "engine", engine.Name(), "version", version)
	} else {
		slog.Debug("container engine selected", "engine", engine.Name(), "version_error", err)
	}

	bc, err := buildenv.New(engine, app.Host, buildOptions(cfg, flags, ws, job, app.stderr))
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stderr, "%s %s\n", TitleStyle.Render("Running job"), KeyStyle.Render(job.Name))

	var code launch.ExitCode
	err = bc.Run(ctx, func(ctx context.Context, l launch.Launcher) error {
		step := &shellstep.Step{
			Script:    job.Script,
			Workspace: ws,
			Stdin:     app.stdin,
			Stdout:    app.stdout,
			Stderr:    app.stderr,
		}
		var stepErr error
		code, stepErr = step.Run(ctx, l)
		return stepErr
	})

	return exitErrorFor(err, code)
}

// exitErrorFor converts the outcome of a run into the process exit code.
func exitErrorFor(err error, code launch.ExitCode) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, buildenv.ErrCancelled) || errors.Is(err, context.Canceled) {
		return &ExitError{Code: ExitCodeInterrupted, Err: err}
	}
	var scriptErr *shellstep.ScriptFailedError
	if errors.As(err, &scriptErr) {
		return &ExitError{Code: scriptErr.Code, Err: err}
	}
	if code != 0 {
		return &ExitError{Code: code, Err: err}
	}
	return err
}

// resolveWorkspace returns the absolute workspace directory, defaulting to
// the current directory.
func resolveWorkspace(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace %s: %w", dir, err)
	}
	return abs, nil
}

// loadJob loads the workspace blueprint and returns the named job, or the
// only job when name is empty. The job must pass validation.
func loadJob(ws, name string) (*blueprint.Job, error) {
	bp, err := blueprint.Load(ws)
	if err != nil {
		return nil, err
	}

	if name == "" {
		names := bp.JobNames()
		if len(names) != 1 {
			return nil, issue.NewErrorContext().
				WithOperation("select job").
				WithResource(bp.FilePath).
				WithSuggestion("Name the job to run: boxstep run <job>").
				WithSuggestion("Available jobs: " + strings.Join(names, ", ")).
				Wrap(fmt.Errorf("blueprint defines %d jobs", len(names))).
				BuildError()
		}
		name = names[0]
	}
	job, err := bp.Job(name)
	if err != nil {
		return nil, err
	}

	problems := job.Validate()
	for _, w := range problems.Warnings() {
		slog.Warn("blueprint warning", "file", bp.FilePath, "field", w.Field, "message", w.Message)
	}
	if problems.HasErrors() {
		return nil, issue.NewErrorContext().
			WithOperation("validate job '" + job.Name + "'").
			WithResource(bp.FilePath).
			WithSuggestion("Run 'boxstep validate " + job.Name + "' to list every problem").
			WithIssue(issue.BlueprintParseErrorId).
			Wrap(problems).
			BuildError()
	}
	return job, nil
}

// selectEngine picks the engine named by flag, falling back to the
// configured preference. Without an injected selector the default registry
// is built against the configured daemon host.
func selectEngine(app *App, cfg *config.Config, flag string) (container.Engine, error) {
	if app.Engines == nil {
		app.Engines = container.NewDefaultRegistry(cfg.Container.Host)
	}
	preferred := cfg.ContainerEngine
	if flag != "" {
		preferred = config.ContainerEngine(flag)
		if valid, errs := preferred.IsValid(); !valid {
			return nil, errs[0]
		}
	}
	return app.Engines.Select(container.EngineType(preferred))
}

func buildOptions(cfg *config.Config, flags *globalFlags, ws string, job *blueprint.Job, output io.Writer) buildenv.Options {
	tools := make([]buildenv.Mount, 0, len(cfg.Mounts.Tools))
	for _, t := range cfg.Mounts.Tools {
		target := t.ContainerPath
		if target == "" {
			target = t.HostPath
		}
		tools = append(tools, buildenv.Mount{HostPath: t.HostPath, ContainerPath: target})
	}

	hostEnv := container.ParseEnv(os.Environ())
	// Secrets not set by the blueprint are taken from the host environment.
	jobEnv := maps.Clone(job.Env)
	for _, key := range job.Secrets {
		if _, ok := jobEnv[key]; ok {
			continue
		}
		value, ok := hostEnv[key]
		if !ok {
			slog.Warn("secret is not set in the environment", "job", job.Name, "secret", key)
			continue
		}
		if jobEnv == nil {
			jobEnv = make(map[string]string, len(job.Secrets))
		}
		jobEnv[key] = value
	}

	return buildenv.Options{
		Job:         job.Name,
		BuildNumber: flags.buildNumber,
		Workspace:   ws,
		Spec:        job.ContainerSpec(),
		Vars: expand.Vars{
			"BUILD_NUMBER": flags.buildNumber,
			"JOB_NAME":     job.Name,
			"WORKSPACE":    ws,
		},
		HostEnv:        hostEnv,
		JobEnv:         jobEnv,
		SecretKeys:     job.Secrets,
		AgentRoot:      cfg.Agent.RootDir,
		CIDataDir:      cfg.Agent.CIDataDir,
		BuildDataMount: cfg.Agent.BuildDataMount,
		ToolMounts:     tools,
		DefaultCommand: cfg.Container.DefaultCommand,
		StopTimeout:    cfg.Container.StopTimeout,
		PullAttempts:   cfg.Container.PullRetries,
		Output:         output,
	}
}
