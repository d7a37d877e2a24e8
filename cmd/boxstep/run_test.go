// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/boxstep/boxstep/internal/buildenv"
	"github.com/boxstep/boxstep/internal/config"
	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/issue"
	"github.com/boxstep/boxstep/internal/launch"
	"github.com/boxstep/boxstep/internal/shellstep"
	"github.com/boxstep/boxstep/internal/testutil"
)

const twoJobs = `jobs:
  - name: build
    script: |
      make all
    env:
      GOFLAGS: -mod=mod
    docker:
      image: golang:1.25
  - name: test
    script: make test
    docker:
      image: golang:1.25
`

func writeBlueprint(t *testing.T, content string) string {
	t.Helper()
	ws := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(ws, ".blueprint.yml"), content)
	return ws
}

func TestRun_Success(t *testing.T) {
	ws := writeBlueprint(t, twoJobs)
	engine := &scriptEngine{}
	app, sel, _, stderr := testApp(t, engine)

	if err := execute(t, app, "run", "-w", ws, "--build-number", "42", "build"); err != nil {
		t.Fatalf("run error: %v", err)
	}

	if !slices.Equal(sel.preferred, []container.EngineType{container.EngineTypeDocker}) {
		t.Errorf("preferred engines = %v, want [docker]", sel.preferred)
	}
	if len(engine.runs) != 1 || engine.stops != 1 {
		t.Fatalf("runs = %d, stops = %d, want one of each", len(engine.runs), engine.stops)
	}

	run := engine.runs[0]
	if run.Image != "golang:1.25" {
		t.Errorf("image = %s", run.Image)
	}
	for k, want := range map[string]string{"BUILD_NUMBER": "42", "JOB_NAME": "build", "WORKSPACE": ws, "GOFLAGS": "-mod=mod"} {
		if run.Env[k] != want {
			t.Errorf("container env %s = %q, want %q", k, run.Env[k], want)
		}
	}

	if len(engine.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(engine.execs))
	}
	exec := engine.execs[0]
	if len(exec.Command) != 3 || exec.Command[0] != shellstep.DefaultShell || exec.Command[1] != "-xe" {
		t.Errorf("exec command = %v", exec.Command)
	}
	if exec.User != "1000:1000" || exec.WorkDir != ws {
		t.Errorf("exec user %q workdir %q", exec.User, exec.WorkDir)
	}

	leftovers, _ := filepath.Glob(filepath.Join(ws, "boxstep-script-*"))
	if len(leftovers) != 0 {
		t.Errorf("script files left in workspace: %v", leftovers)
	}
	if !strings.Contains(stderr.String(), "build") {
		t.Errorf("stderr = %q, want job header", stderr.String())
	}
}

func TestRun_SecretsAndImageVariables(t *testing.T) {
	t.Cleanup(testutil.MustSetenv(t, "BOXSTEP_TEST_TOKEN", "s3cret"))
	t.Cleanup(testutil.MustSetenv(t, "BOXSTEP_TEST_REGISTRY", "mirror.local"))
	ws := writeBlueprint(t, `jobs:
  - name: deploy
    script: ./deploy.sh
    env:
      TAG: "3.18"
    secrets: [BOXSTEP_TEST_TOKEN]
    docker:
      image: ${BOXSTEP_TEST_REGISTRY}/alpine:${TAG}
`)
	engine := &scriptEngine{}
	app, _, _, _ := testApp(t, engine)

	if err := execute(t, app, "run", "-w", ws); err != nil {
		t.Fatalf("run error: %v", err)
	}

	run := engine.runs[0]
	if run.Image != "mirror.local/alpine:3.18" {
		t.Errorf("image = %s, want host and job variables expanded", run.Image)
	}
	if _, ok := run.Env["BOXSTEP_TEST_REGISTRY"]; ok {
		t.Error("host variables must not be exported to the container")
	}
	if run.Env["BOXSTEP_TEST_TOKEN"] != "s3cret" || !slices.Equal(run.SecretKeys, []string{"BOXSTEP_TEST_TOKEN"}) {
		t.Errorf("run env %v secret keys %v", run.Env, run.SecretKeys)
	}
	if !slices.Equal(engine.execs[0].SecretKeys, []string{"BOXSTEP_TEST_TOKEN"}) {
		t.Errorf("exec secret keys = %v", engine.execs[0].SecretKeys)
	}
	if args := container.NewBaseCLIEngine("docker").ExecArgs(engine.execs[0]); strings.Contains(strings.Join(args, " "), "s3cret") {
		t.Errorf("secret value in exec args: %v", args)
	}
	if engine.closed != 1 {
		t.Errorf("engine closed %d times, want 1", engine.closed)
	}
}

func TestRun_VerboseContainerLogsAtInfo(t *testing.T) {
	const blueprintFor = `jobs:
  - name: build
    script: make
    docker:
      image: golang:1.25
      verbose: %v
`
	for _, verbose := range []bool{false, true} {
		ws := writeBlueprint(t, fmt.Sprintf(blueprintFor, verbose))
		app, _, _, stderr := testApp(t, &scriptEngine{})
		if err := execute(t, app, "run", "-w", ws); err != nil {
			t.Fatalf("run error: %v", err)
		}
		if got := strings.Contains(stderr.String(), "exec in build container"); got != verbose {
			t.Errorf("verbose=%v: exec logged at info = %v\n%s", verbose, got, stderr.String())
		}
	}
}

func TestRun_ScriptExitCode(t *testing.T) {
	ws := writeBlueprint(t, twoJobs)
	engine := &scriptEngine{code: 3}
	app, _, _, _ := testApp(t, engine)

	err := execute(t, app, "run", "-w", ws, "test")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Fatalf("run error = %v, want ExitError with code 3", err)
	}
	if !errors.Is(err, shellstep.ErrScriptFailed) {
		t.Errorf("error should wrap ErrScriptFailed: %v", err)
	}
	if engine.stops != 1 {
		t.Errorf("stops = %d, want 1", engine.stops)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ws := writeBlueprint(t, twoJobs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := &scriptEngine{execFn: func(ctx context.Context) (container.ExitCode, error) {
		cancel()
		return -1, ctx.Err()
	}}
	app, _, _, _ := testApp(t, engine)

	root, _ := NewRootCommand(app)
	root.SetArgs([]string{"run", "-w", ws, "build"})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(ctx)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitCodeInterrupted {
		t.Fatalf("run error = %v, want ExitError with code 130", err)
	}
	if engine.stops != 1 {
		t.Errorf("cancelled run must still stop the container, stops = %d", engine.stops)
	}
}

func TestRun_SelectsJob(t *testing.T) {
	t.Run("single job needs no name", func(t *testing.T) {
		ws := writeBlueprint(t, "jobs:\n  - name: only\n    script: true\n    docker:\n      image: alpine\n")
		engine := &scriptEngine{}
		app, _, _, _ := testApp(t, engine)
		if err := execute(t, app, "run", "-w", ws); err != nil {
			t.Fatalf("run error: %v", err)
		}
		if len(engine.execs) != 1 {
			t.Errorf("execs = %d, want 1", len(engine.execs))
		}
	})

	t.Run("several jobs need a name", func(t *testing.T) {
		ws := writeBlueprint(t, twoJobs)
		app, sel, _, _ := testApp(t, &scriptEngine{})
		err := execute(t, app, "run", "-w", ws)
		if err == nil || !strings.Contains(formatErrorForDisplay(err, false), "Available jobs: build, test") {
			t.Errorf("run error = %v", err)
		}
		if len(sel.preferred) != 0 {
			t.Error("no engine should be selected")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		ws := writeBlueprint(t, twoJobs)
		app, _, _, _ := testApp(t, &scriptEngine{})
		if err := execute(t, app, "run", "-w", ws, "deploy"); classifyError(err) != issue.JobNotFoundId {
			t.Errorf("run error = %v, want job not found", err)
		}
	})
}

func TestRun_InvalidJob(t *testing.T) {
	ws := writeBlueprint(t, "jobs:\n  - name: build\n    script: make\n")
	app, sel, _, _ := testApp(t, &scriptEngine{})

	err := execute(t, app, "run", "-w", ws, "build")
	if classifyError(err) != issue.BlueprintParseErrorId {
		t.Errorf("run error = %v, want blueprint validation failure", err)
	}
	if len(sel.preferred) != 0 {
		t.Error("an invalid job must not select an engine")
	}
}

func TestRun_EngineFlag(t *testing.T) {
	ws := writeBlueprint(t, twoJobs)

	app, sel, _, _ := testApp(t, &scriptEngine{})
	if err := execute(t, app, "run", "-w", ws, "--engine", "podman", "build"); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !slices.Equal(sel.preferred, []container.EngineType{container.EngineTypePodman}) {
		t.Errorf("preferred = %v, want [podman]", sel.preferred)
	}

	app, sel, _, _ = testApp(t, &scriptEngine{})
	err := execute(t, app, "run", "-w", ws, "--engine", "lxc", "build")
	if !errors.Is(err, config.ErrInvalidContainerEngine) {
		t.Errorf("run error = %v, want ErrInvalidContainerEngine", err)
	}
	if len(sel.preferred) != 0 {
		t.Error("an invalid engine flag must not reach the registry")
	}
}

func TestSelectEngine_BuildsRegistryFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Container.Host = "tcp://127.0.0.1:1"
	app := &App{}

	engine, err := selectEngine(app, cfg, "")
	if closer, ok := engine.(interface{ Close() error }); ok && err == nil {
		_ = closer.Close()
	}
	if _, ok := app.Engines.(*container.Registry); !ok {
		t.Errorf("Engines = %T, want the default registry", app.Engines)
	}
}

func TestRun_NoEngine(t *testing.T) {
	ws := writeBlueprint(t, twoJobs)
	app, sel, _, _ := testApp(t, nil)
	sel.err = &container.EngineNotAvailableError{Engine: "docker", Reason: "not installed"}

	err := execute(t, app, "run", "-w", ws, "build")
	if classifyError(err) != issue.ContainerEngineNotFoundId {
		t.Errorf("run error = %v, want engine not available", err)
	}
}

func TestRun_ConfigError(t *testing.T) {
	ws := writeBlueprint(t, twoJobs)
	app, sel, _, _ := testApp(t, &scriptEngine{})
	app.Config = &staticConfig{err: errors.New("boom")}

	if err := execute(t, app, "run", "-w", ws, "build"); err == nil || err.Error() != "boom" {
		t.Errorf("run error = %v, want config error", err)
	}
	if len(sel.preferred) != 0 {
		t.Error("engine selected despite config error")
	}
}

func TestExitErrorFor(t *testing.T) {
	plain := errors.New("start failed")

	tests := []struct {
		name     string
		err      error
		code     launch.ExitCode
		wantCode launch.ExitCode
		wantExit bool
	}{
		{name: "success", err: nil},
		{name: "script failure", err: &shellstep.ScriptFailedError{Code: 2}, code: 2, wantCode: 2, wantExit: true},
		{name: "cancelled", err: &buildenv.CancellationError{Op: "exec", Err: context.Canceled}, wantCode: ExitCodeInterrupted, wantExit: true},
		{name: "context error", err: context.Canceled, wantCode: ExitCodeInterrupted, wantExit: true},
		{name: "other", err: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitErrorFor(tt.err, tt.code)
			var exitErr *ExitError
			isExit := errors.As(got, &exitErr)
			if isExit != tt.wantExit {
				t.Fatalf("exitErrorFor() = %v, want ExitError: %v", got, tt.wantExit)
			}
			if isExit && exitErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", exitErr.Code, tt.wantCode)
			}
			if tt.err != nil && !errors.Is(got, tt.err) {
				t.Errorf("exitErrorFor() lost the cause: %v", got)
			}
		})
	}
}

func TestResolveWorkspace(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(testutil.MustChdir(t, dir))

	got, err := resolveWorkspace("")
	if err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if got != wd {
		t.Errorf("resolveWorkspace(\"\") = %s, want %s", got, wd)
	}

	got, err = resolveWorkspace("sub")
	if err != nil || got != filepath.Join(wd, "sub") {
		t.Errorf("resolveWorkspace(sub) = %s, %v", got, err)
	}
}
