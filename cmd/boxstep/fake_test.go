// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/boxstep/boxstep/internal/config"
	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/launch"
)

type (
	staticConfig struct {
		cfg *config.Config
		err error
	}

	staticSelector struct {
		engine    container.Engine
		err       error
		preferred []container.EngineType
	}

	// scriptEngine is a container.Engine whose exec calls return a fixed code.
	scriptEngine struct {
		code   container.ExitCode
		execFn func(ctx context.Context) (container.ExitCode, error)
		runs   []container.RunOptions
		execs  []container.ExecOptions
		stops  int
		closed int
	}

	idHost struct{}
)

func (s *staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	cfg := *s.cfg
	return &cfg, nil
}

func (s *staticSelector) Select(preferred container.EngineType) (container.Engine, error) {
	s.preferred = append(s.preferred, preferred)
	return s.engine, s.err
}

func (e *scriptEngine) Name() string                            { return "fake" }
func (e *scriptEngine) Available() bool                         { return true }
func (e *scriptEngine) Version(context.Context) (string, error) { return "1.0", nil }

func (e *scriptEngine) HasImage(context.Context, container.ImageTag) (bool, error) {
	return true, nil
}

func (e *scriptEngine) PullImage(context.Context, container.ImageTag, container.PullOptions) error {
	return nil
}

func (e *scriptEngine) BuildImage(_ context.Context, opts container.BuildOptions) (container.ImageTag, error) {
	return opts.Tag, nil
}

func (e *scriptEngine) RunDetached(_ context.Context, opts container.RunOptions) (*container.Started, error) {
	e.runs = append(e.runs, opts)
	return &container.Started{ID: "c0ffee0123456789", ImageID: "sha256:abc"}, nil
}

func (e *scriptEngine) ExecuteIn(ctx context.Context, opts container.ExecOptions) (container.ExitCode, error) {
	e.execs = append(e.execs, opts)
	if e.execFn != nil {
		return e.execFn(ctx)
	}
	return e.code, nil
}

// Env reports the variables the container was started with, as inspect does.
func (e *scriptEngine) Env(context.Context, container.ContainerID) (map[string]string, error) {
	env := map[string]string{"PATH": "/usr/bin:/bin"}
	if len(e.runs) > 0 {
		maps.Copy(env, e.runs[len(e.runs)-1].Env)
	}
	return env, nil
}

func (e *scriptEngine) Stop(context.Context, container.ContainerID) error {
	e.stops++
	return nil
}

func (e *scriptEngine) Close() error {
	e.closed++
	return nil
}

func (idHost) Launch(_ context.Context, spec launch.ProcSpec) (launch.Proc, error) {
	switch {
	case slices.Equal(spec.Cmd, []string{"id", "-u"}):
		fmt.Fprintln(spec.Stdout, "1000")
	case slices.Equal(spec.Cmd, []string{"id", "-g"}):
		fmt.Fprintln(spec.Stdout, "1000")
	default:
		return nil, fmt.Errorf("unexpected host launch: %s", strings.Join(spec.Cmd, " "))
	}
	return launch.Completed(0, nil), nil
}

// testApp returns an App with fakes and captured output.
func testApp(t *testing.T, engine container.Engine) (app *App, sel *staticSelector, stdout, stderr *bytes.Buffer) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Agent.CIDataDir = t.TempDir()

	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	sel = &staticSelector{engine: engine}
	app, err := NewApp(Dependencies{
		Config:  &staticConfig{cfg: cfg},
		Engines: sel,
		Host:    idHost{},
		Stdout:  stdout,
		Stderr:  stderr,
		Stdin:   strings.NewReader(""),
	})
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	return app, sel, stdout, stderr
}

// execute runs the command tree with args.
func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()
	root, _ := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}
