// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/boxstep/boxstep/internal/expand"
)

func TestSplitDockerfilePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path        string
		wantContext string
		wantFile    string
	}{
		{"./docker/Dockerfile", "docker", "Dockerfile"},
		{"Dockerfile", "", "Dockerfile"},
		{"./Dockerfile", "", "Dockerfile"},
		{"a/b/Dockerfile.ci", "a/b", "Dockerfile.ci"},
		{"sub/", "sub", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			ctxDir, file := SplitDockerfilePath(tt.path)
			if ctxDir != tt.wantContext || file != tt.wantFile {
				t.Errorf("SplitDockerfilePath(%q) = (%q, %q), want (%q, %q)", tt.path, ctxDir, file, tt.wantContext, tt.wantFile)
			}
		})
	}
}

func TestResolveImage_ConfigurationError(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	for _, spec := range []*ContainerSpec{nil, {}, {Image: "  "}} {
		_, err := ResolveImage(context.Background(), spec, engine, ResolveOptions{Job: "build"})
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("ResolveImage(%+v) error = %v, want ConfigurationError", spec, err)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Error("ConfigurationError should unwrap to ErrConfiguration")
		}
	}
	if len(engine.calls) != 0 {
		t.Errorf("expected zero runtime calls, got %v", engine.calls)
	}
}

func TestResolveImage_Pull(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		present   bool
		forcePull bool
		wantPulls int
		wantCalls []string
	}{
		{name: "absent pulls once", present: false, wantPulls: 1, wantCalls: []string{"has", "pull"}},
		{name: "present skips pull", present: true, wantPulls: 0, wantCalls: []string{"has"}},
		{name: "force pull always pulls", present: true, forcePull: true, wantPulls: 1, wantCalls: []string{"pull"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := newFakeEngine()
			engine.present["alpine:3.18"] = tt.present

			ref, err := ResolveImage(context.Background(), &ContainerSpec{Image: "alpine:3.18", ForcePull: tt.forcePull}, engine, ResolveOptions{})
			if err != nil {
				t.Fatalf("ResolveImage() error: %v", err)
			}
			if ref != "alpine:3.18" {
				t.Errorf("ResolveImage() = %q, want alpine:3.18", ref)
			}
			if len(engine.pulls) != tt.wantPulls {
				t.Errorf("pulls = %v, want %d", engine.pulls, tt.wantPulls)
			}
			if len(engine.calls) != len(tt.wantCalls) {
				t.Errorf("calls = %v, want %v", engine.calls, tt.wantCalls)
			}
		})
	}
}

func TestResolveImage_ExpandsVariables(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	ref, err := ResolveImage(context.Background(), &ContainerSpec{Image: "${REGISTRY}/app:$TAG"}, engine, ResolveOptions{
		Vars: expand.Vars{"REGISTRY": "registry.local", "TAG": "7"},
	})
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if ref != "registry.local/app:7" || engine.pulls[0] != "registry.local/app:7" {
		t.Errorf("ResolveImage() = %q, pulls %v", ref, engine.pulls)
	}
}

func TestResolveImage_PullFailure(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.pullErr = errors.New("manifest unknown")

	_, err := ResolveImage(context.Background(), &ContainerSpec{Image: "nope:1"}, engine, ResolveOptions{})
	var resErr *ImageResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("error = %v, want ImageResolutionError", err)
	}
	if resErr.Image != "nope:1" || resErr.Op != "pull" {
		t.Errorf("ImageResolutionError = %+v", resErr)
	}
	if !errors.Is(err, ErrImageResolution) || !errors.Is(err, engine.pullErr) {
		t.Error("ImageResolutionError should match its sentinel and cause")
	}
	if engine.count("pull") != 1 {
		t.Errorf("permanent failure should not be retried, calls %v", engine.calls)
	}
}

func TestResolveImage_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newFakeEngine()
	_, err := ResolveImage(ctx, &ContainerSpec{Image: "alpine:3.18"}, engine, ResolveOptions{})
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want cancellation", err)
	}
	if engine.count("pull") != 0 {
		t.Error("no pull after cancellation")
	}
}

func TestResolveImage_Build(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "sub", "Dockerfile"), []byte("FROM debian:stable-slim\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := newFakeEngine()
	ref, err := ResolveImage(context.Background(), &ContainerSpec{ImageDockerfile: "./sub/Dockerfile", ForcePull: true}, engine, ResolveOptions{
		Workspace: ws,
		Tag:       "boxstep/build:1234abcd",
	})
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if ref != "boxstep/build:1234abcd" {
		t.Errorf("ResolveImage() = %q", ref)
	}
	if len(engine.builds) != 1 {
		t.Fatalf("builds = %d, want 1", len(engine.builds))
	}
	b := engine.builds[0]
	if b.ContextDir != filepath.Join(ws, "sub") || b.Dockerfile != "Dockerfile" || !b.ForcePull {
		t.Errorf("build options = %+v", b)
	}
}

func TestResolveImage_BuildAtWorkspaceRoot(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "Dockerfile"), []byte("FROM debian:stable-slim\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := newFakeEngine()
	if _, err := ResolveImage(context.Background(), &ContainerSpec{ImageDockerfile: "Dockerfile"}, engine, ResolveOptions{Workspace: ws, Tag: "t"}); err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if engine.builds[0].ContextDir != ws {
		t.Errorf("ContextDir = %q, want workspace root", engine.builds[0].ContextDir)
	}
}

func TestResolveImage_MissingDockerfile(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	_, err := ResolveImage(context.Background(), &ContainerSpec{ImageDockerfile: "./sub/Dockerfile"}, engine, ResolveOptions{Workspace: t.TempDir()})

	var missing *MissingArtifactError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingArtifactError", err)
	}
	if filepath.Base(missing.Path) != "Dockerfile" || !errors.Is(err, ErrMissingArtifact) {
		t.Errorf("MissingArtifactError = %+v", missing)
	}
	if engine.count("build") != 0 {
		t.Error("no build may be requested for a missing Dockerfile")
	}
}

func TestResolveImage_ImageWinsOverDockerfile(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	ref, err := ResolveImage(context.Background(), &ContainerSpec{Image: "debian:stable-slim", ImageDockerfile: "Dockerfile"}, engine, ResolveOptions{})
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if ref != "debian:stable-slim" || engine.count("build") != 0 {
		t.Errorf("ResolveImage() = %q, calls %v", ref, engine.calls)
	}
}

func TestResolveImage_BlankImageBuilds(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := newFakeEngine()
	spec := &ContainerSpec{Image: "   ", ImageDockerfile: "Dockerfile"}
	ref, err := ResolveImage(context.Background(), spec, engine, ResolveOptions{Workspace: ws, Tag: "boxstep/build:1"})
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if ref != "boxstep/build:1" || engine.count("pull") != 0 || engine.count("build") != 1 {
		t.Errorf("ResolveImage() = %q, calls %v", ref, engine.calls)
	}
}

func TestResolveImage_BuildFailure(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := newFakeEngine()
	engine.buildErr = errBoom
	_, err := ResolveImage(context.Background(), &ContainerSpec{ImageDockerfile: "Dockerfile"}, engine, ResolveOptions{Workspace: ws, Tag: "t"})

	var resErr *ImageResolutionError
	if !errors.As(err, &resErr) || resErr.Op != "build" || resErr.Image != ws {
		t.Errorf("error = %v, want build ImageResolutionError for %s", err, ws)
	}
}
