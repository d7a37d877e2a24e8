// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"strings"
	"testing"
)

// stubEngine is a minimal Engine whose availability is fixed.
type stubEngine struct {
	Engine
	name      string
	available bool
}

func (s *stubEngine) Name() string    { return s.name }
func (s *stubEngine) Available() bool { return s.available }

func stubFactory(name string, available bool) Factory {
	return func() (Engine, error) { return &stubEngine{name: name, available: available}, nil }
}

func TestEngineNotAvailableError_Error(t *testing.T) {
	t.Parallel()

	err := &EngineNotAvailableError{
		Engine: "podman",
		Reason: "not installed",
	}

	expected := "container engine 'podman' is not available: not installed"
	if err.Error() != expected {
		t.Errorf("EngineNotAvailableError.Error() = %s, want %s", err.Error(), expected)
	}
}

func TestEngineNotAvailableError_UnwrapsToSentinel(t *testing.T) {
	t.Parallel()

	err := &EngineNotAvailableError{
		Engine: "docker",
		Reason: "not installed",
	}

	if !errors.Is(err, ErrEngineNotAvailable) {
		t.Error("EngineNotAvailableError should unwrap to ErrEngineNotAvailable")
	}
}

func TestDockerEngine_AvailableWithNoPath(t *testing.T) {
	t.Parallel()

	// Engine created with no binary path should not be available
	engine := &DockerEngine{BaseCLIEngine: NewBaseCLIEngine("")}
	if engine.Available() {
		t.Error("DockerEngine with empty path should not be available")
	}
}

func TestPodmanEngine_AvailableWithNoPath(t *testing.T) {
	t.Parallel()

	engine := &PodmanEngine{BaseCLIEngine: NewBaseCLIEngine("")}
	if engine.Available() {
		t.Error("PodmanEngine with empty path should not be available")
	}
}

func TestContainerID_Short(t *testing.T) {
	t.Parallel()

	if got := ContainerID("0123456789abcdef0123").Short(); got != "0123456789ab" {
		t.Errorf("Short() = %q", got)
	}
	if got := ContainerID("abc").Short(); got != "abc" {
		t.Errorf("Short() = %q", got)
	}
}

func TestRegistry_Get(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(EngineTypeDocker, stubFactory("docker", true))

	engine, err := r.Get(EngineTypeDocker)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if engine.Name() != "docker" {
		t.Errorf("Get() = %s, want docker", engine.Name())
	}

	if _, err := r.Get(EngineTypePodman); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Errorf("Get(unregistered) error = %v", err)
	}
}

func TestRegistry_Register_KeepsOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(EngineTypePodman, stubFactory("podman", true))
	r.Register(EngineTypeDocker, stubFactory("docker", true))
	r.Register(EngineTypePodman, stubFactory("podman2", true))

	types := r.Types()
	if len(types) != 2 || types[0] != EngineTypePodman || types[1] != EngineTypeDocker {
		t.Errorf("Types() = %v", types)
	}
	engine, _ := r.Get(EngineTypePodman)
	if engine.Name() != "podman2" {
		t.Errorf("re-registration should replace the factory, got %s", engine.Name())
	}
}

func TestRegistry_Select(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		preferred EngineType
		docker    bool
		podman    bool
		want      string
		wantErr   error
	}{
		{name: "preferred available", preferred: EngineTypePodman, docker: true, podman: true, want: "podman"},
		{name: "preferred falls back", preferred: EngineTypePodman, docker: true, podman: false, want: "docker"},
		{name: "no preference uses order", docker: false, podman: true, want: "podman"},
		{name: "nothing available", preferred: EngineTypeDocker, wantErr: ErrEngineNotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRegistry()
			r.Register(EngineTypeDocker, stubFactory("docker", tt.docker))
			r.Register(EngineTypePodman, stubFactory("podman", tt.podman))

			engine, err := r.Select(tt.preferred)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				var notAvail *EngineNotAvailableError
				if !errors.As(err, &notAvail) || notAvail.Engine != tt.preferred {
					t.Errorf("expected EngineNotAvailableError for %s, got %v", tt.preferred, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() unexpected error: %v", err)
			}
			if engine.Name() != tt.want {
				t.Errorf("Select() = %s, want %s", engine.Name(), tt.want)
			}
		})
	}
}

func TestRegistry_Select_UnknownType(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(EngineTypeDocker, stubFactory("docker", true))
	if _, err := r.Select("containerd"); err == nil {
		t.Error("expected error for unknown engine type")
	}
}

func TestRegistry_Select_SkipsFactoryErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(EngineTypeDockerAPI, func() (Engine, error) { return nil, errors.New("no socket") })
	r.Register(EngineTypePodman, stubFactory("podman", true))

	engine, err := r.Select(EngineTypeDockerAPI)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if engine.Name() != "podman" {
		t.Errorf("Select() = %s, want podman", engine.Name())
	}
}

func TestDefaultRegistry_Types(t *testing.T) {
	t.Parallel()

	types := NewDefaultRegistry("").Types()
	want := []EngineType{EngineTypeDocker, EngineTypePodman, EngineTypeDockerAPI}
	if len(types) != len(want) {
		t.Fatalf("Types() = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Types()[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestDefaultRegistry_Host(t *testing.T) {
	t.Parallel()

	const host = "tcp://build-host:2375"
	r := NewDefaultRegistry(host)

	tests := []struct {
		typ  EngineType
		want string
	}{
		{typ: EngineTypeDocker, want: "DOCKER_HOST=" + host},
		{typ: EngineTypePodman, want: "CONTAINER_HOST=" + host},
	}
	for _, tt := range tests {
		engine, err := r.Get(tt.typ)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", tt.typ, err)
		}
		cli, ok := engine.(interface {
			CreateCommand(ctx context.Context, args ...string) *exec.Cmd
		})
		if !ok {
			t.Fatalf("%s engine does not build commands", tt.typ)
		}
		if env := cli.CreateCommand(context.Background(), "ps").Env; !slices.Contains(env, tt.want) {
			t.Errorf("%s command env lacks %s", tt.typ, tt.want)
		}
	}

	engine, err := r.Get(EngineTypeDockerAPI)
	if err != nil {
		t.Fatalf("Get(docker-api) error: %v", err)
	}
	api := engine.(*APIEngine)
	defer api.Close()
	if got := api.cli.DaemonHost(); got != host {
		t.Errorf("API daemon host = %s, want %s", got, host)
	}
}

// Integration tests - only run if container engine is available
func TestDockerEngine_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	engine := NewDockerEngine()
	if !engine.Available() {
		t.Skip("Docker is not available, skipping integration tests")
	}

	ctx := context.Background()

	t.Run("Version", func(t *testing.T) {
		version, err := engine.Version(ctx)
		if err != nil {
			t.Errorf("Version() returned error: %v", err)
		}
		if version == "" {
			t.Error("Version() returned empty string")
		}
		t.Logf("Docker version: %s", version)
	})

	t.Run("HasImage_NonExistent", func(t *testing.T) {
		exists, err := engine.HasImage(ctx, "boxstep-test-nonexistent-image:latest")
		if err != nil {
			t.Errorf("HasImage() returned error: %v", err)
		}
		if exists {
			t.Error("HasImage() returned true for non-existent image")
		}
	})
}

func TestPodmanEngine_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	engine := NewPodmanEngine()
	if !engine.Available() {
		t.Skip("Podman is not available, skipping integration tests")
	}

	ctx := context.Background()

	t.Run("Version", func(t *testing.T) {
		version, err := engine.Version(ctx)
		if err != nil {
			t.Errorf("Version() returned error: %v", err)
		}
		if version == "" {
			t.Error("Version() returned empty string")
		}
		t.Logf("Podman version: %s", version)
	})

	t.Run("HasImage_NonExistent", func(t *testing.T) {
		exists, err := engine.HasImage(ctx, "boxstep-test-nonexistent-image:latest")
		if err != nil {
			t.Errorf("HasImage() returned error: %v", err)
		}
		if exists {
			t.Error("HasImage() returned true for non-existent image")
		}
	})
}
