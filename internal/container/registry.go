// SPDX-License-Identifier: MPL-2.0

package container

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/docker/docker/client"
)

type (
	// Factory constructs an engine. Construction must be cheap; availability
	// is checked separately.
	Factory func() (Engine, error)

	// Registry maps engine types to factories. It is built once at process
	// start and passed to whoever needs an engine.
	Registry struct {
		factories map[EngineType]Factory
		order     []EngineType
	}
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[EngineType]Factory),
	}
}

// NewDefaultRegistry registers the docker CLI, podman CLI and Docker API
// engines, in that fallback order. A non-empty host is the daemon address
// every engine connects to: DOCKER_HOST for docker, CONTAINER_HOST for
// podman.
func NewDefaultRegistry(host string) *Registry {
	var dockerOpts, podmanOpts []BaseCLIEngineOption
	var apiOpts []client.Opt
	if host != "" {
		dockerOpts = append(dockerOpts, WithCmdEnvOverride("DOCKER_HOST", host))
		podmanOpts = append(podmanOpts, WithCmdEnvOverride("CONTAINER_HOST", host))
		apiOpts = append(apiOpts, client.WithHost(host))
	}

	r := NewRegistry()
	r.Register(EngineTypeDocker, func() (Engine, error) { return NewDockerEngine(dockerOpts...), nil })
	r.Register(EngineTypePodman, func() (Engine, error) { return NewPodmanEngine(podmanOpts...), nil })
	r.Register(EngineTypeDockerAPI, func() (Engine, error) { return NewAPIEngine(apiOpts...) })
	return r
}

// Register adds or replaces a factory. New types are appended to the
// fallback order.
func (r *Registry) Register(typ EngineType, f Factory) {
	if _, ok := r.factories[typ]; !ok {
		r.order = append(r.order, typ)
	}
	r.factories[typ] = f
}

// Types returns the registered engine types in fallback order.
func (r *Registry) Types() []EngineType {
	return slices.Clone(r.order)
}

// Get constructs the engine registered under typ.
func (r *Registry) Get(typ EngineType) (Engine, error) {
	f, ok := r.factories[typ]
	if !ok {
		return nil, fmt.Errorf("container engine '%s' not registered (registered: %s)", typ, r.typeList())
	}
	return f()
}

// Select returns the preferred engine if it is available, otherwise the
// first available engine in fallback order.
func (r *Registry) Select(preferred EngineType) (Engine, error) {
	candidates := r.Types()
	if preferred != "" {
		if _, ok := r.factories[preferred]; !ok {
			return nil, fmt.Errorf("unknown container engine type: %s", preferred)
		}
		candidates = slices.DeleteFunc(candidates, func(t EngineType) bool { return t == preferred })
		candidates = append([]EngineType{preferred}, candidates...)
	}

	for _, typ := range candidates {
		engine, err := r.Get(typ)
		if err != nil {
			slog.Debug("container engine construction failed", "engine", typ, "error", err)
			continue
		}
		if engine.Available() {
			if typ != preferred && preferred != "" {
				slog.Warn("preferred container engine unavailable, falling back", "preferred", preferred, "engine", typ)
			}
			return engine, nil
		}
		slog.Debug("container engine not available", "engine", typ)
	}

	name := preferred
	if name == "" {
		name = "any"
	}
	return nil, &EngineNotAvailableError{
		Engine: name,
		Reason: fmt.Sprintf("none of the registered engines (%s) is available on this system", r.typeList()),
	}
}

func (r *Registry) typeList() string {
	names := make([]string, 0, len(r.order))
	for _, t := range r.order {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
