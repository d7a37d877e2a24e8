// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"maps"

	"github.com/boxstep/boxstep/internal/container"
)

const (
	// StateUnstarted means no container has been requested yet.
	StateUnstarted State = iota
	// StateStarting means a start request is in flight.
	StateStarting
	// StateRunning means the container id is recorded.
	StateRunning
	// StateTornDown is terminal.
	StateTornDown
)

type (
	// State is the lifecycle state of a Handle.
	State int

	// Handle records the container backing one Context. It is owned by that
	// Context and never shared.
	Handle struct {
		id       container.ContainerID
		imageID  string
		identity Identity
		mounts   *MountSet
		state    State
		enabled  bool

		// baseEnv is read from the running container once and then only read.
		baseEnv map[string]string
	}
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTornDown:
		return "torn down"
	default:
		return "unknown"
	}
}

// ID returns the container id, empty before start.
func (h *Handle) ID() container.ContainerID { return h.id }

// ImageID returns the resolved image id of the running container.
func (h *Handle) ImageID() string { return h.imageID }

// Identity returns the uid:gid commands run as.
func (h *Handle) Identity() Identity { return h.identity }

// State returns the lifecycle state.
func (h *Handle) State() State { return h.state }

// Enabled reports whether launches are redirected into the container.
func (h *Handle) Enabled() bool { return h.enabled }

// Mounts returns the mounts the container was started with.
func (h *Handle) Mounts() []Mount {
	if h.mounts == nil {
		return nil
	}
	return h.mounts.Sorted()
}

// BaseEnv returns a copy of the cached container environment, or nil if it
// has not been read yet.
func (h *Handle) BaseEnv() map[string]string { return maps.Clone(h.baseEnv) }
