// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"cmp"
	"slices"

	"github.com/boxstep/boxstep/internal/container"
)

type (
	// Mount binds a host path into the container.
	Mount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
		SELinux       container.SELinuxLabel
	}

	// MountSet holds mounts under set semantics: the same pair added twice
	// is kept once.
	MountSet struct {
		m map[Mount]struct{}
	}
)

// NewMountSet returns a set containing mounts.
func NewMountSet(mounts ...Mount) *MountSet {
	s := &MountSet{m: make(map[Mount]struct{}, len(mounts))}
	s.Add(mounts...)
	return s
}

// Add inserts mounts. A mount without a container path is mounted at its
// host path.
func (s *MountSet) Add(mounts ...Mount) {
	for _, m := range mounts {
		if m.HostPath == "" {
			continue
		}
		if m.ContainerPath == "" {
			m.ContainerPath = m.HostPath
		}
		s.m[m] = struct{}{}
	}
}

// Contains reports whether the exact pair is present.
func (s *MountSet) Contains(m Mount) bool {
	_, ok := s.m[m]
	return ok
}

// Len returns the number of distinct mounts.
func (s *MountSet) Len() int { return len(s.m) }

// Sorted returns the mounts ordered by container path, then host path.
func (s *MountSet) Sorted() []Mount {
	out := make([]Mount, 0, len(s.m))
	for m := range s.m {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Mount) int {
		return cmp.Or(cmp.Compare(a.ContainerPath, b.ContainerPath), cmp.Compare(a.HostPath, b.HostPath))
	})
	return out
}

// Volumes converts the set into engine volume mounts.
func (s *MountSet) Volumes() []container.VolumeMount {
	sorted := s.Sorted()
	vols := make([]container.VolumeMount, 0, len(sorted))
	for _, m := range sorted {
		vols = append(vols, container.VolumeMount{
			HostPath:      m.HostPath,
			ContainerPath: m.ContainerPath,
			ReadOnly:      m.ReadOnly,
			SELinux:       m.SELinux,
		})
	}
	return vols
}
