// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"fmt"

	"github.com/boxstep/boxstep/internal/launch"
)

// Identity is the numeric user the container commands run as.
type Identity struct {
	UID string
	GID string
}

// String returns "uid:gid".
func (i Identity) String() string { return i.UID + ":" + i.GID }

// ResolveIdentity asks the host for the current uid and, unless group is set,
// gid. Files the build writes to bind mounts then belong to the agent user.
func ResolveIdentity(ctx context.Context, host launch.Launcher, group string) (Identity, error) {
	uid, err := launch.Output(ctx, host, launch.ProcSpec{Cmd: []string{"id", "-u"}})
	if err != nil {
		return Identity{}, fmt.Errorf("resolve user id: %w", err)
	}

	gid := group
	if gid == "" {
		gid, err = launch.Output(ctx, host, launch.ProcSpec{Cmd: []string{"id", "-g"}})
		if err != nil {
			return Identity{}, fmt.Errorf("resolve group id: %w", err)
		}
	}

	return Identity{UID: uid, GID: gid}, nil
}
