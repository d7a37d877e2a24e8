// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/launch"
)

// Launcher wraps a host launcher. Until its Context is enabled it forwards
// every launch unchanged; afterwards it runs each process inside the build
// container with the reconciled environment and the context's identity.
type Launcher struct {
	inner launch.Launcher
	bc    *Context
}

var _ launch.Launcher = (*Launcher)(nil)

// Launch runs spec. In container mode the call blocks until the process
// exits and returns a completed Proc with its exit status.
func (l *Launcher) Launch(ctx context.Context, spec launch.ProcSpec) (launch.Proc, error) {
	if !l.bc.handle.enabled {
		return l.inner.Launch(ctx, spec)
	}
	if len(spec.Cmd) == 0 {
		return nil, fmt.Errorf("launch: empty command")
	}

	base, err := l.bc.baseEnv(ctx)
	if err != nil {
		return nil, err
	}

	overlays := slices.Concat(l.bc.opts.EnvContributors, []map[string]string{spec.Env})
	env, violation := Reconcile(base, overlays...)
	if violation != nil {
		slog.Warn("environment override reverted", "key", violation.Key, "attempted", violation.Attempted)
		if spec.Stderr != nil {
			fmt.Fprintf(spec.Stderr, "WARNING: %s\n", violation.Error())
		}
	}

	dir := spec.Dir
	if dir == "" {
		dir = l.bc.opts.Workspace
	}

	h := &l.bc.handle
	if !spec.Quiet {
		level := slog.LevelDebug
		if l.bc.opts.Spec.Verbose {
			level = slog.LevelInfo
		}
		slog.Log(ctx, level, "exec in build container", "container", h.id.Short(), "cmd", strings.Join(spec.Cmd, " "), "dir", dir)
	}

	code, err := l.bc.engine.ExecuteIn(ctx, container.ExecOptions{
		ContainerID: h.id,
		User:        h.identity.String(),
		Command:     spec.Cmd,
		Env:         env,
		SecretKeys:  secretKeys(env, l.bc.opts.SecretKeys),
		WorkDir:     dir,
		Privileged:  l.bc.opts.Spec.Privileged,
		Stdin:       spec.Stdin,
		Stdout:      spec.Stdout,
		Stderr:      spec.Stderr,
	})
	if err != nil {
		if cerr := asCancellation(ctx, "container exec", err); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("exec %s in container %s: %w", spec.Cmd[0], h.id.Short(), err)
	}
	return launch.Completed(launch.ExitCode(code), nil), nil
}
