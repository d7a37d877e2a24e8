// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
)

type (
	// ExecCommandFunc creates exec.Cmd instances; tests replace it with a mock.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// HostLauncher runs processes directly on the host. The child inherits
	// the current process environment with ProcSpec.Env layered on top.
	HostLauncher struct {
		execCommand ExecCommandFunc
		environ     func() []string
	}

	// HostLauncherOption configures a HostLauncher.
	HostLauncherOption func(*HostLauncher)

	hostProc struct {
		ctx context.Context
		cmd *exec.Cmd
	}
)

// WithExecCommand overrides command construction.
func WithExecCommand(fn ExecCommandFunc) HostLauncherOption {
	return func(l *HostLauncher) {
		l.execCommand = fn
	}
}

// WithEnviron overrides the inherited base environment.
func WithEnviron(fn func() []string) HostLauncherOption {
	return func(l *HostLauncher) {
		l.environ = fn
	}
}

// NewHostLauncher creates a host launcher.
func NewHostLauncher(opts ...HostLauncherOption) *HostLauncher {
	l := &HostLauncher{
		execCommand: exec.CommandContext,
		environ:     os.Environ,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch starts the process described by spec.
func (l *HostLauncher) Launch(ctx context.Context, spec ProcSpec) (Proc, error) {
	if len(spec.Cmd) == 0 {
		return nil, errors.New("launch: empty command")
	}
	if !spec.Quiet {
		slog.Debug("launching host process", "cmd", strings.Join(spec.Cmd, " "), "dir", spec.Dir)
	}

	cmd := l.execCommand(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnviron(baseEnviron(cmd, l.environ), spec.Env)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Cmd[0], err)
	}
	return &hostProc{ctx: ctx, cmd: cmd}, nil
}

func (p *hostProc) Wait() (ExitCode, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ctxErr := p.ctx.Err(); ctxErr != nil {
		return 1, fmt.Errorf("%s interrupted: %w", p.cmd.Path, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := ExitCode(exitErr.ExitCode())
		if code.Validate() != nil {
			// Killed by a signal.
			return 1, fmt.Errorf("%s: %w", p.cmd.Path, err)
		}
		return code, nil
	}
	return 1, fmt.Errorf("wait %s: %w", p.cmd.Path, err)
}

// baseEnviron keeps any environment the command factory already set.
func baseEnviron(cmd *exec.Cmd, environ func() []string) []string {
	if cmd.Env != nil {
		return cmd.Env
	}
	return environ()
}

// mergeEnviron overlays env onto base, replacing existing keys in place and
// appending new ones in sorted order.
func mergeEnviron(base []string, env map[string]string) []string {
	out := make([]string, 0, len(base)+len(env))
	seen := make(map[string]bool, len(env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := env[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
