// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/launch"
)

// fakeEngine records every call made through the container.Engine contract.
type fakeEngine struct {
	present     map[container.ImageTag]bool
	hasImageErr error
	pullErr     error
	buildRef    container.ImageTag
	buildErr    error
	runErr      error
	env         map[string]string
	envErr      error
	stopErr     error
	execFn      func(ctx context.Context, opts container.ExecOptions) (container.ExitCode, error)

	calls  []string
	pulls  []container.ImageTag
	builds []container.BuildOptions
	runs   []container.RunOptions
	execs  []container.ExecOptions
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		present: make(map[container.ImageTag]bool),
		env:     map[string]string{"PATH": "/usr/local/bin:/usr/bin:/bin", "HOME": "/root"},
	}
}

func (f *fakeEngine) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Available() bool { return true }

func (f *fakeEngine) Version(context.Context) (string, error) { return "1.0", nil }

func (f *fakeEngine) HasImage(ctx context.Context, image container.ImageTag) (bool, error) {
	f.calls = append(f.calls, "has")
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.present[image], f.hasImageErr
}

func (f *fakeEngine) PullImage(_ context.Context, image container.ImageTag, _ container.PullOptions) error {
	f.calls = append(f.calls, "pull")
	f.pulls = append(f.pulls, image)
	return f.pullErr
}

func (f *fakeEngine) BuildImage(_ context.Context, opts container.BuildOptions) (container.ImageTag, error) {
	f.calls = append(f.calls, "build")
	f.builds = append(f.builds, opts)
	if f.buildErr != nil {
		return "", f.buildErr
	}
	if f.buildRef != "" {
		return f.buildRef, nil
	}
	return opts.Tag, nil
}

func (f *fakeEngine) RunDetached(_ context.Context, opts container.RunOptions) (*container.Started, error) {
	f.calls = append(f.calls, "run")
	f.runs = append(f.runs, opts)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &container.Started{ID: "c0ffee0123456789", ImageID: "sha256:abc"}, nil
}

func (f *fakeEngine) ExecuteIn(ctx context.Context, opts container.ExecOptions) (container.ExitCode, error) {
	f.calls = append(f.calls, "exec")
	f.execs = append(f.execs, opts)
	if f.execFn != nil {
		return f.execFn(ctx, opts)
	}
	return 0, nil
}

func (f *fakeEngine) Env(context.Context, container.ContainerID) (map[string]string, error) {
	f.calls = append(f.calls, "env")
	if f.envErr != nil {
		return nil, f.envErr
	}
	return f.env, nil
}

func (f *fakeEngine) Stop(context.Context, container.ContainerID) error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

// fakeHost answers `id -u` / `id -g` and records every other launch.
type fakeHost struct {
	uid, gid string
	idErr    error
	launches []launch.ProcSpec
}

func newFakeHost() *fakeHost {
	return &fakeHost{uid: "1000", gid: "1001"}
}

func (h *fakeHost) Launch(_ context.Context, spec launch.ProcSpec) (launch.Proc, error) {
	h.launches = append(h.launches, spec)
	if slices.Equal(spec.Cmd, []string{"id", "-u"}) || slices.Equal(spec.Cmd, []string{"id", "-g"}) {
		if h.idErr != nil {
			return nil, h.idErr
		}
		out := h.uid
		if spec.Cmd[1] == "-g" {
			out = h.gid
		}
		fmt.Fprintln(spec.Stdout, out)
	}
	return launch.Completed(0, nil), nil
}

func (h *fakeHost) commands() []string {
	out := make([]string, 0, len(h.launches))
	for _, l := range h.launches {
		out = append(out, strings.Join(l.Cmd, " "))
	}
	return out
}

var errBoom = errors.New("boom")
