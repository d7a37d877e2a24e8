// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	archive "github.com/moby/go-archive"
)

// apiStopTimeout is the grace period, in seconds, given to the keep-alive command.
const apiStopTimeout = 1

// APIEngine implements Engine against the Docker Engine API.
type APIEngine struct {
	cli *client.Client
}

// NewAPIEngine connects using the standard DOCKER_HOST environment and
// negotiates the API version. opts are applied after the environment, so
// client.WithHost overrides DOCKER_HOST.
func NewAPIEngine(opts ...client.Opt) (*APIEngine, error) {
	all := append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(all...)
	if err != nil {
		return nil, &EngineNotAvailableError{Engine: EngineTypeDockerAPI, Reason: err.Error()}
	}
	return &APIEngine{cli: cli}, nil
}

// NewAPIEngineWithClient wraps an existing API client.
func NewAPIEngineWithClient(cli *client.Client) *APIEngine {
	return &APIEngine{cli: cli}
}

// Name returns the engine name.
func (e *APIEngine) Name() string {
	return string(EngineTypeDockerAPI)
}

// Available pings the daemon.
func (e *APIEngine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := e.cli.Ping(ctx)
	return err == nil
}

// Version returns the daemon version.
func (e *APIEngine) Version(ctx context.Context) (string, error) {
	v, err := e.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get docker version: %w", err)
	}
	return v.Version, nil
}

// Close releases the API client.
func (e *APIEngine) Close() error {
	return e.cli.Close()
}

// HasImage checks if an image exists locally.
func (e *APIEngine) HasImage(ctx context.Context, ref ImageTag) (bool, error) {
	_, err := e.cli.ImageInspect(ctx, string(ref))
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w", ref, err)
}

// PullImage pulls ref and renders the progress stream to opts.Output.
func (e *APIEngine) PullImage(ctx context.Context, ref ImageTag, opts PullOptions) error {
	rc, err := e.cli.ImagePull(ctx, string(ref), image.PullOptions{})
	if err != nil {
		return pullImageError(e.Name(), ref, err)
	}
	defer rc.Close()

	if err := displayStream(rc, opts.Output); err != nil {
		return pullImageError(e.Name(), ref, err)
	}
	return nil
}

// BuildImage tars the context directory and builds it with the daemon.
func (e *APIEngine) BuildImage(ctx context.Context, opts BuildOptions) (ImageTag, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	tar, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", buildContainerError(e.Name(), opts, fmt.Errorf("archive build context: %w", err))
	}
	defer tar.Close()

	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := e.cli.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:        []string{string(opts.Tag)},
		Dockerfile:  filepath.ToSlash(dockerfile),
		PullParent:  opts.ForcePull,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", buildContainerError(e.Name(), opts, err)
	}
	defer resp.Body.Close()

	if err := displayStream(resp.Body, opts.Stdout); err != nil {
		return "", buildContainerError(e.Name(), opts, err)
	}
	return opts.Tag, nil
}

// RunDetached creates and starts a container with a TTY so the keep-alive
// command blocks.
func (e *APIEngine) RunDetached(ctx context.Context, opts RunOptions) (*Started, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cfg, hostCfg, err := apiRunConfig(opts)
	if err != nil {
		return nil, runContainerError(e.Name(), opts, err)
	}
	level := slog.LevelDebug
	if opts.Verbose {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "creating container", "engine", e.Name(), "image", opts.Image, "name", opts.Name,
		"mounts", hostCfg.Binds, "network", hostCfg.NetworkMode)

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return nil, runContainerError(e.Name(), opts, err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("container create warning", "container", ContainerID(resp.ID).Short(), "warning", w)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		removeCtx := context.WithoutCancel(ctx)
		_ = e.cli.ContainerRemove(removeCtx, resp.ID, dockercontainer.RemoveOptions{Force: true})
		return nil, runContainerError(e.Name(), opts, err)
	}

	started := &Started{ID: ContainerID(resp.ID)}
	if inspect, err := e.cli.ContainerInspect(ctx, resp.ID); err == nil {
		started.ImageID = inspect.Image
	} else {
		slog.Warn("could not resolve container image ID", "container", started.ID.Short(), "error", err)
	}
	return started, nil
}

// ExecuteIn runs a command through exec create/attach and demultiplexes the
// output onto the caller's writers.
func (e *APIEngine) ExecuteIn(ctx context.Context, opts ExecOptions) (ExitCode, error) {
	execResp, err := e.cli.ContainerExecCreate(ctx, string(opts.ContainerID), dockercontainer.ExecOptions{
		User:         opts.User,
		Privileged:   opts.Privileged,
		AttachStdin:  opts.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		Env:          envPairs(opts.Env),
		WorkingDir:   opts.WorkDir,
		Cmd:          opts.Command,
	})
	if err != nil {
		return 1, fmt.Errorf("create exec in %s: %w", opts.ContainerID.Short(), err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return 1, fmt.Errorf("attach exec in %s: %w", opts.ContainerID.Short(), err)
	}
	defer attach.Close()

	if opts.Stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, opts.Stdin)
			_ = attach.CloseWrite()
		}()
	}

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(writerOrDiscard(opts.Stdout), writerOrDiscard(opts.Stderr), attach.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		return 1, fmt.Errorf("exec in %s interrupted: %w", opts.ContainerID.Short(), ctx.Err())
	case err := <-copyDone:
		if err != nil {
			return 1, fmt.Errorf("read exec output from %s: %w", opts.ContainerID.Short(), err)
		}
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return 1, fmt.Errorf("inspect exec in %s: %w", opts.ContainerID.Short(), err)
	}
	return ExitCode(inspect.ExitCode), nil
}

// Env returns the container's configured environment.
func (e *APIEngine) Env(ctx context.Context, id ContainerID) (map[string]string, error) {
	inspect, err := e.cli.ContainerInspect(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", id.Short(), err)
	}
	if inspect.Config == nil {
		return map[string]string{}, nil
	}
	return ParseEnv(inspect.Config.Env), nil
}

// Stop stops the container and force-removes it.
func (e *APIEngine) Stop(ctx context.Context, id ContainerID) error {
	timeout := apiStopTimeout
	stopErr := e.cli.ContainerStop(ctx, string(id), dockercontainer.StopOptions{Timeout: &timeout})
	if cerrdefs.IsNotFound(stopErr) {
		stopErr = nil
	}
	if err := e.cli.ContainerRemove(ctx, string(id), dockercontainer.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return errors.Join(stopErr, fmt.Errorf("remove container %s: %w", id.Short(), err))
	}
	return nil
}

// apiRunConfig translates RunOptions into Engine API create payloads.
func apiRunConfig(opts RunOptions) (*dockercontainer.Config, *dockercontainer.HostConfig, error) {
	portSpecs := make([]string, 0, len(opts.Ports))
	for _, p := range opts.Ports {
		portSpecs = append(portSpecs, p.String())
	}
	exposed, bindings, err := nat.ParsePortSpecs(portSpecs)
	if err != nil {
		return nil, nil, fmt.Errorf("parse port mappings: %w", err)
	}

	cfg := &dockercontainer.Config{
		Image:        string(opts.Image),
		Cmd:          opts.Command,
		WorkingDir:   opts.WorkDir,
		Env:          envPairs(opts.Env),
		Tty:          true,
		OpenStdin:    true,
		ExposedPorts: exposed,
	}

	binds := make([]string, 0, len(opts.Volumes))
	for _, v := range opts.Volumes {
		binds = append(binds, FormatVolumeMount(v))
	}

	hostCfg := &dockercontainer.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		NetworkMode:  dockercontainer.NetworkMode(opts.Network),
		Privileged:   opts.Privileged,
	}

	if opts.Memory != "" {
		mem, err := units.RAMInBytes(opts.Memory)
		if err != nil {
			return nil, nil, fmt.Errorf("parse memory limit %q: %w", opts.Memory, err)
		}
		hostCfg.Memory = mem
	}
	if opts.CPU != "" {
		shares, err := strconv.ParseInt(strings.TrimSpace(opts.CPU), 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parse cpu shares %q: %w", opts.CPU, err)
		}
		hostCfg.CPUShares = shares
	}

	return cfg, hostCfg, nil
}

// displayStream renders a JSON progress stream and surfaces the first error
// message the daemon embeds in it.
func displayStream(in io.Reader, out io.Writer) error {
	fd, isTerm := uintptr(0), false
	if f, ok := out.(*os.File); ok {
		fd = f.Fd()
		isTerm = isTerminal(f)
	}
	return jsonmessage.DisplayJSONMessagesStream(in, writerOrDiscard(out), fd, isTerm, nil)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
