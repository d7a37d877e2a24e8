// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/boxstep/boxstep/internal/issue"
)

const (
	// PortProtocolTCP is the TCP transport protocol for port mappings.
	PortProtocolTCP PortProtocol = "tcp"
	// PortProtocolUDP is the UDP transport protocol for port mappings.
	PortProtocolUDP PortProtocol = "udp"

	// SELinuxLabelNone means no SELinux label is applied to volume mounts.
	SELinuxLabelNone SELinuxLabel = ""
	// SELinuxLabelShared allows sharing the volume between containers.
	SELinuxLabelShared SELinuxLabel = "z"
	// SELinuxLabelPrivate restricts the volume to a single container.
	SELinuxLabelPrivate SELinuxLabel = "Z"

	// envTemplate lists the container's configured environment one entry per line.
	envTemplate = "{{range .Config.Env}}{{println .}}{{end}}"
)

var (
	// ErrInvalidPortProtocol is the sentinel error wrapped by InvalidPortProtocolError.
	ErrInvalidPortProtocol = errors.New("invalid port protocol")

	// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
	ErrInvalidVolumeMount = errors.New("invalid volume mount")

	// ErrInvalidPortMapping is the sentinel error wrapped by InvalidPortMappingError.
	ErrInvalidPortMapping = errors.New("invalid port mapping")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount for the -v flag.
	// Podman uses this to add SELinux labels (:z/:Z).
	VolumeFormatFunc func(volume VolumeMount) string

	// RunArgsTransformer modifies run arguments after they're built.
	// Used by Podman to inject --userns=keep-id for rootless compatibility.
	RunArgsTransformer func(args []string) []string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides common implementation for CLI-based container engines.
	// Docker and Podman engines embed this struct. Methods that are identical across
	// CLI engines are implemented here; Available, Version and HasImage remain on
	// the concrete types.
	BaseCLIEngine struct {
		name               string
		binaryPath         string
		execCommand        ExecCommandFunc
		volumeFormatter    VolumeFormatFunc
		runArgsTransformer RunArgsTransformer
		cmdEnvOverrides    map[string]string
	}

	// PortProtocol represents a network transport protocol for port mappings.
	// The zero value ("") is valid and means "default to tcp".
	PortProtocol string

	// InvalidPortProtocolError is returned when a PortProtocol is not a recognized protocol.
	InvalidPortProtocolError struct {
		Value PortProtocol
	}

	// SELinuxLabel represents an SELinux volume labeling option.
	SELinuxLabel string

	// VolumeMount represents a bind mount from the host into the container.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
		SELinux       SELinuxLabel
	}

	// PortMapping represents a published port.
	PortMapping struct {
		HostPort      uint16
		ContainerPort uint16
		Protocol      PortProtocol
	}

	// InvalidVolumeMountError is returned when a VolumeMount has one or more invalid fields.
	InvalidVolumeMountError struct {
		Value  VolumeMount
		Reason string
	}

	// InvalidPortMappingError is returned when a PortMapping has one or more invalid fields.
	InvalidPortMappingError struct {
		Value  PortMapping
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidPortProtocolError) Error() string {
	return fmt.Sprintf("invalid port protocol %q (valid: tcp, udp)", e.Value)
}

// Unwrap returns ErrInvalidPortProtocol so callers can use errors.Is for programmatic detection.
func (e *InvalidPortProtocolError) Unwrap() error { return ErrInvalidPortProtocol }

// Validate returns an error if the PortProtocol is not one of the defined protocols.
func (p PortProtocol) Validate() error {
	switch p {
	case PortProtocolTCP, PortProtocolUDP, "":
		return nil
	default:
		return &InvalidPortProtocolError{Value: p}
	}
}

// Error implements the error interface for InvalidVolumeMountError.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %s:%s: %s", e.Value.HostPath, e.Value.ContainerPath, e.Reason)
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is() compatibility.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Validate requires both paths and an absolute container path.
func (v VolumeMount) Validate() error {
	switch {
	case strings.TrimSpace(v.HostPath) == "":
		return &InvalidVolumeMountError{Value: v, Reason: "host path must be non-empty"}
	case strings.TrimSpace(v.ContainerPath) == "":
		return &InvalidVolumeMountError{Value: v, Reason: "container path must be non-empty"}
	case !strings.HasPrefix(v.ContainerPath, "/"):
		return &InvalidVolumeMountError{Value: v, Reason: "container path must be absolute"}
	}
	switch v.SELinux {
	case SELinuxLabelNone, SELinuxLabelShared, SELinuxLabelPrivate:
		return nil
	default:
		return &InvalidVolumeMountError{Value: v, Reason: fmt.Sprintf("unknown SELinux label %q", v.SELinux)}
	}
}

// String returns the volume mount in "host:container[:options]" format.
func (v VolumeMount) String() string {
	return FormatVolumeMount(v)
}

// Error implements the error interface for InvalidPortMappingError.
func (e *InvalidPortMappingError) Error() string {
	return fmt.Sprintf("invalid port mapping %d:%d/%s: %s",
		e.Value.HostPort, e.Value.ContainerPort, e.Value.Protocol, e.Reason)
}

// Unwrap returns ErrInvalidPortMapping for errors.Is() compatibility.
func (e *InvalidPortMappingError) Unwrap() error { return ErrInvalidPortMapping }

// Validate returns an error if any field of the PortMapping is invalid.
func (p PortMapping) Validate() error {
	if p.HostPort == 0 || p.ContainerPort == 0 {
		return &InvalidPortMappingError{Value: p, Reason: "ports must be greater than zero"}
	}
	if err := p.Protocol.Validate(); err != nil {
		return &InvalidPortMappingError{Value: p, Reason: err.Error()}
	}
	return nil
}

// String returns the port mapping in "host:container/protocol" format.
func (p PortMapping) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = PortProtocolTCP
	}
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, proto)
}

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithBinaryPath sets the engine binary. Later options override earlier
// ones, so callers can replace the path found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// WithRunArgsTransformer sets a custom run args transformer.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.runArgsTransformer = fn
	}
}

// WithCmdEnvOverride adds an environment variable applied to every exec.Cmd
// created by this engine (e.g. DOCKER_HOST).
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:         binaryPath,
		execCommand:        exec.CommandContext,
		volumeFormatter:    FormatVolumeMount,
		runArgsTransformer: func(args []string) []string { return args },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// BuildArgs constructs arguments for a container build command.
//
// Generated command: <binary> build [options] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.ForcePull {
		args = append(args, "--pull")
	}

	if opts.Dockerfile != "" {
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	if opts.Tag != "" {
		args = append(args, "-t", string(opts.Tag))
	}

	return append(args, opts.ContextDir)
}

// RunArgs constructs arguments for a detached container run.
// Secret variables are passed by name only; their values travel through the
// engine process environment (see RunDetached).
//
// Generated command: <binary> run -d -t [options] <image> <command...>
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run", "-d", "-t"}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	args = appendEnvArgs(args, opts.Env, opts.SecretKeys)

	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}

	for _, p := range opts.Ports {
		args = append(args, "-p", FormatPortMapping(p))
	}

	if opts.Network != "" {
		args = append(args, "--net", opts.Network)
	}

	if opts.Memory != "" {
		args = append(args, "-m", opts.Memory)
	}

	if opts.CPU != "" {
		args = append(args, "--cpu-shares", opts.CPU)
	}

	if opts.Privileged {
		args = append(args, "--privileged")
	}

	args = append(args, string(opts.Image))
	args = append(args, opts.Command...)

	return e.runArgsTransformer(args)
}

// ExecArgs constructs arguments for a container exec command. Secret
// variables are passed by name only, as in RunArgs.
//
// Generated command: <binary> exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.Stdin != nil {
		args = append(args, "-i")
	}

	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	if opts.Privileged {
		args = append(args, "--privileged")
	}

	args = appendEnvArgs(args, opts.Env, opts.SecretKeys)

	args = append(args, string(opts.ContainerID))
	return append(args, opts.Command...)
}

// StopArgs constructs arguments for stopping a container.
func (e *BaseCLIEngine) StopArgs(id ContainerID) []string {
	return []string{"stop", "--time=1", string(id)}
}

// RemoveArgs constructs arguments for a forced container remove command.
func (e *BaseCLIEngine) RemoveArgs(id ContainerID) []string {
	return []string{"rm", "-f", string(id)}
}

// --- Command Execution ---

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
// Stderr is folded into the returned error.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(errOut.String()); msg != "" {
			return "", fmt.Errorf("command %s %v failed: %w: %s", e.binaryPath, args, err, msg)
		}
		return "", fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}

	return out.String(), nil
}

// CreateCommand creates an exec.Cmd for the given arguments.
// Engine-level env overrides are applied automatically.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	if len(e.cmdEnvOverrides) > 0 {
		cmd.Env = append(baseCmdEnv(cmd), envPairs(e.cmdEnvOverrides)...)
	}
	return cmd
}

// --- Promoted Engine Methods (shared by Docker and Podman) ---

// PullImage pulls image, streaming progress to opts.Output.
func (e *BaseCLIEngine) PullImage(ctx context.Context, image ImageTag, opts PullOptions) error {
	cmd := e.CreateCommand(ctx, "pull", string(image))
	var errOut bytes.Buffer
	cmd.Stdout = opts.Output
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return pullImageError(e.name, image, withStderr(err, &errOut))
	}
	return nil
}

// BuildImage builds an image from a Dockerfile and returns opts.Tag.
func (e *BaseCLIEngine) BuildImage(ctx context.Context, opts BuildOptions) (ImageTag, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return "", buildContainerError(e.name, opts, err)
	}

	return opts.Tag, nil
}

// RunDetached starts a detached container and resolves the image ID it runs.
func (e *BaseCLIEngine) RunDetached(ctx context.Context, opts RunOptions) (*Started, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	args := e.RunArgs(opts)
	level := slog.LevelDebug
	if opts.Verbose {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "starting container", "engine", e.name, "args", strings.Join(args, " "))

	cmd := e.CreateCommand(ctx, args...)
	setSecretEnv(cmd, opts.Env, opts.SecretKeys)

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return nil, runContainerError(e.name, opts, withStderr(err, &errOut))
	}

	id := ContainerID(lastLine(out.String()))
	if id == "" {
		return nil, runContainerError(e.name, opts, errors.New("engine returned no container ID"))
	}

	imageID, err := e.RunCommandWithOutput(ctx, "inspect", "-f", "{{.Image}}", string(id))
	if err != nil {
		slog.Warn("could not resolve container image ID", "container", id.Short(), "error", err)
	}

	return &Started{ID: id, ImageID: strings.TrimSpace(imageID)}, nil
}

// ExecuteIn runs a command in a running container.
func (e *BaseCLIEngine) ExecuteIn(ctx context.Context, opts ExecOptions) (ExitCode, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(opts)...)
	setSecretEnv(cmd, opts.Env, opts.SecretKeys)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 1, fmt.Errorf("exec in %s interrupted: %w", opts.ContainerID.Short(), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitCode(exitErr.ExitCode()), nil
	}
	return 1, fmt.Errorf("exec in %s: %w", opts.ContainerID.Short(), err)
}

// Env returns the container's configured environment.
func (e *BaseCLIEngine) Env(ctx context.Context, id ContainerID) (map[string]string, error) {
	out, err := e.RunCommandWithOutput(ctx, "inspect", "-f", envTemplate, string(id))
	if err != nil {
		return nil, err
	}
	return ParseEnv(strings.Split(out, "\n")), nil
}

// Stop stops the container and removes it. Removal is attempted even when
// the stop request fails.
func (e *BaseCLIEngine) Stop(ctx context.Context, id ContainerID) error {
	stopErr := e.RunCommandStatus(ctx, e.StopArgs(id)...)
	if err := e.RunCommandStatus(ctx, e.RemoveArgs(id)...); err != nil {
		return errors.Join(stopErr, err)
	}
	return nil
}

// --- Formatting and Parsing ---

// FormatVolumeMount formats a volume mount as a string for -v flag.
func FormatVolumeMount(mount VolumeMount) string {
	var result strings.Builder
	result.WriteString(mount.HostPath)
	result.WriteString(":")
	result.WriteString(mount.ContainerPath)

	var options []string
	if mount.ReadOnly {
		options = append(options, "ro")
	}
	if mount.SELinux != "" {
		options = append(options, string(mount.SELinux))
	}

	if len(options) > 0 {
		result.WriteString(":")
		result.WriteString(strings.Join(options, ","))
	}

	return result.String()
}

// ParseVolumeMount parses host_path:container_path[:options].
// Options can include: ro, rw, z, Z.
func ParseVolumeMount(volume string) (VolumeMount, error) {
	mount := VolumeMount{}

	parts := strings.Split(volume, ":")
	if len(parts) >= 1 {
		mount.HostPath = parts[0]
	}
	if len(parts) >= 2 {
		mount.ContainerPath = parts[1]
	}
	if len(parts) >= 3 {
		for opt := range strings.SplitSeq(parts[2], ",") {
			switch opt {
			case "ro":
				mount.ReadOnly = true
			case "z", "Z":
				mount.SELinux = SELinuxLabel(opt)
			}
		}
	}

	return mount, mount.Validate()
}

// FormatPortMapping formats a port mapping as a string for -p flag.
func FormatPortMapping(mapping PortMapping) string {
	result := fmt.Sprintf("%d:%d", mapping.HostPort, mapping.ContainerPort)
	if mapping.Protocol != "" && mapping.Protocol != PortProtocolTCP {
		result += "/" + string(mapping.Protocol)
	}
	return result
}

// ParsePortMapping parses "hostPort:containerPort[/protocol]".
func ParsePortMapping(portStr string) (PortMapping, error) {
	mapping := PortMapping{}

	hostPart, containerPart, ok := strings.Cut(portStr, ":")
	if !ok {
		return mapping, fmt.Errorf("invalid port mapping format %q: must contain ':' separator", portStr)
	}

	hostPort, err := strconv.ParseUint(hostPart, 10, 16)
	if err != nil {
		return mapping, fmt.Errorf("invalid host port %q: %w", hostPart, err)
	}
	mapping.HostPort = uint16(hostPort)

	portPart, proto, _ := strings.Cut(containerPart, "/")
	containerPort, err := strconv.ParseUint(portPart, 10, 16)
	if err != nil {
		return mapping, fmt.Errorf("invalid container port %q: %w", portPart, err)
	}
	mapping.ContainerPort = uint16(containerPort)
	mapping.Protocol = PortProtocol(proto)

	return mapping, mapping.Validate()
}

// --- Helpers ---

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

// appendEnvArgs adds one -e flag per variable. Secret keys are named
// without their value; the engine reads it from its own environment.
func appendEnvArgs(args []string, env map[string]string, secrets []string) []string {
	for _, k := range sortedKeys(env) {
		if slices.Contains(secrets, k) {
			args = append(args, "-e", k)
			continue
		}
		args = append(args, "-e", k+"="+env[k])
	}
	return args
}

// setSecretEnv puts the values of secret keys into the engine process
// environment.
func setSecretEnv(cmd *exec.Cmd, env map[string]string, secrets []string) {
	if len(secrets) == 0 {
		return
	}
	procEnv := baseCmdEnv(cmd)
	for _, k := range secrets {
		if v, ok := env[k]; ok {
			procEnv = append(procEnv, k+"="+v)
		}
	}
	cmd.Env = procEnv
}

// baseCmdEnv returns the env a command will run with, materialized so it
// can be extended.
func baseCmdEnv(cmd *exec.Cmd) []string {
	if cmd.Env != nil {
		return cmd.Env
	}
	return os.Environ()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func withStderr(err error, stderr *bytes.Buffer) error {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// --- Actionable Error Helpers ---

// pullImageError creates an actionable error for image pull failures.
func pullImageError(engine string, image ImageTag, cause error) error {
	return issue.NewErrorContext().
		WithOperation("pull container image").
		WithResource(string(image)).
		WithSuggestion("Check the image name and tag for typos").
		WithSuggestion("Verify registry credentials (try: "+engine+" login)").
		WithSuggestion("Check network access to the registry").
		Wrap(cause).
		BuildError()
}

// buildContainerError creates an actionable error for container build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image")

	switch {
	case opts.Dockerfile != "":
		ctx.WithResource(filepath.Join(opts.ContextDir, opts.Dockerfile))
	case opts.ContextDir != "":
		ctx.WithResource(opts.ContextDir + "/Dockerfile")
	case opts.Tag != "":
		ctx.WithResource(string(opts.Tag))
	}

	ctx.WithSuggestion("Check Dockerfile syntax for errors")
	ctx.WithSuggestion("Verify the build context path exists and is accessible")
	ctx.WithSuggestion("Ensure base images are available (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Run with --verbose to see full build output")

	return ctx.Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for container run failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("run container").
		WithResource(string(opts.Image))

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	ctx.WithSuggestion("Check that volume mount paths exist on the host")
	ctx.WithSuggestion("Ensure port mappings don't conflict with running services")
	ctx.WithSuggestion("Run with --verbose to see the full engine command line")

	return ctx.Wrap(cause).BuildError()
}
