// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ContainerEngineDocker uses the docker CLI.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman uses the podman CLI.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDockerAPI talks to the Docker Engine API directly.
	ContainerEngineDockerAPI ContainerEngine = "docker-api"

	// LogLevelDebug enables engine command lines and lifecycle details.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn only reports problems.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError only reports failures.
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container engine to prefer.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// LogLevel is the minimum level of log records written to stderr.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// ContainerEngine is the preferred engine: "docker", "podman" or "docker-api".
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// Container configures the build container.
		Container ContainerConfig `json:"container" mapstructure:"container"`
		// Agent describes the directories of the machine running builds.
		Agent AgentConfig `json:"agent" mapstructure:"agent"`
		// Mounts lists additional host directories.
		Mounts MountsConfig `json:"mounts" mapstructure:"mounts"`
		// UI configures the user interface.
		UI UIConfig `json:"ui" mapstructure:"ui"`
		// Log configures logging.
		Log LogConfig `json:"log" mapstructure:"log"`

		// Source is the file the configuration was read from, empty for defaults.
		Source string `json:"-" mapstructure:"-"`
	}

	// ContainerConfig configures the build container.
	ContainerConfig struct {
		// DefaultCommand keeps the container alive when a job sets no command.
		DefaultCommand string `json:"default_command" mapstructure:"default_command"`
		// StopTimeout bounds container teardown.
		StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
		// PullRetries is the number of attempts for transient pull failures.
		PullRetries int `json:"pull_retries" mapstructure:"pull_retries"`
		// Host is the engine daemon address, e.g. unix:///run/user/1000/docker.sock.
		// Empty uses the engine's own default.
		Host string `json:"host,omitempty" mapstructure:"host"`
	}

	// AgentConfig describes the build agent's directories.
	AgentConfig struct {
		RootDir        string `json:"root_dir" mapstructure:"root_dir"`
		CIDataDir      string `json:"ci_data_dir" mapstructure:"ci_data_dir"`
		BuildDataMount string `json:"build_data_mount" mapstructure:"build_data_mount"`
	}

	// MountsConfig lists host directories made available to builds.
	MountsConfig struct {
		Tools []ToolMount `json:"tools" mapstructure:"tools"`
	}

	// ToolMount is a host tool directory. An empty ContainerPath mounts it at
	// its host path. Paths missing on the host are skipped when a build starts.
	ToolMount struct {
		HostPath      string `json:"host_path" mapstructure:"host_path"`
		ContainerPath string `json:"container_path,omitempty" mapstructure:"container_path"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// Verbose prints engine command lines and full error details.
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineDocker,
		Container: ContainerConfig{
			DefaultCommand: "/bin/cat",
			StopTimeout:    30 * time.Second,
			PullRetries:    3,
		},
		Agent: AgentConfig{
			CIDataDir:      defaultCIDataDir(),
			BuildDataMount: "/build-data",
		},
		Mounts: MountsConfig{Tools: defaultToolMounts()},
		Log:    LogConfig{Level: LogLevelInfo},
	}
}

// defaultCIDataDir places build data under the user cache directory.
func defaultCIDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, "ci-data")
}

// defaultToolMounts exposes the agent user's credentials and caches to the
// container's root user, plus a host kubectl.
func defaultToolMounts() []ToolMount {
	mounts := make([]ToolMount, 0, 5)
	if home, err := os.UserHomeDir(); err == nil && filepath.IsAbs(home) {
		for _, name := range []string{".ssh", ".m2", ".gitconfig", ".kube"} {
			mounts = append(mounts, ToolMount{HostPath: filepath.Join(home, name), ContainerPath: "/root/" + name})
		}
	}
	return append(mounts, ToolMount{HostPath: "/usr/local/bin/kubectl"})
}

// String returns the string representation of the ContainerEngine.
func (e ContainerEngine) String() string { return string(e) }

// IsValid returns whether the ContainerEngine is one of the defined engines,
// and a list of validation errors if it is not.
func (e ContainerEngine) IsValid() (bool, []error) {
	switch e {
	case ContainerEngineDocker, ContainerEnginePodman, ContainerEngineDockerAPI:
		return true, nil
	default:
		return false, []error{&InvalidContainerEngineError{Value: e}}
	}
}

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman, docker-api)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is recognized. The empty level is
// valid and means info.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Slog converts the level for log/slog handlers.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// IsValid returns whether the Config has valid fields. CUE validates files;
// this also covers values that arrive through environment overrides.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ContainerEngine.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if strings.TrimSpace(c.Container.DefaultCommand) == "" {
		errs = append(errs, errors.New("container.default_command must not be empty"))
	}
	if c.Container.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("container.stop_timeout must be positive, got %s", c.Container.StopTimeout))
	}
	if h := c.Container.Host; h != "" && !strings.Contains(h, "://") {
		errs = append(errs, fmt.Errorf("container.host %q must be a URL such as unix:///var/run/docker.sock", h))
	}
	if c.Container.PullRetries < 1 {
		errs = append(errs, fmt.Errorf("container.pull_retries must be at least 1, got %d", c.Container.PullRetries))
	}
	for i, m := range c.Mounts.Tools {
		if !filepath.IsAbs(m.HostPath) {
			errs = append(errs, fmt.Errorf("mounts.tools[%d].host_path %q must be absolute", i, m.HostPath))
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
