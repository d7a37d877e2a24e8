// SPDX-License-Identifier: MPL-2.0

package blueprint

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/boxstep/boxstep/internal/buildenv"
	"github.com/boxstep/boxstep/internal/container"
)

const (
	// FormatYAML marks a YAML blueprint.
	FormatYAML Format = "yaml"
	// FormatTOML marks a TOML blueprint.
	FormatTOML Format = "toml"
)

// FileNames lists the recognised blueprint files in lookup order.
var FileNames = []string{".blueprint.yml", ".blueprint.yaml", ".blueprint.toml"}

type (
	// Format is the encoding of a blueprint file.
	Format string

	// Blueprint is the parsed content of a workspace blueprint file.
	Blueprint struct {
		Jobs []Job `yaml:"jobs" toml:"jobs"`

		// FilePath is the file the blueprint was read from.
		FilePath string `yaml:"-" toml:"-"`
	}

	// Job is one named job.
	Job struct {
		Name   string            `yaml:"name" toml:"name"`
		Script string            `yaml:"script" toml:"script"`
		Env    map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
		// Secrets names variables whose values are kept out of engine
		// command lines. A secret missing from Env is read from the host
		// environment.
		Secrets []string `yaml:"secrets,omitempty" toml:"secrets,omitempty"`
		Docker  *Docker  `yaml:"docker,omitempty" toml:"docker,omitempty"`
	}

	// Docker describes the build container of a job.
	Docker struct {
		Image           string   `yaml:"image,omitempty" toml:"image,omitempty"`
		ImageDockerfile string   `yaml:"imageDockerfile,omitempty" toml:"imageDockerfile,omitempty"`
		Command         string   `yaml:"command,omitempty" toml:"command,omitempty"`
		Verbose         bool     `yaml:"verbose,omitempty" toml:"verbose,omitempty"`
		Privileged      bool     `yaml:"privileged,omitempty" toml:"privileged,omitempty"`
		ForcePull       bool     `yaml:"forcePull,omitempty" toml:"forcePull,omitempty"`
		Group           string   `yaml:"group,omitempty" toml:"group,omitempty"`
		Net             string   `yaml:"net,omitempty" toml:"net,omitempty"`
		Memory          string   `yaml:"memory,omitempty" toml:"memory,omitempty"`
		CPU             string   `yaml:"cpu,omitempty" toml:"cpu,omitempty"`
		Volumes         []Volume `yaml:"volumes,omitempty" toml:"volumes,omitempty"`
		Ports           []string `yaml:"ports,omitempty" toml:"ports,omitempty"`
	}

	// Volume binds a host path into the build container. An empty Path
	// mounts the host path at the same location. Options is a comma
	// separated list of ro, rw, z and Z.
	Volume struct {
		HostPath string `yaml:"hostPath" toml:"hostPath"`
		Path     string `yaml:"path,omitempty" toml:"path,omitempty"`
		Options  string `yaml:"options,omitempty" toml:"options,omitempty"`
	}
)

// FormatOf returns the format implied by a blueprint file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported blueprint format: %s", filepath.Base(path))
	}
}

// Find returns the path of the blueprint file in workspace.
func Find(workspace string) (string, error) {
	if workspace == "" {
		return "", &WorkspaceError{Reason: "no workspace"}
	}
	info, err := os.Stat(workspace)
	if err != nil {
		return "", &WorkspaceError{Path: workspace, Reason: err.Error()}
	}
	if !info.IsDir() {
		return "", &WorkspaceError{Path: workspace, Reason: "not a directory"}
	}

	var found string
	for _, name := range FileNames {
		path := filepath.Join(workspace, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if found != "" {
			slog.Debug("ignoring additional blueprint file", "path", path, "using", found)
			continue
		}
		found = path
	}
	if found == "" {
		return "", &NotFoundError{Workspace: workspace}
	}
	return found, nil
}

// Load finds and parses the blueprint of workspace.
func Load(workspace string) (*Blueprint, error) {
	path, err := Find(workspace)
	if err != nil {
		return nil, err
	}
	return ParseFile(path)
}

// LoadJob loads the blueprint of workspace and returns the job called name.
func LoadJob(workspace, name string) (*Job, error) {
	bp, err := Load(workspace)
	if err != nil {
		return nil, err
	}
	return bp.Job(name)
}

// ParseFile reads and parses a blueprint file.
func ParseFile(path string) (*Blueprint, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(data, format, path)
}

// Parse decodes blueprint content and validates it. Unknown keys are
// rejected. path is only used in messages.
func Parse(data []byte, format Format, path string) (*Blueprint, error) {
	var bp Blueprint
	if err := decode(data, format, &bp); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	bp.FilePath = path

	if errs := bp.Validate(); errs.HasErrors() {
		return nil, &ParseError{Path: path, Err: errs}
	}
	return &bp, nil
}

func decode(data []byte, format Format, bp *Blueprint) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(bp); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(bp); err != nil {
			return fmt.Errorf("parse toml: %w", err)
		}
	default:
		return fmt.Errorf("unsupported blueprint format: %s", format)
	}
	return nil
}

// Job returns the job called name.
func (bp *Blueprint) Job(name string) (*Job, error) {
	for i := range bp.Jobs {
		if bp.Jobs[i].Name == name {
			return &bp.Jobs[i], nil
		}
	}
	return nil, &JobNotFoundError{Name: name, Path: bp.FilePath, Available: bp.JobNames()}
}

// JobNames returns the job names in file order.
func (bp *Blueprint) JobNames() []string {
	names := make([]string, 0, len(bp.Jobs))
	for _, j := range bp.Jobs {
		names = append(names, j.Name)
	}
	return names
}

// ContainerSpec converts the docker section. It returns nil when the job has
// none, which buildenv reports as a configuration error.
func (j *Job) ContainerSpec() *buildenv.ContainerSpec {
	d := j.Docker
	if d == nil {
		return nil
	}
	spec := &buildenv.ContainerSpec{
		Image:           d.Image,
		ImageDockerfile: d.ImageDockerfile,
		Command:         d.Command,
		Verbose:         d.Verbose,
		Privileged:      d.Privileged,
		ForcePull:       d.ForcePull,
		Group:           d.Group,
		Net:             d.Net,
		Memory:          d.Memory,
		CPU:             d.CPU,
		Ports:           d.Ports,
	}
	for _, v := range d.Volumes {
		m, err := v.Mount()
		if err != nil {
			// Validate reports the problem; keep the paths so buildenv rejects it too.
			m = container.VolumeMount{HostPath: v.HostPath, ContainerPath: v.Path}
		}
		spec.Volumes = append(spec.Volumes, buildenv.Mount{
			HostPath:      m.HostPath,
			ContainerPath: m.ContainerPath,
			ReadOnly:      m.ReadOnly,
			SELinux:       m.SELinux,
		})
	}
	return spec
}

// Mount parses the volume in the engines' host:container[:options] form.
func (v Volume) Mount() (container.VolumeMount, error) {
	target := v.Path
	if target == "" {
		target = v.HostPath
	}
	spec := v.HostPath + ":" + target
	if v.Options != "" {
		spec += ":" + v.Options
	}
	return container.ParseVolumeMount(spec)
}
