// SPDX-License-Identifier: MPL-2.0

package blueprint

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"mvdan.cc/sh/v3/syntax"

	"github.com/boxstep/boxstep/internal/container"
)

const (
	// SeverityError prevents the job from running.
	SeverityError Severity = iota
	// SeverityWarning is reported but does not block the job.
	SeverityWarning
)

type (
	// Severity ranks a validation issue.
	Severity int

	// ValidationError is one issue found in a blueprint.
	ValidationError struct {
		// Field locates the issue, e.g. "job 'build' docker.ports[0]".
		Field    string
		Message  string
		Severity Severity
	}

	// ValidationErrors collects every issue of one validation pass.
	ValidationErrors []ValidationError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Error joins all messages.
func (errs ValidationErrors) Error() string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "blueprint has %d problems:", len(errs))
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// HasErrors reports whether any issue is error-level.
func (errs ValidationErrors) HasErrors() bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Warnings returns the warning-level issues.
func (errs ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, e := range errs {
		if e.Severity == SeverityWarning {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks every job and the uniqueness of job names.
func (bp *Blueprint) Validate() ValidationErrors {
	var errs ValidationErrors
	if len(bp.Jobs) == 0 {
		errs = append(errs, ValidationError{Message: "no jobs defined", Severity: SeverityWarning})
	}
	seen := make(map[string]bool, len(bp.Jobs))
	for i := range bp.Jobs {
		job := &bp.Jobs[i]
		if job.Name != "" && seen[job.Name] {
			errs = append(errs, ValidationError{
				Field:    fmt.Sprintf("jobs[%d]", i),
				Message:  fmt.Sprintf("duplicate job name %q", job.Name),
				Severity: SeverityError,
			})
		}
		seen[job.Name] = true
		errs = append(errs, job.validate(fmt.Sprintf("jobs[%d]", i))...)
	}
	return errs
}

// Validate checks a single job.
func (j *Job) Validate() ValidationErrors {
	return j.validate("job")
}

func (j *Job) validate(field string) ValidationErrors {
	var errs ValidationErrors
	add := func(sub, msg string, sev Severity) {
		errs = append(errs, ValidationError{Field: field + sub, Message: msg, Severity: sev})
	}

	if strings.TrimSpace(j.Name) == "" {
		add(".name", "must not be empty", SeverityError)
	} else {
		field = fmt.Sprintf("job '%s'", j.Name)
	}

	if strings.TrimSpace(j.Script) == "" {
		add(".script", "is empty", SeverityWarning)
	} else if _, err := syntax.NewParser().Parse(strings.NewReader(j.Script), "script"); err != nil {
		add(".script", fmt.Sprintf("invalid shell syntax: %v", err), SeverityError)
	}

	for k := range j.Env {
		if !validVarName(k) {
			add(".env", fmt.Sprintf("invalid variable name %q", k), SeverityError)
		}
	}
	for i, k := range j.Secrets {
		if !validVarName(k) {
			add(fmt.Sprintf(".secrets[%d]", i), fmt.Sprintf("invalid variable name %q", k), SeverityError)
		}
	}

	if j.Docker == nil {
		add(".docker", "is required", SeverityError)
		return errs
	}
	d := j.Docker
	if strings.TrimSpace(d.Image) == "" && strings.TrimSpace(d.ImageDockerfile) == "" {
		add(".docker", "one of image or imageDockerfile is required", SeverityError)
	}
	if d.Image != "" && d.ImageDockerfile != "" {
		add(".docker", "both image and imageDockerfile are set; image is used", SeverityWarning)
	}
	if df := d.ImageDockerfile; df != "" && (filepath.IsAbs(df) || strings.HasPrefix(filepath.Clean(df), "..")) {
		add(".docker.imageDockerfile", "must be a path inside the workspace", SeverityError)
	}
	if d.Memory != "" {
		if _, err := units.RAMInBytes(d.Memory); err != nil {
			add(".docker.memory", fmt.Sprintf("invalid memory limit %q", d.Memory), SeverityError)
		}
	}
	if d.CPU != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(d.CPU), 10, 64); err != nil || n <= 0 {
			add(".docker.cpu", fmt.Sprintf("invalid cpu shares %q", d.CPU), SeverityError)
		}
	}
	for i, p := range d.Ports {
		if _, err := container.ParsePortMapping(p); err != nil {
			add(fmt.Sprintf(".docker.ports[%d]", i), err.Error(), SeverityError)
		}
	}
	for i, v := range d.Volumes {
		sub := fmt.Sprintf(".docker.volumes[%d]", i)
		switch {
		case v.HostPath == "":
			add(sub+".hostPath", "must not be empty", SeverityError)
		case v.Path != "" && !filepath.IsAbs(v.Path):
			add(sub+".path", fmt.Sprintf("container path %q must be absolute", v.Path), SeverityError)
		default:
			if _, err := v.Mount(); err != nil {
				add(sub, err.Error(), SeverityError)
			}
		}
		for opt := range strings.SplitSeq(v.Options, ",") {
			if opt != "" && !slices.Contains(volumeOptions, opt) {
				add(sub+".options", fmt.Sprintf("unknown option %q (valid: ro, rw, z, Z)", opt), SeverityError)
			}
		}
	}
	return errs
}

var volumeOptions = []string{"ro", "rw", "z", "Z"}

func validVarName(k string) bool {
	return k != "" && !strings.ContainsAny(k, "= \t\n")
}
