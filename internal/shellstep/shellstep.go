// SPDX-License-Identifier: MPL-2.0

// Package shellstep runs a job's shell script through a launcher.
package shellstep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/boxstep/boxstep/internal/launch"
)

// DefaultShell interprets job scripts.
const DefaultShell = "/bin/sh"

var (
	// ErrScriptFailed is the sentinel wrapped by ScriptFailedError.
	ErrScriptFailed = errors.New("script failed")

	// ErrEmptyScript is returned for a job without a script.
	ErrEmptyScript = errors.New("script is empty")
)

type (
	// Step is one shell script execution.
	Step struct {
		// Script is the raw script text.
		Script string
		// Workspace holds the temporary script file and is the working directory.
		Workspace string
		// Env carries the build variables.
		Env map[string]string
		// Shell defaults to DefaultShell.
		Shell  string
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// ScriptFailedError reports a script that exited non-zero.
	ScriptFailedError struct {
		Code launch.ExitCode
	}
)

func (e *ScriptFailedError) Error() string {
	return fmt.Sprintf("script exited with code %d", e.Code)
}

// Unwrap returns ErrScriptFailed for errors.Is() compatibility.
func (e *ScriptFailedError) Unwrap() error { return ErrScriptFailed }

// Normalize converts line endings to LF and prepends a newline when the first
// line holds non-ASCII text and is not a shebang. Some shells take such a
// file for a binary otherwise.
func Normalize(script string) string {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	script = strings.ReplaceAll(script, "\r", "\n")
	if strings.HasPrefix(script, "#!") || strings.HasPrefix(script, "\n") {
		return script
	}
	first, _, _ := strings.Cut(script, "\n")
	if !isASCII(first) {
		return "\n" + script
	}
	return script
}

func isASCII(s string) bool {
	for i := range len(s) {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Command returns the command line for a script file.
func (s *Step) Command(path string) []string {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return []string{shell, "-xe", path}
}

// Run writes the script to a temporary file in the workspace, runs it with
// "-xe" through l and removes the file. A non-zero exit is returned as a
// ScriptFailedError together with the code.
func (s *Step) Run(ctx context.Context, l launch.Launcher) (launch.ExitCode, error) {
	if strings.TrimSpace(s.Script) == "" {
		return 1, ErrEmptyScript
	}

	path, err := s.writeScript()
	if err != nil {
		return 1, err
	}
	defer s.removeScript(path)

	code, err := launch.Run(ctx, l, launch.ProcSpec{
		Cmd:    s.Command(path),
		Env:    s.Env,
		Dir:    s.Workspace,
		Stdin:  s.Stdin,
		Stdout: s.Stdout,
		Stderr: s.Stderr,
	})
	if err != nil {
		return 1, err
	}
	if !code.IsSuccess() {
		return code, &ScriptFailedError{Code: code}
	}
	return code, nil
}

func (s *Step) writeScript() (string, error) {
	f, err := os.CreateTemp(s.Workspace, "boxstep-script-*.sh")
	if err != nil {
		return "", fmt.Errorf("failed to create temp script in workspace: %w", err)
	}
	if _, err := f.WriteString(Normalize(s.Script)); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp script: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp script: %w", err)
	}
	return f.Name(), nil
}

func (s *Step) removeScript(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to delete temp script", "path", path, "error", err)
		if s.Stderr != nil {
			fmt.Fprintf(s.Stderr, "WARNING: unable to delete script file %s: %v\n", path, err)
		}
	}
}
