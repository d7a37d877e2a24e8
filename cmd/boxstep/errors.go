// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/boxstep/boxstep/internal/blueprint"
	"github.com/boxstep/boxstep/internal/buildenv"
	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/issue"
	"github.com/boxstep/boxstep/internal/shellstep"
)

// renderError writes err for the user. A bare ExitError means the script
// already reported its failure and nothing is printed. In verbose mode the
// matching issue catalog entry follows the message.
func renderError(w io.Writer, err error, verbose bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}

	fmt.Fprintf(w, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))

	if !verbose {
		return
	}
	id := classifyError(err)
	if id == 0 {
		return
	}
	if entry := issue.Get(id); entry != nil {
		rendered, renderErr := entry.Render("dark")
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", id, "error", renderErr)
			return
		}
		fmt.Fprint(w, rendered)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// classifyError maps failures to issue catalog IDs. Zero means no entry.
func classifyError(err error) issue.Id {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue
	}

	switch {
	case errors.Is(err, container.ErrEngineNotAvailable):
		return issue.ContainerEngineNotFoundId
	case errors.Is(err, buildenv.ErrMissingArtifact):
		return issue.DockerfileNotFoundId
	case errors.Is(err, buildenv.ErrImageResolution):
		return issue.ImageResolutionFailedId
	case errors.Is(err, buildenv.ErrContainerStart):
		return issue.ContainerStartFailedId
	case errors.Is(err, buildenv.ErrBaseEnvironment):
		return issue.BaseEnvironmentFailedId
	case errors.Is(err, buildenv.ErrTeardown):
		return issue.TeardownFailedId
	case errors.Is(err, blueprint.ErrNotFound):
		return issue.BlueprintNotFoundId
	case errors.Is(err, blueprint.ErrParse):
		return issue.BlueprintParseErrorId
	case errors.Is(err, blueprint.ErrJobNotFound):
		return issue.JobNotFoundId
	case errors.Is(err, shellstep.ErrScriptFailed):
		return issue.ScriptExecutionFailedId
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId
	default:
		return 0
	}
}
