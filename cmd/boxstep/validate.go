// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boxstep/boxstep/internal/blueprint"
	"github.com/boxstep/boxstep/internal/issue"
)

func newValidateCommand(app *App, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [job]",
		Short: "Check the workspace blueprint without starting containers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return validateBlueprint(cmd.Context(), app, flags, name)
		},
	}
}

func validateBlueprint(ctx context.Context, app *App, flags *globalFlags, name string) error {
	if _, err := app.loadConfig(ctx, flags); err != nil {
		return err
	}

	ws, err := resolveWorkspace(flags.workspace)
	if err != nil {
		return err
	}

	bp, err := blueprint.Load(ws)
	if err != nil {
		return err
	}

	var problems blueprint.ValidationErrors
	if name == "" {
		problems = bp.Validate()
	} else {
		job, err := bp.Job(name)
		if err != nil {
			return err
		}
		problems = job.Validate()
	}

	fmt.Fprintf(app.stdout, "%s %s\n", TitleStyle.Render("Blueprint"), bp.FilePath)
	for _, p := range problems {
		style := WarningStyle
		if p.Severity == blueprint.SeverityError {
			style = ErrorStyle
		}
		fmt.Fprintf(app.stdout, "  %s %s\n", style.Render(p.Severity.String()+":"), p.Error())
	}

	if problems.HasErrors() {
		return issue.NewErrorContext().
			WithOperation("validate blueprint").
			WithResource(bp.FilePath).
			WithIssue(issue.BlueprintParseErrorId).
			Wrap(fmt.Errorf("%d error(s) found", len(problems)-len(problems.Warnings()))).
			BuildError()
	}

	fmt.Fprintf(app.stdout, "%s %d job(s) valid\n", SuccessStyle.Render("✓"), len(validatedJobs(bp, name)))
	return nil
}

func validatedJobs(bp *blueprint.Blueprint, name string) []string {
	if name != "" {
		return []string{name}
	}
	return bp.JobNames()
}
