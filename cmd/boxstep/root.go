// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app. The returned flags are
// filled in by cobra when the command executes.
func NewRootCommand(app *App) (*cobra.Command, *globalFlags) {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "boxstep",
		Short: "Run build jobs inside a disposable container",
		Long: TitleStyle.Render("boxstep") + SubtitleStyle.Render(" - run build jobs inside a disposable container") + `

boxstep reads the jobs of a workspace's .blueprint.yml (or .blueprint.toml),
starts one container per job from the job's image or Dockerfile, runs the
job's script inside it as the calling user and removes the container when the
script ends.

` + SubtitleStyle.Render("Examples:") + `
  boxstep run build           Run the 'build' job of the current directory
  boxstep run -w ./app test   Run the 'test' job of ./app
  boxstep validate            Check every job without starting containers
  boxstep config show         Show the effective configuration`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/boxstep/config.cue)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVarP(&flags.workspace, "workspace", "w", "", "workspace directory (default is the current directory)")
	pf.StringVar(&flags.engine, "engine", "", "preferred container engine: docker, podman or docker-api")
	pf.StringVar(&flags.buildNumber, "build-number", defaultBuildNumber(), "build number used for the build-data directory")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(newRunCommand(app, flags))
	rootCmd.AddCommand(newValidateCommand(app, flags))
	rootCmd.AddCommand(newConfigCommand(app, flags))

	return rootCmd, flags
}

// Execute runs the command tree and exits with the resulting code.
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}

	rootCmd, flags := NewRootCommand(app)
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			renderError(w, err, flags.verbose)
		}),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// defaultBuildNumber takes the CI server's BUILD_NUMBER when present.
func defaultBuildNumber() string {
	if n := os.Getenv("BUILD_NUMBER"); n != "" {
		return n
	}
	return "local"
}
