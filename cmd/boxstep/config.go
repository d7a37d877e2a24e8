// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/boxstep/boxstep/internal/config"
)

// newConfigCommand creates the `boxstep config` command tree.
func newConfigCommand(app *App, flags *globalFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage boxstep configuration",
		Long: `Manage boxstep configuration.

Configuration is read from config.cue in $XDG_CONFIG_HOME/boxstep (usually
~/.config/boxstep), then from ./config.cue. Every key can be overridden with a
BOXSTEP_* environment variable, e.g. BOXSTEP_CONTAINER_ENGINE=podman.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, flags)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app.stdout)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context(), flags)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, flags *globalFlags) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}

	w := app.stdout
	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	if cfg.Source != "" {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), cfg.Source)
	} else {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	value := func(key string, v any) {
		s := fmt.Sprint(v)
		if s == "" {
			s = SubtitleStyle.Render("(not set)")
		} else {
			s = SuccessStyle.Render(s)
		}
		fmt.Fprintf(w, "  %s: %s\n", key, s)
	}

	fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("container_engine"), SuccessStyle.Render(cfg.ContainerEngine.String()))

	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("container"))
	value("default_command", cfg.Container.DefaultCommand)
	value("stop_timeout", cfg.Container.StopTimeout)
	value("pull_retries", cfg.Container.PullRetries)
	value("host", cfg.Container.Host)

	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("agent"))
	value("root_dir", cfg.Agent.RootDir)
	value("ci_data_dir", cfg.Agent.CIDataDir)
	value("build_data_mount", cfg.Agent.BuildDataMount)

	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("mounts.tools"))
	if len(cfg.Mounts.Tools) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
	}
	for _, t := range cfg.Mounts.Tools {
		if t.ContainerPath != "" {
			fmt.Fprintf(w, "  - %s -> %s\n", SuccessStyle.Render(t.HostPath), SuccessStyle.Render(t.ContainerPath))
		} else {
			fmt.Fprintf(w, "  - %s\n", SuccessStyle.Render(t.HostPath))
		}
	}

	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("ui"))
	value("verbose", cfg.UI.Verbose)
	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("log"))
	value("level", cfg.Log.Level)

	return nil
}

func initConfig(w io.Writer) error {
	path, err := config.CreateDefaultConfig("")
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(w, "%s Configuration file at %s\n", SuccessStyle.Render("✓"), path)
	fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("Edit it or run 'boxstep config show' to see the effective values"))
	return nil
}
