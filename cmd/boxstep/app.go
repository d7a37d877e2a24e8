// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"

	"github.com/boxstep/boxstep/internal/config"
	"github.com/boxstep/boxstep/internal/container"
	"github.com/boxstep/boxstep/internal/launch"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the same App.
	App struct {
		Config  ConfigProvider
		Engines EngineSelector
		Host    launch.Launcher
		stdout  io.Writer
		stderr  io.Writer
		stdin   io.Reader
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp, except Engines,
	// which is built from the loaded configuration on first use.
	Dependencies struct {
		Config  ConfigProvider
		Engines EngineSelector
		Host    launch.Launcher
		Stdout  io.Writer
		Stderr  io.Writer
		Stdin   io.Reader
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineSelector picks a container engine, falling back when the
	// preferred one is unavailable. *container.Registry implements it.
	EngineSelector interface {
		Select(preferred container.EngineType) (container.Engine, error)
	}

	// globalFlags holds the persistent flags shared by all commands.
	globalFlags struct {
		configPath  string
		verbose     bool
		workspace   string
		engine      string
		buildNumber string
		logLevel    string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Host == nil {
		deps.Host = launch.NewHostLauncher()
	}

	return &App{
		Config:  deps.Config,
		Engines: deps.Engines,
		Host:    deps.Host,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		stdin:   deps.Stdin,
	}, nil
}

// loadConfig loads the configuration selected by the global flags, applies
// flag overrides and installs the process logger.
func (a *App) loadConfig(ctx context.Context, flags *globalFlags) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, err
	}

	if !flags.verbose {
		flags.verbose = cfg.UI.Verbose
	}
	if flags.logLevel != "" {
		level := config.LogLevel(flags.logLevel)
		if valid, errs := level.IsValid(); !valid {
			return nil, errs[0]
		}
		cfg.Log.Level = level
	}

	slog.SetDefault(newLogger(a.stderr, cfg.Log.Level, flags.verbose))
	return cfg, nil
}

// newLogger returns a slog logger backed by a charm log handler. Verbose
// output lowers the level to debug so engine command lines are shown.
func newLogger(w io.Writer, level config.LogLevel, verbose bool) *slog.Logger {
	lvl := level.Slog()
	if verbose && lvl > slog.LevelDebug {
		lvl = slog.LevelDebug
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix:          config.AppName,
		Level:           log.Level(lvl),
		ReportTimestamp: verbose,
	})
	return slog.New(handler)
}
