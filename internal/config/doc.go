// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/boxstep/config.cue (defaulting to
// ~/.config/boxstep/config.cue) or, failing that, ./config.cue. Values are layered
// over built-in defaults and may be overridden with BOXSTEP_* environment
// variables (for example BOXSTEP_CONTAINER_ENGINE or BOXSTEP_LOG_LEVEL).
//
// Configuration files are validated against an embedded CUE schema
// (config_schema.cue) so type errors are reported with the offending path.
package config
