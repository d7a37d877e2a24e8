// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the boxstep command tree. Commands receive an App and
// delegate to the internal packages; they never call os.Exit themselves.
package cmd
