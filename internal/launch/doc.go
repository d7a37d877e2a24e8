// SPDX-License-Identifier: MPL-2.0

// Package launch defines the process dispatch contract used by build steps
// and provides the host implementation on top of os/exec.
//
// Callers describe a process with ProcSpec and receive a Proc to wait on.
// Decorators such as the container execution wrapper implement Launcher too,
// so a step never knows where its processes actually run.
package launch
