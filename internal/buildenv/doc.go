// SPDX-License-Identifier: MPL-2.0

// Package buildenv runs a job's build steps inside one container per
// execution context.
//
// A Context owns exactly one container Handle. Prepare resolves the image
// (pull or Dockerfile build), EnsureContainer starts a long-lived container
// with the aggregated mounts and the caller's identity, and Enable switches
// the Context's Launcher from host dispatch to container exec. Teardown stops
// and removes the container exactly once; Run wraps the whole sequence and
// guarantees teardown on every exit path.
//
// Every exec receives an environment reconciled from the container's own
// environment, context-level contributors and the step's variables. PATH is
// always the container's: overlays that try to change it are reverted and
// reported as an EnvironmentInvariantViolation.
package buildenv
