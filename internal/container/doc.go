// SPDX-License-Identifier: MPL-2.0

// Package container provides the container engine capability consumed by the
// build environment: image presence checks, pulls and builds, detached
// keep-alive containers, command execution inside them, and teardown.
//
// Three implementations are provided. DockerEngine and PodmanEngine drive the
// CLI and embed BaseCLIEngine for argument construction and command
// execution. APIEngine talks to the Docker Engine API directly.
//
// Engines are constructed through a Registry of factories. Select returns the
// preferred engine when it is available and otherwise falls back to the first
// available engine in registration order.
//
// Only Linux containers are supported. Use debian:stable-slim as the reference
// image in tests and examples.
package container
