// SPDX-License-Identifier: MPL-2.0

// Package blueprint loads the declarative job definitions a workspace carries
// in its root (.blueprint.yml, .blueprint.yaml or .blueprint.toml).
//
// A blueprint lists jobs. Each job has a shell script, optional build
// variables and a docker section describing the build container. The docker
// section converts into a buildenv.ContainerSpec.
package blueprint
