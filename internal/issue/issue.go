// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	ContainerEngineNotFoundId Id = iota + 1
	DockerfileNotFoundId
	ImageResolutionFailedId
	ContainerStartFailedId
	BaseEnvironmentFailedId
	PathInvariantViolatedId
	TeardownFailedId
	BlueprintNotFoundId
	BlueprintParseErrorId
	JobNotFoundId
	ConfigLoadFailedId
	ScriptExecutionFailedId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation pages about this issue type
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found!

The job declares a container but no container engine is available.

## Supported container engines:
- **Docker** (CLI)
- **Podman** (CLI, rootless friendly)
- **docker-api** (Docker Engine API over DOCKER_HOST)

## Things you can try:
- Install Docker: https://docs.docker.com/get-docker/
- Install Podman:
  - Linux: ` + "`sudo apt install podman`" + ` or ` + "`sudo dnf install podman`" + `
- Make sure the daemon is running and your user can reach its socket
- Pick the engine explicitly:
~~~
$ boxstep run --engine podman <job>
~~~

- Or configure it in your boxstep config file:
~~~cue
container_engine: "podman"
~~~`,
		extLinks: []HttpLink{"https://docs.docker.com/get-docker/", "https://podman.io/docs/installation"},
	}

	dockerfileNotFoundIssue = &Issue{
		id: DockerfileNotFoundId,
		mdMsg: `
# Dockerfile not found!

The job builds its image from a Dockerfile, but the file does not exist in the workspace.

## Things you can try:
- Check the ` + "`imageDockerfile`" + ` path; it is relative to the workspace root
- Commit the Dockerfile, it may only exist on your machine
- Or use a pre-built image instead:
~~~yaml
jobs:
  - name: build
    docker:
      image: debian:stable-slim
~~~`,
	}

	imageResolutionFailedIssue = &Issue{
		id: ImageResolutionFailedId,
		mdMsg: `
# Could not obtain the container image!

The image could not be pulled from its registry or built from its Dockerfile.

## Common causes:
- Typo in the image name or tag
- Registry requires authentication (run ` + "`docker login`" + `)
- Network or registry outage
- The Dockerfile build failed

## Things you can try:
- Pull the image manually to see the full error:
~~~
$ docker pull <image>
~~~

- Run with verbose mode for more details:
~~~
$ boxstep --verbose run <job>
~~~`,
	}

	containerStartFailedIssue = &Issue{
		id: ContainerStartFailedId,
		mdMsg: `
# Container failed to start!

The build container could not be started from the resolved image.

## Common causes:
- The image has no ` + "`/bin/cat`" + ` (set ` + "`container.default_command`" + ` in your config)
- A mount or port mapping is invalid or already in use
- Resource limits cannot be satisfied by the host

## Things you can try:
- Start the image by hand with the same options:
~~~
$ docker run -d -t <image> /bin/cat
~~~

- Run with verbose mode to see the exact engine invocation:
~~~
$ boxstep --verbose run <job>
~~~`,
	}

	baseEnvironmentFailedIssue = &Issue{
		id: BaseEnvironmentFailedId,
		mdMsg: `
# Could not read the container environment!

The container started, but its environment could not be inspected.
Steps cannot run without the image's PATH, so the build was aborted.

## Things you can try:
- Check that the container is still running (` + "`docker ps`" + `)
- Check the engine daemon logs
- Retry the build; transient daemon failures are common under load`,
	}

	pathInvariantViolatedIssue = &Issue{
		id: PathInvariantViolatedId,
		mdMsg: `
# PATH would have been overridden!

A step tried to run with an environment that replaces the container's PATH.
The container PATH is fixed by the image; the host PATH is never forwarded.

## Things you can try:
- Remove PATH from the job's ` + "`env`" + ` section
- Install tools at a location already on the image's PATH
- Or extend PATH inside your script:
~~~sh
export PATH="/opt/tool/bin:$PATH"
~~~`,
	}

	teardownFailedIssue = &Issue{
		id: TeardownFailedId,
		mdMsg: `
# Container teardown failed!

The build finished, but the build container could not be stopped or removed.
It may still be running on the host.

## Things you can try:
- List leftover containers:
~~~
$ docker ps --filter name=boxstep-
~~~

- Remove them by hand:
~~~
$ docker rm -f <container>
~~~`,
	}

	blueprintNotFoundIssue = &Issue{
		id: BlueprintNotFoundId,
		mdMsg: `
# No blueprint found!

boxstep looks for ` + "`.blueprint.yml`" + `, ` + "`.blueprint.yaml`" + ` or ` + "`.blueprint.toml`" + ` in the workspace root.

## Things you can try:
- Point boxstep at the right workspace:
~~~
$ boxstep run --workspace /path/to/project <job>
~~~

- Create a minimal blueprint:
~~~yaml
jobs:
  - name: build
    script: make
    docker:
      image: debian:stable-slim
~~~`,
	}

	blueprintParseErrorIssue = &Issue{
		id: BlueprintParseErrorId,
		mdMsg: `
# Failed to parse the blueprint!

The blueprint contains syntax errors or invalid configuration.

## Common issues:
- Invalid YAML or TOML syntax (indentation, quotes)
- A job without a name
- A docker section without ` + "`image`" + ` or ` + "`imageDockerfile`" + `
- Malformed ` + "`ports`" + ` or ` + "`mounts`" + ` entries

## Things you can try:
- Validate the blueprint without running anything:
~~~
$ boxstep validate
~~~`,
	}

	jobNotFoundIssue = &Issue{
		id: JobNotFoundId,
		mdMsg: `
# Job not found!

The job you asked for is not defined in the blueprint.

## Things you can try:
- Check for typos in the job name
- List the jobs the blueprint defines:
~~~
$ boxstep validate
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the boxstep configuration file.

## Configuration file locations:
- Linux: ~/.config/boxstep/config.cue
- macOS: ~/Library/Application Support/boxstep/config.cue
- ./config.cue in the current directory
- Any file passed with ` + "`--config`" + `

## Things you can try:
- Check the configuration syntax and value types
- Print the effective configuration:
~~~
$ boxstep config show
~~~

## Example configuration:
~~~cue
container_engine: "docker"
container: {
  default_command: "/bin/cat"
  pull_retries: 3
}
mounts: tools: [
  {host_path: "/opt/tools", container_path: "/opt/tools"},
]
~~~`,
	}

	scriptExecutionFailedIssue = &Issue{
		id: ScriptExecutionFailedId,
		mdMsg: `
# Script execution failed!

A build step exited with a non-zero status.

## Common causes:
- Command not found in the container PATH
- Syntax error in the script
- A tool expected on the host is missing from the image

## Things you can try:
- Scripts run with ` + "`sh -xe`" + `; the trace above shows the failing line
- Reproduce inside the image:
~~~
$ docker run --rm -it -v "$PWD:$PWD" -w "$PWD" <image> sh
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to perform this operation.

## Common causes:
- The container engine requires elevated permissions
- Files written by the container are owned by another user
- The workspace is not writable

## Things you can try:
- Ensure you're in the docker group:
~~~
$ sudo usermod -aG docker $USER
~~~

- Use rootless Podman, which keeps your user ID inside the container`,
	}

	issues = map[Id]*Issue{
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		dockerfileNotFoundIssue.Id():      dockerfileNotFoundIssue,
		imageResolutionFailedIssue.Id():   imageResolutionFailedIssue,
		containerStartFailedIssue.Id():    containerStartFailedIssue,
		baseEnvironmentFailedIssue.Id():   baseEnvironmentFailedIssue,
		pathInvariantViolatedIssue.Id():   pathInvariantViolatedIssue,
		teardownFailedIssue.Id():          teardownFailedIssue,
		blueprintNotFoundIssue.Id():       blueprintNotFoundIssue,
		blueprintParseErrorIssue.Id():     blueprintParseErrorIssue,
		jobNotFoundIssue.Id():             jobNotFoundIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		scriptExecutionFailedIssue.Id():   scriptExecutionFailedIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

// Values returns every catalogued issue ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return int(a.id) - int(b.id) })
}

func Get(id Id) *Issue {
	return issues[id]
}
