// SPDX-License-Identifier: MPL-2.0

package buildenv

import (
	"maps"
	"slices"
)

// PathKey is the variable pinned to the container's value.
const PathKey = "PATH"

// Reconcile merges overlays onto a copy of base, later overlays winning.
// When base carries a non-empty PATH and the merge would change it, PATH is
// reverted to the base value and the violation is returned. base is never
// modified.
func Reconcile(base map[string]string, overlays ...map[string]string) (map[string]string, *EnvironmentInvariantViolation) {
	merged := maps.Clone(base)
	if merged == nil {
		merged = make(map[string]string)
	}
	for _, overlay := range overlays {
		maps.Copy(merged, overlay)
	}

	basePath := base[PathKey]
	if basePath == "" || merged[PathKey] == basePath {
		return merged, nil
	}

	violation := &EnvironmentInvariantViolation{
		Key:       PathKey,
		Attempted: merged[PathKey],
		Kept:      basePath,
	}
	merged[PathKey] = basePath
	return merged, violation
}

// containerEnv builds the explicit environment a container starts with from
// the build variables and the job's own variables, job values winning. PATH
// is never included: the image decides it.
func containerEnv(vars, jobEnv map[string]string) map[string]string {
	env := make(map[string]string, len(vars)+len(jobEnv))
	for _, layer := range []map[string]string{vars, jobEnv} {
		for k, v := range layer {
			if k == PathKey || k == "" {
				continue
			}
			env[k] = v
		}
	}
	return env
}

// secretKeys returns the names in secrets that are present in env, sorted.
func secretKeys(env map[string]string, secrets []string) []string {
	keys := make([]string, 0, len(secrets))
	for _, k := range secrets {
		if _, ok := env[k]; ok && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
