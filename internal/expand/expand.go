// SPDX-License-Identifier: MPL-2.0

// Package expand substitutes build variable references in job values.
package expand

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// Vars maps build variable names to values.
type Vars map[string]string

// String expands $NAME and ${NAME} references in s using vars, with the
// parameter-expansion rules of a double-quoted shell word. References to
// names missing from vars are kept as $NAME. Command substitution is
// rejected.
func String(s string, vars Vars) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	out, err := shell.Expand(s, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "$" + name
	})
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", s, err)
	}
	return out, nil
}

// Expand is String with the receiver as the variable set.
func (v Vars) Expand(s string) (string, error) {
	return String(s, v)
}

// Merge returns a new Vars with later layers overriding earlier ones.
func Merge(layers ...map[string]string) Vars {
	out := make(Vars)
	for _, layer := range layers {
		for k, val := range layer {
			out[k] = val
		}
	}
	return out
}
