// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/boxstep/boxstep/cmd/boxstep"

func main() {
	cmd.Execute()
}
