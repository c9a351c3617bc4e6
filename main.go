// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/bychrisr/kaven-cli/cmd/kaven"

func main() {
	cmd.Execute()
}
