// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/wheelhouse-dev/wheelhouse/cmd/wheelhouse"

func main() {
	cmd.Execute()
}
