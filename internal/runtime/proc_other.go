// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package runtime

import (
	"errors"
	"os"
	"os/exec"
)

var errPTYUnsupported = errors.New("pseudo-terminals are not supported on this platform")

func setProcessGroup(*exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func startPTY(*exec.Cmd) (*os.File, error) {
	return nil, errPTYUnsupported
}

func signaledStatus(*exec.ExitError) (int, bool) {
	return 0, false
}
