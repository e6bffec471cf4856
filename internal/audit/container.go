// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"

	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
)

// ErrImportFailed is returned when the clean-host import check fails.
var ErrImportFailed = errors.New("wheel failed to install or import on a clean host")

// containerWheelDir receives the wheel inside the container.
const containerWheelDir = "/tmp/wheelhouse"

// ContainerValidator installs the wheel into a clean container image and
// imports a module from it.
type ContainerValidator struct {
	// Image is the clean-host image, e.g. "python:3.12-slim".
	Image string
	// Module is imported after installation; empty only installs.
	Module string
	// Python is the interpreter inside the image.
	Python string
}

// Compile-time interface check
var _ Validator = (*ContainerValidator)(nil)

// Name implements Validator.
func (v *ContainerValidator) Name() string { return "container" }

// Validate implements Validator.
func (v *ContainerValidator) Validate(ctx context.Context, in ValidationInput) (err error) {
	target := path.Join(containerWheelDir, in.Filename.String())
	ctr, err := testcontainers.Run(ctx, v.Image,
		testcontainers.WithFiles(testcontainers.ContainerFile{
			HostFilePath:      in.Wheel,
			ContainerFilePath: target,
			FileMode:          0o644,
		}),
		testcontainers.WithCmd("sleep", "infinity"),
	)
	if err != nil {
		return fmt.Errorf("start %s: %w", v.Image, err)
	}
	defer func() {
		if termErr := testcontainers.TerminateContainer(ctr); termErr != nil {
			slog.Warn("failed to terminate validation container", "image", v.Image, "error", termErr)
		}
	}()

	script, err := v.script(target)
	if err != nil {
		return err
	}
	code, out, err := ctr.Exec(ctx, []string{"sh", "-c", script}, tcexec.Multiplexed())
	if err != nil {
		return fmt.Errorf("exec in %s: %w", v.Image, err)
	}
	if code != 0 {
		output, _ := io.ReadAll(out)
		return fmt.Errorf("%w (exit %d): %s", ErrImportFailed, code, strings.TrimSpace(string(output)))
	}
	return nil
}

// script installs the wheel offline, without dependencies, so only the
// native payload is exercised, then imports the module.
func (v *ContainerValidator) script(wheelPath string) (string, error) {
	python := v.Python
	if python == "" {
		python = "python3"
	}
	install, err := provision.ShellJoin(python, "-m", "pip", "install", "--no-index", "--no-deps", wheelPath)
	if err != nil {
		return "", err
	}
	if v.Module == "" {
		return install, nil
	}
	check, err := provision.ShellJoin(python, "-c", "import "+v.Module)
	if err != nil {
		return "", err
	}
	return install + " && " + check, nil
}
