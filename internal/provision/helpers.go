// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// CalculateFileHash calculates SHA256 hash of a file's contents.
func CalculateFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyFile copies a file from src to dst, keeping its permissions.
func CopyFile(src, dst string) (err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = srcFile.Close() }() // Read-only file; close error non-critical

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	return nil
}

// ShellJoin quotes args into a single command string for the embedded shell.
func ShellJoin(args ...string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", arg, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

// pipArgs splits dependency entries into pip arguments. Requirement and
// constraint file references ("-r reqs.txt") become two arguments.
func pipArgs(deps []string) []string {
	var args []string
	for _, dep := range deps {
		if flag, file, ok := requirementFile(dep); ok {
			args = append(args, flag, file)
			continue
		}
		args = append(args, dep)
	}
	return args
}

// requirementFile reports whether dep references a requirements or
// constraints file ("-r reqs.txt", "-creqs.txt", "--requirement=reqs.txt").
func requirementFile(dep string) (flag, file string, ok bool) {
	dep = strings.TrimSpace(dep)
	for _, long := range []string{"--requirement", "--constraint"} {
		if rest, found := strings.CutPrefix(dep, long); found && (rest == "" || rest[0] == ' ' || rest[0] == '=') {
			file = strings.TrimLeft(rest, " =")
			return long, file, file != ""
		}
	}
	for _, short := range []string{"-r", "-c"} {
		if rest, found := strings.CutPrefix(dep, short); found {
			file = strings.TrimLeft(rest, " ")
			return short, file, file != ""
		}
	}
	return "", "", false
}
