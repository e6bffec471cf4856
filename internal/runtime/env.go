// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Variables the controller sets in every execution context.
const (
	EnvVirtualEnv = "VIRTUAL_ENV"
	EnvName       = "WHEELHOUSE_ENV_NAME"
	EnvTmpDir     = "WHEELHOUSE_ENV_TMP_DIR"
	EnvDistDir    = "WHEELHOUSE_DIST_DIR"
	EnvRootDir    = "WHEELHOUSE_ROOT_DIR"
)

type (
	// Allowlist decides which host variables may be forwarded.
	Allowlist interface {
		Allows(key string) bool
	}

	// EnvSpec is everything needed to build an execution context's
	// environment. Host is an explicit snapshot; nothing is read from the
	// process environment.
	EnvSpec struct {
		Host  map[string]string
		Allow Allowlist
		// BinDir is prepended to the host PATH.
		BinDir     string
		VirtualEnv string
		Name       string
		TmpDir     string
		DistDir    string
		RootDir    string
		// EnvFiles are dotenv files, '?' suffix for optional, relative to
		// EnvFileBase.
		EnvFiles    []string
		EnvFileBase string
		SetEnv      map[string]string
	}
)

// BuildEnv constructs the environment for one execution context. Later
// layers override earlier ones:
//
//  1. allowlisted host variables
//  2. PATH, VIRTUAL_ENV, TMPDIR and the WHEELHOUSE_* variables
//  3. dotenv files, in order
//  4. set_env
func BuildEnv(spec EnvSpec) (map[string]string, error) {
	env := make(map[string]string)
	if spec.Allow != nil {
		for key, value := range spec.Host {
			if spec.Allow.Allows(key) {
				env[key] = value
			}
		}
	}

	env["PATH"] = joinPath(spec.BinDir, spec.Host["PATH"])
	setIfNotEmpty(env, EnvVirtualEnv, spec.VirtualEnv)
	setIfNotEmpty(env, EnvName, spec.Name)
	setIfNotEmpty(env, EnvTmpDir, spec.TmpDir)
	setIfNotEmpty(env, "TMPDIR", spec.TmpDir)
	setIfNotEmpty(env, EnvDistDir, spec.DistDir)
	setIfNotEmpty(env, EnvRootDir, spec.RootDir)

	for _, f := range spec.EnvFiles {
		if err := LoadEnvFile(env, f, spec.EnvFileBase); err != nil {
			return nil, err
		}
	}

	maps.Copy(env, spec.SetEnv)
	return env, nil
}

// EnvToSlice converts an environment map to sorted KEY=value pairs.
func EnvToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		out = append(out, key+"="+env[key])
	}
	return out
}

// SliceToEnv parses KEY=value pairs, as returned by os.Environ. Later
// duplicates win; entries without '=' are ignored.
func SliceToEnv(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}

func joinPath(first, rest string) string {
	switch {
	case first == "":
		return rest
	case rest == "":
		return first
	default:
		return first + string(os.PathListSeparator) + rest
	}
}

func setIfNotEmpty(env map[string]string, key, value string) {
	if value != "" {
		env[key] = value
	}
}

// VenvBinDir returns the executables directory of a virtual environment.
func VenvBinDir(venv string, goos string) string {
	if goos == "windows" {
		return filepath.Join(venv, "Scripts")
	}
	return filepath.Join(venv, "bin")
}

// DescribeEnv renders env for dry-run output, one KEY=value per line, with
// values of keys not in reveal replaced by "***".
func DescribeEnv(env map[string]string, reveal func(string) bool) string {
	var sb strings.Builder
	for _, key := range slices.Sorted(maps.Keys(env)) {
		value := env[key]
		if reveal != nil && !reveal(key) {
			value = "***"
		}
		fmt.Fprintf(&sb, "%s=%s\n", key, value)
	}
	return sb.String()
}
