// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"

	"github.com/wheelhouse-dev/wheelhouse/pkg/cueutil"
)

const (
	// CUEFileName is the preferred matrix file name.
	CUEFileName = "wheelhouse.cue"
	// PyprojectFileName is the fallback carrying a [tool.wheelhouse] table.
	PyprojectFileName = "pyproject.toml"
)

var (
	//go:embed matrixfile_schema.cue
	schemaCUE []byte

	// ErrMatrixNotFound is returned by Find when no matrix file exists.
	ErrMatrixNotFound = errors.New("no matrix file found")
	// ErrNoWheelhouseTable is returned when pyproject.toml has no [tool.wheelhouse] table.
	ErrNoWheelhouseTable = errors.New("pyproject.toml has no [tool.wheelhouse] table")
)

// Schema returns the embedded CUE schema.
func Schema() []byte { return bytes.Clone(schemaCUE) }

// Find locates the matrix file in dir: wheelhouse.cue first, then a
// pyproject.toml that carries a [tool.wheelhouse] table.
func Find(dir string) (string, error) {
	candidate := filepath.Join(dir, CUEFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	candidate = filepath.Join(dir, PyprojectFileName)
	data, err := os.ReadFile(candidate)
	if err == nil && hasWheelhouseTable(data) {
		return candidate, nil
	}
	return "", fmt.Errorf("%w in %s (looked for %s and [tool.wheelhouse] in %s)",
		ErrMatrixNotFound, dir, CUEFileName, PyprojectFileName)
}

// Load reads, parses and validates the matrix file at path. Relative
// directories in the matrix resolve against the file's directory.
func Load(path string) (*Matrix, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve matrix path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read matrix file: %w", err)
	}

	var m *Matrix
	if filepath.Ext(absPath) == ".toml" {
		m, err = ParsePyproject(data, absPath)
	} else {
		m, err = Parse(data, absPath)
	}
	if err != nil {
		return nil, err
	}

	m.Path = absPath
	m.Root = filepath.Dir(absPath)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse decodes a CUE matrix document. It does not run semantic validation.
func Parse(data []byte, filename string) (*Matrix, error) {
	result, err := cueutil.ParseAndDecode[Matrix](schemaCUE, data, "#Matrix", cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}

	m := result.Value
	m.normalize()

	envs := result.Unified.LookupPath(cue.ParsePath("envs"))
	if iter, iterErr := envs.Fields(); iterErr == nil {
		for iter.Next() {
			m.order = append(m.order, EnvName(iter.Selector().Unquoted()))
		}
	}
	return m, nil
}

// ParsePyproject decodes the [tool.wheelhouse] table of a pyproject.toml
// document. Schema defaults apply to omitted keys.
func ParsePyproject(data []byte, filename string) (*Matrix, error) {
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, filename); err != nil {
		return nil, err
	}
	if !hasWheelhouseTable(data) {
		return nil, fmt.Errorf("%s: %w", filename, ErrNoWheelhouseTable)
	}

	var doc struct {
		Tool struct {
			Wheelhouse Matrix `toml:"wheelhouse"`
		} `toml:"tool"`
	}
	doc.Tool.Wheelhouse = *Default()

	if err := toml.Unmarshal(data, &doc); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %s", filename, row, col, decodeErr.Error())
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	m := &doc.Tool.Wheelhouse
	m.normalize()
	m.order = pyprojectEnvOrder(data)
	return m, nil
}

func hasWheelhouseTable(data []byte) bool {
	var probe struct {
		Tool struct {
			Wheelhouse map[string]any `toml:"wheelhouse"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Tool.Wheelhouse != nil
}

// pyprojectEnvOrder recovers the declaration order of [tool.wheelhouse.envs.*]
// tables, which map decoding loses.
func pyprojectEnvOrder(data []byte) []EnvName {
	var (
		p     unstable.Parser
		order []EnvName
		seen  = map[EnvName]bool{}
	)
	p.Reset(data)
	for p.NextExpression() {
		expr := p.Expression()
		if expr.Kind != unstable.Table && expr.Kind != unstable.ArrayTable {
			continue
		}
		var parts []string
		it := expr.Key()
		for it.Next() {
			parts = append(parts, string(it.Node().Data))
		}
		if len(parts) < 4 || parts[0] != "tool" || parts[1] != "wheelhouse" || parts[2] != "envs" {
			continue
		}
		name := EnvName(parts[3])
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	return order
}
