// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// StateFileName records the fingerprint of a provisioned environment.
const StateFileName = ".provisioned.json"

// State is the content of the state file.
type State struct {
	Fingerprint string                 `json:"fingerprint"`
	Python      string                 `json:"python"`
	Deps        []string               `json:"deps"`
	Install     matrixfile.InstallMode `json:"install"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Fingerprint hashes what determines an environment's content: the
// interpreter binary, the dependency set (including the content of
// referenced requirement files) and the install mode.
func Fingerprint(interpreter string, deps []string, install matrixfile.InstallMode, root string) (string, error) {
	h := sha256.New()

	h.Write([]byte("python:" + interpreter + "\n"))
	if interpreter != "" {
		sum, err := CalculateFileHash(interpreter)
		if err != nil {
			return "", fmt.Errorf("hash interpreter: %w", err)
		}
		h.Write([]byte("python-sha256:" + sum + "\n"))
	}

	for _, dep := range deps {
		h.Write([]byte("dep:" + dep + "\n"))
		if _, file, ok := requirementFile(dep); ok {
			if !filepath.IsAbs(file) {
				file = filepath.Join(root, file)
			}
			sum, err := CalculateFileHash(file)
			if err != nil {
				return "", fmt.Errorf("hash requirement file: %w", err)
			}
			h.Write([]byte("file:" + sum + "\n"))
		}
	}

	h.Write([]byte("install:" + string(install) + "\n"))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadState loads the state file of an environment directory. A missing
// file returns (nil, nil).
func ReadState(envDir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(envDir, StateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt state file only costs a rebuild.
		return nil, nil //nolint:nilerr
	}
	return &st, nil
}

// WriteState stores st in envDir.
func WriteState(envDir string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(envDir, StateFileName), append(data, '\n'), 0o644)
}
