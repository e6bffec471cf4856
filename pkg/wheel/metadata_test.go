// SPDX-License-Identifier: MPL-2.0

package wheel

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const wheelFile = "Wheel-Version: 1.0\r\nGenerator: bdist_wheel (0.43.0)\nRoot-Is-Purelib: false\nTag: cp312-cp312-linux_x86_64\nBuild: 1\n"

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	m, err := ParseMetadata([]byte(wheelFile))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Get("wheel-version"); !slices.Equal(got, []string{"1.0"}) {
		t.Errorf("Get(wheel-version) = %v", got)
	}
	if m.RootIsPurelib() {
		t.Error("RootIsPurelib() = true")
	}
	if got := m.Get("Missing"); got != nil {
		t.Errorf("Get(Missing) = %v", got)
	}

	if _, err := ParseMetadata([]byte("Wheel-Version 1.0\n")); err == nil {
		t.Error("header without colon parsed")
	}
}

func TestMetadata_SetTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		tags  []string
		want  string
	}{
		{
			name:  "replaces in place",
			input: "Wheel-Version: 1.0\nTag: cp312-cp312-linux_x86_64\nTag: cp312-abi3-linux_x86_64\nBuild: 1\n",
			tags:  []string{"cp312-cp312-manylinux_2_28_x86_64"},
			want:  "Wheel-Version: 1.0\nTag: cp312-cp312-manylinux_2_28_x86_64\nBuild: 1\n",
		},
		{
			name:  "appends when absent",
			input: "Wheel-Version: 1.0\n",
			tags:  []string{"py3-none-any"},
			want:  "Wheel-Version: 1.0\nTag: py3-none-any\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := ParseMetadata([]byte(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			m.SetTags(tt.tags)
			if got := string(m.Bytes()); got != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetadata_ReadWrite(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	distInfo := "core-1.0.dist-info"
	if err := os.MkdirAll(filepath.Join(root, distInfo), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, distInfo, "WHEEL"), []byte(wheelFile), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ReadMetadata(root, distInfo)
	if err != nil {
		t.Fatal(err)
	}
	m.SetTags([]string{"cp312-cp312-manylinux_2_28_x86_64"})
	if err := m.Write(root, distInfo); err != nil {
		t.Fatal(err)
	}

	back, err := ReadMetadata(root, distInfo)
	if err != nil {
		t.Fatal(err)
	}
	if got := back.Get("Tag"); !slices.Equal(got, []string{"cp312-cp312-manylinux_2_28_x86_64"}) {
		t.Errorf("Tag after rewrite = %v", got)
	}

	if _, err := ReadMetadata(t.TempDir(), distInfo); err == nil {
		t.Error("ReadMetadata on a missing file succeeded")
	}
}
