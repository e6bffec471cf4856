// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Stage: {
	name:     string
	retries:  int & >=0 | *0
	commands: [...string]
	strict?:  bool
}
`

type testStage struct {
	Name     string   `json:"name"`
	Retries  int      `json:"retries"`
	Commands []string `json:"commands"`
	Strict   bool     `json:"strict,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	t.Run("valid document decodes with defaults", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: "lint"
commands: ["ruff check src", "ruff check tests"]
`)
		result, err := ParseAndDecode[testStage]([]byte(testSchema), data, "#Stage")
		if err != nil {
			t.Fatalf("ParseAndDecode() error = %v", err)
		}
		if result.Value.Name != "lint" {
			t.Errorf("Name = %q, want %q", result.Value.Name, "lint")
		}
		if result.Value.Retries != 0 {
			t.Errorf("Retries = %d, want default 0", result.Value.Retries)
		}
		if len(result.Value.Commands) != 2 {
			t.Errorf("len(Commands) = %d, want 2", len(result.Value.Commands))
		}
	})

	t.Run("constraint violation reports path", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: "test"
retries: -1
`)
		_, err := ParseAndDecode[testStage]([]byte(testSchema), data, "#Stage", WithFilename("wheelhouse.cue"))
		if err == nil {
			t.Fatal("expected error for negative retries")
		}
		if !strings.Contains(err.Error(), "wheelhouse.cue") {
			t.Errorf("error %q should name the file", err)
		}
		if !strings.Contains(err.Error(), "retries") {
			t.Errorf("error %q should name the field", err)
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecode[testStage]([]byte(testSchema), []byte(`name: "x`), "#Stage")
		if err == nil {
			t.Fatal("expected syntax error")
		}
	})

	t.Run("unknown schema definition", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecode[testStage]([]byte(testSchema), []byte(`name: "x"`), "#Missing")
		if err == nil || !strings.Contains(err.Error(), "#Missing") {
			t.Fatalf("expected missing definition error, got %v", err)
		}
	})

	t.Run("size limit", func(t *testing.T) {
		t.Parallel()

		data := []byte(`name: "` + strings.Repeat("a", 64) + `"`)
		_, err := ParseAndDecode[testStage]([]byte(testSchema), data, "#Stage", WithMaxFileSize(16))
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("error = %v, want ErrFileTooLarge", err)
		}
	})
}

func TestParseToMap(t *testing.T) {
	t.Parallel()

	data := []byte(`name: "docs"`)
	m, err := ParseToMap([]byte(testSchema), data, "#Stage", WithConcrete(false))
	if err != nil {
		t.Fatalf("ParseToMap() error = %v", err)
	}
	if m["name"] != "docs" {
		t.Errorf("m[name] = %v, want docs", m["name"])
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"envs"}, "envs"},
		{[]string{"envs", "py3", "commands", "1"}, "envs.py3.commands[1]"},
		{[]string{"0"}, "0"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.in); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
