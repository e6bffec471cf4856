// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDotenvSyntax is wrapped by DotenvError.
var ErrDotenvSyntax = errors.New("invalid dotenv syntax")

// DotenvError locates a syntax problem in a dotenv file.
type DotenvError struct {
	File   string
	Line   int
	Reason string
}

func (e *DotenvError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}

func (e *DotenvError) Unwrap() error { return ErrDotenvSyntax }

// LoadEnvFile reads a dotenv file into env. A trailing '?' marks the file
// optional: a missing optional file is not an error. Relative paths resolve
// against baseDir.
func LoadEnvFile(env map[string]string, path, baseDir string) error {
	path, optional := strings.CutSuffix(path, "?")

	fullPath := filepath.FromSlash(path)
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(baseDir, fullPath)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	return ParseEnvFile(env, content, path)
}

// ParseEnvFile parses KEY=value lines into env. Blank lines, '#' comments
// and an "export " prefix are accepted. Double-quoted values understand
// \n \r \t \\ \" and \$ escapes; single-quoted values are literal; unquoted
// values end at " #".
func ParseEnvFile(env map[string]string, content []byte, filename string) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, found := strings.Cut(line, "=")
		if !found {
			return &DotenvError{File: filename, Line: lineNum, Reason: "missing '='"}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return &DotenvError{File: filename, Line: lineNum, Reason: "empty variable name"}
		}

		parsed, reason := parseEnvValue(strings.TrimSpace(value))
		if reason != "" {
			return &DotenvError{File: filename, Line: lineNum, Reason: reason}
		}
		env[key] = parsed
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

// parseEnvValue returns the decoded value, or a non-empty reason on error.
func parseEnvValue(value string) (string, string) {
	if value == "" {
		return "", ""
	}
	switch value[0] {
	case '"':
		if len(value) < 2 || value[len(value)-1] != '"' {
			return "", "unterminated double quote"
		}
		return unescapeDoubleQuoted(value[1 : len(value)-1]), ""
	case '\'':
		if len(value) < 2 || value[len(value)-1] != '\'' {
			return "", "unterminated single quote"
		}
		return value[1 : len(value)-1], ""
	}
	if before, _, found := strings.Cut(value, " #"); found {
		value = strings.TrimSpace(before)
	}
	return value, ""
}

var doubleQuoteEscapes = strings.NewReplacer(
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
	`\\`, `\`,
	`\"`, `"`,
	`\$`, `$`,
)

func unescapeDoubleQuoted(s string) string {
	return doubleQuoteEscapes.Replace(s)
}
