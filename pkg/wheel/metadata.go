// SPDX-License-Identifier: MPL-2.0

package wheel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Metadata is the parsed .dist-info/WHEEL file. Headers keep their original
// order so rewriting the file is stable.
type Metadata struct {
	headers [][2]string
}

// ReadMetadata parses the WHEEL file of an unpacked wheel.
func ReadMetadata(root, distInfo string) (*Metadata, error) {
	p := filepath.Join(root, distInfo, "WHEEL")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read WHEEL metadata: %w", err)
	}
	return ParseMetadata(data)
}

// ParseMetadata parses "Key: value" header lines.
func ParseMetadata(data []byte) (*Metadata, error) {
	m := &Metadata{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("WHEEL:%d: malformed header %q", i+1, line)
		}
		m.headers = append(m.headers, [2]string{strings.TrimSpace(key), strings.TrimSpace(value)})
	}
	return m, nil
}

// Get returns every value of the header key.
func (m *Metadata) Get(key string) []string {
	var out []string
	for _, h := range m.headers {
		if strings.EqualFold(h[0], key) {
			out = append(out, h[1])
		}
	}
	return out
}

// RootIsPurelib reports the Root-Is-Purelib header.
func (m *Metadata) RootIsPurelib() bool {
	v := m.Get("Root-Is-Purelib")
	return len(v) > 0 && strings.EqualFold(v[0], "true")
}

// SetTags replaces every Tag header with tags, keeping the position of the
// first existing Tag header.
func (m *Metadata) SetTags(tags []string) {
	var out [][2]string
	inserted := false
	for _, h := range m.headers {
		if strings.EqualFold(h[0], "Tag") {
			if !inserted {
				for _, t := range tags {
					out = append(out, [2]string{"Tag", t})
				}
				inserted = true
			}
			continue
		}
		out = append(out, h)
	}
	if !inserted {
		for _, t := range tags {
			out = append(out, [2]string{"Tag", t})
		}
	}
	m.headers = out
}

// Bytes renders the metadata file.
func (m *Metadata) Bytes() []byte {
	var b strings.Builder
	for _, h := range m.headers {
		b.WriteString(h[0] + ": " + h[1] + "\n")
	}
	return []byte(b.String())
}

// Write stores the metadata back into an unpacked wheel.
func (m *Metadata) Write(root, distInfo string) error {
	return os.WriteFile(filepath.Join(root, distInfo, "WHEEL"), m.Bytes(), 0o644)
}
