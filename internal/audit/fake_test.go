// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
)

// Fake binaries are JSON documents prefixed with fakeMagic. The fake
// inspector parses them and the fake patcher rewrites them in place, so
// copies, repacks and re-inspection all behave like real files.
const fakeMagic = "FAKEBIN"

type fakeInspector struct{}

func (fakeInspector) Inspect(path string) (*Binary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	body, ok := strings.CutPrefix(string(data), fakeMagic)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotBinary)
	}
	var b Binary
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return nil, err
	}
	b.Path = path
	return &b, nil
}

type fakePatcher struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePatcher) mutate(path string, fn func(*Binary)) error {
	b, err := fakeInspector{}.Inspect(path)
	if err != nil {
		return err
	}
	fn(b)
	return writeFakeBinary(path, b)
}

func (p *fakePatcher) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePatcher) SetSoname(_ context.Context, path, name string) error {
	p.record("soname " + name)
	return p.mutate(path, func(b *Binary) { b.Soname = name })
}

func (p *fakePatcher) ReplaceNeeded(_ context.Context, path string, replacements map[string]string) error {
	for _, old := range slices.Sorted(maps.Keys(replacements)) {
		p.record("needed " + old + "=" + replacements[old])
	}
	return p.mutate(path, func(b *Binary) {
		for i, n := range b.Needed {
			if r, ok := replacements[n]; ok {
				b.Needed[i] = r
			}
		}
	})
}

func (p *fakePatcher) SetRPath(_ context.Context, path, rpath string) error {
	p.record("rpath " + rpath)
	return p.mutate(path, func(b *Binary) { b.RPaths = strings.Split(rpath, ":") })
}

func writeFakeBinary(path string, b *Binary) error {
	stored := *b
	stored.Path = ""
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(fakeMagic), data...), 0o755)
}

func fakeELF(t *testing.T, path, soname string, needed ...string) {
	t.Helper()

	b := &Binary{Format: FormatELF, Machine: "x86_64", Bits: 64, Soname: soname, Needed: needed}
	if err := writeFakeBinary(path, b); err != nil {
		t.Fatal(err)
	}
}
