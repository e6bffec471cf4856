// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

// RootPlaceholder is replaced by the shell-quoted source root.
const RootPlaceholder = "{root}"

const maxOutput = 32 << 10

type (
	// StyleUnit runs the lint command over one source root.
	StyleUnit struct {
		Root    string
		Command string
		Runner  CommandRunner
	}

	// DocsUnit runs a documentation build and counts the warnings it
	// prints. Warnings fail the unit only in strict mode.
	DocsUnit struct {
		Command string
		Strict  bool
		Runner  CommandRunner
	}
)

// Compile-time interface checks
var (
	_ Unit = (*StyleUnit)(nil)
	_ Unit = (*DocsUnit)(nil)
)

// Name implements Unit.
func (u *StyleUnit) Name() string { return "style " + path.Clean(u.Root) }

// Kind implements Unit.
func (u *StyleUnit) Kind() Kind { return KindStyle }

// Run implements Unit.
func (u *StyleUnit) Run(ctx context.Context, req Request) UnitResult {
	res := UnitResult{Name: u.Name(), Kind: KindStyle}
	quoted, err := syntax.Quote(u.Root, syntax.LangPOSIX)
	if err != nil {
		res.Status = StatusFailed
		res.ExitCode = 2
		res.Findings = []Finding{{Severity: SeverityError, Message: fmt.Sprintf("quote root %q: %v", u.Root, err)}}
		return res
	}
	script := strings.ReplaceAll(u.Command, RootPlaceholder, quoted)
	if !strings.Contains(u.Command, RootPlaceholder) {
		script = u.Command + " " + quoted
	}

	out := &outputBuffer{}
	r := runCommand(ctx, u.Runner, req, u.Name(), script, out)
	res.ExitCode = int(r.ExitCode)
	res.Duration = r.Duration
	res.Output = out.String()
	res.Status = StatusPassed
	if !r.Success() {
		res.Status = StatusFailed
		if r.Error != nil {
			res.Findings = append(res.Findings, Finding{Severity: SeverityError, Message: r.Error.Error()})
		}
	}
	return res
}

// Name implements Unit.
func (u *DocsUnit) Name() string { return "docs" }

// Kind implements Unit.
func (u *DocsUnit) Kind() Kind { return KindDocs }

// Run implements Unit.
func (u *DocsUnit) Run(ctx context.Context, req Request) UnitResult {
	res := UnitResult{Name: u.Name(), Kind: KindDocs, Status: StatusPassed}
	out := &outputBuffer{}
	r := runCommand(ctx, u.Runner, req, u.Name(), u.Command, out)
	res.ExitCode = int(r.ExitCode)
	res.Duration = r.Duration
	res.Output = out.String()

	for _, w := range warningLines(res.Output) {
		res.Warnings++
		sev := SeverityWarning
		if u.Strict {
			sev = SeverityError
		}
		res.Findings = append(res.Findings, Finding{Severity: sev, Message: w})
	}

	switch {
	case r.Error != nil:
		res.Status = StatusFailed
		res.Findings = append(res.Findings, Finding{Severity: SeverityError, Message: r.Error.Error()})
	case !r.ExitCode.IsSuccess():
		res.Status = StatusFailed
	case u.Strict && res.Warnings > 0:
		res.Status = StatusFailed
		res.ExitCode = 1
	}
	return res
}

func runCommand(ctx context.Context, runner CommandRunner, req Request, name, script string, out *outputBuffer) *runtime.Result {
	start := time.Now()
	r := runner.Run(ctx, runtime.Command{
		Script: script,
		Name:   name,
		Dir:    req.Dir,
		Env:    req.Env,
		Stdout: out,
		Stderr: out,
	})
	if r.Duration == 0 {
		r.Duration = time.Since(start)
	}
	return r
}

// warningLines returns the lines a documentation build reported as
// warnings.
func warningLines(output string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, "WARNING") || strings.Contains(strings.ToLower(line), "warning:") {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines
}

// outputBuffer keeps the last maxOutput bytes of a unit's output.
type outputBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxOutput; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
