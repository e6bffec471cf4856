// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// DocumentUnit validates the encoding and markup of one Markdown document.
type DocumentUnit struct {
	Path string
}

// Compile-time interface check
var _ Unit = (*DocumentUnit)(nil)

// Name implements Unit.
func (u *DocumentUnit) Name() string { return "document " + filepath.ToSlash(u.Path) }

// Kind implements Unit.
func (u *DocumentUnit) Kind() Kind { return KindDocument }

// Run implements Unit.
func (u *DocumentUnit) Run(_ context.Context, req Request) UnitResult {
	start := time.Now()
	res := UnitResult{Name: u.Name(), Kind: KindDocument, Status: StatusPassed}

	path := u.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(req.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Findings = []Finding{{Severity: SeverityError, Message: err.Error()}}
	} else {
		res.Findings = CheckDocument(data)
	}
	if res.Errors() > 0 {
		res.Status = StatusFailed
		res.ExitCode = 1
	}
	res.Duration = time.Since(start)
	return res
}

// CheckDocument validates a Markdown document: UTF-8 without BOM or NUL
// bytes, every fenced block closed, no empty link destinations and no
// heading level jumps larger than one.
func CheckDocument(data []byte) []Finding {
	var findings []Finding
	if bytes.HasPrefix(data, utf8BOM) {
		findings = append(findings, Finding{Line: 1, Severity: SeverityError, Message: "document starts with a UTF-8 byte order mark"})
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		findings = append(findings, Finding{Line: lineAt(data, i), Severity: SeverityError, Message: "document contains NUL bytes"})
	}
	if !utf8.Valid(data) {
		findings = append(findings, Finding{Line: lineAt(data, firstInvalidUTF8(data)), Severity: SeverityError, Message: "document is not valid UTF-8"})
		return findings
	}
	return append(findings, checkMarkup(data)...)
}

func checkMarkup(source []byte) []Finding {
	fences := &fenceTracker{
		BlockParser: parser.NewFencedCodeBlockParser(),
		opened:      map[ast.Node]int{},
		closed:      map[ast.Node]bool{},
	}
	p := parser.NewParser(
		parser.WithBlockParsers(withFenceTracker(fences)...),
		parser.WithInlineParsers(parser.DefaultInlineParsers()...),
		parser.WithParagraphTransformers(parser.DefaultParagraphTransformers()...),
	)
	doc := p.Parse(text.NewReader(source))

	var findings []Finding
	prevLevel := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			if !fences.closed[node] {
				findings = append(findings, Finding{
					Line:     lineAt(source, fences.opened[node]),
					Severity: SeverityError,
					Message:  "fenced code block is never closed",
				})
			}
		case *ast.Heading:
			if prevLevel > 0 && node.Level > prevLevel+1 {
				findings = append(findings, Finding{
					Line:     lineAt(source, blockOffset(node)),
					Severity: SeverityError,
					Message:  fmt.Sprintf("heading level jumps from h%d to h%d", prevLevel, node.Level),
				})
			}
			prevLevel = node.Level
		case *ast.Link:
			if len(bytes.TrimSpace(node.Destination)) == 0 {
				findings = append(findings, emptyDestination(source, node, "link"))
			}
		case *ast.Image:
			if len(bytes.TrimSpace(node.Destination)) == 0 {
				findings = append(findings, emptyDestination(source, node, "image"))
			}
		}
		return ast.WalkContinue, nil
	})
	return findings
}

func emptyDestination(source []byte, n ast.Node, what string) Finding {
	return Finding{
		Line:     lineAt(source, blockOffset(n)),
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s %q has an empty destination", what, string(nodeText(source, n))),
	}
}

// fenceTracker wraps the fenced code block parser to record where each
// block opens and whether a closing fence was seen. Blocks that run into
// the end of the document or of their container never see one.
type fenceTracker struct {
	parser.BlockParser
	opened map[ast.Node]int
	closed map[ast.Node]bool
}

func (f *fenceTracker) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	_, seg := reader.PeekLine()
	node, state := f.BlockParser.Open(parent, reader, pc)
	if node != nil {
		f.opened[node] = seg.Start
	}
	return node, state
}

func (f *fenceTracker) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	state := f.BlockParser.Continue(node, reader, pc)
	if state == parser.Close {
		f.closed[node] = true
	}
	return state
}

// withFenceTracker returns the default block parsers with the fenced code
// block parser replaced by f.
func withFenceTracker(f *fenceTracker) []util.PrioritizedValue {
	defaults := parser.DefaultBlockParsers()
	out := make([]util.PrioritizedValue, 0, len(defaults))
	for _, v := range defaults {
		if v.Value == f.BlockParser {
			v = util.Prioritized(f, v.Priority)
		}
		out = append(out, v)
	}
	return out
}

// blockOffset returns the source offset of the nearest block with lines.
func blockOffset(n ast.Node) int {
	for ; n != nil; n = n.Parent() {
		if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
			return n.Lines().At(0).Start
		}
	}
	return 0
}

func nodeText(source []byte, n ast.Node) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.Bytes()
}

// lineAt converts a byte offset to a 1-based line number.
func lineAt(data []byte, offset int) int {
	offset = min(max(offset, 0), len(data))
	return bytes.Count(data[:offset], []byte{'\n'}) + 1
}

func firstInvalidUTF8(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}
