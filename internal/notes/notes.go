// Package notes extracts per-version release notes from a markdown
// changelog. A version's notes are everything between its level-2
// heading and the next level-2 heading.
package notes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ErrNotFound is returned when the changelog has no entry for the
// requested version.
var ErrNotFound = errors.New("version not found in changelog")

// Extract reads the changelog at path and returns the raw markdown of
// the section for version.
func Extract(path, version string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open changelog: %w", err)
	}
	defer f.Close()
	return ExtractFrom(f, version)
}

// ExtractFrom parses the changelog from r and returns the raw markdown
// of the section for version.
//
// The heading may carry the version bare, with a v prefix, or in link
// style (`## [1.2.3] - 2026-01-15`); all are matched. Lower-level
// headings inside the section are kept.
func ExtractFrom(r io.Reader, version string) (string, error) {
	source, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read changelog: %w", err)
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	// Collect every level-2 heading with the offsets that bound its
	// section: where the heading's own line starts and where the
	// content after it begins.
	type sectionHeading struct {
		text         string
		lineStart    int
		contentStart int
	}
	var headings []sectionHeading

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 || heading.Lines().Len() == 0 {
			continue
		}

		first := heading.Lines().At(0)
		lineStart := first.Start
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}

		contentStart := heading.Lines().At(heading.Lines().Len() - 1).Stop
		for contentStart < len(source) && source[contentStart] != '\n' {
			contentStart++
		}
		if contentStart < len(source) {
			contentStart++
		}

		headings = append(headings, sectionHeading{
			text:         nodeText(heading, source),
			lineStart:    lineStart,
			contentStart: contentStart,
		})
	}

	for i, h := range headings {
		if !headingMatchesVersion(h.text, version) {
			continue
		}
		end := len(source)
		if i+1 < len(headings) {
			end = headings[i+1].lineStart
		}
		return strings.TrimSpace(string(source[h.contentStart:end])), nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, version)
}

// headingMatchesVersion reports whether a heading names the version.
// Both sides are compared with any leading v stripped; bracket and
// parenthesis link decoration around the version is ignored.
func headingMatchesVersion(heading, version string) bool {
	want := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if want == "" {
		return false
	}
	tokens := strings.FieldsFunc(heading, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '[' || r == ']' || r == '(' || r == ')'
	})
	for _, token := range tokens {
		if strings.TrimPrefix(token, "v") == want {
			return true
		}
	}
	return false
}

// nodeText extracts the plain text of an AST node, descending into
// inline children so linked versions are seen.
func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
