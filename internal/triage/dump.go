package triage

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

// Fragment kinds produced by SegmentDump.
const (
	FragmentBullet    = "bullet"
	FragmentParagraph = "paragraph"
	FragmentHeading   = "heading"
)

// Fragment is one piece of a segmented brain dump, in document order.
type Fragment struct {
	Kind string
	Text string
}

// ValidateDump rejects empty or oversized brain-dump text before any
// session is created. Size is measured in runes, not bytes.
func ValidateDump(dump string, maxChars int) error {
	if strings.TrimSpace(dump) == "" {
		return cozyerrors.NewInvalidInput("brain dump cannot be empty")
	}
	if n := CountChars(dump); maxChars > 0 && n > maxChars {
		return cozyerrors.NewInvalidInput(
			fmt.Sprintf("brain dump exceeds maximum size: %d chars (max %d)", n, maxChars))
	}
	return nil
}

// SegmentDump splits a brain dump into markdown-aware fragments: bullets,
// paragraphs, and headings, in document order. Brain dumps are frequently
// bullet lists; fragment counts give the parse prompt a hint of how many
// distinct items to expect. Plain prose comes back as paragraph fragments,
// so a dump with no markdown still segments.
func SegmentDump(dump string) []Fragment {
	source := []byte(dump)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(source))

	var fragments []Fragment
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			if txt := blockText(n, source); txt != "" {
				fragments = append(fragments, Fragment{Kind: FragmentHeading, Text: txt})
			}
		case ast.KindParagraph, ast.KindTextBlock:
			txt := blockText(n, source)
			if txt == "" {
				return ast.WalkContinue, nil
			}
			kind := FragmentParagraph
			if insideListItem(n) {
				kind = FragmentBullet
			}
			fragments = append(fragments, Fragment{Kind: kind, Text: txt})
		}
		return ast.WalkContinue, nil
	})
	return fragments
}

// CountFragments returns bullet/paragraph/heading counts for a fragment
// list. Used for pipeline logging and parse-prompt hints.
func CountFragments(fragments []Fragment) (bullets, paragraphs, headings int) {
	for _, f := range fragments {
		switch f.Kind {
		case FragmentBullet:
			bullets++
		case FragmentParagraph:
			paragraphs++
		case FragmentHeading:
			headings++
		}
	}
	return bullets, paragraphs, headings
}

// blockText joins the source lines of a block node, collapsing the line
// breaks markdown treats as soft wraps.
func blockText(n ast.Node, source []byte) string {
	lines := n.Lines()
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.Write(seg.Value(source))
	}
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(sb.String(), " "))
}

func insideListItem(n ast.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == ast.KindListItem {
			return true
		}
	}
	return false
}
