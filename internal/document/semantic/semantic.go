// Package semantic implements the semantic parser (distilled spec §4.12):
// it takes Markdown and produces a finite, ordered sequence of Semantic
// Elements. Grounded on `dgnsrekt-glow-tts`'s dependency on
// `github.com/yuin/goldmark` as the Markdown engine — the AST it builds
// is walked here instead of rendered to a display format.
package semantic

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Kind discriminates one Semantic Element.
type Kind int

const (
	KindHeading Kind = iota
	KindParagraph
	KindBold
	KindItalic
	KindCode
	KindCodeBlock
	KindListItem
	KindLink
	KindBreak
)

func (k Kind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindParagraph:
		return "paragraph"
	case KindBold:
		return "bold"
	case KindItalic:
		return "italic"
	case KindCode:
		return "code"
	case KindCodeBlock:
		return "code_block"
	case KindListItem:
		return "list_item"
	case KindLink:
		return "link"
	case KindBreak:
		return "break"
	default:
		return "unknown"
	}
}

// Element is one entry in the ordered sequence (distilled §4.12).
type Element struct {
	Kind   Kind
	Text   string
	Level  int    // heading level, 1-6; zero for non-headings
	Target string // link destination; empty for non-links
}

// Parse converts Markdown source into a finite, ordered element sequence.
// Parsing is pure: reparsing identical input yields an identical sequence
// (distilled §4.12 invariant).
func Parse(source []byte) ([]Element, error) {
	md := goldmark.New()
	reader := text.NewReader(source)
	root := md.Parser().Parse(reader)

	var elements []Element
	err := gast.Walk(root, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering {
			return gast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *gast.Heading:
			elements = append(elements, Element{
				Kind:  KindHeading,
				Text:  flattenText(node, source),
				Level: node.Level,
			})
			return gast.WalkSkipChildren, nil

		case *gast.FencedCodeBlock:
			elements = append(elements, Element{Kind: KindCodeBlock, Text: blockLines(node, source)})
			return gast.WalkSkipChildren, nil

		case *gast.CodeBlock:
			elements = append(elements, Element{Kind: KindCodeBlock, Text: blockLines(node, source)})
			return gast.WalkSkipChildren, nil

		case *gast.ListItem:
			elements = append(elements, Element{Kind: KindListItem, Text: flattenText(node, source)})
			return gast.WalkSkipChildren, nil

		case *gast.Emphasis:
			kind := KindItalic
			if node.Level == 2 {
				kind = KindBold
			}
			elements = append(elements, Element{Kind: kind, Text: flattenText(node, source)})
			return gast.WalkSkipChildren, nil

		case *gast.CodeSpan:
			elements = append(elements, Element{Kind: KindCode, Text: flattenText(node, source)})
			return gast.WalkSkipChildren, nil

		case *gast.Link:
			elements = append(elements, Element{
				Kind:   KindLink,
				Text:   flattenText(node, source),
				Target: string(node.Destination),
			})
			return gast.WalkSkipChildren, nil

		case *gast.Text:
			if _, insideParagraph := parentIsParagraph(node); insideParagraph {
				value := strings.TrimSpace(string(node.Segment.Value(source)))
				if value != "" {
					elements = append(elements, Element{Kind: KindParagraph, Text: value})
				}
				// goldmark represents a line break as a flag on the Text node
				// that precedes it, not as a distinct node type.
				if node.HardLineBreak() || node.SoftLineBreak() {
					elements = append(elements, Element{Kind: KindBreak})
				}
			}
			return gast.WalkContinue, nil
		}
		return gast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: walk markdown AST: %w", err)
	}
	return elements, nil
}

// parentIsParagraph reports whether n's parent is a Paragraph or
// TextBlock, so bare Text runs that are direct paragraph content are
// captured without double-counting text already flattened by an
// enclosing Emphasis/Link/CodeSpan handler (those return WalkSkipChildren
// so their child Text nodes are never visited).
func parentIsParagraph(n gast.Node) (gast.Node, bool) {
	parent := n.Parent()
	if parent == nil {
		return nil, false
	}
	switch parent.Kind() {
	case gast.KindParagraph, gast.KindTextBlock:
		return parent, true
	default:
		return nil, false
	}
}

// flattenText collects every Text segment under n, in document order,
// ignoring nested markup — used for elements treated as atomic (headings,
// list items, emphasis spans, code spans, links).
func flattenText(n gast.Node, source []byte) string {
	var b strings.Builder
	gast.Walk(n, func(child gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering {
			return gast.WalkContinue, nil
		}
		if t, ok := child.(*gast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		}
		return gast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// blockLines joins a code block's raw source lines, preserving internal
// newlines (unlike flattenText, which is for inline spans).
func blockLines(n interface {
	Lines() *text.Segments
}, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}
