package convert

import (
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Format
	}{
		{"json object", `{"a": 1}`, FormatJSON},
		{"json array", `[1, 2, 3]`, FormatJSON},
		{"doctype html", "<!DOCTYPE html><html><body><p>hi</p></body></html>", FormatHTML},
		{"bare html tag", "<div>hello</div>", FormatHTML},
		{"plain markdown", "# Heading\n\nSome *text*.", FormatMarkdown},
		{"plain text", "just words, no markup", FormatMarkdown},
		{"json-looking but invalid", `{not valid json`, FormatMarkdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat([]byte(tt.in)); got != tt.want {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToMarkdownPassesThroughMarkdown(t *testing.T) {
	in := "# Title\n\nBody text."
	out, err := ToMarkdown([]byte(in))
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	if out != in {
		t.Errorf("got %q, want unchanged %q", out, in)
	}
}

func TestHTMLToMarkdownRewritesCommonTags(t *testing.T) {
	html := `<h1>Title</h1><p>Some <b>bold</b> and <i>italic</i> text with a <a href="https://example.com">link</a>.</p><ul><li>one</li><li>two</li></ul><code>x = 1</code>`
	out, err := ToMarkdown([]byte(html))
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	for _, want := range []string{"# Title", "**bold**", "*italic*", "[link](https://example.com)", "- one", "- two", "`x = 1`"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestHTMLToMarkdownCollapsesExcessiveNewlines(t *testing.T) {
	html := "<p>one</p>\n\n\n\n<p>two</p>"
	out, err := ToMarkdown([]byte(html))
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("output still has runs of 3+ newlines: %q", out)
	}
}

func TestJSONToMarkdownPreservesKeyOrderAsHeadings(t *testing.T) {
	in := `{"zeta": "last", "alpha": "first", "middle": "second"}`
	out, err := ToMarkdown([]byte(in))
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	zetaIdx := strings.Index(out, "## zeta")
	alphaIdx := strings.Index(out, "## alpha")
	middleIdx := strings.Index(out, "## middle")
	if !(zetaIdx < alphaIdx && alphaIdx < middleIdx) {
		t.Errorf("headings out of source order: %q", out)
	}
}

func TestJSONToMarkdownNestedObjectsAndLists(t *testing.T) {
	in := `{"title": "doc", "meta": {"author": "me", "tags": ["x", "y"]}}`
	out, err := ToMarkdown([]byte(in))
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	if !strings.Contains(out, "## title") || !strings.Contains(out, "doc") {
		t.Errorf("missing scalar leaf rendering: %q", out)
	}
	if !strings.Contains(out, "**author**: me") {
		t.Errorf("missing nested scalar leaf: %q", out)
	}
	if !strings.Contains(out, "- x") || !strings.Contains(out, "- y") {
		t.Errorf("missing nested list bullets: %q", out)
	}
}

func TestJSONToMarkdownScalarLeafFormat(t *testing.T) {
	in := `{"count": 3, "enabled": true, "name": null}`
	out, err := ToMarkdown([]byte(in))
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	for _, want := range []string{"3", "true", "null"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}
