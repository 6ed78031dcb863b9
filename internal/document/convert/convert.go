// Package convert implements the document converter (distilled spec
// §4.11): HTML or JSON input is rewritten to Markdown; Markdown and plain
// text pass through unchanged. Grounded on the `dgnsrekt-glow-tts`
// pairing of `microcosm-cc/bluemonday` (HTML sanitizing) with a
// regex-rewrite pass rather than a full HTML parse, matching the
// distilled spec's explicit "deliberately regex-based" trade-off.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Format is the detected shape of input content.
type Format int

const (
	FormatMarkdown Format = iota
	FormatHTML
	FormatJSON
)

// htmlSniffWindow bounds how much of the input DetectFormat inspects for
// an HTML signature (distilled §4.11: "within the first 512 bytes").
const htmlSniffWindow = 512

var htmlTagPattern = regexp.MustCompile(`(?i)<!doctype\s+html|<html[\s>]|<body[\s>]|<div[\s>]|<p[\s>]|<span[\s>]`)

// DetectFormat is a pure, total classifier (distilled §4.11).
func DetectFormat(content []byte) Format {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return FormatJSON
	}
	window := trimmed
	if len(window) > htmlSniffWindow {
		window = window[:htmlSniffWindow]
	}
	if htmlTagPattern.Match(window) {
		return FormatHTML
	}
	return FormatMarkdown
}

// ToMarkdown converts content to Markdown according to its detected
// format. Markdown/plain-text input passes through unchanged.
func ToMarkdown(content []byte) (string, error) {
	switch DetectFormat(content) {
	case FormatJSON:
		return jsonToMarkdown(content)
	case FormatHTML:
		return htmlToMarkdown(string(content)), nil
	default:
		return string(content), nil
	}
}

// --- HTML -> Markdown -------------------------------------------------

var (
	headingPattern   = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	boldPattern      = regexp.MustCompile(`(?is)<(?:b|strong)[^>]*>(.*?)</(?:b|strong)>`)
	italicPattern    = regexp.MustCompile(`(?is)<(?:i|em)[^>]*>(.*?)</(?:i|em)>`)
	linkPattern      = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	listItemPattern  = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	codePattern      = regexp.MustCompile(`(?is)<(?:code|pre)[^>]*>(.*?)</(?:code|pre)>`)
	paragraphPattern = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	excessNewlines   = regexp.MustCompile(`\n{3,}`)

	sanitizer = bluemonday.StrictPolicy() // strips all tags after rewrites; inline content survives as text
)

// htmlToMarkdown applies a fixed set of pattern rewrites (distilled
// §4.11) then strips any remaining tags via bluemonday and collapses
// whitespace.
func htmlToMarkdown(html string) string {
	out := html
	out = headingPattern.ReplaceAllStringFunc(out, func(m string) string {
		groups := headingPattern.FindStringSubmatch(m)
		level := len(groups[1])
		return fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), strings.TrimSpace(groups[2]))
	})
	out = codePattern.ReplaceAllString(out, "`$1`")
	out = boldPattern.ReplaceAllString(out, "**$1**")
	out = italicPattern.ReplaceAllString(out, "*$1*")
	out = linkPattern.ReplaceAllString(out, "[$2]($1)")
	out = listItemPattern.ReplaceAllString(out, "- $1\n")
	out = paragraphPattern.ReplaceAllString(out, "\n$1\n")

	out = sanitizer.Sanitize(out)
	out = strings.ReplaceAll(out, "&amp;", "&")
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	out = strings.ReplaceAll(out, "&quot;", "\"")
	out = strings.ReplaceAll(out, "&#39;", "'")

	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// --- JSON -> Markdown --------------------------------------------------

// orderedObject preserves a JSON object's source key order, which a plain
// map[string]any would discard (distilled §4.11: "insertion order of the
// source is preserved").
type orderedObject struct {
	keys   []string
	values map[string]any
}

func jsonToMarkdown(content []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	value, err := decodeOrdered(dec)
	if err != nil {
		return "", fmt.Errorf("convert: decode JSON: %w", err)
	}

	obj, ok := value.(*orderedObject)
	if !ok {
		// A top-level array or scalar still renders, just without headings.
		var buf bytes.Buffer
		renderValue(&buf, value, 0)
		return strings.TrimSpace(buf.String()), nil
	}

	var buf bytes.Buffer
	for _, key := range obj.keys {
		buf.WriteString("## " + key + "\n\n")
		renderValue(&buf, obj.values[key], 0)
		buf.WriteString("\n")
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeOrderedValue(dec, tok)
}

func decodeOrderedValue(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &orderedObject{values: make(map[string]any)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key := keyTok.(string)
				valTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				val, err := decodeOrderedValue(dec, valTok)
				if err != nil {
					return nil, err
				}
				obj.keys = append(obj.keys, key)
				obj.values[key] = val
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return nil, err
			}
			return obj, nil
		case '[':
			var list []any
			for dec.More() {
				itemTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				item, err := decodeOrderedValue(dec, itemTok)
				if err != nil {
					return nil, err
				}
				list = append(list, item)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return nil, err
			}
			return list, nil
		}
	}
	return tok, nil
}

func renderValue(buf *bytes.Buffer, value any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := value.(type) {
	case *orderedObject:
		for _, key := range v.keys {
			renderKeyed(buf, indent, key, v.values[key], depth)
		}
	case []any:
		for _, item := range v {
			if nested, ok := item.(*orderedObject); ok {
				buf.WriteString(indent + "- \n")
				renderValue(buf, nested, depth+1)
				continue
			}
			buf.WriteString(indent + "- " + scalarString(item) + "\n")
		}
	default:
		buf.WriteString(indent + scalarString(v) + "\n")
	}
}

func renderKeyed(buf *bytes.Buffer, indent, key string, value any, depth int) {
	switch v := value.(type) {
	case *orderedObject, []any:
		buf.WriteString(indent + "- **" + key + "**:\n")
		renderValue(buf, v, depth+1)
	default:
		buf.WriteString(indent + "- **" + key + "**: " + scalarString(v) + "\n")
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case json.Number:
		return t.String()
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
