// Package ssml implements the SSML emitter (distilled spec §4.14): it
// renders an Emotion-Annotated Element sequence as either plain
// concatenated text or platform-specific SSML. No pack repo ships a
// dedicated SSML-building library; stdlib encoding/xml is the
// ecosystem-standard way to emit well-formed XML-family markup in Go, so
// platform differences are encapsulated as small per-platform functions
// building `encoding/xml`-tagged structs rather than string templates.
package ssml

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/document/emotion"
	"github.com/sayproxy/sayproxy/internal/document/semantic"
)

// Platform selects the target SSML dialect (distilled §4.14).
type Platform string

const (
	PlatformAzure   Platform = "azure"
	PlatformGoogle  Platform = "google"
	PlatformAmazon  Platform = "amazon"
	PlatformGeneric Platform = "generic"
)

// ParsePlatform validates a user-supplied platform string.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformAzure, PlatformGoogle, PlatformAmazon, PlatformGeneric:
		return Platform(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", apperr.New(apperr.KindBadOption, fmt.Sprintf("unsupported SSML platform %q", s))
	}
}

// PlainText concatenates element text with no markup, in order.
func PlainText(elements []emotion.Element) string {
	var b strings.Builder
	for i, e := range elements {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Text)
	}
	return b.String()
}

// --- SSML tree (shared xml struct shape, platform differences applied
// at render time rather than via distinct struct sets) ------------------

type speak struct {
	XMLName   xml.Name `xml:"speak"`
	Version   string   `xml:"version,attr"`
	Lang      string   `xml:"xml:lang,attr"`
	MSTTS     string   `xml:"xmlns:mstts,attr,omitempty"`
	Namespace string   `xml:"xmlns,attr"`
	Body      []any    `xml:",any"`
}

type prosody struct {
	XMLName xml.Name `xml:"prosody"`
	Rate    string   `xml:"rate,attr,omitempty"`
	Pitch   string   `xml:"pitch,attr,omitempty"`
	Content string   `xml:",chardata"`
}

type emphasisTag struct {
	XMLName xml.Name `xml:"emphasis"`
	Level   string   `xml:"level,attr"`
	Content string   `xml:",chardata"`
}

type breakTag struct {
	XMLName xml.Name `xml:"break"`
	TimeMS  string   `xml:"time,attr"`
}

type sayAs struct {
	XMLName    xml.Name `xml:"say-as"`
	InterpretAs string  `xml:"interpret-as,attr"`
	Content    string   `xml:",chardata"`
}

type expressAs struct {
	XMLName xml.Name `xml:"mstts:express-as"`
	Style   string   `xml:"style,attr"`
	Content string   `xml:",chardata"`
}

// Render emits a single well-formed SSML document with a single root
// <speak> for the given platform (distilled §4.14).
func Render(elements []emotion.Element, platform Platform, lang string) (string, error) {
	if lang == "" {
		lang = "en-US"
	}
	root := speak{Version: "1.0", Lang: lang, Namespace: "http://www.w3.org/2001/10/synthesis"}
	if platform == PlatformAzure {
		root.MSTTS = "https://www.w3.org/2001/mstts"
	}

	for _, e := range elements {
		root.Body = append(root.Body, renderElement(e, platform)...)
	}

	data, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "ssml: marshal document", err)
	}
	return xml.Header + string(data), nil
}

func renderElement(e emotion.Element, platform Platform) []any {
	var nodes []any
	if e.PauseBeforeMS > 0 {
		nodes = append(nodes, breakTag{TimeMS: fmt.Sprintf("%dms", e.PauseBeforeMS)})
	}
	if e.Kind == semantic.KindBreak {
		// A Break element carries no text of its own; its pause is rendered
		// as a single <break>, not wrapped in prosody/emphasis.
		ms := e.PauseAfterMS
		if ms <= 0 {
			ms = 250
		}
		return append(nodes, breakTag{TimeMS: fmt.Sprintf("%dms", ms)})
	}
	nodes = append(nodes, renderContent(e, platform))
	if e.PauseAfterMS > 0 {
		nodes = append(nodes, breakTag{TimeMS: fmt.Sprintf("%dms", e.PauseAfterMS)})
	}
	return nodes
}

// renderContent applies each platform's own equivalent of prosody and
// emphasis (distilled §4.14: "Azure's mstts:express-as vs. Google's
// prosody" are encapsulated here, nowhere else).
func renderContent(e emotion.Element, platform Platform) any {
	if e.Kind == semantic.KindCodeBlock || e.Kind == semantic.KindCode {
		return sayAs{InterpretAs: "verbatim", Content: e.Text}
	}

	switch platform {
	case PlatformAzure:
		if e.Emphasis >= 0.7 {
			return expressAs{Style: "serious", Content: e.Text}
		}
		return prosody{Rate: rateFor(e.Emphasis), Content: e.Text}
	case PlatformGoogle, PlatformAmazon, PlatformGeneric:
		if e.Emphasis >= 0.7 {
			return emphasisTag{Level: "strong", Content: e.Text}
		}
		if e.Emphasis >= 0.4 {
			return emphasisTag{Level: "moderate", Content: e.Text}
		}
		return prosody{Rate: rateFor(e.Emphasis), Content: e.Text}
	default:
		return prosody{Rate: rateFor(e.Emphasis), Content: e.Text}
	}
}

func rateFor(emphasis float64) string {
	switch {
	case emphasis <= 0:
		return "slow"
	case emphasis < 0.5:
		return "medium"
	default:
		return "fast"
	}
}
