// Package emotion implements the emotion classifier (distilled spec
// §4.13): it consumes a Semantic Element sequence and produces
// Emotion-Annotated Elements, selecting a delivery profile by a fixed
// scoring function when the caller doesn't pin one explicitly. No pack
// repo carries a text-emotion scoring library for this; the scoring
// function is built directly from the distilled spec's own description,
// pure Go arithmetic over an already-parsed element sequence.
package emotion

import (
	"regexp"
	"strings"

	"github.com/sayproxy/sayproxy/internal/document/semantic"
)

// Profile is a delivery style the SSML emitter (C14) renders against.
type Profile int

const (
	// ProfileTechnical, ProfileMarketing, ProfileNarrative, and
	// ProfileTutorial are listed in the fixed tie-break order distilled
	// §4.13 requires: technical > marketing > narrative > tutorial.
	ProfileTechnical Profile = iota
	ProfileMarketing
	ProfileNarrative
	ProfileTutorial
)

func (p Profile) String() string {
	switch p {
	case ProfileTechnical:
		return "technical"
	case ProfileMarketing:
		return "marketing"
	case ProfileNarrative:
		return "narrative"
	case ProfileTutorial:
		return "tutorial"
	default:
		return "unknown"
	}
}

// profileOrder is the fixed scan/tie-break order (distilled §4.13).
var profileOrder = []Profile{ProfileTechnical, ProfileMarketing, ProfileNarrative, ProfileTutorial}

// Element is one Semantic Element annotated with delivery parameters.
type Element struct {
	semantic.Element
	Emphasis      float64 // 0 = neutral/monotone, 1 = maximum emphasis
	PauseBeforeMS int
	PauseAfterMS  int
}

// annotation is the fixed per-kind, per-profile numeric table (distilled
// §4.13: "numeric values are a small fixed table per profile").
type annotation struct {
	emphasis      float64
	pauseBeforeMS int
	pauseAfterMS  int
}

var defaultAnnotations = map[semantic.Kind]annotation{
	semantic.KindHeading:   {emphasis: 0.8, pauseBeforeMS: 200, pauseAfterMS: 400},
	semantic.KindCodeBlock: {emphasis: 0.0, pauseBeforeMS: 300, pauseAfterMS: 300},
	semantic.KindListItem:  {emphasis: 0.3, pauseBeforeMS: 150, pauseAfterMS: 50},
	semantic.KindCode:      {emphasis: 0.1, pauseBeforeMS: 0, pauseAfterMS: 0},
	semantic.KindBold:      {emphasis: 0.6, pauseBeforeMS: 0, pauseAfterMS: 0},
	semantic.KindItalic:    {emphasis: 0.4, pauseBeforeMS: 0, pauseAfterMS: 0},
	semantic.KindLink:      {emphasis: 0.3, pauseBeforeMS: 0, pauseAfterMS: 0},
	semantic.KindParagraph: {emphasis: 0.2, pauseBeforeMS: 0, pauseAfterMS: 0},
	semantic.KindBreak:     {emphasis: 0.0, pauseBeforeMS: 0, pauseAfterMS: 250},
}

// profileScale multiplies the default table's emphasis per profile,
// making technical delivery flatter and marketing delivery more animated
// while keeping one shared base table rather than four independent ones.
var profileScale = map[Profile]float64{
	ProfileTechnical:  0.8,
	ProfileMarketing:  1.3,
	ProfileNarrative:  1.0,
	ProfileTutorial:   1.1,
}

var (
	technicalTermPattern  = regexp.MustCompile(`(?i)\b(function|variable|compile|runtime|api|algorithm|database|server|pointer|thread)\b`)
	superlativePattern    = regexp.MustCompile(`(?i)\b(best|amazing|incredible|revolutionary|ultimate|unbeatable)\b`)
	callToActionPattern   = regexp.MustCompile(`(?i)\b(buy now|sign up|subscribe|act now|click here|get started)\b`)
	pastTenseVerbPattern  = regexp.MustCompile(`(?i)\b\w+ed\b`)
	dialogueMarkerPattern = regexp.MustCompile(`["“”]`)
	chapterHeadingPattern = regexp.MustCompile(`(?i)^chapter\s+\d+`)
	numberedListPattern   = regexp.MustCompile(`^\d+[.)]\s`)
	imperativeVerbPattern = regexp.MustCompile(`(?i)^(run|open|install|create|add|set|configure|type|click|select|navigate)\b`)
	stepMarkerPattern     = regexp.MustCompile(`(?i)\bstep\s+\d+\b`)
	exclamationPattern    = regexp.MustCompile(`!`)
)

// score tallies the fixed signals for each profile (distilled §4.13).
func score(elements []semantic.Element) map[Profile]int {
	tally := map[Profile]int{}
	var totalChars, exclamations int

	for _, e := range elements {
		switch e.Kind {
		case semantic.KindCodeBlock, semantic.KindCode:
			tally[ProfileTechnical] += 2
		case semantic.KindListItem:
			if numberedListPattern.MatchString(strings.TrimSpace(e.Text)) {
				tally[ProfileTutorial] += 2
			}
		case semantic.KindHeading:
			if chapterHeadingPattern.MatchString(strings.TrimSpace(e.Text)) {
				tally[ProfileNarrative] += 2
			}
		}
		if technicalTermPattern.MatchString(e.Text) {
			tally[ProfileTechnical]++
		}
		if superlativePattern.MatchString(e.Text) {
			tally[ProfileMarketing]++
		}
		if callToActionPattern.MatchString(e.Text) {
			tally[ProfileMarketing] += 2
		}
		if pastTenseVerbPattern.MatchString(e.Text) {
			tally[ProfileNarrative]++
		}
		if dialogueMarkerPattern.MatchString(e.Text) {
			tally[ProfileNarrative]++
		}
		if imperativeVerbPattern.MatchString(strings.TrimSpace(e.Text)) {
			tally[ProfileTutorial]++
		}
		if stepMarkerPattern.MatchString(e.Text) {
			tally[ProfileTutorial] += 2
		}

		totalChars += len(e.Text)
		exclamations += len(exclamationPattern.FindAllString(e.Text, -1))
	}

	if totalChars > 0 && float64(exclamations)/float64(totalChars) > 0.01 {
		tally[ProfileMarketing] += 2
	}
	return tally
}

// SelectProfile implements distilled §4.13's auto profile selection:
// highest score wins, ties resolved in the fixed technical > marketing >
// narrative > tutorial order.
func SelectProfile(elements []semantic.Element) Profile {
	tally := score(elements)
	best := profileOrder[0]
	bestScore := tally[best]
	for _, p := range profileOrder[1:] {
		if tally[p] > bestScore {
			best = p
			bestScore = tally[p]
		}
	}
	return best
}

// Annotate attaches per-element delivery parameters for the given
// profile. Pass ProfileTechnical/Marketing/Narrative/Tutorial explicitly
// to skip scoring, or call SelectProfile first for "auto" behavior.
func Annotate(elements []semantic.Element, profile Profile) []Element {
	scale := profileScale[profile]
	out := make([]Element, len(elements))
	for i, e := range elements {
		a := defaultAnnotations[e.Kind]
		emphasis := a.emphasis * scale
		if emphasis > 1 {
			emphasis = 1
		}
		if e.Kind == semantic.KindCodeBlock || e.Kind == semantic.KindCode {
			emphasis = 0 // code stays neutral/monotone regardless of profile (distilled §4.13)
		}
		out[i] = Element{
			Element:       e,
			Emphasis:      emphasis,
			PauseBeforeMS: a.pauseBeforeMS,
			PauseAfterMS:  a.pauseAfterMS,
		}
	}
	return out
}
