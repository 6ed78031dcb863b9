// Package provider defines the synthesis contract every back end
// implements (distilled spec §4.3), plus the data model types that flow
// through it (distilled spec §3).
package provider

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sayproxy/sayproxy/internal/apperr"
)

// ID identifies a synthesis back end.
type ID string

const (
	Edge       ID = "edge"
	OpenAI     ID = "openai"
	ElevenLabs ID = "elevenlabs"
	Google     ID = "google"
	Local      ID = "local"
)

// AudioFormat is the target container/codec for synthesised audio.
type AudioFormat string

const (
	FormatMP3  AudioFormat = "mp3"
	FormatWAV  AudioFormat = "wav"
	FormatOGG  AudioFormat = "ogg"
	FormatFLAC AudioFormat = "flac"
)

// ParseAudioFormat validates a user-supplied format string.
func ParseAudioFormat(s string) (AudioFormat, error) {
	switch AudioFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatMP3:
		return FormatMP3, nil
	case FormatWAV:
		return FormatWAV, nil
	case FormatOGG:
		return FormatOGG, nil
	case FormatFLAC:
		return FormatFLAC, nil
	default:
		return "", apperr.New(apperr.KindFormat, fmt.Sprintf("unsupported audio format %q", s))
	}
}

// VoiceRefKind discriminates the VoiceRef tagged union.
type VoiceRefKind int

const (
	VoiceDefault VoiceRefKind = iota
	VoiceNamed
	VoiceCloneFrom
)

// VoiceRef is a tagged value identifying the voice a request should use:
// either a named voice on a specific provider, a clone-from-path reference,
// or the unresolved default.
type VoiceRef struct {
	Kind       VoiceRefKind
	ProviderID ID     // valid when Kind == VoiceNamed
	VoiceName  string // valid when Kind == VoiceNamed
	ClonePath  string // valid when Kind == VoiceCloneFrom
}

func (v VoiceRef) String() string {
	switch v.Kind {
	case VoiceNamed:
		return fmt.Sprintf("%s:%s", v.ProviderID, v.VoiceName)
	case VoiceCloneFrom:
		return v.ClonePath
	default:
		return "<default>"
	}
}

// Adjust models a semantic scalar that may be "unset". Using a Set flag
// rather than a pointer keeps the public API value-typed and avoids
// aliasing concerns for library callers building requests in a loop.
type Adjust struct {
	Set   bool
	Value float64
}

// Unset is the zero-value Adjust.
var Unset = Adjust{}

// NewAdjust returns a set Adjust carrying value.
func NewAdjust(value float64) Adjust {
	return Adjust{Set: true, Value: value}
}

// RateAdjust is a percentage delta from baseline speaking rate, valid in
// [-50, 200].
type RateAdjust = Adjust

// PitchAdjust is a frequency delta in Hz from baseline pitch, valid in
// [-50, 50].
type PitchAdjust = Adjust

const (
	MinRatePercent  = -50.0
	MaxRatePercent  = 200.0
	MinPitchHz      = -50.0
	MaxPitchHz      = 50.0
)

// TextRequest is the immutable record describing one synthesis request.
// It is created once at orchestration entry and consumed by exactly one
// provider call.
type TextRequest struct {
	Text            string
	Voice           VoiceRef
	Rate            RateAdjust
	Pitch           PitchAdjust
	Format          AudioFormat
	Stream          bool
	ProviderOptions map[string]any
}

// Sink is the destination for synthesised audio: either a streaming writer
// (stream mode) or a file path (non-stream mode). Exactly one of Writer or
// Path is meaningful for a given call, selected by TextRequest.Stream.
type Sink struct {
	Writer io.Writer
	Path   string
}

// VoiceRecord is one entry in a provider's voice catalogue.
type VoiceRecord struct {
	ID          string
	Name        string
	Locale      string
	SupportsSSML bool
}

// OptionSpec describes one entry in a provider's option schema: a
// validated, typed map replaces the source's free-form key=value strings
// (distilled Design Notes).
type OptionSpec struct {
	Name    string
	Type    OptionType
	Min     float64
	Max     float64
	Default any
}

// OptionType enumerates the scalar types an option value may take.
type OptionType int

const (
	OptionString OptionType = iota
	OptionFloat
	OptionInt
	OptionBool
)

// Descriptor is per-provider static metadata, immutable once the registry
// has loaded the provider.
type Descriptor struct {
	ID                ID
	DisplayName       string
	RequiresNetwork   bool
	RequiresAPIKey    bool
	SupportedFormats  map[AudioFormat]bool
	SupportsStreaming bool
	SupportsCloning   bool
	SupportsSSML      bool
	OptionSchema      map[string]OptionSpec
}

// SupportsFormat reports whether d advertises support for format.
func (d Descriptor) SupportsFormat(f AudioFormat) bool {
	return d.SupportedFormats[f]
}

// Provider is the uniform synthesis contract every back end implements.
// Synthesise is the only side-effecting operation (distilled §4.3).
type Provider interface {
	Describe() Descriptor
	Synthesise(ctx context.Context, req TextRequest, sink Sink) error
	ListVoices(ctx context.Context) ([]VoiceRecord, error)
	ValidateOptions(opts map[string]any) (map[string]any, error)
}

// ValidateOptions is a reusable implementation of the Provider.ValidateOptions
// contract: it rejects unknown keys with BadOption and coerces/clamps known
// ones against schema, so individual providers don't reimplement the loop.
func ValidateOptions(schema map[string]OptionSpec, opts map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(opts))
	for key, raw := range opts {
		spec, ok := schema[key]
		if !ok {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("unknown option %q", key)).
				WithSuggestions(nearestKeys(schema, key)...)
		}
		value, err := coerce(spec, raw)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	for key, spec := range schema {
		if _, ok := out[key]; !ok && spec.Default != nil {
			out[key] = spec.Default
		}
	}
	return out, nil
}

func coerce(spec OptionSpec, raw any) (any, error) {
	switch spec.Type {
	case OptionFloat:
		f, ok := toFloat(raw)
		if !ok {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("option %q must be a number", spec.Name))
		}
		if f < spec.Min || f > spec.Max {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("option %q must be in [%g, %g], got %g", spec.Name, spec.Min, spec.Max, f))
		}
		return f, nil
	case OptionInt:
		f, ok := toFloat(raw)
		if !ok {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("option %q must be an integer", spec.Name))
		}
		if f < spec.Min || f > spec.Max {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("option %q must be in [%g, %g], got %g", spec.Name, spec.Min, spec.Max, f))
		}
		return int(f), nil
	case OptionBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("option %q must be a bool", spec.Name))
		}
		return b, nil
	default: // OptionString
		s, ok := raw.(string)
		if !ok {
			return nil, apperr.New(apperr.KindBadOption, fmt.Sprintf("option %q must be a string", spec.Name))
		}
		return s, nil
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func nearestKeys(schema map[string]OptionSpec, want string) []string {
	var out []string
	for k := range schema {
		out = append(out, k)
	}
	return out
}
