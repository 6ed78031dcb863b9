// Package elevenlabs implements the provider contract against the
// ElevenLabs text-to-speech API (distilled spec §4.7). Adapted directly
// from the teacher's own ElevenLabs client, extended with a process-
// lifetime voice-name cache and [0,1]-clamped voice settings.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/providerhttp"
)

var baseURL = "https://api.elevenlabs.io/v1"

const defaultModelID = "eleven_multilingual_v2"

// Provider talks to the ElevenLabs TTS API.
type Provider struct {
	httpClient *http.Client
	apiKey     string

	voiceMu    sync.Mutex
	voiceCache map[string]string // name (lowercased) -> voice id, resolved once per process lifetime
	loaded     bool
}

// New constructs an ElevenLabs provider using apiKey for authentication.
// A zero-value opts falls back to providerhttp.DefaultClientOptions.
func New(apiKey string, opts providerhttp.ClientOptions) *Provider {
	if opts == (providerhttp.ClientOptions{}) {
		opts = providerhttp.DefaultClientOptions
	}
	return &Provider{
		httpClient: providerhttp.NewClient(opts),
		apiKey:     apiKey,
		voiceCache: make(map[string]string),
	}
}

// Describe reports the provider's static capabilities.
func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		ID:                provider.ElevenLabs,
		DisplayName:       "ElevenLabs",
		RequiresNetwork:   true,
		RequiresAPIKey:    true,
		SupportedFormats:  map[provider.AudioFormat]bool{provider.FormatMP3: true},
		SupportsStreaming: true,
		SupportsCloning:   false,
		SupportsSSML:      false,
		OptionSchema: map[string]provider.OptionSpec{
			"stability":        {Name: "stability", Type: provider.OptionFloat, Min: 0, Max: 1, Default: 0.5},
			"similarity_boost": {Name: "similarity_boost", Type: provider.OptionFloat, Min: 0, Max: 1, Default: 0.75},
			"style":            {Name: "style", Type: provider.OptionFloat, Min: 0, Max: 1, Default: 0.0},
		},
	}
}

// ValidateOptions clamps stability/similarity_boost/style into [0,1] via the
// shared schema-driven validator.
func (p *Provider) ValidateOptions(opts map[string]any) (map[string]any, error) {
	return provider.ValidateOptions(p.Describe().OptionSchema, opts)
}

type voiceListResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// ListVoices fetches and caches the account's voice catalogue. The cache
// has a TTL equal to the process lifetime (distilled §4.7).
func (p *Provider) ListVoices(ctx context.Context) ([]provider.VoiceRecord, error) {
	if err := p.ensureVoiceCache(ctx); err != nil {
		return nil, err
	}
	p.voiceMu.Lock()
	defer p.voiceMu.Unlock()
	records := make([]provider.VoiceRecord, 0, len(p.voiceCache))
	for name, id := range p.voiceCache {
		records = append(records, provider.VoiceRecord{ID: id, Name: name})
	}
	return records, nil
}

func (p *Provider) ensureVoiceCache(ctx context.Context) error {
	p.voiceMu.Lock()
	if p.loaded {
		p.voiceMu.Unlock()
		return nil
	}
	p.voiceMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/voices", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: build voices request", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return providerhttp.ClassifyTransportError("elevenlabs", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerhttp.NewError("elevenlabs", resp.StatusCode, resp.Body)
	}

	var parsed voiceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: decode voices response", err)
	}

	p.voiceMu.Lock()
	defer p.voiceMu.Unlock()
	for _, v := range parsed.Voices {
		p.voiceCache[v.Name] = v.VoiceID
	}
	p.loaded = true
	return nil
}

// resolveVoiceID looks up a human voice name in the cached catalogue. A
// string that already looks like an opaque id (no cache entry, but also no
// spaces) is passed through unchanged, matching ElevenLabs' own id shape.
func (p *Provider) resolveVoiceID(ctx context.Context, name string) (string, error) {
	if err := p.ensureVoiceCache(ctx); err != nil {
		return "", err
	}
	p.voiceMu.Lock()
	id, ok := p.voiceCache[name]
	p.voiceMu.Unlock()
	if ok {
		return id, nil
	}
	if name == "" {
		return "", apperr.New(apperr.KindVoice, "elevenlabs: no voice specified")
	}
	return name, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesise resolves the voice name, calls the streaming or non-streaming
// endpoint depending on req.Stream, and routes audio to sink.
func (p *Provider) Synthesise(ctx context.Context, req provider.TextRequest, sink provider.Sink) error {
	voiceID, err := p.resolveVoiceID(ctx, req.Voice.VoiceName)
	if err != nil {
		return err
	}

	opts, err := p.ValidateOptions(req.ProviderOptions)
	if err != nil {
		return err
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:    req.Text,
		ModelID: defaultModelID,
		VoiceSettings: voiceSettings{
			Stability:       opts["stability"].(float64),
			SimilarityBoost: opts["similarity_boost"].(float64),
			Style:           opts["style"].(float64),
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: marshal request", err)
	}

	path := fmt.Sprintf("/text-to-speech/%s", voiceID)
	if req.Stream {
		path += "/stream"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return providerhttp.ClassifyTransportError("elevenlabs", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerhttp.NewError("elevenlabs", resp.StatusCode, resp.Body)
	}

	if req.Stream {
		if _, err := io.Copy(sink.Writer, resp.Body); err != nil {
			return apperr.Wrap(apperr.KindInternal, "elevenlabs: stream to sink", err)
		}
		return nil
	}
	return writeAtomic(sink.Path, resp.Body)
}

func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".elevenlabs-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "elevenlabs: rename temp file", err)
	}
	return nil
}
