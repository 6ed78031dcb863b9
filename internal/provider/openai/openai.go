// Package openai implements the provider contract against OpenAI's speech
// endpoint (distilled spec §4.6), grounded on teacher elevenlabs/client.go's
// manual net/http + json.Marshal request-building style.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/providerhttp"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"
)

// baseURL is a var, not a const, so tests can redirect it at an
// httptest.Server without a package-level client-configuration knob.
var baseURL = "https://api.openai.com/v1/audio/speech"

// allowedVoices is the fixed allow-list from distilled §4.6.
var allowedVoices = map[string]bool{
	"alloy": true, "echo": true, "fable": true, "onyx": true, "nova": true, "shimmer": true,
}

// Provider talks to OpenAI's text-to-speech HTTP endpoint.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

// New constructs an OpenAI provider using apiKey for bearer authentication.
// A nil logger falls back to slog.Default(); a zero-value opts falls back
// to providerhttp.DefaultClientOptions.
func New(apiKey string, logger *slog.Logger, opts providerhttp.ClientOptions) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if opts == (providerhttp.ClientOptions{}) {
		opts = providerhttp.DefaultClientOptions
	}
	return &Provider{
		httpClient: providerhttp.NewClient(opts),
		apiKey:     apiKey,
		logger:     logger,
	}
}

// Describe reports the provider's static capabilities.
func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		ID:              provider.OpenAI,
		DisplayName:     "OpenAI Text-to-Speech",
		RequiresNetwork: true,
		RequiresAPIKey:  true,
		SupportedFormats: map[provider.AudioFormat]bool{
			provider.FormatMP3:  true,
			provider.FormatWAV:  true,
			provider.FormatOGG:  true,
			provider.FormatFLAC: true,
		},
		SupportsStreaming: true,
		SupportsCloning:   false,
		SupportsSSML:      false,
		OptionSchema: map[string]provider.OptionSpec{
			"model": {Name: "model", Type: provider.OptionString, Default: defaultModel},
		},
	}
}

// ValidateOptions validates against the provider's option schema.
func (p *Provider) ValidateOptions(opts map[string]any) (map[string]any, error) {
	return provider.ValidateOptions(p.Describe().OptionSchema, opts)
}

// ListVoices returns the fixed allow-list as voice records; OpenAI has no
// discoverable catalogue endpoint.
func (p *Provider) ListVoices(ctx context.Context) ([]provider.VoiceRecord, error) {
	records := make([]provider.VoiceRecord, 0, len(allowedVoices))
	for name := range allowedVoices {
		records = append(records, provider.VoiceRecord{ID: name, Name: name})
	}
	return records, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// resolveVoice falls back to defaultVoice with a warning when the request
// names a voice outside the fixed allow-list (distilled §4.6).
func (p *Provider) resolveVoice(requested string) string {
	if requested == "" {
		return defaultVoice
	}
	if allowedVoices[requested] {
		return requested
	}
	p.logger.Warn("openai: unknown voice, falling back to default",
		"requested", requested, "fallback", defaultVoice)
	return defaultVoice
}

// Synthesise posts the request to OpenAI's speech endpoint and routes the
// chunked response body to sink.
func (p *Provider) Synthesise(ctx context.Context, req provider.TextRequest, sink provider.Sink) error {
	model := defaultModel
	if req.ProviderOptions != nil {
		if m, ok := req.ProviderOptions["model"].(string); ok && m != "" {
			model = m
		}
	}
	format := req.Format
	if format == "" {
		format = provider.FormatMP3
	}

	body, err := json.Marshal(speechRequest{
		Model:          model,
		Voice:          p.resolveVoice(req.Voice.VoiceName),
		Input:          req.Text,
		ResponseFormat: string(format),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "openai: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "openai: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return providerhttp.ClassifyTransportError("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerhttp.NewError("openai", resp.StatusCode, resp.Body)
	}

	if req.Stream {
		if _, err := io.Copy(sink.Writer, resp.Body); err != nil {
			return apperr.Wrap(apperr.KindInternal, "openai: stream to sink", err)
		}
		return nil
	}
	return writeAtomic(sink.Path, resp.Body)
}

func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".openai-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "openai: create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindInternal, "openai: write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "openai: close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "openai: rename temp file", err)
	}
	return nil
}
