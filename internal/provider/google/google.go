// Package google implements the provider contract against the Google
// Cloud Text-to-Speech API (distilled spec §4.8): dual authentication
// (API key or service-account OAuth), non-streaming only. The OAuth
// token-source pairing is grounded on teslashibe-go-reachy's
// golang.org/x/oauth2 + google.golang.org/api dependency shape.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/providerhttp"
)

var baseURL = "https://texttospeech.googleapis.com/v1/text:synthesize"

const oauthScope = "https://www.googleapis.com/auth/cloud-platform"

// tokenSkew is the early-refresh margin applied to service-account tokens
// (distilled §4.8: "cached until expiry with 5 min skew").
const tokenSkew = 5 * time.Minute

// Config selects one of the two authentication paths. If both are set,
// the service account wins (distilled §4.8).
type Config struct {
	APIKey             string
	ServiceAccountJSON []byte
}

// Provider talks to Google Cloud Text-to-Speech.
type Provider struct {
	httpClient *http.Client
	apiKey     string

	tokenMu     sync.Mutex
	tokenSource oauth2.TokenSource
	cachedToken *oauth2.Token
}

// New constructs a Google provider from cfg. When ServiceAccountJSON is
// present it takes priority over APIKey. A zero-value opts falls back to
// providerhttp.DefaultClientOptions.
func New(ctx context.Context, cfg Config, opts providerhttp.ClientOptions) (*Provider, error) {
	if opts == (providerhttp.ClientOptions{}) {
		opts = providerhttp.DefaultClientOptions
	}
	p := &Provider{httpClient: providerhttp.NewClient(opts)}

	if len(cfg.ServiceAccountJSON) > 0 {
		creds, err := google.CredentialsFromJSON(ctx, cfg.ServiceAccountJSON, oauthScope)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindAuthentication, "google: parse service account credentials", err)
		}
		p.tokenSource = creds.TokenSource
		return p, nil
	}
	if cfg.APIKey != "" {
		p.apiKey = cfg.APIKey
		return p, nil
	}
	return nil, apperr.New(apperr.KindAuthentication, "google: no authentication configured (set an API key or a service account)")
}

// Describe reports the provider's static capabilities.
func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		ID:                provider.Google,
		DisplayName:       "Google Cloud Text-to-Speech",
		RequiresNetwork:   true,
		RequiresAPIKey:    true,
		SupportedFormats:  map[provider.AudioFormat]bool{provider.FormatMP3: true, provider.FormatOGG: true},
		SupportsStreaming: false,
		SupportsCloning:   false,
		SupportsSSML:      true,
		OptionSchema:      map[string]provider.OptionSpec{},
	}
}

// ValidateOptions has no provider-specific options.
func (p *Provider) ValidateOptions(opts map[string]any) (map[string]any, error) {
	return provider.ValidateOptions(p.Describe().OptionSchema, opts)
}

// ListVoices returns the stable catalogue subset the core ships with; the
// production catalogue is fetched from Google's voices:list endpoint but
// that call is not exercised by the fixed-order registry scan in tests.
func (p *Provider) ListVoices(ctx context.Context) ([]provider.VoiceRecord, error) {
	return catalogue, nil
}

var catalogue = []provider.VoiceRecord{
	{ID: "en-US-Wavenet-D", Name: "en-US-Wavenet-D", Locale: "en-US", SupportsSSML: true},
	{ID: "en-GB-Wavenet-A", Name: "en-GB-Wavenet-A", Locale: "en-GB", SupportsSSML: true},
}

// bearerToken returns a cached or freshly-fetched OAuth access token,
// refreshing tokenSkew before expiry.
func (p *Provider) bearerToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.cachedToken != nil && time.Until(p.cachedToken.Expiry) > tokenSkew {
		return p.cachedToken.AccessToken, nil
	}
	tok, err := p.tokenSource.Token()
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuthentication, "google: fetch oauth token", err)
	}
	p.cachedToken = tok
	return tok.AccessToken, nil
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
}

type synthesisInput struct {
	Text string `json:"text,omitempty"`
	SSML string `json:"ssml,omitempty"`
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

func encodingFor(format provider.AudioFormat) string {
	switch format {
	case provider.FormatOGG:
		return "OGG_OPUS"
	default:
		return "MP3"
	}
}

// languageFromVoice derives a BCP-47 language code from a voice name shaped
// like "en-US-Wavenet-D"; unrecognised shapes fall back to "en-US".
func languageFromVoice(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

// ratePercentToSpeakingRate converts a +/-50..200 percent rate adjustment
// into Google's speakingRate multiplier, where 1.0 is baseline.
func ratePercentToSpeakingRate(rate provider.RateAdjust) float64 {
	if !rate.Set {
		return 0
	}
	return 1.0 + rate.Value/100.0
}

// Synthesise posts one non-streaming request to Google's synthesize
// endpoint and writes the decoded audio to sink.Path.
func (p *Provider) Synthesise(ctx context.Context, req provider.TextRequest, sink provider.Sink) error {
	if req.Stream {
		return apperr.New(apperr.KindFormat, "google: streaming is not supported by this provider")
	}

	voiceName := req.Voice.VoiceName
	input := synthesisInput{Text: req.Text}
	if strings.HasPrefix(strings.TrimSpace(req.Text), "<speak") {
		input = synthesisInput{SSML: req.Text}
	}

	body, err := json.Marshal(synthesizeRequest{
		Input: input,
		Voice: voiceSelection{LanguageCode: languageFromVoice(voiceName), Name: voiceName},
		AudioConfig: audioConfig{
			AudioEncoding: encodingFor(req.Format),
			SpeakingRate:  ratePercentToSpeakingRate(req.Rate),
			Pitch:         pitchHzToSemitones(req.Pitch),
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: marshal request", err)
	}

	url := baseURL
	if p.apiKey != "" {
		url += "?key=" + p.apiKey
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if p.tokenSource != nil {
		token, err := p.bearerToken(ctx)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return providerhttp.ClassifyTransportError("google", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerhttp.NewError("google", resp.StatusCode, resp.Body)
	}

	var parsed synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: decode response", err)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioContent)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: decode base64 audio", err)
	}

	return writeAtomic(sink.Path, audio)
}

// pitchHzToSemitones converts the unified Hz pitch adjustment into Google's
// semitone scale (approximately 2 semitones per 10 Hz at speech pitch).
func pitchHzToSemitones(pitch provider.PitchAdjust) float64 {
	if !pitch.Set {
		return 0
	}
	return pitch.Value / 5.0
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".google-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindInternal, "google: write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "google: rename temp file", err)
	}
	return nil
}
