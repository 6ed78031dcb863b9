package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/providerhttp"
)

func TestNewRequiresSomeAuth(t *testing.T) {
	_, err := New(context.Background(), Config{}, providerhttp.ClientOptions{})
	if !apperr.Is(err, apperr.KindAuthentication) {
		t.Fatalf("expected KindAuthentication, got %v", err)
	}
}

func TestLanguageFromVoice(t *testing.T) {
	tests := []struct{ in, want string }{
		{"en-US-Wavenet-D", "en-US"},
		{"ja-JP-NanamiNeural", "ja-JP"},
		{"bogus", "en-US"},
		{"", "en-US"},
	}
	for _, tt := range tests {
		if got := languageFromVoice(tt.in); got != tt.want {
			t.Errorf("languageFromVoice(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRatePercentToSpeakingRate(t *testing.T) {
	if got := ratePercentToSpeakingRate(provider.Unset); got != 0 {
		t.Errorf("unset rate = %v, want 0 (omitted)", got)
	}
	if got := ratePercentToSpeakingRate(provider.NewAdjust(0)); got != 1.0 {
		t.Errorf("zero rate = %v, want 1.0", got)
	}
	if got := ratePercentToSpeakingRate(provider.NewAdjust(50)); got != 1.5 {
		t.Errorf("+50%% rate = %v, want 1.5", got)
	}
}

func TestSynthesiseRejectsStream(t *testing.T) {
	p := &Provider{apiKey: "k", httpClient: http.DefaultClient}
	err := p.Synthesise(context.Background(), provider.TextRequest{Stream: true}, provider.Sink{})
	if !apperr.Is(err, apperr.KindFormat) {
		t.Fatalf("expected KindFormat, got %v", err)
	}
}

func TestSynthesiseAPIKeyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-api-key" {
			t.Errorf("missing api key query param")
		}
		_ = json.NewEncoder(w).Encode(synthesizeResponse{AudioContent: "aGVsbG8="}) // "hello"
	}))
	defer srv.Close()

	orig := baseURL
	baseURL = srv.URL
	t.Cleanup(func() { baseURL = orig })

	p, err := New(context.Background(), Config{APIKey: "test-api-key"}, providerhttp.ClientOptions{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.httpClient = srv.Client()

	dir := t.TempDir()
	target := filepath.Join(dir, "out.mp3")
	err = p.Synthesise(context.Background(), provider.TextRequest{
		Text: "hi", Voice: provider.VoiceRef{VoiceName: "en-US-Wavenet-D"},
	}, provider.Sink{Path: target})
	if err != nil {
		t.Fatalf("Synthesise: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("decoded audio = %q, want hello", data)
	}
}

type fakeTokenSource struct{ token *oauth2.Token }

func (f fakeTokenSource) Token() (*oauth2.Token, error) { return f.token, nil }

func TestBearerTokenCachesUntilSkew(t *testing.T) {
	p := &Provider{tokenSource: fakeTokenSource{token: &oauth2.Token{
		AccessToken: "fresh", Expiry: time.Now().Add(time.Hour),
	}}}
	tok, err := p.bearerToken(context.Background())
	if err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if tok != "fresh" {
		t.Errorf("token = %q, want fresh", tok)
	}

	p.cachedToken.AccessToken = "stale-but-cached"
	tok2, err := p.bearerToken(context.Background())
	if err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if tok2 != "stale-but-cached" {
		t.Errorf("expected cached token reused, got %q", tok2)
	}
}

func TestBearerTokenRefreshesNearExpiry(t *testing.T) {
	calls := 0
	p := &Provider{tokenSource: countingTokenSource{calls: &calls}}
	p.cachedToken = &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(1 * time.Second)}

	tok, err := p.bearerToken(context.Background())
	if err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if tok != "refreshed-1" {
		t.Errorf("token = %q, want refreshed-1", tok)
	}
	if calls != 1 {
		t.Errorf("expected a refresh call, got %d", calls)
	}
}

type countingTokenSource struct{ calls *int }

func (c countingTokenSource) Token() (*oauth2.Token, error) {
	*c.calls++
	return &oauth2.Token{AccessToken: "refreshed-1", Expiry: time.Now().Add(time.Hour)}, nil
}
