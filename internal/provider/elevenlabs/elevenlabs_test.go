package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/providerhttp"
)

func newTestServer(t *testing.T, synthBody *[]byte) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/voices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"voices": []map[string]string{
				{"voice_id": "abc123", "name": "Rachel"},
			},
		})
	})
	mux.HandleFunc("/v1/text-to-speech/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*synthBody = body
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("audio-bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveVoiceIDFromCache(t *testing.T) {
	var synthBody []byte
	srv := newTestServer(t, &synthBody)
	orig := baseURL
	baseURL = srv.URL + "/v1"
	t.Cleanup(func() { baseURL = orig })

	p := New("key", providerhttp.ClientOptions{})
	id, err := p.resolveVoiceID(context.Background(), "Rachel")
	if err != nil {
		t.Fatalf("resolveVoiceID: %v", err)
	}
	if id != "abc123" {
		t.Errorf("resolveVoiceID = %q, want abc123", id)
	}
}

func TestResolveVoiceIDPassthroughForUnknownName(t *testing.T) {
	var synthBody []byte
	srv := newTestServer(t, &synthBody)
	orig := baseURL
	baseURL = srv.URL + "/v1"
	t.Cleanup(func() { baseURL = orig })

	p := New("key", providerhttp.ClientOptions{})
	id, err := p.resolveVoiceID(context.Background(), "some-opaque-id")
	if err != nil {
		t.Fatalf("resolveVoiceID: %v", err)
	}
	if id != "some-opaque-id" {
		t.Errorf("resolveVoiceID = %q, want passthrough", id)
	}
}

func TestValidateOptionsClampsToUnitInterval(t *testing.T) {
	p := New("key", providerhttp.ClientOptions{})
	_, err := p.ValidateOptions(map[string]any{"stability": 1.2})
	if !apperr.Is(err, apperr.KindBadOption) {
		t.Fatalf("expected KindBadOption, got %v", err)
	}
}

func TestValidateOptionsAppliesDefaults(t *testing.T) {
	p := New("key", providerhttp.ClientOptions{})
	out, err := p.ValidateOptions(map[string]any{})
	if err != nil {
		t.Fatalf("ValidateOptions: %v", err)
	}
	if out["stability"] != 0.5 || out["similarity_boost"] != 0.75 {
		t.Errorf("defaults = %+v", out)
	}
}

func TestSynthesiseStreamUsesStreamingEndpoint(t *testing.T) {
	var synthBody []byte
	srv := newTestServer(t, &synthBody)
	orig := baseURL
	baseURL = srv.URL + "/v1"
	t.Cleanup(func() { baseURL = orig })

	p := New("key", providerhttp.ClientOptions{})
	var buf bytes.Buffer
	err := p.Synthesise(context.Background(), provider.TextRequest{
		Text: "hi", Voice: provider.VoiceRef{VoiceName: "Rachel"}, Stream: true,
	}, provider.Sink{Writer: &buf})
	if err != nil {
		t.Fatalf("Synthesise: %v", err)
	}
	if buf.String() != "audio-bytes" {
		t.Errorf("buf = %q", buf.String())
	}
}

func TestSynthesiseNonStreamWritesFile(t *testing.T) {
	var synthBody []byte
	srv := newTestServer(t, &synthBody)
	orig := baseURL
	baseURL = srv.URL + "/v1"
	t.Cleanup(func() { baseURL = orig })

	p := New("key", providerhttp.ClientOptions{})
	dir := t.TempDir()
	target := filepath.Join(dir, "out.mp3")
	err := p.Synthesise(context.Background(), provider.TextRequest{
		Text: "hi", Voice: provider.VoiceRef{VoiceName: "Rachel"},
	}, provider.Sink{Path: target})
	if err != nil {
		t.Fatalf("Synthesise: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("file contents = %q", data)
	}
}
