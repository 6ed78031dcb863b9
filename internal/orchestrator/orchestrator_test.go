package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/document/cache"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/provider/registry"
	"github.com/sayproxy/sayproxy/internal/transcode"
)

// fakeProvider is a scriptable provider.Provider used to exercise the
// orchestrator's downgrade, retry, and routing logic without a network.
type fakeProvider struct {
	id   provider.ID
	desc provider.Descriptor

	calls      int
	failTimes  int // number of leading calls that fail
	failKind   apperr.Kind
	writeBytes []byte // payload written on a successful call

	onSynthesise func(provider.TextRequest)
}

func (f *fakeProvider) Describe() provider.Descriptor { return f.desc }

func (f *fakeProvider) ValidateOptions(opts map[string]any) (map[string]any, error) {
	return opts, nil
}

func (f *fakeProvider) ListVoices(context.Context) ([]provider.VoiceRecord, error) {
	return nil, nil
}

func (f *fakeProvider) Synthesise(ctx context.Context, req provider.TextRequest, sink provider.Sink) error {
	f.calls++
	if f.onSynthesise != nil {
		f.onSynthesise(req)
	}
	if f.calls <= f.failTimes {
		return apperr.New(f.failKind, "synthetic failure")
	}
	payload := f.writeBytes
	if payload == nil {
		payload = []byte("audio-bytes")
	}
	if req.Stream {
		_, err := sink.Writer.Write(payload)
		return err
	}
	return os.WriteFile(sink.Path, payload, 0o644)
}

func streamingDescriptor(id provider.ID, formats ...provider.AudioFormat) provider.Descriptor {
	supported := map[provider.AudioFormat]bool{}
	for _, f := range formats {
		supported[f] = true
	}
	return provider.Descriptor{
		ID:                id,
		DisplayName:       string(id),
		SupportedFormats:  supported,
		SupportsStreaming: true,
	}
}

func newTestOrchestrator(t *testing.T, p provider.Provider) *Orchestrator {
	t.Helper()
	r := registry.New()
	r.Register(provider.Edge, func() (provider.Provider, error) { return p, nil }, "edge")
	r.SetStatFunc(func(string) bool { return false })

	docCacheDir := t.TempDir()
	docCache, err := cache.New(docCacheDir, nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	o, err := New(Deps{
		Registry:        r,
		DocumentCache:   docCache,
		DefaultProvider: provider.Edge,
		DefaultFormat:   provider.FormatMP3,
		TempDir:         t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestSynthesizeSavesToPathForSupportedFormat(t *testing.T) {
	fp := &fakeProvider{id: provider.Edge, desc: streamingDescriptor(provider.Edge, provider.FormatMP3)}
	o := newTestOrchestrator(t, fp)

	out := filepath.Join(t.TempDir(), "out.mp3")
	result, err := o.Synthesize(context.Background(), Request{
		Text:       "save test",
		Format:     provider.FormatMP3,
		OutputPath: out,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", result.OutputPath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file to exist: %v", err)
	}
	if fp.calls != 1 {
		t.Errorf("expected exactly one provider call, got %d", fp.calls)
	}
	// No leftover temp file in the orchestrator's scratch directory.
	entries, err := os.ReadDir(o.tempDir)
	if err != nil {
		t.Fatalf("ReadDir tempDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover temp files, found %d", len(entries))
	}
}

func TestSynthesizeRequiresOutputPathWhenNotStreaming(t *testing.T) {
	fp := &fakeProvider{id: provider.Edge, desc: streamingDescriptor(provider.Edge, provider.FormatMP3)}
	o := newTestOrchestrator(t, fp)

	_, err := o.Synthesize(context.Background(), Request{Text: "x"})
	if !apperr.Is(err, apperr.KindBadOption) {
		t.Fatalf("expected BadOption error, got %v", err)
	}
}

// writeFakeTranscoder writes a tiny shell script standing in for a real
// ffmpeg invocation, mirroring internal/transcode's own test fixture.
func writeFakeTranscoder(t *testing.T, dir, body string) string {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(dir, "fake-transcoder.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake transcoder: %v", err)
	}
	return path
}

func TestSynthesizeDowngradesUnsupportedFormatViaTranscode(t *testing.T) {
	fp := &fakeProvider{
		id:         provider.Edge,
		desc:       streamingDescriptor(provider.Edge, provider.FormatMP3),
		writeBytes: []byte("mp3-bytes"),
	}
	o := newTestOrchestrator(t, fp)

	fake := writeFakeTranscoder(t, t.TempDir(), `out="$4"; printf 'fLaC-signature' > "$out"`)
	// The fake script's absolute path stands in directly for "binary":
	// exec.LookPath does not consult PATH for a name containing a slash.
	o.transcoder = transcode.New(fake, time.Second, nil)

	out := filepath.Join(t.TempDir(), "out.flac")
	result, err := o.Synthesize(context.Background(), Request{
		Text:       "save test",
		Format:     provider.FormatFLAC,
		OutputPath: out,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !result.Transcoded {
		t.Error("expected Transcoded = true")
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile output: %v", err)
	}
	if string(data) != "fLaC-signature" {
		t.Errorf("output = %q, want fLaC-signature", data)
	}
	if fp.calls != 1 {
		t.Errorf("expected exactly one provider call, got %d", fp.calls)
	}
}

func findAnyPlayer() bool {
	for _, name := range []string{"ffplay", "afplay", "paplay", "aplay"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestSynthesizeStreamsDirectlyWhenDecoderAvailable(t *testing.T) {
	if !findAnyPlayer() {
		t.Skip("no audio decoder-player found in this environment")
	}
	fp := &fakeProvider{id: provider.Edge, desc: streamingDescriptor(provider.Edge, provider.FormatMP3)}
	o := newTestOrchestrator(t, fp)

	_, err := o.Synthesize(context.Background(), Request{Text: "stream test", Stream: true})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if fp.calls != 1 {
		t.Errorf("expected exactly one provider call, got %d", fp.calls)
	}
}

func TestSynthesizeStreamingSurfacesDependencyErrorWhenNoDecoder(t *testing.T) {
	if findAnyPlayer() {
		t.Skip("a real decoder is available, cannot force the missing-decoder path")
	}
	fp := &fakeProvider{id: provider.Edge, desc: streamingDescriptor(provider.Edge, provider.FormatMP3)}
	o := newTestOrchestrator(t, fp)

	_, err := o.Synthesize(context.Background(), Request{Text: "stream test", Stream: true})
	if !apperr.Is(err, apperr.KindDependency) {
		t.Fatalf("expected DependencyError for missing decoder, got %v", err)
	}
}

func TestSynthesizeRetriesRetriableErrorsThenSucceeds(t *testing.T) {
	fp := &fakeProvider{
		id:        provider.Edge,
		desc:      streamingDescriptor(provider.Edge, provider.FormatMP3),
		failTimes: 1,
		failKind:  apperr.KindNetwork,
	}
	o := newTestOrchestrator(t, fp)

	out := filepath.Join(t.TempDir(), "out.mp3")
	_, err := o.Synthesize(context.Background(), Request{Text: "retry test", Format: provider.FormatMP3, OutputPath: out})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if fp.calls != 2 {
		t.Errorf("expected 2 calls (1 failure + 1 success), got %d", fp.calls)
	}
}

func TestSynthesizeDoesNotRetryNonRetriableErrors(t *testing.T) {
	fp := &fakeProvider{
		id:        provider.Edge,
		desc:      streamingDescriptor(provider.Edge, provider.FormatMP3),
		failTimes: 99,
		failKind:  apperr.KindQuota,
	}
	o := newTestOrchestrator(t, fp)

	out := filepath.Join(t.TempDir(), "out.mp3")
	_, err := o.Synthesize(context.Background(), Request{Text: "quota test", Format: provider.FormatMP3, OutputPath: out})
	if !apperr.Is(err, apperr.KindQuota) {
		t.Fatalf("expected QuotaError to surface immediately, got %v", err)
	}
	if fp.calls != 1 {
		t.Errorf("expected exactly one call (no retry for quota), got %d", fp.calls)
	}
	if _, statErr := os.Stat(out); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("expected no output file left behind after failure")
	}
}

func TestSynthesizeGivesUpAfterExhaustingRetries(t *testing.T) {
	fp := &fakeProvider{
		id:        provider.Edge,
		desc:      streamingDescriptor(provider.Edge, provider.FormatMP3),
		failTimes: 99,
		failKind:  apperr.KindProvider,
	}
	o := newTestOrchestrator(t, fp)

	out := filepath.Join(t.TempDir(), "out.mp3")
	_, err := o.Synthesize(context.Background(), Request{Text: "exhaust test", Format: provider.FormatMP3, OutputPath: out})
	if !apperr.Is(err, apperr.KindProvider) {
		t.Fatalf("expected ProviderError after exhausting retries, got %v", err)
	}
	if fp.calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", fp.calls)
	}
}

func TestSynthesizeDocumentModeRendersPlainTextWithoutSSML(t *testing.T) {
	var captured provider.TextRequest
	fp := &fakeProvider{
		id:           provider.Edge,
		desc:         streamingDescriptor(provider.Edge, provider.FormatMP3),
		onSynthesise: func(req provider.TextRequest) { captured = req },
	}
	o := newTestOrchestrator(t, fp)

	out := filepath.Join(t.TempDir(), "out.mp3")
	_, err := o.Synthesize(context.Background(), Request{
		Content:    []byte("# Title\n\nHello **world**"),
		Format:     provider.FormatMP3,
		OutputPath: out,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if bytes.Contains([]byte(captured.Text), []byte("<speak")) {
		t.Errorf("expected plain text without SSML markup, got %q", captured.Text)
	}
	if !bytes.Contains([]byte(captured.Text), []byte("Title")) || !bytes.Contains([]byte(captured.Text), []byte("world")) {
		t.Errorf("expected rendered text to contain document content, got %q", captured.Text)
	}
}

func TestSynthesizeDocumentModeRendersSSMLForRequestedPlatform(t *testing.T) {
	var captured provider.TextRequest
	fp := &fakeProvider{
		id:           provider.Edge,
		desc:         streamingDescriptor(provider.Edge, provider.FormatMP3),
		onSynthesise: func(req provider.TextRequest) { captured = req },
	}
	o := newTestOrchestrator(t, fp)

	out := filepath.Join(t.TempDir(), "out.mp3")
	_, err := o.Synthesize(context.Background(), Request{
		Content:        []byte("# Intro\n\nHello **world**"),
		SSMLPlatform:   "azure",
		EmotionProfile: "technical",
		Format:         provider.FormatMP3,
		OutputPath:     out,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Contains([]byte(captured.Text), []byte("<speak")) {
		t.Errorf("expected SSML markup in rendered text, got %q", captured.Text)
	}
}

func TestSynthesizeDocumentModeIsCachedAcrossRequests(t *testing.T) {
	var captures []provider.TextRequest
	fp := &fakeProvider{
		id:           provider.Edge,
		desc:         streamingDescriptor(provider.Edge, provider.FormatMP3),
		onSynthesise: func(req provider.TextRequest) { captures = append(captures, req) },
	}
	o := newTestOrchestrator(t, fp)

	req := func(path string) Request {
		return Request{
			Content:        []byte("# Heading\n\nSome body text."),
			SSMLPlatform:   "azure",
			EmotionProfile: "technical",
			Format:         provider.FormatMP3,
			OutputPath:     path,
		}
	}

	if _, err := o.Synthesize(context.Background(), req(filepath.Join(t.TempDir(), "a.mp3"))); err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	if _, err := o.Synthesize(context.Background(), req(filepath.Join(t.TempDir(), "b.mp3"))); err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}

	// Both requests share content + pipeline parameters, so the second
	// should reuse the cached parsed-and-annotated element sequence: the
	// rendered SSML handed to the provider must be identical either way.
	if len(captures) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(captures))
	}
	if captures[0].Text != captures[1].Text {
		t.Errorf("expected identical rendered text from cache hit, got %q vs %q", captures[0].Text, captures[1].Text)
	}
}
