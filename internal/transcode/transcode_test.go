package transcode

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

// writeFakeTranscoder creates a tiny shell script that ignores its input
// and writes a fixed signature to its "-y" output argument, standing in
// for a real ffmpeg-shaped transcoder invocation.
func writeFakeTranscoder(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-transcoder.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake transcoder: %v", err)
	}
	return path
}

func withLookPath(tr *Transcoder, path string) {
	tr.lookPath = func(string) (string, error) { return path, nil }
}

func TestTranscodeWritesOutputAtomically(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	fake := writeFakeTranscoder(t, dir, `out="$4"; printf 'fLaC-signature' > "$out"`)

	tr := New("fake", time.Second, nil)
	withLookPath(tr, fake)

	in := filepath.Join(dir, "in.mp3")
	if err := os.WriteFile(in, []byte("mp3-bytes"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	out := filepath.Join(dir, "out.flac")

	if err := tr.Transcode(context.Background(), in, out, provider.FormatFLAC); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile output: %v", err)
	}
	if string(data) != "fLaC-signature" {
		t.Errorf("output = %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if len(e.Name()) > 11 && e.Name()[:11] == ".transcode-" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestTranscodeMissingToolIsDependencyError(t *testing.T) {
	tr := New("nonexistent-transcoder-binary", time.Second, nil)
	err := tr.Transcode(context.Background(), "in.mp3", "out.flac", provider.FormatFLAC)
	if !apperr.Is(err, apperr.KindDependency) {
		t.Fatalf("expected KindDependency, got %v", err)
	}
}

func TestTranscodeNonZeroExitLeavesNoPartialFile(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	fake := writeFakeTranscoder(t, dir, `out="$4"; printf 'partial' > "$out"; exit 1`)

	tr := New("fake", time.Second, nil)
	withLookPath(tr, fake)

	in := filepath.Join(dir, "in.mp3")
	os.WriteFile(in, []byte("mp3-bytes"), 0o644)
	out := filepath.Join(dir, "out.flac")

	err := tr.Transcode(context.Background(), in, out, provider.FormatFLAC)
	if !apperr.Is(err, apperr.KindDependency) {
		t.Fatalf("expected KindDependency, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output file on failure, stat err = %v", err)
	}
}

func TestTranscodeTimeoutIsCancelledError(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	fake := writeFakeTranscoder(t, dir, `sleep 5`)

	tr := New("fake", 20*time.Millisecond, nil)
	withLookPath(tr, fake)

	in := filepath.Join(dir, "in.mp3")
	os.WriteFile(in, []byte("mp3-bytes"), 0o644)
	out := filepath.Join(dir, "out.flac")

	err := tr.Transcode(context.Background(), in, out, provider.FormatFLAC)
	if !apperr.Is(err, apperr.KindCancelled) {
		t.Fatalf("expected KindCancelled, got %v", err)
	}
}
