package playback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

// fakeLookPath lets tests substitute a real, harmless binary ("cat") for
// the player name the manager tries first, without depending on an actual
// audio player being installed in the test environment.
func fakeLookPath(resolved map[string]string) func(string) (string, error) {
	return func(name string) (string, error) {
		if path, ok := resolved[name]; ok {
			return path, nil
		}
		return "", os.ErrNotExist
	}
}

func TestOpenStreamFailsWithDependencyErrorWhenNoPlayerFound(t *testing.T) {
	m := New(nil, 0, 0)
	m.lookPath = fakeLookPath(nil)
	_, err := m.OpenStream(context.Background(), provider.FormatMP3)
	if !apperr.Is(err, apperr.KindDependency) {
		t.Fatalf("expected KindDependency, got %v", err)
	}
}

func TestOpenStreamWritesAndClosesCleanly(t *testing.T) {
	catPath, err := lookupCat(t)
	if err != nil {
		t.Skip("cat not available in test environment")
	}
	m := New(nil, 0, 0)
	m.lookPath = fakeLookPath(map[string]string{"aplay": catPath})

	w, err := m.OpenStream(context.Background(), provider.FormatWAV)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := w.Write([]byte("audio-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenStreamCancellationTerminatesDecoder(t *testing.T) {
	catPath, err := lookupCat(t)
	if err != nil {
		t.Skip("cat not available in test environment")
	}
	m := New(nil, 0, 0)
	m.lookPath = fakeLookPath(map[string]string{"aplay": catPath})

	ctx, cancel := context.WithCancel(context.Background())
	w, err := m.OpenStream(ctx, provider.FormatWAV)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	// After cancellation the decoder should already be gone; Close should
	// still return without hanging.
	_ = w.Close()
}

func TestPlayFileDeletesFileWhenCleanupRequested(t *testing.T) {
	catPath, err := lookupCat(t)
	if err != nil {
		t.Skip("cat not available in test environment")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(path, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m := New(nil, 0, 0)
	m.lookPath = fakeLookPath(map[string]string{"aplay": catPath})

	if err := m.PlayFile(context.Background(), path, true, 2*time.Second); err != nil {
		t.Fatalf("PlayFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file removed after cleanup playback, stat err = %v", err)
	}
}

func TestPlayFileKeepsFileWhenCleanupNotRequested(t *testing.T) {
	catPath, err := lookupCat(t)
	if err != nil {
		t.Skip("cat not available in test environment")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(path, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m := New(nil, 0, 0)
	m.lookPath = fakeLookPath(map[string]string{"aplay": catPath})

	if err := m.PlayFile(context.Background(), path, false, 2*time.Second); err != nil {
		t.Fatalf("PlayFile: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to remain, got stat err = %v", err)
	}
}

func TestPlayAndForgetWaitsViaManagerWait(t *testing.T) {
	catPath, err := lookupCat(t)
	if err != nil {
		t.Skip("cat not available in test environment")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(path, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m := New(nil, 0, 0)
	m.lookPath = fakeLookPath(map[string]string{"aplay": catPath})

	m.PlayAndForget(path, true, 2*time.Second)
	m.Wait()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file removed after forgotten playback, stat err = %v", err)
	}
}

func lookupCat(t *testing.T) (string, error) {
	t.Helper()
	for _, candidate := range []string{"/bin/cat", "/usr/bin/cat"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}
