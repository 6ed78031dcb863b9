// Package playback implements the audio playback manager (distilled spec
// §4.1): it owns one external decoder-player process per active playback.
// Grounded on the other_examples ccpersona voice manager's platform-player
// fallback chain (afplay/aplay/paplay/ffplay via exec.Command) and the
// teacher's STEP-numbered lifecycle comment style.
package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

// DefaultDecoderStartupTimeout bounds how long a forked decoder has to
// actually start (the fork/exec itself, not a handshake) before the
// manager gives up and reports it as a dependency failure (distilled §5).
const DefaultDecoderStartupTimeout = 2 * time.Second

// DefaultDecoderIdleTimeout bounds how long the manager waits for a decoder
// to exit after its writer is closed (distilled §5).
const DefaultDecoderIdleTimeout = 5 * time.Second

// candidatePlayers is the fixed fallback order of external decoder-player
// binaries, widest-available first. Grounded on the ccpersona voice
// manager's playAudioFile switch.
var candidatePlayers = []string{"ffplay", "afplay", "paplay", "aplay"}

// Manager owns playback subprocess lifecycle: spawn on open, reap on
// writer close or timeout, forcible terminate on cancel.
type Manager struct {
	logger         *slog.Logger
	lookPath       func(string) (string, error)
	startupTimeout time.Duration
	idleTimeout    time.Duration

	mu      sync.Mutex
	forgets sync.WaitGroup
}

// New constructs a Manager. A nil logger falls back to slog.Default(); a
// zero or negative startupTimeout/idleTimeout falls back to this package's
// defaults (distilled §5's "configurable but carries a sensible default").
func New(logger *slog.Logger, startupTimeout, idleTimeout time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if startupTimeout <= 0 {
		startupTimeout = DefaultDecoderStartupTimeout
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultDecoderIdleTimeout
	}
	return &Manager{logger: logger, lookPath: exec.LookPath, startupTimeout: startupTimeout, idleTimeout: idleTimeout}
}

var defaultManager = New(nil, 0, 0)

// OpenStream is a thin forwarder to the package default Manager (distilled
// Design Notes: the legacy free function is reimplemented as a thin
// forwarder, the Manager is the sanctioned migration target).
func OpenStream(ctx context.Context, format provider.AudioFormat) (io.WriteCloser, error) {
	return defaultManager.OpenStream(ctx, format)
}

// PlayFile is a thin forwarder to the package default Manager.
func PlayFile(ctx context.Context, path string, cleanup bool, timeout time.Duration) error {
	return defaultManager.PlayFile(ctx, path, cleanup, timeout)
}

// PlayAndForget is a thin forwarder to the package default Manager.
func PlayAndForget(path string, cleanup bool, timeout time.Duration) {
	defaultManager.PlayAndForget(path, cleanup, timeout)
}

func (m *Manager) resolvePlayer() (string, []string, error) {
	for _, name := range candidatePlayers {
		path, err := m.lookPath(name)
		if err != nil {
			continue
		}
		switch name {
		case "ffplay":
			return path, []string{"-nodisp", "-autoexit", "-i", "pipe:0"}, nil
		default:
			return path, nil, nil
		}
	}
	return "", nil, apperr.New(apperr.KindDependency, "no audio decoder-player found (looked for ffplay, afplay, paplay, aplay)")
}

func (m *Manager) resolvePlayerForFile(path string) (string, []string, error) {
	for _, name := range candidatePlayers {
		bin, err := m.lookPath(name)
		if err != nil {
			continue
		}
		switch name {
		case "ffplay":
			return bin, []string{"-nodisp", "-autoexit", path}, nil
		default:
			return bin, []string{path}, nil
		}
	}
	return "", nil, apperr.New(apperr.KindDependency, "no audio decoder-player found (looked for ffplay, afplay, paplay, aplay)")
}

// streamWriter wraps a decoder's stdin pipe, closing it to signal
// end-of-stream and waiting (bounded by the manager's idle timeout) for the
// process to exit on Close.
type streamWriter struct {
	stdin       io.WriteCloser
	cmd         *exec.Cmd
	logger      *slog.Logger
	idleTimeout time.Duration
	done        chan struct{}
}

func (s *streamWriter) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *streamWriter) Close() error {
	closeErr := s.stdin.Close()
	select {
	case <-s.done:
	case <-time.After(s.idleTimeout):
		s.logger.Warn("decoder did not exit after idle timeout, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		<-s.done
	}
	return closeErr
}

// startProcess forks cmd, reporting a dependency error if the fork/exec
// itself does not complete within the manager's startup timeout (distinct
// from the idle timeout, which bounds shutdown rather than startup).
func (m *Manager) startProcess(cmd *exec.Cmd) error {
	startErr := make(chan error, 1)
	go func() { startErr <- cmd.Start() }()
	select {
	case err := <-startErr:
		if err != nil {
			return apperr.Wrap(apperr.KindDependency, "playback: start decoder", err)
		}
		return nil
	case <-time.After(m.startupTimeout):
		return apperr.New(apperr.KindDependency, "playback: decoder did not start within timeout")
	}
}

// OpenStream forks a decoder consuming its standard input in the given
// format, returning an exclusive-owner writer (distilled §4.1).
func (m *Manager) OpenStream(ctx context.Context, format provider.AudioFormat) (io.WriteCloser, error) {
	bin, args, err := m.resolvePlayer()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(context.Background(), bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "playback: open stdin pipe", err)
	}
	if err := m.startProcess(cmd); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			m.logger.Warn("playback: decoder exited non-zero", "error", err)
		}
		close(done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			stdin.Close()
			_ = cmd.Process.Kill()
		case <-done:
		}
	}()

	return &streamWriter{stdin: stdin, cmd: cmd, logger: m.logger, idleTimeout: m.idleTimeout, done: done}, nil
}

// PlayFile forks a decoder consuming path, waits up to timeout (or
// indefinitely if timeout is zero), then optionally deletes the file
// (distilled §4.1). Never blocks the caller for longer than timeout.
func (m *Manager) PlayFile(ctx context.Context, path string, cleanup bool, timeout time.Duration) error {
	bin, args, err := m.resolvePlayerForFile(path)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(context.Background(), bin, args...)
	if err := m.startProcess(cmd); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("playback: decoder exited non-zero", "error", err)
		}
	case <-timeoutCh:
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		if cleanup {
			os.Remove(path)
		}
		return apperr.Wrap(apperr.KindCancelled, "playback: cancelled", ctx.Err())
	}

	if cleanup {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("playback: remove %s after playback: %w", path, err)
		}
	}
	return nil
}

// PlayAndForget runs PlayFile in a background reaper task and returns
// immediately (distilled §4.1).
func (m *Manager) PlayAndForget(path string, cleanup bool, timeout time.Duration) {
	m.forgets.Add(1)
	go func() {
		defer m.forgets.Done()
		if err := m.PlayFile(context.Background(), path, cleanup, timeout); err != nil {
			m.logger.Warn("playback: background playback failed", "path", path, "error", err)
		}
	}()
}

// Wait blocks until all play_and_forget reaper tasks have completed. It
// exists for tests and graceful-shutdown callers; it is not part of the
// distilled contract.
func (m *Manager) Wait() {
	m.forgets.Wait()
}
