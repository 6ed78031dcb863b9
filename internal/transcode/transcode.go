// Package transcode implements the format transcoder (distilled spec
// §4.2): a single operation invoking an external transcoder binary with a
// fixed timeout, writing to a temp file and renaming atomically on
// success. Grounded on the teacher's atomic-write-then-rename idiom
// (internal/cache/cache.go) applied to a forked subprocess instead of an
// in-process file copy.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

// DefaultTimeout bounds how long the external transcoder has to finish
// (distilled §5).
const DefaultTimeout = 30 * time.Second

// Transcoder invokes an external container/codec converter.
type Transcoder struct {
	binary   string
	timeout  time.Duration
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

// New constructs a Transcoder. binary names the external tool (e.g.
// "ffmpeg"); a nil logger falls back to slog.Default().
func New(binary string, timeout time.Duration, logger *slog.Logger) *Transcoder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{binary: binary, timeout: timeout, lookPath: exec.LookPath, logger: logger}
}

var defaultTranscoder = New("ffmpeg", DefaultTimeout, nil)

// Transcode is a thin forwarder to the package default Transcoder.
func Transcode(ctx context.Context, inputPath, outputPath string, target provider.AudioFormat) error {
	return defaultTranscoder.Transcode(ctx, inputPath, outputPath, target)
}

// Transcode converts inputPath to target format, writing the result to
// outputPath. Absence of the external tool is detected before any I/O
// (distilled §4.2). On failure no partial file is left at outputPath.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string, target provider.AudioFormat) error {
	bin, err := t.lookPath(t.binary)
	if err != nil {
		return apperr.Wrap(apperr.KindDependency, fmt.Sprintf("transcode: %s not found", t.binary), err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, ".transcode-*."+string(target))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "transcode: create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, bin, "-i", inputPath, "-y", tmpPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindCancelled, "transcode: timed out", ctx.Err())
		}
		t.logger.Warn("transcode: external tool failed", "error", err, "output", string(output))
		return apperr.Wrap(apperr.KindDependency, "transcode: external tool exited non-zero", err)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return apperr.Wrap(apperr.KindInternal, "transcode: rename temp file", err)
	}
	return nil
}
