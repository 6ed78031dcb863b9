// Package telemetry centralises structured logging for the core. Phase 1
// only emits logs via slog; a future release may add metrics export.
package telemetry

import (
	"log/slog"
	"time"
)

// Recorder wraps a *slog.Logger and adds a handful of domain-specific
// helpers so call sites don't repeat the same field names.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder constructs a telemetry recorder using the provided logger. A
// nil logger falls back to slog.Default().
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Logger returns the underlying slog.Logger for direct use.
func (r *Recorder) Logger() *slog.Logger {
	return r.logger
}

// SynthesisStarted logs the start of a synthesis request.
func (r *Recorder) SynthesisStarted(requestID, providerID string, textLen int) {
	r.logger.Info("synthesis started",
		"request_id", requestID,
		"provider", providerID,
		"text_length", textLen,
	)
}

// SynthesisCompleted logs a successful synthesis with basic throughput data.
func (r *Recorder) SynthesisCompleted(requestID string, totalBytes int, chunks uint64, elapsed time.Duration) {
	r.logger.Info("synthesis completed",
		"request_id", requestID,
		"total_bytes", totalBytes,
		"chunks", chunks,
		"duration_sec", elapsed.Seconds(),
	)
}

// SynthesisRetried logs a retriable error before backing off.
func (r *Recorder) SynthesisRetried(requestID string, attempt int, wait time.Duration, err error) {
	r.logger.Warn("synthesis retry",
		"request_id", requestID,
		"attempt", attempt,
		"wait", wait.String(),
		"error", err,
	)
}
