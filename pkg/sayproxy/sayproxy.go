// Package sayproxy is the single import path external callers and
// cmd/sayproxy use: it wires every internal component — the provider
// registry (C4), the playback manager (C1), the transcoder (C2), the
// document cache (C15), and the voice cache (C10) — into a ready-to-use
// Engine, mirroring how the teacher's cmd/adapter/main.go assembled a
// synthesizer, a cache, and a server from a loaded Config and nothing more.
package sayproxy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sayproxy/sayproxy/internal/config"
	"github.com/sayproxy/sayproxy/internal/document/cache"
	"github.com/sayproxy/sayproxy/internal/orchestrator"
	"github.com/sayproxy/sayproxy/internal/playback"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/provider/edge"
	"github.com/sayproxy/sayproxy/internal/provider/elevenlabs"
	"github.com/sayproxy/sayproxy/internal/provider/google"
	"github.com/sayproxy/sayproxy/internal/provider/localneural"
	"github.com/sayproxy/sayproxy/internal/provider/openai"
	"github.com/sayproxy/sayproxy/internal/provider/registry"
	"github.com/sayproxy/sayproxy/internal/providerhttp"
	"github.com/sayproxy/sayproxy/internal/telemetry"
	"github.com/sayproxy/sayproxy/internal/transcode"
	"github.com/sayproxy/sayproxy/internal/voicecache"
)

// Request and Result are re-exported so callers never need to import
// internal/orchestrator directly.
type Request = orchestrator.Request
type Result = orchestrator.Result

// Engine is a fully wired synthesis core: one registry, one playback
// manager, one transcoder, one document cache, one voice cache, all
// reachable through a single Synthesize call.
type Engine struct {
	orch     *orchestrator.Orchestrator
	local    *localneural.Provider
	voices   *voicecache.Manager
	playback *playback.Manager
	logger   *slog.Logger
}

// New assembles an Engine from cfg. Each provider is registered lazily
// (distilled §4.4: "unused heavy back ends pay no startup cost") —
// constructing an Engine never makes a network call or forks a process by
// itself.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpOpts := providerhttp.ClientOptions{
		ConnectTimeout: secondsOrDefault(cfg.HTTPConnectTimeoutSec, providerhttp.DefaultClientOptions.ConnectTimeout),
		ReadTimeout:    secondsOrDefault(cfg.HTTPReadTimeoutSec, providerhttp.DefaultClientOptions.ReadTimeout),
	}

	reg := registry.New()
	reg.Register(provider.Edge, func() (provider.Provider, error) {
		return edge.New(), nil
	}, "edge", "msedge")
	reg.Register(provider.OpenAI, func() (provider.Provider, error) {
		return openai.New(cfg.APIKey("openai"), logger, httpOpts), nil
	}, "openai", "oai")
	reg.Register(provider.ElevenLabs, func() (provider.Provider, error) {
		return elevenlabs.New(cfg.APIKey("elevenlabs"), httpOpts), nil
	}, "elevenlabs", "el", "eleven")
	reg.Register(provider.Google, func() (provider.Provider, error) {
		return google.New(context.Background(), google.Config{
			APIKey:             cfg.GoogleAPIKey,
			ServiceAccountJSON: []byte(cfg.GoogleServiceAccountJSON),
		}, httpOpts)
	}, "google", "gcp")

	localProvider := localneural.New(localneural.Config{
		Port:           cfg.LocalServerPort,
		ServerCommand:  cfg.LocalServerCommand,
		StartupTimeout: secondsOrDefault(cfg.LocalServerStartupSec, 30*time.Second),
		PollInterval:   time.Second,
	}, nil)
	reg.Register(provider.Local, func() (provider.Provider, error) {
		return localProvider, nil
	}, "local", "neural")

	voiceCacheDir := cfg.VoiceCacheDir
	if voiceCacheDir == "" {
		voiceCacheDir = filepath.Join(cfg.OutputDir, ".sayproxy", "voice-cache")
	}
	voices, err := voicecache.New(localProvider, filepath.Join(voiceCacheDir, "journal.json"), logger)
	if err != nil {
		return nil, err
	}
	localProvider.SetResolver(voices)

	docCacheDir := cfg.DocumentCacheDir
	if docCacheDir == "" {
		docCacheDir = filepath.Join(cfg.OutputDir, ".sayproxy", "document-cache")
	}
	docCache, err := cache.New(docCacheDir, logger)
	if err != nil {
		return nil, err
	}

	pb := playback.New(logger,
		secondsOrDefault(cfg.DecoderStartupTimeoutSec, playback.DefaultDecoderStartupTimeout),
		secondsOrDefault(cfg.DecoderIdleTimeoutSec, playback.DefaultDecoderIdleTimeout))
	tc := transcode.New(transcoderBinary(cfg), secondsOrDefault(cfg.TranscodeTimeoutSec, transcode.DefaultTimeout), logger)

	defaultFormat := provider.AudioFormat(cfg.DefaultFormat)
	if defaultFormat == "" {
		defaultFormat = provider.FormatMP3
	}
	defaultProvider := provider.ID(cfg.DefaultProvider)
	if defaultProvider == "" {
		defaultProvider = provider.Edge
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:        reg,
		Playback:        pb,
		Transcoder:      tc,
		DocumentCache:   docCache,
		Recorder:        telemetry.NewRecorder(logger),
		Logger:          logger,
		DefaultProvider: defaultProvider,
		DefaultFormat:   defaultFormat,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{orch: orch, local: localProvider, voices: voices, playback: pb, logger: logger}, nil
}

func transcoderBinary(cfg config.Config) string {
	if cfg.TranscoderCommand != "" {
		return cfg.TranscoderCommand
	}
	return "ffmpeg"
}

func secondsOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Synthesize runs one end-to-end request (distilled §4.16).
func (e *Engine) Synthesize(ctx context.Context, req Request) (Result, error) {
	return e.orch.Synthesize(ctx, req)
}

// LoadVoices pre-loads reference audio files into the local neural
// server's voice cache (distilled §4.10), so a later clone-from-path
// request for the same content is an instant cache hit instead of a
// first-use load.
func (e *Engine) LoadVoices(ctx context.Context, paths ...string) ([]voicecache.Entry, error) {
	return e.voices.Load(ctx, paths...)
}

// VoiceCacheStatus reports the voice cache's live registry (distilled
// §4.10's status() operation).
func (e *Engine) VoiceCacheStatus() []voicecache.Entry {
	return e.voices.Status()
}

// WarmLocalProvider forces the local neural server to fork and become
// reachable, if it isn't already. cmd/sayproxyd calls this between binding
// its listener and flipping the health service to SERVING, mirroring the
// teacher's bind-then-initialize bootstrap order.
func (e *Engine) WarmLocalProvider(ctx context.Context) error {
	_, err := e.local.ListVoices(ctx)
	return err
}

// Close releases background resources: any locally-forked synthesis
// server process and any in-flight play-and-forget playback tasks.
func (e *Engine) Close() error {
	e.playback.Wait()
	if err := e.local.Shutdown(); err != nil {
		return fmt.Errorf("sayproxy: shutdown local neural server: %w", err)
	}
	return nil
}
