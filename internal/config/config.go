// Package config captures the bootstrap configuration the core reads via
// the narrow ConfigReader surface described by the specification. The
// config *file format* and CLI flag parsing are external collaborators;
// this package only defines the structure the core consumes and validates.
package config

import "fmt"

const (
	// DefaultAudioFormat is used when a request does not specify one.
	DefaultAudioFormat = "mp3"
	// DefaultProvider is the provider id used when no voice/provider is
	// specified on a request.
	DefaultProvider = "edge"
	// DefaultLogLevel controls the slog handler level.
	DefaultLogLevel = "info"
	// DefaultLocalServerPort is the TCP port the local neural provider's
	// synthesis server listens on.
	DefaultLocalServerPort = 12345
	// DefaultOutputDir is used when a destination path is relative and no
	// output directory override is configured.
	DefaultOutputDir = "."
	// DefaultCacheMaxEntries bounds the document cache's directory scan on
	// clear(); it is informative only, the cache itself has no capacity
	// eviction.
	DefaultCacheMaxEntries = 0
	// DefaultDaemonListenAddr is the bind address for cmd/sayproxyd.
	DefaultDaemonListenAddr = "127.0.0.1:7733"
)

// Config is the bootstrap configuration for the core, assembled by Loader
// from environment variables and an optional JSON payload.
type Config struct {
	LogLevel        string
	DefaultProvider string
	DefaultVoice    string
	DefaultFormat   string
	OutputDir       string

	// Per-provider API keys, keyed by provider id.
	APIKeys map[string]string

	// Google provider: at most one of these may be set; ServiceAccountJSON
	// wins if both are present (distilled §4.8).
	GoogleAPIKey            string
	GoogleServiceAccountJSON string

	LocalServerPort    int
	LocalServerCommand string

	// DaemonListenAddr is the bind address for cmd/sayproxyd's health-gated
	// gRPC front end. Unused by the direct cmd/sayproxy CLI path.
	DaemonListenAddr string

	DecoderCommand    string
	TranscoderCommand string

	DocumentCacheDir string
	VoiceCacheDir    string

	// Timeout overrides, expressed in seconds; zero means "use the
	// component's built-in default" (distilled §5).
	DecoderStartupTimeoutSec int
	DecoderIdleTimeoutSec    int
	TranscodeTimeoutSec      int
	LocalServerStartupSec    int
	HTTPConnectTimeoutSec    int
	HTTPReadTimeoutSec       int
}

// Validate applies defaults and rejects structurally invalid configuration.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = DefaultProvider
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = DefaultAudioFormat
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.LocalServerPort == 0 {
		c.LocalServerPort = DefaultLocalServerPort
	}
	if c.DaemonListenAddr == "" {
		c.DaemonListenAddr = DefaultDaemonListenAddr
	}
	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}

	if c.GoogleAPIKey != "" && c.GoogleServiceAccountJSON != "" {
		// Not an error per distilled §4.8: service account wins silently.
		// Validate only rejects structurally broken configuration.
	}

	if c.LocalServerPort < 0 || c.LocalServerPort > 65535 {
		return fmt.Errorf("config: local_server_port out of range: %d", c.LocalServerPort)
	}
	for _, v := range []struct {
		name string
		val  int
	}{
		{"decoder_startup_timeout_sec", c.DecoderStartupTimeoutSec},
		{"decoder_idle_timeout_sec", c.DecoderIdleTimeoutSec},
		{"transcode_timeout_sec", c.TranscodeTimeoutSec},
		{"local_server_startup_sec", c.LocalServerStartupSec},
		{"http_connect_timeout_sec", c.HTTPConnectTimeoutSec},
		{"http_read_timeout_sec", c.HTTPReadTimeoutSec},
	} {
		if v.val < 0 {
			return fmt.Errorf("config: %s must not be negative, got %d", v.name, v.val)
		}
	}
	return nil
}

// APIKey returns the configured API key for a provider id, or "" if unset.
func (c *Config) APIKey(providerID string) string {
	return c.APIKeys[providerID]
}
