package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Loader loads configuration from environment variables, with an optional
// JSON payload in SAYPROXY_CONFIG for bulk configuration (e.g. from a CI
// secret). Tests can override Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load retrieves the core configuration from the environment and validates
// it, applying defaults for anything unset.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Config{
		APIKeys: map[string]string{},
	}

	if raw, ok := l.Lookup("SAYPROXY_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "SAYPROXY_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "SAYPROXY_DEFAULT_PROVIDER", &cfg.DefaultProvider)
	overrideString(l.Lookup, "SAYPROXY_DEFAULT_VOICE", &cfg.DefaultVoice)
	overrideString(l.Lookup, "SAYPROXY_DEFAULT_FORMAT", &cfg.DefaultFormat)
	overrideString(l.Lookup, "SAYPROXY_OUTPUT_DIR", &cfg.OutputDir)
	overrideString(l.Lookup, "SAYPROXY_GOOGLE_API_KEY", &cfg.GoogleAPIKey)
	overrideString(l.Lookup, "SAYPROXY_GOOGLE_SERVICE_ACCOUNT_JSON", &cfg.GoogleServiceAccountJSON)
	overrideString(l.Lookup, "SAYPROXY_LOCAL_SERVER_COMMAND", &cfg.LocalServerCommand)
	overrideString(l.Lookup, "SAYPROXY_DECODER_COMMAND", &cfg.DecoderCommand)
	overrideString(l.Lookup, "SAYPROXY_TRANSCODER_COMMAND", &cfg.TranscoderCommand)
	overrideString(l.Lookup, "SAYPROXY_DOCUMENT_CACHE_DIR", &cfg.DocumentCacheDir)
	overrideString(l.Lookup, "SAYPROXY_VOICE_CACHE_DIR", &cfg.VoiceCacheDir)
	overrideString(l.Lookup, "SAYPROXY_DAEMON_LISTEN_ADDR", &cfg.DaemonListenAddr)

	overrideInt(l.Lookup, "SAYPROXY_LOCAL_SERVER_PORT", &cfg.LocalServerPort)
	overrideInt(l.Lookup, "SAYPROXY_DECODER_STARTUP_TIMEOUT_SEC", &cfg.DecoderStartupTimeoutSec)
	overrideInt(l.Lookup, "SAYPROXY_DECODER_IDLE_TIMEOUT_SEC", &cfg.DecoderIdleTimeoutSec)
	overrideInt(l.Lookup, "SAYPROXY_TRANSCODE_TIMEOUT_SEC", &cfg.TranscodeTimeoutSec)
	overrideInt(l.Lookup, "SAYPROXY_LOCAL_SERVER_STARTUP_SEC", &cfg.LocalServerStartupSec)
	overrideInt(l.Lookup, "SAYPROXY_HTTP_CONNECT_TIMEOUT_SEC", &cfg.HTTPConnectTimeoutSec)
	overrideInt(l.Lookup, "SAYPROXY_HTTP_READ_TIMEOUT_SEC", &cfg.HTTPReadTimeoutSec)

	for _, id := range []string{"edge", "openai", "elevenlabs", "google", "local"} {
		key := "SAYPROXY_API_KEY_" + strings.ToUpper(id)
		if value, ok := l.Lookup(key); ok && strings.TrimSpace(value) != "" {
			cfg.APIKeys[id] = strings.TrimSpace(value)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyJSON(raw string, cfg *Config) error {
	type jsonConfig struct {
		LogLevel                 string            `json:"log_level"`
		DefaultProvider          string            `json:"default_provider"`
		DefaultVoice             string            `json:"default_voice"`
		DefaultFormat            string            `json:"default_format"`
		OutputDir                string            `json:"output_dir"`
		APIKeys                  map[string]string `json:"api_keys"`
		GoogleAPIKey             string            `json:"google_api_key"`
		GoogleServiceAccountJSON string            `json:"google_service_account_json"`
		LocalServerPort          int               `json:"local_server_port"`
		LocalServerCommand       string            `json:"local_server_command"`
		DecoderCommand           string            `json:"decoder_command"`
		TranscoderCommand        string            `json:"transcoder_command"`
		DocumentCacheDir         string            `json:"document_cache_dir"`
		VoiceCacheDir            string            `json:"voice_cache_dir"`
		DaemonListenAddr         string            `json:"daemon_listen_addr"`
	}
	var payload jsonConfig
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("config: decode SAYPROXY_CONFIG: %w", err)
	}

	if payload.LogLevel != "" {
		cfg.LogLevel = payload.LogLevel
	}
	if payload.DefaultProvider != "" {
		cfg.DefaultProvider = payload.DefaultProvider
	}
	if payload.DefaultVoice != "" {
		cfg.DefaultVoice = payload.DefaultVoice
	}
	if payload.DefaultFormat != "" {
		cfg.DefaultFormat = payload.DefaultFormat
	}
	if payload.OutputDir != "" {
		cfg.OutputDir = payload.OutputDir
	}
	for k, v := range payload.APIKeys {
		cfg.APIKeys[k] = v
	}
	if payload.GoogleAPIKey != "" {
		cfg.GoogleAPIKey = payload.GoogleAPIKey
	}
	if payload.GoogleServiceAccountJSON != "" {
		cfg.GoogleServiceAccountJSON = payload.GoogleServiceAccountJSON
	}
	if payload.LocalServerPort != 0 {
		cfg.LocalServerPort = payload.LocalServerPort
	}
	if payload.LocalServerCommand != "" {
		cfg.LocalServerCommand = payload.LocalServerCommand
	}
	if payload.DecoderCommand != "" {
		cfg.DecoderCommand = payload.DecoderCommand
	}
	if payload.TranscoderCommand != "" {
		cfg.TranscoderCommand = payload.TranscoderCommand
	}
	if payload.DocumentCacheDir != "" {
		cfg.DocumentCacheDir = payload.DocumentCacheDir
	}
	if payload.VoiceCacheDir != "" {
		cfg.VoiceCacheDir = payload.VoiceCacheDir
	}
	if payload.DaemonListenAddr != "" {
		cfg.DaemonListenAddr = payload.DaemonListenAddr
	}
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return
	}
	*target = n
}
