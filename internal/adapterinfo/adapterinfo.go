// Package adapterinfo centralises module-wide metadata: the module's own
// name/version/generator tag, plus the static provider display names and
// default voices read from voice-manifest.yaml. Centralising these values
// keeps them out of each provider package's source and lets the manifest
// be edited without a rebuild of provider logic.
package adapterinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata captures static identifiers for the module.
type Metadata struct {
	Name        string
	Slug        string
	Description string
	Version     string
	GeneratorID string
}

// ProviderManifestEntry is the static display metadata the manifest carries
// per provider id.
type ProviderManifestEntry struct {
	DisplayName  string `yaml:"display_name"`
	DefaultVoice string `yaml:"default_voice"`
}

// Manifest is the parsed contents of voice-manifest.yaml.
type Manifest struct {
	Info      Metadata
	Providers map[string]ProviderManifestEntry
}

// Load locates and parses voice-manifest.yaml, searching next to the
// running executable, the current working directory, and the source tree
// (for tests run via `go test`), in that order.
func Load() (Manifest, error) {
	data, err := loadManifestBytes()
	if err != nil {
		return Manifest{}, err
	}
	return parseManifest(data)
}

// MustLoad is like Load but panics on error; intended for package-level
// var initialization in command entry points, mirroring the teacher's
// mustLoadMetadata pattern.
func MustLoad() Manifest {
	m, err := Load()
	if err != nil {
		panic(err)
	}
	return m
}

// SynthesisMetadata produces the standard metadata payload attached to
// telemetry for a completed synthesis.
func (m Manifest) SynthesisMetadata(providerID, voiceID string) map[string]string {
	return map[string]string{
		"generator": m.Info.GeneratorID,
		"provider":  providerID,
		"voice_id":  voiceID,
	}
}

func loadManifestBytes() ([]byte, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		srcRoot := filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
		candidates = append(candidates, srcRoot)
	}

	seen := make(map[string]struct{})
	for _, base := range candidates {
		base = filepath.Clean(base)
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}

		candidate := filepath.Join(base, "voice-manifest.yaml")
		if data, err := os.ReadFile(candidate); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("adapterinfo: voice-manifest.yaml not found next to binary, cwd, or source tree")
}

type manifestDocument struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Slug        string `yaml:"slug"`
		Description string `yaml:"description"`
		Version     string `yaml:"version"`
		Generator   string `yaml:"generator"`
	} `yaml:"metadata"`
	Providers map[string]ProviderManifestEntry `yaml:"providers"`
}

func parseManifest(data []byte) (Manifest, error) {
	var doc manifestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("adapterinfo: decode manifest: %w", err)
	}

	meta := Metadata{
		Name:        strings.TrimSpace(doc.Metadata.Name),
		Slug:        strings.TrimSpace(doc.Metadata.Slug),
		Description: strings.TrimSpace(doc.Metadata.Description),
		Version:     strings.TrimSpace(doc.Metadata.Version),
		GeneratorID: strings.TrimSpace(doc.Metadata.Generator),
	}
	if meta.Version == "" {
		return Manifest{}, fmt.Errorf("adapterinfo: metadata.version missing in manifest")
	}
	if meta.Slug == "" {
		return Manifest{}, fmt.Errorf("adapterinfo: metadata.slug missing in manifest")
	}
	if meta.Name == "" {
		meta.Name = meta.Slug
	}
	if meta.Description == "" {
		meta.Description = meta.Name
	}
	if meta.GeneratorID == "" {
		meta.GeneratorID = meta.Slug
	}

	if doc.Providers == nil {
		doc.Providers = map[string]ProviderManifestEntry{}
	}

	return Manifest{Info: meta, Providers: doc.Providers}, nil
}
