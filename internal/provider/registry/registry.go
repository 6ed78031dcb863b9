// Package registry implements provider dispatch (distilled spec §4.4): a
// lazily-loaded map from provider id to provider handle, a short-alias
// table, and the deterministic voice-string resolution algorithm.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

// audioExtensions is the set of filesystem extensions that imply a
// clone-from-path voice reference (distilled §4.4 step 2).
var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// scanOrder is the fixed, stable provider catalogue scan order used to
// break ties when a bare voice name matches more than one provider
// (distilled §4.4 step 3 and the tie-break rule).
var scanOrder = []provider.ID{
	provider.Edge, provider.OpenAI, provider.ElevenLabs, provider.Google, provider.Local,
}

// Loader constructs a provider on first use. Errors from Loader are cached
// and returned on every subsequent call for the same id, matching
// sync.OnceValues semantics.
type Loader func() (provider.Provider, error)

// StatFunc abstracts filesystem existence checks so voice-string
// resolution can be tested without touching disk.
type StatFunc func(path string) (isFile bool)

// Registry is the provider dispatch table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu       sync.Mutex
	loaders  map[provider.ID]Loader
	aliases  map[string]provider.ID
	cache    map[provider.ID]cachedLoad
	statFn   StatFunc
	catalogs map[provider.ID][]provider.VoiceRecord // memoised ListVoices results
}

type cachedLoad struct {
	p   provider.Provider
	err error
}

// New constructs an empty Registry. Register each provider's loader and
// aliases before use.
func New() *Registry {
	return &Registry{
		loaders: make(map[provider.ID]Loader),
		aliases: make(map[string]provider.ID),
		cache:   make(map[provider.ID]cachedLoad),
		statFn:  defaultStat,
	}
}

// SetStatFunc overrides the filesystem-probe used by ResolveVoice, for
// testing.
func (r *Registry) SetStatFunc(fn StatFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statFn = fn
}

func defaultStat(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Register associates a provider id with a lazy loader thunk and a set of
// short aliases that resolve to it. Loaders are invoked at most once, on
// first use, so unused heavy back ends pay no startup cost.
func (r *Registry) Register(id provider.ID, loader Loader, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[id] = loader
	r.aliases[strings.ToLower(string(id))] = id
	for _, alias := range aliases {
		r.aliases[strings.ToLower(alias)] = id
	}
}

// Providers lists every registered provider id, without forcing load.
func (r *Registry) Providers() []provider.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]provider.ID, 0, len(r.loaders))
	for id := range r.loaders {
		ids = append(ids, id)
	}
	return ids
}

// Get loads (if necessary) and returns the provider for id.
func (r *Registry) Get(id provider.ID) (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *Registry) getLocked(id provider.ID) (provider.Provider, error) {
	if cached, ok := r.cache[id]; ok {
		return cached.p, cached.err
	}
	loader, ok := r.loaders[id]
	if !ok {
		err := apperr.New(apperr.KindVoice, fmt.Sprintf("unknown provider %q", id))
		r.cache[id] = cachedLoad{err: err}
		return nil, err
	}
	p, err := loader()
	r.cache[id] = cachedLoad{p: p, err: err}
	return p, err
}

// Describe loads the provider and returns its descriptor without forcing
// the caller to hold on to the Provider value.
func (r *Registry) Describe(id provider.ID) (provider.Descriptor, bool) {
	p, err := r.Get(id)
	if err != nil {
		return provider.Descriptor{}, false
	}
	return p.Describe(), true
}

// ResolveAlias maps a short alias (or a canonical id) to its provider id.
func (r *Registry) ResolveAlias(alias string) (provider.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.aliases[strings.ToLower(alias)]
	return id, ok
}

// ResolveVoice implements the deterministic voice-string resolution
// algorithm from distilled §4.4. It is a pure function of the registry's
// static alias/loader tables plus the stat probe, except that the first
// resolution of an ambiguous bare name requires loading each provider's
// voice catalogue in scan order (cached afterwards).
func (r *Registry) ResolveVoice(ctx context.Context, raw string) (provider.VoiceRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return provider.VoiceRef{Kind: provider.VoiceDefault}, nil
	}

	// Step 1: explicit "<provider>:<voice>" form.
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		aliasPart, voicePart := raw[:idx], raw[idx+1:]
		id, ok := r.ResolveAlias(aliasPart)
		if !ok {
			return provider.VoiceRef{}, apperr.New(apperr.KindVoice, fmt.Sprintf("unknown provider %q", aliasPart))
		}
		return provider.VoiceRef{Kind: provider.VoiceNamed, ProviderID: id, VoiceName: voicePart}, nil
	}

	// Step 2: filesystem path with an audio extension implies clone-from.
	if looksLikeAudioPath(raw) && r.statFileLocked(raw) {
		return provider.VoiceRef{Kind: provider.VoiceCloneFrom, ClonePath: raw}, nil
	}

	// Step 3: scan each provider's catalogue in fixed order.
	for _, id := range scanOrder {
		names, err := r.catalogNames(ctx, id)
		if err != nil {
			continue // a provider that fails to list voices is skipped, not fatal
		}
		for _, name := range names {
			if name == raw {
				return provider.VoiceRef{Kind: provider.VoiceNamed, ProviderID: id, VoiceName: raw}, nil
			}
		}
	}

	// Step 4: no match anywhere.
	return provider.VoiceRef{}, apperr.New(apperr.KindVoice, fmt.Sprintf("no provider has a voice named %q", raw)).
		WithSuggestions(r.nearestSuggestions(ctx, raw)...)
}

func (r *Registry) statFileLocked(path string) bool {
	r.mu.Lock()
	fn := r.statFn
	r.mu.Unlock()
	return fn(path)
}

func looksLikeAudioPath(s string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(s))]
}

// catalogNames returns (and memoises) the voice names a provider
// advertises, for use by ResolveVoice's fixed-order scan.
func (r *Registry) catalogNames(ctx context.Context, id provider.ID) ([]string, error) {
	r.mu.Lock()
	if cached, ok := r.catalogs[id]; ok {
		r.mu.Unlock()
		return recordNames(cached), nil
	}
	r.mu.Unlock()

	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	records, err := p.ListVoices(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.catalogs == nil {
		r.catalogs = make(map[provider.ID][]provider.VoiceRecord)
	}
	r.catalogs[id] = records
	r.mu.Unlock()

	return recordNames(records), nil
}

func recordNames(records []provider.VoiceRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

// nearestSuggestions returns a small suggestion list for a VoiceError,
// scanning every loaded provider's cached catalogue (no new network calls)
// for prefix matches.
func (r *Registry) nearestSuggestions(ctx context.Context, raw string) []string {
	var out []string
	for _, id := range scanOrder {
		names, err := r.catalogNames(ctx, id)
		if err != nil {
			continue
		}
		for _, name := range names {
			if strings.HasPrefix(strings.ToLower(name), strings.ToLower(raw)[:min(1, len(raw))]) {
				out = append(out, fmt.Sprintf("%s:%s", id, name))
			}
			if len(out) >= 5 {
				return out
			}
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
