// Package voicecache implements the voice cache manager (distilled spec
// §4.10): an identity-keyed registry of reference-audio tokens held by the
// local neural server, journalled to disk so status() survives process
// restarts while tokens themselves are re-established lazily. Grounded on
// teacher internal/cache/cache.go's disk-backed cache shape, generalized
// from "cache audio bytes keyed by a deterministic hash" to "cache
// server-side load tokens keyed by content identity", journal-only
// persistence instead of content persistence.
package voicecache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
)

// ServerClient is the subset of the local neural server's control surface
// the cache manager needs: creating and releasing reference-audio tokens.
type ServerClient interface {
	CreateReference(ctx context.Context, audio []byte) (token string, err error)
	ReleaseReference(ctx context.Context, token string) error
}

// Entry is one live (or journalled) registry record.
type Entry struct {
	Identity   string    `json:"identity"`
	SourcePath string    `json:"source_path"`
	LoadedAt   time.Time `json:"loaded_at"`
	Size       int64     `json:"size"`
	Token      string    `json:"-"` // never journalled; re-established lazily
}

// Manager is the voice cache registry. The zero value is not usable;
// construct with New.
type Manager struct {
	mu          sync.Mutex
	server      ServerClient
	journalPath string
	logger      *slog.Logger
	entries     map[string]*Entry // keyed by identity
}

type journalDocument struct {
	Entries []Entry `json:"entries"`
}

// New constructs a Manager, loading any existing journal at journalPath.
// A missing journal file is not an error (first run). A nil logger falls
// back to slog.Default().
func New(server ServerClient, journalPath string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		server:      server,
		journalPath: journalPath,
		logger:      logger.With("component", "voicecache"),
		entries:     make(map[string]*Entry),
	}
	if err := m.loadJournal(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadJournal() error {
	data, err := os.ReadFile(m.journalPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "voicecache: read journal", err)
	}
	var doc journalDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("voicecache: journal corrupt, starting empty", "error", err)
		return nil
	}
	for i := range doc.Entries {
		e := doc.Entries[i]
		m.entries[e.Identity] = &e // Token is empty; re-established lazily on next use
	}
	return nil
}

func (m *Manager) saveJournalLocked() error {
	doc := journalDocument{Entries: make([]Entry, 0, len(m.entries))}
	for _, e := range m.entries {
		doc.Entries = append(doc.Entries, Entry{Identity: e.Identity, SourcePath: e.SourcePath, LoadedAt: e.LoadedAt, Size: e.Size})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "voicecache: marshal journal", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.journalPath), 0o755); err != nil {
		return apperr.Wrap(apperr.KindInternal, "voicecache: create journal dir", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.journalPath), ".voicecache-journal-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "voicecache: create temp journal", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindInternal, "voicecache: write temp journal", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindInternal, "voicecache: close temp journal", err)
	}
	if err := os.Rename(tmpPath, m.journalPath); err != nil {
		return apperr.Wrap(apperr.KindInternal, "voicecache: rename temp journal", err)
	}
	return nil
}

// identityFor hashes the normalised (whitespace-trimmed-at-edges) file
// content; identity depends on content, never on the path string.
func identityFor(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}

// Load loads each path: computes its content identity, and if no live
// token exists yet, asks the server to create one. Re-loading identical
// content is a no-op that returns the existing token (distilled §4.10).
func (m *Manager) Load(ctx context.Context, paths ...string) ([]Entry, error) {
	out := make([]Entry, 0, len(paths))
	for _, path := range paths {
		entry, err := m.loadOne(ctx, path)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

func (m *Manager) loadOne(ctx context.Context, path string) (*Entry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("voicecache: read %s", path), err)
	}
	identity := identityFor(content)

	m.mu.Lock()
	existing, ok := m.entries[identity]
	if ok && existing.Token != "" {
		entry := *existing
		m.mu.Unlock()
		return &entry, nil
	}
	m.mu.Unlock()

	token, err := m.server.CreateReference(ctx, content)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &Entry{Identity: identity, SourcePath: path, LoadedAt: time.Now(), Size: int64(len(content)), Token: token}
	m.entries[identity] = entry
	if err := m.saveJournalLocked(); err != nil {
		return nil, err
	}
	result := *entry
	return &result, nil
}

// Unload removes the registry entries corresponding to paths' content
// identities and instructs the server to release their tokens.
func (m *Manager) Unload(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			continue // a path that no longer exists has nothing to unload
		}
		identity := identityFor(content)

		m.mu.Lock()
		entry, ok := m.entries[identity]
		if ok {
			delete(m.entries, identity)
		}
		m.mu.Unlock()

		if ok && entry.Token != "" {
			if err := m.server.ReleaseReference(ctx, entry.Token); err != nil {
				return err
			}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveJournalLocked()
}

// UnloadAll drops the entire registry, releasing every live token.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	for _, e := range entries {
		if e.Token != "" {
			if err := m.server.ReleaseReference(ctx, e.Token); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveJournalLocked()
}

// Lookup is a total function returning the token for a path's content
// identity, or "" if not loaded.
func (m *Manager) Lookup(path string) (string, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	identity := identityFor(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[identity]
	if !ok || entry.Token == "" {
		return "", false
	}
	return entry.Token, true
}

// Status returns a snapshot of the live registry.
func (m *Manager) Status() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

// TokenFor implements localneural.CloneResolver: it is Load for a single
// path, re-establishing the server-side reference if the journal has an
// entry but the process never re-validated its token this run.
func (m *Manager) TokenFor(ctx context.Context, path string) (string, error) {
	entry, err := m.loadOne(ctx, path)
	if err != nil {
		return "", err
	}
	return entry.Token, nil
}
