// Package cache implements the document cache (distilled spec §4.15): a
// content-addressed, manual-eviction-only JSON file store. Grounded on
// the teacher's internal/cache/cache.go atomic-write/stale-file-cleanup
// logic (temp file + os.Rename, corruption removes the offending file),
// adapted from raw PCM audio values to JSON document-pipeline values and
// with LRU eviction dropped entirely — distilled §4.15 calls this "a
// correctness cache, not a capacity cache".
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Key computes the Document Cache Key: a SHA-256 over the normalised
// content plus the pipeline parameters that affect its output, so two
// synthesis requests differing only in platform or profile never collide
// (distilled §4.15/§6).
func Key(content []byte, formatHint, ssmlPlatform, emotionProfile string) []byte {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(formatHint))
	h.Write([]byte{0})
	h.Write([]byte(ssmlPlatform))
	h.Write([]byte{0})
	h.Write([]byte(emotionProfile))
	return h.Sum(nil)
}

// Cache is a directory of JSON files, one per key, keyed by the hex
// encoding of a Document Cache Key (distilled §6: "filename = hex of
// key").
type Cache struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New constructs a Cache rooted at dir, creating it if absent.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("document cache: create dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, logger: logger}, nil
}

func (c *Cache) pathFor(key []byte) string {
	return filepath.Join(c.dir, hex.EncodeToString(key)+".json")
}

// Get retrieves the value stored under key. A missing file, or a file
// that fails to decode as JSON (distilled §4.15: "legacy binary-pickle
// files must be ignored on read and removed"), is reported as a miss and
// the offending file is removed.
func (c *Cache) Get(key []byte, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.pathFor(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("document cache: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("document cache: corrupt or non-JSON entry, evicting", "path", path, "error", err)
		os.Remove(path)
		return false, nil
	}
	return true, nil
}

// Put stores value under key, atomically (temp file + rename).
func (c *Cache) Put(key []byte, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("document cache: marshal value: %w", err)
	}

	path := c.pathFor(key)
	tmp, err := os.CreateTemp(c.dir, ".doccache-*.tmp")
	if err != nil {
		return fmt.Errorf("document cache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("document cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("document cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("document cache: rename temp file: %w", err)
	}
	return nil
}

// Clear removes every entry. This is the only eviction path (distilled
// §4.15: "Eviction is manual (clear only)").
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("document cache: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("document cache: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}
