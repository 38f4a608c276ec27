// Package cache memoizes query results against a catalog generation.
//
// The generation is the status row's modified timestamp: every commit
// of a reconciliation pass bumps it, which invalidates every cached
// entry at once without touching the cache itself. An entry is served
// only while its stored generation still equals the catalog's.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache stores marshaled query results keyed by query kind and
// condition, stamped with the catalog generation they were computed
// against.
type Cache interface {
	// Load unmarshals a cached result into v. It reports false on a
	// miss, which includes any entry from an older generation.
	Load(kind, condition string, generation int64, v any) (bool, error)

	// Save stores v for the given kind, condition and generation.
	Save(kind, condition string, generation int64, v any) error
}

// envelope is the persisted form of one entry.
type envelope struct {
	Generation int64           `json:"generation"`
	Condition  string          `json:"condition"`
	Data       json.RawMessage `json:"data"`
}

// key derives a filesystem-safe entry name. The condition is hashed,
// so the stored condition string is compared on load to rule out
// collisions.
func key(kind, condition string) string {
	sum := md5.Sum([]byte(condition))
	return kind + "-" + hex.EncodeToString(sum[:])
}

// FileCache persists entries as JSON files, one per kind+condition, so
// they survive process restarts.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(kind, condition string) string {
	return filepath.Join(c.dir, key(kind, condition)+".cache")
}

// Load implements Cache. Unreadable or stale files are plain misses;
// a pass that rewrites the entry heals them.
func (c *FileCache) Load(kind, condition string, generation int64, v any) (bool, error) {
	raw, err := os.ReadFile(c.path(kind, condition))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, nil
	}
	if env.Generation != generation || env.Condition != condition {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save implements Cache. The write goes through a temp file plus
// rename so a concurrent reader never sees a torn entry.
func (c *FileCache) Save(kind, condition string, generation int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	raw, err := json.Marshal(envelope{Generation: generation, Condition: condition, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	path := c.path(kind, condition)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// MemoryCache keeps entries in process memory. It is the in-memory
// counterpart of FileCache for hosts without a writable cache dir.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]envelope
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]envelope)}
}

// Load implements Cache.
func (c *MemoryCache) Load(kind, condition string, generation int64, v any) (bool, error) {
	c.mu.RLock()
	env, ok := c.entries[key(kind, condition)]
	c.mu.RUnlock()
	if !ok || env.Generation != generation || env.Condition != condition {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save implements Cache.
func (c *MemoryCache) Save(kind, condition string, generation int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	c.mu.Lock()
	c.entries[key(kind, condition)] = envelope{Generation: generation, Condition: condition, Data: data}
	c.mu.Unlock()
	return nil
}
