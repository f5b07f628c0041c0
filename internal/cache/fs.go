package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// fsEntry is the on-disk cache record.
type fsEntry struct {
	Key       pipeline.PageKey `json:"chave"`
	Content   []byte           `json:"conteudo"`
	FetchedAt time.Time        `json:"timestamp"`
	TTLMillis int64            `json:"ttl_ms"`
}

// FS is a filesystem-backed pipeline.ContentCache. Each Put writes a new
// generation file; older generations are kept on disk for audit and only
// superseded for future reads. Entries expire lazily at read time.
type FS struct {
	dir    string
	clock  pipeline.Clock
	logger *zap.Logger

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewFS creates a filesystem cache rooted at dir.
func NewFS(dir string, clock pipeline.Clock, logger *zap.Logger) (*FS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FS{dir: dir, clock: clock, logger: logger}, nil
}

func keyHash(key pipeline.PageKey) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", key.Date, key.Section, key.Page)))
	return hex.EncodeToString(sum[:])
}

// Get returns the newest live generation for key, or a miss.
func (c *FS) Get(key pipeline.PageKey) (pipeline.CacheEntry, bool) {
	path, ok := c.latestGeneration(key)
	if !ok {
		c.count(false)
		return pipeline.CacheEntry{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("path", path), zap.Error(err))
		c.count(false)
		return pipeline.CacheEntry{}, false
	}
	var stored fsEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("path", path), zap.Error(err))
		c.count(false)
		return pipeline.CacheEntry{}, false
	}

	entry := pipeline.CacheEntry{
		Key:       stored.Key,
		Content:   stored.Content,
		FetchedAt: stored.FetchedAt,
		TTL:       time.Duration(stored.TTLMillis) * time.Millisecond,
	}
	if entry.Expired(c.clock.Now()) {
		c.count(false)
		return pipeline.CacheEntry{}, false
	}
	c.count(true)
	return entry, true
}

// Put writes a new generation for key. The write goes to a temp file
// first so a concurrent Get never observes a partial entry.
func (c *FS) Put(key pipeline.PageKey, content []byte, ttl time.Duration) {
	stored := fsEntry{
		Key:       key,
		Content:   content,
		FetchedAt: c.clock.Now(),
		TTLMillis: ttl.Milliseconds(),
	}
	data, err := json.Marshal(stored)
	if err != nil {
		c.logger.Warn("cache entry marshal failed", zap.Error(err))
		return
	}

	name := fmt.Sprintf("%s_%020d.json", keyHash(key), c.clock.Now().UnixNano())
	path := filepath.Join(c.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		c.logger.Warn("cache write failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Warn("cache rename failed", zap.String("path", path), zap.Error(err))
	}
}

// Invalidate retires every generation for key by renaming it out of the
// lookup namespace; the content stays on disk for debugging.
func (c *FS) Invalidate(key pipeline.PageKey) {
	prefix := keyHash(key) + "_"
	names, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("cache invalidate scan failed", zap.Error(err))
		return
	}
	for _, e := range names {
		if !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		old := filepath.Join(c.dir, e.Name())
		if err := os.Rename(old, old+".invalidated"); err != nil {
			c.logger.Warn("cache invalidate failed", zap.String("path", old), zap.Error(err))
		}
	}
}

// Sweep removes expired generations and returns how many were deleted.
// Optional; reads do not depend on it.
func (c *FS) Sweep() int {
	removed := 0
	names, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("cache sweep scan failed", zap.Error(err))
		return 0
	}
	now := c.clock.Now()
	for _, e := range names {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var stored fsEntry
		if err := json.Unmarshal(data, &stored); err != nil {
			continue
		}
		age := now.Sub(stored.FetchedAt)
		if age > time.Duration(stored.TTLMillis)*time.Millisecond {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	c.logger.Info("cache sweep finished", zap.Int("removed", removed))
	return removed
}

// Stats reports hit/miss counters since construction.
func (c *FS) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *FS) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}

func (c *FS) latestGeneration(key pipeline.PageKey) (string, bool) {
	prefix := keyHash(key) + "_"
	names, err := os.ReadDir(c.dir)
	if err != nil {
		return "", false
	}
	var matches []string
	for _, e := range names {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return filepath.Join(c.dir, matches[len(matches)-1]), true
}
