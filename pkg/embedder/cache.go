package embedder

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/liliang-cn/docqa/pkg/log"
)

// Cache is an on-disk embedding cache, one JSON file per entry keyed by
// the first 16 hex chars of the text's MD5. Entries survive restarts so
// re-ingesting unchanged documents costs no API calls.
type Cache struct {
	dir string
	mu  sync.Mutex
}

func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Cache) path(text string) string {
	return filepath.Join(c.dir, cacheKey(text)+".json")
}

func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(text))
	if err != nil {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		log.Warnf("discarding corrupt embedding cache entry %s: %v", cacheKey(text), err)
		_ = os.Remove(c.path(text))
		return nil, false
	}
	return vec, true
}

func (c *Cache) Put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(vec)
	if err != nil {
		return
	}

	tmp := c.path(text) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Warnf("failed to write embedding cache entry: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path(text)); err != nil {
		log.Warnf("failed to finalize embedding cache entry: %v", err)
	}
}
