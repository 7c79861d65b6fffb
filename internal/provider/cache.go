package provider

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Cache keeps provider responses as JSON files that expire after ttl.
type Cache struct {
	cacheDir string
	ttl      time.Duration
	mu       sync.RWMutex
}

type cacheEntry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewCache(cacheDir string, ttl time.Duration) (*Cache, error) {
	if cacheDir == "" {
		cacheDir = ".cache/provider"
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{cacheDir: cacheDir, ttl: ttl}, nil
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		return nil, false
	}
	if time.Since(entry.Timestamp) > c.ttl {
		return nil, false
	}
	return entry.Data, true
}

func (c *Cache) Set(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entryData, err := json.Marshal(cacheEntry{Key: key, Data: data, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(key), entryData, 0o644)
}

// CleanupExpired removes entries older than the ttl.
func (c *Cache) CleanupExpired() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > c.ttl {
			os.Remove(filepath.Join(c.cacheDir, entry.Name()))
		}
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.cacheDir, fmt.Sprintf("%x.json", md5.Sum([]byte(key))))
}

// GetOrFetch returns the cached bytes for key or stores the result of fetch.
func (c *Cache) GetOrFetch(key string, fetch func() ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}
	data, err := fetch()
	if err != nil {
		return nil, err
	}
	_ = c.Set(key, data)
	return data, nil
}

func MakeKey(parts ...string) string {
	return strings.Join(parts, "|")
}
