// Package news gathers headlines for the dealer's news memo and the
// provider catalog.
package news

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// Fetcher is one upstream news feed.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, symbol string, limit int) ([]types.NewsItem, error)
}

// Service merges its fetchers and caches the merged list per symbol.
type Service struct {
	fetchers []Fetcher
	cache    *newsCache
	now      func() time.Time
}

var _ interfaces.NewsSource = (*Service)(nil)

type ServiceConfig struct {
	CacheDuration time.Duration
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{CacheDuration: 10 * time.Minute}
}

type newsCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	ttl  time.Duration
}

type cacheEntry struct {
	items     []types.NewsItem
	timestamp time.Time
}

func (c *newsCache) get(key string, now time.Time) ([]types.NewsItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || now.Sub(entry.timestamp) > c.ttl {
		return nil, false
	}
	return entry.items, true
}

// set stores items and drops expired entries.
func (c *newsCache) set(key string, items []types.NewsItem, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.data {
		if now.Sub(e.timestamp) > c.ttl {
			delete(c.data, k)
		}
	}
	c.data[key] = cacheEntry{items: items, timestamp: now}
}

func NewService(cfg *ServiceConfig, fetchers ...Fetcher) *Service {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	return &Service{
		fetchers: fetchers,
		cache:    &newsCache{data: make(map[string]cacheEntry), ttl: cfg.CacheDuration},
		now:      time.Now,
	}
}

// Latest returns up to limit items, newest first, with duplicate titles
// removed. It fails only when every fetcher fails.
func (s *Service) Latest(ctx context.Context, symbol string, limit int) ([]types.NewsItem, error) {
	if limit <= 0 {
		limit = 20
	}
	key := strings.ToUpper(symbol)
	if items, ok := s.cache.get(key, s.now()); ok {
		logger.Debug(ctx, "Using cached news", "symbol", symbol, "count", len(items))
		return head(items, limit), nil
	}

	var (
		merged []types.NewsItem
		errs   []error
	)
	for _, f := range s.fetchers {
		items, err := f.Fetch(ctx, symbol, limit)
		if err != nil {
			logger.Warn(ctx, "News fetch failed", "fetcher", f.Name(), "symbol", symbol, "error", err)
			errs = append(errs, err)
			continue
		}
		merged = append(merged, items...)
	}
	if len(s.fetchers) > 0 && len(errs) == len(s.fetchers) {
		return nil, errors.Join(errs...)
	}

	merged = dedupe(merged)
	slices.SortStableFunc(merged, func(a, b types.NewsItem) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	s.cache.set(key, merged, s.now())
	logger.Info(ctx, "News refreshed", "symbol", symbol, "count", len(merged))
	return head(merged, limit), nil
}

func dedupe(items []types.NewsItem) []types.NewsItem {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		k := strings.ToLower(it.Title)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

func head(items []types.NewsItem, n int) []types.NewsItem {
	return slices.Clone(items[:min(n, len(items))])
}
