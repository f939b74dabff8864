// Package contextcache answers context requests from an in-memory cache in
// front of the item store.
package contextcache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"legal_kb/internal/model"
	"legal_kb/internal/relevance"
	"legal_kb/internal/storage"
)

// Store is the part of the item store the cache reads from.
type Store interface {
	Search(ctx context.Context, q storage.SearchQuery) ([]model.Item, error)
	ByCategory(ctx context.Context, category model.Category, language string, limit int) ([]model.Item, error)
}

// Status tells where a result came from.
type Status string

// Cache statuses.
const (
	StatusHit   Status = "hit"
	StatusMiss  Status = "miss"
	StatusError Status = "error"
)

// Bounds on request parameters.
const (
	MaxItemsLimit  = 20
	MaxLengthLimit = 20000
)

// Config tunes the cache.
type Config struct {
	TTL              time.Duration
	MaxEntries       int
	EvictFraction    float64
	SweepInterval    time.Duration
	DefaultMaxItems  int
	DefaultMaxLength int
	// MinResults is the keyword-hit count below which a categorized
	// request is topped up with the newest items of its category.
	MinResults     int
	PrewarmDelay   time.Duration
	PrewarmSpacing time.Duration
	// LoadTimeout bounds one store load shared by collapsed misses.
	LoadTimeout time.Duration
	Now         func() time.Time
}

func (c Config) defaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.EvictFraction <= 0 || c.EvictFraction > 1 {
		c.EvictFraction = 0.2
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.DefaultMaxItems <= 0 {
		c.DefaultMaxItems = 5
	}
	if c.DefaultMaxLength <= 0 {
		c.DefaultMaxLength = 2000
	}
	if c.MinResults <= 0 {
		c.MinResults = 3
	}
	if c.PrewarmDelay < 0 {
		c.PrewarmDelay = 0
	}
	if c.PrewarmSpacing < 0 {
		c.PrewarmSpacing = 0
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Request asks for prompt context about a query.
type Request struct {
	Query     string         `json:"query" yaml:"query"`
	Category  model.Category `json:"category,omitempty" yaml:"category"`
	Language  string         `json:"language,omitempty" yaml:"language"`
	MaxItems  int            `json:"max_items,omitempty" yaml:"-"`
	MaxLength int            `json:"max_length,omitempty" yaml:"-"`
}

// Metadata describes how a Result was produced.
type Metadata struct {
	FromCache   bool      `json:"from_cache"`
	CacheStatus Status    `json:"cache_status"`
	Key         string    `json:"cache_key"`
	Hits        int       `json:"hits"`
	ItemCount   int       `json:"item_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Result is the rendered context plus the items behind it.
type Result struct {
	Context  string       `json:"context"`
	Items    []model.Item `json:"items"`
	Metadata Metadata     `json:"metadata"`
}

// entry keeps up to MaxItemsLimit candidates in presentation order so a
// later request with a larger MaxItems is served from the same entry.
// items and text are the rendering for maxItems and maxLength.
type entry struct {
	candidates  []model.Item
	items       []model.Item
	text        string
	maxItems    int
	maxLength   int
	generatedAt time.Time
	hits        int
}

// Cache memoizes rendered context per normalized query, category and
// language. Entries expire after Config.TTL regardless of store freshness.
type Cache struct {
	store Store
	cfg   Config
	log   *slog.Logger
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	stats   counters
}

type counters struct {
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	storeErrors int64
}

// New creates a Cache reading from store.
func New(store Store, cfg Config, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:   store,
		cfg:     cfg.defaults(),
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Key derives the cache key of a request.
func Key(query string, category model.Category, language string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(relevance.Normalize(query)))
	cat := string(category)
	if category.MatchesAny() {
		cat = string(model.CategoryGeneral)
	}
	if language == "" {
		language = model.DefaultLanguage
	}
	return fmt.Sprintf("%016x:%s:%s", h.Sum64(), cat, language)
}

func (c *Cache) normalize(req Request) Request {
	if req.Language == "" {
		req.Language = model.DefaultLanguage
	}
	if req.MaxItems <= 0 {
		req.MaxItems = c.cfg.DefaultMaxItems
	}
	if req.MaxItems > MaxItemsLimit {
		req.MaxItems = MaxItemsLimit
	}
	if req.MaxLength <= 0 {
		req.MaxLength = c.cfg.DefaultMaxLength
	}
	if req.MaxLength > MaxLengthLimit {
		req.MaxLength = MaxLengthLimit
	}
	return req
}

// GetContext returns prompt context for req. Store failures degrade to an
// empty context with CacheStatus "error" and are never cached.
func (c *Cache) GetContext(ctx context.Context, req Request) Result {
	req = c.normalize(req)
	key := Key(req.Query, req.Category, req.Language)

	if res, ok := c.lookup(key, req); ok {
		return res
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Waiters share this load, so it must not die with the leader's request.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
		defer cancel()
		return c.load(loadCtx, key, req)
	})
	if err != nil {
		return Result{Metadata: Metadata{
			CacheStatus: StatusError,
			Key:         key,
			GeneratedAt: c.cfg.Now().UTC(),
		}}
	}

	e := v.(*entry)
	items, text := e.items, e.text
	if e.maxItems != req.MaxItems || e.maxLength != req.MaxLength {
		items, text = c.render(e.candidates, req)
	}
	return Result{
		Context: text,
		Items:   items,
		Metadata: Metadata{
			CacheStatus: StatusMiss,
			Key:         key,
			ItemCount:   len(items),
			GeneratedAt: e.generatedAt,
		},
	}
}

func (c *Cache) lookup(key string, req Request) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.misses++
		return Result{}, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		c.stats.expirations++
		c.stats.misses++
		return Result{}, false
	}

	e.hits++
	c.stats.hits++
	items, text := e.items, e.text
	if e.maxItems != req.MaxItems || e.maxLength != req.MaxLength {
		items, text = c.render(e.candidates, req)
	}
	return Result{
		Context: text,
		Items:   items,
		Metadata: Metadata{
			FromCache:   true,
			CacheStatus: StatusHit,
			Key:         key,
			Hits:        e.hits,
			ItemCount:   len(items),
			GeneratedAt: e.generatedAt,
		},
	}, true
}

func (c *Cache) expired(e *entry) bool {
	return c.cfg.Now().Sub(e.generatedAt) >= c.cfg.TTL
}

// load queries the store and caches the candidates. Keyword hits keep the
// store's recency order; relevance ranking only orders a list that was
// merged with category items.
func (c *Cache) load(ctx context.Context, key string, req Request) (*entry, error) {
	items, err := c.store.Search(ctx, storage.SearchQuery{
		Query:    req.Query,
		Category: req.Category,
		Language: req.Language,
		Limit:    MaxItemsLimit,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.log.Warn("context search cancelled", "key", key, "query", req.Query)
			return nil, err
		}
		c.mu.Lock()
		c.stats.storeErrors++
		c.mu.Unlock()
		c.log.Error("context search failed", "key", key, "query", req.Query, "error", err)
		return nil, err
	}

	if len(items) < c.cfg.MinResults && !req.Category.MatchesAny() {
		extra, err := c.store.ByCategory(ctx, req.Category, req.Language, MaxItemsLimit)
		if err != nil {
			c.log.Warn("category supplement failed", "key", key, "error", err)
		} else if merged := mergeByID(items, extra); len(merged) > len(items) {
			items = relevance.Rank(merged, req.Query)
		}
	}
	if len(items) > MaxItemsLimit {
		items = items[:MaxItemsLimit]
	}

	shown, text := c.render(items, req)
	e := &entry{
		candidates:  items,
		items:       shown,
		text:        text,
		maxItems:    req.MaxItems,
		maxLength:   req.MaxLength,
		generatedAt: c.cfg.Now().UTC(),
	}
	c.put(key, e)
	c.log.Debug("context cached", "key", key, "count", len(items))
	return e, nil
}

// render cuts candidates to req.MaxItems and formats them.
func (c *Cache) render(candidates []model.Item, req Request) ([]model.Item, string) {
	shown := candidates
	if len(shown) > req.MaxItems {
		shown = shown[:req.MaxItems]
	}
	return shown, relevance.FormatForPrompt(shown, req.MaxLength, c.cfg.Now())
}

func mergeByID(items, extra []model.Item) []model.Item {
	seen := make(map[int64]bool, len(items)+len(extra))
	out := make([]model.Item, 0, len(items)+len(extra))
	for _, list := range [][]model.Item{items, extra} {
		for _, it := range list {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			out = append(out, it)
		}
	}
	return out
}

func (c *Cache) put(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked()
	}
	c.entries[key] = e
}

// evictLocked drops the least-hit fraction of entries, oldest first among
// equal hit counts, and at least one entry.
func (c *Cache) evictLocked() {
	type candidate struct {
		key string
		e   *entry
	}
	all := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, candidate{key: k, e: e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.hits != all[j].e.hits {
			return all[i].e.hits < all[j].e.hits
		}
		if !all[i].e.generatedAt.Equal(all[j].e.generatedAt) {
			return all[i].e.generatedAt.Before(all[j].e.generatedAt)
		}
		return all[i].key < all[j].key
	})

	n := max(int(math.Ceil(float64(len(all))*c.cfg.EvictFraction)), 1)
	for _, cand := range all[:min(n, len(all))] {
		delete(c.entries, cand.key)
	}
	c.stats.evictions += int64(min(n, len(all)))
	c.log.Info("cache evicted entries", "count", min(n, len(all)), "remaining", len(c.entries))
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.expirations += int64(removed)
	return removed
}

// Run sweeps expired entries every Config.SweepInterval until ctx is
// cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("cache sweep", "count", n)
			}
		}
	}
}

// Prewarm waits Config.PrewarmDelay and then loads each query in turn,
// spaced by Config.PrewarmSpacing. It returns how many queries loaded
// without a store error.
func (c *Cache) Prewarm(ctx context.Context, queries []Request) int {
	if !sleep(ctx, c.cfg.PrewarmDelay) {
		return 0
	}

	warmed := 0
	for i, q := range queries {
		if i > 0 && !sleep(ctx, c.cfg.PrewarmSpacing) {
			break
		}
		res := c.GetContext(ctx, q)
		if res.Metadata.CacheStatus == StatusError {
			c.log.Warn("prewarm query failed", "query", q.Query, "category", q.Category)
			continue
		}
		warmed++
	}
	c.log.Info("cache prewarmed", "count", warmed, "queries", len(queries))
	return warmed
}

func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil || d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Clear drops every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	return n
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries     int     `json:"entries"`
	MaxEntries  int     `json:"max_entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	StoreErrors int64   `json:"store_errors"`
	HitRate     float64 `json:"hit_rate"`
	TTLSeconds  int64   `json:"ttl_seconds"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Entries:     len(c.entries),
		MaxEntries:  c.cfg.MaxEntries,
		Hits:        c.stats.hits,
		Misses:      c.stats.misses,
		Evictions:   c.stats.evictions,
		Expirations: c.stats.expirations,
		StoreErrors: c.stats.storeErrors,
		TTLSeconds:  int64(c.cfg.TTL / time.Second),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}
