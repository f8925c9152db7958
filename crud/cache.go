package crud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/internal/shard"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

// Cache row fields.
const (
	FieldCacheKey = "cacheKey"
	FieldCachedAt = "cachedAt"
)

// DefaultCacheTTL applies when a cache table sets no TTL.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Fetcher loads the value of a cache key from its source.
type Fetcher func(ctx context.Context, key string) (store.Doc, error)

// Cache is the operation set of a key-addressed table of fetched records
// that expire after a TTL.
type Cache struct {
	t     *table
	ttl   time.Duration
	fetch Fetcher
}

// NewCache builds and registers the operations of a cache table.
func NewCache(e *Engine, def schema.Table, fetch Fetcher) (*Cache, error) {
	if fetch == nil {
		return nil, fmt.Errorf("table %q: cache needs a fetcher", def.Name)
	}
	t, err := newTable(e, def, schema.FactoryCache, Hooks{})
	if err != nil {
		return nil, err
	}
	c := &Cache{t: t, ttl: def.Cache.TTL, fetch: fetch}
	if c.ttl <= 0 {
		c.ttl = DefaultCacheTTL
	}
	c.register()
	return c, nil
}

// Name returns the table name.
func (c *Cache) Name() string { return c.t.name }

func (c *Cache) id(key string) string {
	return shard.CacheID(c.t.name, key)
}

func (c *Cache) checkKey(key string) error {
	if key == "" {
		return c.t.fail(apierr.ValidationFailed).WithFields("key").WithDebug("key is required")
	}
	return nil
}

// Get returns the fresh entry for key, or nil on a miss.
func (c *Cache) Get(ctx context.Context, key string) (store.Doc, error) {
	if err := c.checkKey(key); err != nil {
		return nil, err
	}
	return c.t.load(ctx, c.id(key))
}

// List returns one page of fresh entries, newest first.
func (c *Cache) List(ctx context.Context, page PageOpts) (ListResult, error) {
	size := pageSize(page.NumItems)
	p, err := c.t.e.store.Query(ctx, store.Query{Table: c.t.name, PageSize: size, Cursor: page.Cursor})
	if err != nil {
		return ListResult{}, c.t.queryError(err)
	}
	docs := p.Docs
	if docs == nil {
		docs = []store.Doc{}
	}
	return ListResult{Page: docs, ContinueCursor: p.ContinueCursor, IsDone: p.IsDone}, nil
}

// Load returns the entry for key, fetching and storing it on a miss.
func (c *Cache) Load(ctx context.Context, key string) (store.Doc, error) {
	if _, err := c.t.e.RequireUser(ctx, c.t.name); err != nil {
		return nil, err
	}
	d, err := c.Get(ctx, key)
	if err != nil || d != nil {
		return d, err
	}
	return c.refresh(ctx, key)
}

// Refresh fetches key from its source and stores it, hit or miss.
func (c *Cache) Refresh(ctx context.Context, key string) (store.Doc, error) {
	if _, err := c.t.e.RequireUser(ctx, c.t.name); err != nil {
		return nil, err
	}
	if err := c.checkKey(key); err != nil {
		return nil, err
	}
	return c.refresh(ctx, key)
}

func (c *Cache) refresh(ctx context.Context, key string) (store.Doc, error) {
	user, _ := c.t.e.Caller(ctx)
	if err := c.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	data, err := c.fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %q: %w", c.t.name, key, err)
	}
	return c.put(ctx, key, data)
}

// Set stores data under key.
func (c *Cache) Set(ctx context.Context, key string, data store.Doc) (store.Doc, error) {
	if _, err := c.t.e.RequireUser(ctx, c.t.name); err != nil {
		return nil, err
	}
	if err := c.checkKey(key); err != nil {
		return nil, err
	}
	if err := c.t.validate(data, false); err != nil {
		return nil, err
	}
	return c.put(ctx, key, data)
}

func (c *Cache) put(ctx context.Context, key string, data store.Doc) (store.Doc, error) {
	now := c.t.e.now()
	row := data.Clone()
	if row == nil {
		row = store.Doc{}
	}
	row[FieldCacheKey] = key
	row[FieldCachedAt] = store.Millis(now)
	row[store.FieldTTL] = store.TTLAt(now.Add(c.ttl))
	id := c.id(key)
	if err := c.t.e.store.Put(ctx, c.t.name, id, row); err != nil {
		return nil, err
	}
	row[store.FieldID] = id
	return row, nil
}

// Invalidate drops the entry for key. Missing entries are not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if _, err := c.t.e.RequireUser(ctx, c.t.name); err != nil {
		return err
	}
	if err := c.checkKey(key); err != nil {
		return err
	}
	err := c.t.e.store.Delete(ctx, c.t.name, c.id(key))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Purge deletes every expired entry and returns how many it removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	if _, err := c.t.e.RequireUser(ctx, c.t.name); err != nil {
		return 0, err
	}
	expired, err := store.Collect(ctx, c.t.e.store, store.Query{
		Table:          c.t.name,
		Filter:         store.Cmp{Field: store.FieldTTL, Op: store.OpLte, Value: store.TTLAt(c.t.e.now())},
		IncludeExpired: true,
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range expired {
		err := c.t.e.store.Delete(ctx, c.t.name, d.ID())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *Cache) register() {
	e, t := c.t.e, c.t
	e.Register(t.label("get"), Bind(func(ctx context.Context, a KeyArgs) (any, error) {
		return c.Get(ctx, a.Key)
	}))
	e.Register(t.label("list"), Bind(func(ctx context.Context, a ListArgs) (any, error) {
		return c.List(ctx, a.Page)
	}))
	e.Register(t.label("load"), Bind(func(ctx context.Context, a KeyArgs) (any, error) {
		return c.Load(ctx, a.Key)
	}))
	e.Register(t.label("refresh"), Bind(func(ctx context.Context, a KeyArgs) (any, error) {
		return c.Refresh(ctx, a.Key)
	}))
	e.Register(t.label("set"), Bind(func(ctx context.Context, a SetArgs) (any, error) {
		return c.Set(ctx, a.Key, a.Data)
	}))
	e.Register(t.label("invalidate"), Bind(func(ctx context.Context, a KeyArgs) (any, error) {
		return nil, c.Invalidate(ctx, a.Key)
	}))
	e.Register(t.label("purge"), Bind(func(ctx context.Context, _ struct{}) (any, error) {
		n, err := c.Purge(ctx)
		return map[string]int{"purged": n}, err
	}))
}
