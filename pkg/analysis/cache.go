package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/cratestatus/pkg/cache"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/observability"
)

// Cache defaults.
const (
	DefaultTTL      = 10 * time.Minute
	DefaultCapacity = 500
	DefaultTimeout  = 60 * time.Second
)

// ComputeFunc produces a result. It receives the computation's own
// context, not the caller's.
type ComputeFunc func(ctx context.Context) (*Result, error)

// CacheConfig configures a Cache. Zero values select the defaults.
type CacheConfig struct {
	TTL      time.Duration
	Capacity int
	Timeout  time.Duration

	// L2 is an optional shared tier (for example Redis) consulted before
	// computing and written after.
	L2     cache.Cache
	Logger *log.Logger
}

// Cache memoizes results by key.
//
// At most one computation per key runs at a time: the claim is made
// through a singleflight group, and callers arriving while a computation
// is in flight wait for it and receive the same result. The computation
// runs on a context detached from every caller, bounded by the configured
// timeout; a caller giving up does not cancel it. When the timeout expires
// every waiter receives a TIMEOUT error at once.
//
// Entries expire TTL after completion and are evicted least-recently-used
// beyond Capacity. Errors are never cached. A result taken from the shared
// tier keeps the expiry of its original computation.
type Cache struct {
	lru     *expirable.LRU[string, entry]
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
	l2      cache.Cache
	logger  *log.Logger
}

// entry pairs a result with the moment it stops being served. The LRU's own
// TTL only bounds how long an entry occupies memory.
type entry struct {
	r       *Result
	expires time.Time
}

// NewCache returns an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Cache{
		lru:     expirable.NewLRU[string, entry](cfg.Capacity, nil, cfg.TTL),
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		l2:      cfg.L2,
		logger:  cfg.Logger,
	}
}

// Get returns the cached result for key, computing it if needed. The
// caller's ctx only bounds how long this call waits.
func (c *Cache) Get(ctx context.Context, key string, compute ComputeFunc) (*Result, error) {
	if r, ok := c.lookup(key); ok {
		observability.Cache().OnCacheHit(ctx, key)
		return r, nil
	}
	observability.Cache().OnCacheMiss(ctx, key)

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(context.WithoutCancel(ctx), key, compute)
	})
	select {
	case res := <-ch:
		if res.Shared {
			observability.Cache().OnCacheShared(ctx, key)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns a live cached result without computing.
func (c *Cache) Peek(key string) (*Result, bool) {
	e, ok := c.lru.Peek(key)
	if !ok || !time.Now().Before(e.expires) {
		return nil, false
	}
	return e.r, true
}

// lookup returns a live entry and marks it recently used. Expired entries
// are dropped.
func (c *Cache) lookup(key string) (*Result, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.r, true
}

// Invalidate drops key from the in-memory and shared tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.lru.Remove(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.logger.Warn("analysis cache delete failed", "key", key, "err", err)
		}
	}
}

// Purge drops every in-memory entry.
func (c *Cache) Purge() { c.lru.Purge() }

// Len returns the number of in-memory entries.
func (c *Cache) Len() int { return c.lru.Len() }

// fill runs inside the singleflight claim.
func (c *Cache) fill(base context.Context, key string, compute ComputeFunc) (*Result, error) {
	// A flight that finished between our lookup and the claim has already
	// stored its result.
	if r, ok := c.lookup(key); ok {
		return r, nil
	}

	ctx, cancel := context.WithTimeout(base, c.timeout)
	defer cancel()

	if r, expires := c.loadL2(ctx, key); r != nil {
		c.lru.Add(key, entry{r: r, expires: expires})
		return r, nil
	}

	type outcome struct {
		r   *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := compute(ctx)
		done <- outcome{r, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return nil, apperr.New(apperr.ErrCodeTimeout, "analysis exceeded %s", c.timeout)
	}
	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.ErrCodeTimeout, out.err, "analysis exceeded %s", c.timeout)
		}
		return nil, out.err
	}
	if out.r == nil {
		return nil, apperr.New(apperr.ErrCodeInternal, "analysis produced no result")
	}

	c.lru.Add(key, entry{r: out.r, expires: time.Now().Add(c.ttl)})
	c.storeL2(ctx, key, out.r)
	return out.r, nil
}

// loadL2 returns a shared entry and its expiry, measured from when it was
// computed. Entries at or past their TTL are misses.
func (c *Cache) loadL2(ctx context.Context, key string) (*Result, time.Time) {
	if c.l2 == nil {
		return nil, time.Time{}
	}
	data, hit, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared analysis cache read failed", "key", key, "err", err)
		return nil, time.Time{}
	}
	if !hit {
		return nil, time.Time{}
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Debug("discarding undecodable shared entry", "key", key, "err", err)
		return nil, time.Time{}
	}
	if r.Key != key {
		// Another writer claimed this slot with a different analysis.
		err := apperr.New(apperr.ErrCodeCacheClaimConflict, "shared entry %s holds %s", key, r.Key)
		c.logger.Debug("recomputing", "err", err)
		return nil, time.Time{}
	}
	expires := r.ComputedAt.Add(c.ttl)
	if r.ComputedAt.IsZero() || !time.Now().Before(expires) {
		c.logger.Debug("shared entry expired", "key", key, "computed_at", r.ComputedAt)
		return nil, time.Time{}
	}
	observability.Cache().OnCacheHit(ctx, key)
	return &r, expires
}

func (c *Cache) storeL2(ctx context.Context, key string, r *Result) {
	if c.l2 == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Warn("encode analysis result", "key", key, "err", err)
		return
	}
	if err := c.l2.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("shared analysis cache write failed", "key", key, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, key, len(data))
}
