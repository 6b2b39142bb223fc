package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/matzehuels/cratestatus/pkg/cache"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/observability"
)

// maxBodySize bounds a single response body. The OSV crates.io archive is
// the largest thing fetched.
const maxBodySize = 256 << 20

// Client provides shared HTTP functionality for the registry, advisory and
// forge clients. It handles response caching, retry with backoff, an
// optional circuit breaker, an optional rate limiter, and common headers.
//
// All methods are safe for concurrent use.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	keyer   cache.Keyer
	prefix  string
	ttl     time.Duration
	headers map[string]string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	backoff cache.Backoff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithKeyer sets the Keyer used to build cache keys.
func WithKeyer(k cache.Keyer) Option {
	return func(c *Client) { c.keyer = k }
}

// WithBackoff overrides the retry policy.
func WithBackoff(b cache.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithBreaker wraps every request in a circuit breaker that opens after
// five consecutive network failures and probes again after timeout.
// Not-found and unauthorized responses do not count as failures.
func WithBreaker(name string, timeout time.Duration) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrNetwork)
			},
		})
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// NewClient creates a Client. Responses cached through [Client.Cached] and
// [Client.CachedBytes] are stored in backend under keys namespaced by
// prefix and expire after ttl. A nil backend disables caching.
func NewClient(backend cache.Cache, prefix string, ttl time.Duration, headers map[string]string, opts ...Option) *Client {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	c := &Client{
		http:    NewHTTPClient(),
		cache:   backend,
		keyer:   cache.NewDefaultKeyer(),
		prefix:  prefix,
		ttl:     ttl,
		headers: headers,
		backoff: cache.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cached retrieves a JSON value from cache or executes fetch and caches the
// result. If refresh is true, the cache is bypassed and fetch is always
// called. fetch should populate v; on success, v is stored in the cache.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	ck := c.keyer.HTTPKey(c.prefix, key)
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, ck); ok && json.Unmarshal(data, v) == nil {
			observability.Cache().OnCacheHit(ctx, "http")
			return nil
		}
		observability.Cache().OnCacheMiss(ctx, "http")
	}
	if err := c.backoff.Retry(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		if c.cache.Set(ctx, ck, data, c.ttl) == nil {
			observability.Cache().OnCacheSet(ctx, "http", len(data))
		}
	}
	return nil
}

// CachedBytes is Cached for raw bodies.
func (c *Client) CachedBytes(ctx context.Context, key string, refresh bool, fetch func() ([]byte, error)) ([]byte, error) {
	ck := c.keyer.HTTPKey(c.prefix, key)
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, ck); ok {
			observability.Cache().OnCacheHit(ctx, "http")
			return data, nil
		}
		observability.Cache().OnCacheMiss(ctx, "http")
	}
	var data []byte
	err := c.backoff.Retry(ctx, func() error {
		var err error
		data, err = fetch()
		return err
	})
	if err != nil {
		return nil, err
	}
	if c.cache.Set(ctx, ck, data, c.ttl) == nil {
		observability.Cache().OnCacheSet(ctx, "http", len(data))
	}
	return data, nil
}

// Get performs an HTTP GET request and JSON-decodes the response into v.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	return c.GetWithHeaders(ctx, url, nil, v)
}

// GetWithHeaders performs an HTTP GET with additional headers merged with
// defaults. Request-specific headers override client defaults for the same
// key.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string, v any) error {
	body, err := c.do(ctx, url, headers)
	if err != nil {
		return err
	}
	return json.NewDecoder(bytes.NewReader(body)).Decode(v)
}

// GetText performs an HTTP GET request and returns the response body as a
// string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	body, err := c.do(ctx, url, nil)
	return string(body), err
}

// GetBytes performs an HTTP GET request and returns the raw body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, url, nil)
}

// GetBytesWithHeaders is GetBytes with request-specific headers.
func (c *Client) GetBytesWithHeaders(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, url, headers)
}

func (c *Client) do(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.breaker == nil {
		return c.roundTrip(ctx, rawURL, headers)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, rawURL, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, c.breaker.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) roundTrip(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	host, path := hostPath(rawURL)
	hooks := observability.HTTP()
	hooks.OnRequest(ctx, http.MethodGet, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, http.MethodGet, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cache.Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, http.MethodGet, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, cache.Retryable(fmt.Errorf("%w: read body: %v", ErrNetwork, err))
	}
	return body, nil
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, code)
	case code == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return cache.Retryable(fmt.Errorf("%w: %w", ErrRateLimited, &apperr.RateLimitedError{RetryAfter: retryAfter}))
	case code >= 500:
		return cache.Retryable(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

func hostPath(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", rawURL
	}
	return u.Host, u.Path
}
