package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/cratestatus/pkg/cache"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
)

var fastBackoff = WithBackoff(cache.Backoff{Attempts: 3, Initial: time.Millisecond})

func newTestClient(t *testing.T, srv *httptest.Server, headers map[string]string, opts ...Option) *Client {
	t.Helper()
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithHTTPClient(srv.Client()), fastBackoff}, opts...)
	return NewClient(c, "test", time.Hour, headers, opts...)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil, "test", time.Hour, nil)
	if client.http == nil {
		t.Error("http client is nil")
	}
	if _, ok := client.cache.(cache.NullCache); !ok {
		t.Errorf("nil backend should become NullCache, got %T", client.cache)
	}
	if client.breaker != nil || client.limiter != nil {
		t.Error("breaker and limiter should be off by default")
	}
}

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "hello"})
	}))
	defer srv.Close()

	var resp struct {
		Message string `json:"message"`
	}
	if err := newTestClient(t, srv, nil).Get(context.Background(), srv.URL, &resp); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.Message != "hello" {
		t.Errorf("message = %q, want hello", resp.Message)
	}
}

func TestClientHeaders(t *testing.T) {
	var gotDefault, gotOverride string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDefault = r.Header.Get("User-Agent")
		gotOverride = r.Header.Get("X-Override")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, map[string]string{"User-Agent": "cratestatus-test", "X-Override": "default"})
	if _, err := client.GetBytesWithHeaders(context.Background(), srv.URL, map[string]string{"X-Override": "request"}); err != nil {
		t.Fatal(err)
	}
	if gotDefault != "cratestatus-test" {
		t.Errorf("User-Agent = %q", gotDefault)
	}
	if gotOverride != "request" {
		t.Errorf("X-Override = %q, want request header to win", gotOverride)
	}
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		want      error
		retryable bool
		code      apperr.Code
	}{
		{http.StatusNotFound, ErrNotFound, false, apperr.ErrCodeNotFound},
		{http.StatusUnauthorized, ErrUnauthorized, false, apperr.ErrCodeUnauthorized},
		{http.StatusForbidden, ErrUnauthorized, false, apperr.ErrCodeUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited, true, apperr.ErrCodeRateLimited},
		{http.StatusInternalServerError, ErrNetwork, true, apperr.ErrCodeNetwork},
		{http.StatusTeapot, ErrNetwork, false, apperr.ErrCodeNetwork},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := newTestClient(t, srv, nil)
			_, err := client.CachedBytes(context.Background(), "k", true, func() ([]byte, error) {
				return client.GetBytes(context.Background(), srv.URL)
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if cache.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", cache.IsRetryable(err), tt.retryable)
			}
			if Code(err) != tt.code {
				t.Errorf("Code = %v, want %v", Code(err), tt.code)
			}
			wantCalls := int32(1)
			if tt.retryable {
				wantCalls = 3
			}
			if calls.Load() != wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), wantCalls)
			}
		})
	}
}

func TestClientRateLimitedRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).GetBytes(context.Background(), srv.URL)
	var rl *apperr.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitedError in chain", err)
	}
	if rl.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", rl.RetryAfter)
	}
}

func TestClientCached(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	type payload struct {
		Value string `json:"value"`
	}
	fetches := 0
	load := func(refresh bool) payload {
		var v payload
		err := client.Cached(ctx, "key", refresh, &v, func() error {
			fetches++
			v = payload{Value: "fetched"}
			return nil
		})
		if err != nil {
			t.Fatalf("Cached() error: %v", err)
		}
		return v
	}

	if v := load(false); v.Value != "fetched" {
		t.Errorf("first load = %+v", v)
	}
	if v := load(false); v.Value != "fetched" {
		t.Errorf("cached load = %+v", v)
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 (second load served from cache)", fetches)
	}
	load(true)
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 after refresh", fetches)
	}
}

func TestClientCachedFetchErrorNotStored(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	_, err := client.CachedBytes(ctx, "missing", false, func() ([]byte, error) {
		return nil, ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	data, err := client.CachedBytes(ctx, "missing", false, func() ([]byte, error) {
		return []byte("now present"), nil
	})
	if err != nil || string(data) != "now present" {
		t.Errorf("second fetch = %q, %v; failures must not be cached", data, err)
	}
}

func TestClientBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil, WithBreaker("test", time.Hour))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = client.GetBytes(ctx, srv.URL)
	}
	before := calls.Load()

	_, err := client.GetBytes(ctx, srv.URL)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("open breaker err = %v, want ErrNetwork", err)
	}
	if calls.Load() != before {
		t.Error("open breaker should not reach the server")
	}
}

func TestClientBreakerIgnoresNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := newTestClient(t, srv, nil, WithBreaker("test", time.Hour))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := client.GetBytes(ctx, srv.URL); !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d: err = %v, want ErrNotFound", i, err)
		}
	}
}

func TestClientRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, nil, WithRateLimit(1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.GetBytes(ctx, srv.URL); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := client.GetBytes(ctx, srv.URL); err == nil {
		t.Error("second request should be throttled past the deadline")
	}
}

func TestNormalizeRepoURL(t *testing.T) {
	tests := map[string]string{
		"git@github.com:user/repo.git":         "https://github.com/user/repo",
		"git://github.com/user/repo":           "https://github.com/user/repo",
		"git+https://gitlab.com/user/repo.git": "https://gitlab.com/user/repo",
		"https://bitbucket.org/user/repo/":     "https://bitbucket.org/user/repo",
		"git@bitbucket.org:user/repo.git":      "https://bitbucket.org/user/repo",
		"":                                     "",
	}
	for in, want := range tests {
		if got := NormalizeRepoURL(in); got != want {
			t.Errorf("NormalizeRepoURL(%q) = %q, want %q", in, got, want)
		}
	}
}
