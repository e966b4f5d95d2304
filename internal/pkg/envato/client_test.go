package envato

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

const saleJSON = `{
	"amount": "19.84",
	"sold_at": "2026-03-01T10:54:28+10:00",
	"license": "Extended License",
	"supported_until": "2026-09-01T10:54:28+10:00",
	"buyer": "jdoe",
	"purchase_count": 1,
	"item": {"id": 4711, "name": "Acme Plugin", "url": "https://codecanyon.net/item/acme/4711"}
}`

func newTestServer(t *testing.T, calls *int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v3/market/author/sale", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyPurchase_Success(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, http.StatusOK, saleJSON)
	client := NewClient(srv.URL, "test-token", time.Second, nil, 0)

	sale, err := client.VerifyPurchase(context.Background(), "  8f3c1a2b-0000-4000-8000-123456789abc ")
	require.NoError(t, err)
	assert.Equal(t, int64(4711), sale.Item.ID)
	assert.Equal(t, "Acme Plugin", sale.Item.Name)
	assert.Equal(t, "jdoe", sale.Buyer)
	assert.True(t, sale.IsExtended())
	require.NotNil(t, sale.SupportedUntil)
	assert.Equal(t, 2026, sale.SupportedUntil.Year())
}

func TestVerifyPurchase_NotFound(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, http.StatusNotFound, `{"error":404,"description":"No sale belonging to the current user found with that code"}`)
	client := NewClient(srv.URL, "test-token", time.Second, nil, 0)

	_, err := client.VerifyPurchase(context.Background(), "unknown-purchase-code")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyPurchase_ServerError(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, http.StatusBadGateway, `oops`)
	client := NewClient(srv.URL, "test-token", time.Second, nil, 0)

	_, err := client.VerifyPurchase(context.Background(), "some-purchase-code")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no retries")
}

func TestVerifyPurchase_RejectsShortCodeWithoutCall(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, http.StatusOK, saleJSON)
	client := NewClient(srv.URL, "test-token", time.Second, nil, 0)

	_, err := client.VerifyPurchase(context.Background(), "BAD-CODE")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestVerifyPurchase_NotConfigured(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", time.Second, nil, 0)
	_, err := client.VerifyPurchase(context.Background(), "some-purchase-code")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifyPurchase_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "test-token", 50*time.Millisecond, nil, 0)

	start := time.Now()
	_, err := client.VerifyPurchase(context.Background(), "slow-purchase-code")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestVerifyPurchase_CanceledCallerDoesNotAbortSharedLookup(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(saleJSON))
	}))
	t.Cleanup(srv.Close)
	var releaseOnce sync.Once
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	cache := newMemoryCache()
	client := NewClient(srv.URL, "test-token", 5*time.Second, cache, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := client.VerifyPurchase(ctx, "shared-purchase-code")
		errc <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	releaseOnce.Do(func() { close(release) })
	require.Eventually(t, func() bool {
		_, ok, _ := cache.Get(context.Background(), CacheKey("shared-purchase-code"))
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sale, err := client.VerifyPurchase(context.Background(), "shared-purchase-code")
	require.NoError(t, err)
	assert.Equal(t, int64(4711), sale.Item.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestVerifyPurchase_CachesSuccess(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, http.StatusOK, saleJSON)
	cache := newMemoryCache()
	client := NewClient(srv.URL, "test-token", time.Second, cache, time.Minute)

	for i := 0; i < 3; i++ {
		sale, err := client.VerifyPurchase(context.Background(), "cached-purchase-code")
		require.NoError(t, err)
		assert.Equal(t, int64(4711), sale.Item.ID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, ok, _ := cache.Get(context.Background(), CacheKey("cached-purchase-code"))
	assert.True(t, ok)
}

func TestVerifyPurchase_DoesNotCacheFailures(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, http.StatusNotFound, `{}`)
	cache := newMemoryCache()
	client := NewClient(srv.URL, "test-token", time.Second, cache, time.Minute)

	_, _ = client.VerifyPurchase(context.Background(), "missing-purchase-code")
	_, _ = client.VerifyPurchase(context.Background(), "missing-purchase-code")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Empty(t, cache.values)
}

func TestCacheKey_DoesNotContainCode(t *testing.T) {
	key := CacheKey("secret-purchase-code")
	assert.NotContains(t, key, "secret")
	assert.Equal(t, CacheKey("secret-purchase-code"), key)
}
