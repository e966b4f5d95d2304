package envato

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/logging"
)

const (
	defaultAPIBaseURL = "https://api.envato.com"
	defaultTimeout    = 30 * time.Second
	defaultCacheTTL   = 30 * time.Minute

	minPurchaseCodeLength = 10
	cacheKeyPrefix        = "envato_purchase_"
)

var (
	// ErrNotFound means Envato does not know the purchase code.
	ErrNotFound = errors.New("envato: purchase not found")
	// ErrInvalidCode is returned without calling the API for codes that
	// cannot be purchase codes.
	ErrInvalidCode = errors.New("envato: invalid purchase code")
	// ErrNotConfigured is returned when no personal token is set.
	ErrNotConfigured = errors.New("envato: ENVATO_PERSONAL_TOKEN is not configured")
)

// Item is the marketplace item a sale belongs to.
type Item struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Sale is the subset of /v3/market/author/sale the license server uses.
type Sale struct {
	Item           Item       `json:"item"`
	Buyer          string     `json:"buyer"`
	BuyerEmail     string     `json:"buyer_email,omitempty"`
	License        string     `json:"license"`
	PurchaseCount  int        `json:"purchase_count"`
	SoldAt         *time.Time `json:"sold_at,omitempty"`
	SupportedUntil *time.Time `json:"supported_until,omitempty"`
}

// IsExtended reports whether the sale was for an Extended License.
func (s *Sale) IsExtended() bool {
	return strings.Contains(strings.ToLower(s.License), "extended")
}

// Cache stores serialized sales between lookups.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type Client struct {
	APIBaseURL string
	Token      string
	CacheTTL   time.Duration

	HTTPClient *http.Client
	Cache      Cache

	group  singleflight.Group
	logger zerolog.Logger
}

func NewClient(apiBaseURL, token string, timeout time.Duration, cache Cache, cacheTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		APIBaseURL: strings.TrimRight(strings.TrimSpace(apiBaseURL), "/"),
		Token:      strings.TrimSpace(token),
		CacheTTL:   cacheTTL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Cache:  cache,
		logger: logging.Component("envato"),
	}
}

func NewClientFromEnv(cache Cache) *Client {
	return NewClient(
		env.GetEnv("ENVATO_API_BASE", defaultAPIBaseURL),
		env.GetEnv("ENVATO_PERSONAL_TOKEN", ""),
		env.GetEnvDuration("ENVATO_TIMEOUT", defaultTimeout),
		cache,
		env.GetEnvDuration("ENVATO_CACHE_TTL", defaultCacheTTL),
	)
}

// VerifyPurchase looks up a purchase code. Concurrent lookups of the same code
// share one API call; successful lookups are cached for CacheTTL. A failed
// lookup is final for the request, there are no retries.
func (c *Client) VerifyPurchase(ctx context.Context, purchaseCode string) (*Sale, error) {
	code := strings.TrimSpace(purchaseCode)
	if len(code) < minPurchaseCodeLength {
		return nil, ErrInvalidCode
	}
	if c.Token == "" {
		return nil, ErrNotConfigured
	}

	key := CacheKey(code)
	if sale, ok := c.fromCache(ctx, key); ok {
		return sale, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// shared by every waiting caller, so no single caller may cancel it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout())
		defer cancel()
		sale, err := c.fetchSale(fetchCtx, code)
		if err != nil {
			return nil, err
		}
		c.toCache(fetchCtx, key, sale)
		return sale, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Sale), nil
	}
}

func (c *Client) fetchSale(ctx context.Context, code string) (*Sale, error) {
	u, err := url.Parse(c.APIBaseURL + "/v3/market/author/sale")
	if err != nil {
		return nil, fmt.Errorf("invalid ENVATO_API_BASE: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("envato request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error().Int("status", resp.StatusCode).Msg("envato sale lookup failed")
		return nil, fmt.Errorf("envato sale lookup failed: status=%d", resp.StatusCode)
	}

	var sale Sale
	if err := json.Unmarshal(body, &sale); err != nil {
		return nil, fmt.Errorf("decode envato sale: %w", err)
	}
	if sale.Item.ID == 0 {
		return nil, ErrNotFound
	}
	return &sale, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) lookupTimeout() time.Duration {
	if t := c.httpClient().Timeout; t > 0 {
		return t
	}
	return defaultTimeout
}

func (c *Client) fromCache(ctx context.Context, key string) (*Sale, bool) {
	if c.Cache == nil {
		return nil, false
	}
	raw, ok, err := c.Cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("envato cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sale Sale
	if err := json.Unmarshal([]byte(raw), &sale); err != nil {
		return nil, false
	}
	return &sale, true
}

func (c *Client) toCache(ctx context.Context, key string, sale *Sale) {
	if c.Cache == nil || c.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(sale)
	if err != nil {
		return
	}
	if err := c.Cache.Set(ctx, key, string(raw), c.CacheTTL); err != nil {
		c.logger.Warn().Err(err).Msg("envato cache write failed")
	}
}

// CacheKey hashes the purchase code so raw codes never land in the cache.
func CacheKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
