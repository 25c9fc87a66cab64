package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/storesync/backend/internal/domain/storesync"
)

// Ensure ShopifyClient implements StoreAPI
var _ storesync.StoreAPI = (*ShopifyClient)(nil)

// ShopifyClient reads customers, products and orders from the Shopify admin
// REST API. Calls to one shop share a rate limiter and a circuit breaker.
type ShopifyClient struct {
	config     *ShopifyConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	shops map[string]*shopGuard
}

// shopGuard throttles and protects the calls to one shop
type shopGuard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// unavailableError is a recoverable failure, optionally with the delay the
// server asked for before the next attempt.
type unavailableError struct {
	cause      error
	retryAfter time.Duration
}

func (e *unavailableError) Error() string { return e.cause.Error() }
func (e *unavailableError) Unwrap() error { return e.cause }

// NewShopifyClient creates a client. httpClient may be nil.
func NewShopifyClient(config *ShopifyConfig, httpClient *http.Client, logger *zap.Logger) (*ShopifyClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopifyClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger.Named("shopify"),
		shops:      make(map[string]*shopGuard),
	}, nil
}

// FetchPage returns one page of kind after query.SinceID
func (c *ShopifyClient) FetchPage(ctx context.Context, conn storesync.Connection, kind storesync.ResourceKind, query storesync.PageQuery) (*storesync.Page, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: resource kind %q", storesync.ErrValidation, kind)
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(query.EffectiveLimit()))
	if query.SinceID > 0 {
		params.Set("since_id", strconv.FormatInt(query.SinceID, 10))
	}
	if query.CreatedAtMin != nil && kind != storesync.ResourceProducts {
		params.Set("created_at_min", query.CreatedAtMin.UTC().Format(time.RFC3339))
	}
	switch kind {
	case storesync.ResourceOrders:
		params.Set("status", "any")
	case storesync.ResourceProducts:
		params.Set("published_status", "published")
	}

	body, err := c.get(ctx, conn, string(kind)+".json", params, c.config.PageTimeout)
	if err != nil {
		return nil, err
	}

	var resp shopifyPageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s page: %v", storesync.ErrSourceRequestFailed, kind, err)
	}
	return resp.toPage(kind), nil
}

// VerifyConnection reads the shop descriptor with the verify timeout. It is
// not retried so a bad credential is reported at once.
func (c *ShopifyClient) VerifyConnection(ctx context.Context, conn storesync.Connection) (*storesync.ShopInfo, error) {
	u, err := c.endpoint(conn.Domain, "shop.json", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, conn, u, c.config.VerifyTimeout)
	if err != nil {
		return nil, err
	}

	var resp shopifyShopResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse shop: %v", storesync.ErrSourceRequestFailed, err)
	}
	if resp.Shop == nil {
		return nil, fmt.Errorf("%w: response has no shop", storesync.ErrSourceRequestFailed)
	}
	return resp.Shop, nil
}

// CountResources returns the record totals of the shop
func (c *ShopifyClient) CountResources(ctx context.Context, conn storesync.Connection) (*storesync.ResourceCounts, error) {
	counts := &storesync.ResourceCounts{}
	targets := []struct {
		kind   storesync.ResourceKind
		params url.Values
		dst    *int64
	}{
		{storesync.ResourceCustomers, nil, &counts.Customers},
		{storesync.ResourceProducts, url.Values{"published_status": {"published"}}, &counts.Products},
		{storesync.ResourceOrders, url.Values{"status": {"any"}}, &counts.Orders},
	}

	for _, t := range targets {
		body, err := c.get(ctx, conn, string(t.kind)+"/count.json", t.params, c.config.VerifyTimeout)
		if err != nil {
			return nil, err
		}
		var resp shopifyCountResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s count: %v", storesync.ErrSourceRequestFailed, t.kind, err)
		}
		*t.dst = resp.Count
	}
	return counts, nil
}

// get performs a throttled, breaker-protected GET with bounded retries.
// Only unavailable errors are retried.
func (c *ShopifyClient) get(ctx context.Context, conn storesync.Connection, path string, params url.Values, timeout time.Duration) ([]byte, error) {
	u, err := c.endpoint(conn.Domain, path, params)
	if err != nil {
		return nil, err
	}
	guard := c.guard(storesync.ShopName(conn.Domain))

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.config.backoff(attempt - 1)
			var ue *unavailableError
			if errors.As(lastErr, &ue) && ue.retryAfter > delay {
				delay = min(ue.retryAfter, c.config.RetryMaxDelay)
			}
			c.logger.Debug("Retrying store API request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %v (last error: %v)", storesync.ErrSourceUnavailable, err, lastErr)
			}
		}

		body, err := guard.breaker.Execute(func() ([]byte, error) {
			if err := guard.limiter.Wait(ctx); err != nil {
				return nil, &unavailableError{cause: fmt.Errorf("%w: rate limiter: %v", storesync.ErrSourceUnavailable, err)}
			}
			return c.doRequest(ctx, conn, u, timeout)
		})
		if err == nil {
			return body, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open for %s", storesync.ErrSourceUnavailable, storesync.ShopName(conn.Domain))
		}
		if !storesync.IsSourceUnavailable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// doRequest sends one GET and maps the response status to the error taxonomy
func (c *ShopifyClient) doRequest(ctx context.Context, conn storesync.Connection, u string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("shopify: failed to create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", conn.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &unavailableError{cause: fmt.Errorf("%w: %v", storesync.ErrSourceUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShopifyResponseSize))
	if err != nil {
		return nil, &unavailableError{cause: fmt.Errorf("%w: failed to read response: %v", storesync.ErrSourceUnavailable, err)}
	}

	switch status := resp.StatusCode; {
	case status < 300:
		return body, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", storesync.ErrInvalidCredential, status)
	case status == http.StatusTooManyRequests:
		return nil, &unavailableError{
			cause:      fmt.Errorf("%w: HTTP %d", storesync.ErrSourceUnavailable, status),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case status >= 500:
		return nil, &unavailableError{cause: fmt.Errorf("%w: HTTP %d", storesync.ErrSourceUnavailable, status)}
	default:
		return nil, fmt.Errorf("%w: HTTP %d%s", storesync.ErrSourceRequestFailed, status, errorDetail(body))
	}
}

// endpoint builds https://{shop}.myshopify.com/admin/api/{version}/{path}
func (c *ShopifyClient) endpoint(domain, path string, params url.Values) (string, error) {
	shop := storesync.ShopName(domain)
	if shop == "" {
		return "", storesync.ErrInvalidDomain
	}

	base := "https://" + shop + storesync.ShopDomainSuffix
	if c.config.BaseURL != "" {
		base = strings.TrimSuffix(c.config.BaseURL, "/")
	}
	u := fmt.Sprintf("%s/admin/api/%s/%s", base, c.config.APIVersion, path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u, nil
}

func (c *ShopifyClient) guard(shop string) *shopGuard {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.shops[shop]; ok {
		return g
	}

	trips := c.config.BreakerTrips
	g := &shopGuard{
		limiter: rate.NewLimiter(rate.Limit(c.config.RequestsPerSec), max(c.config.Burst, 1)),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "shopify:" + shop,
			MaxRequests: 1,
			Timeout:     c.config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return trips > 0 && counts.ConsecutiveFailures >= trips
			},
			// credential and request errors say nothing about availability
			IsSuccessful: func(err error) bool {
				return err == nil || !storesync.IsSourceUnavailable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("Store API circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
	c.shops[shop] = g
	return g
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// errorDetail extracts the "errors" member of an error body, if any
func errorDetail(body []byte) string {
	var resp shopifyErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Errors == nil {
		return ""
	}
	return fmt.Sprintf(": %v", resp.Errors)
}
