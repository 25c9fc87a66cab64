package ecommerce

import (
	"errors"
	"time"

	"github.com/storesync/backend/internal/infrastructure/config"
)

const (
	// ShopifyDefaultAPIVersion is the admin API version the client speaks
	ShopifyDefaultAPIVersion = "2023-10"

	// maxShopifyResponseSize limits the response body size to prevent memory exhaustion
	maxShopifyResponseSize = 20 * 1024 * 1024
)

// Errors for Shopify client configuration
var (
	ErrShopifyConfigMissingAPIVersion = errors.New("shopify: api version is required")
	ErrShopifyConfigInvalidRate       = errors.New("shopify: requests per second must be positive")
	ErrShopifyConfigInvalidAttempts   = errors.New("shopify: max attempts must be at least 1")
)

// ShopifyConfig holds the settings of the store API client
type ShopifyConfig struct {
	APIVersion string
	// BaseURL replaces https://{shop}.myshopify.com when set
	BaseURL string

	PageTimeout   time.Duration
	VerifyTimeout time.Duration

	RequestsPerSec float64
	Burst          int

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerTrips consecutive unavailable responses open a shop's breaker
	// for BreakerTimeout.
	BreakerTrips   uint32
	BreakerTimeout time.Duration
}

// NewShopifyConfig returns a configuration with production defaults
func NewShopifyConfig() *ShopifyConfig {
	return &ShopifyConfig{
		APIVersion:     ShopifyDefaultAPIVersion,
		PageTimeout:    30 * time.Second,
		VerifyTimeout:  10 * time.Second,
		RequestsPerSec: 2,
		Burst:          4,
		MaxAttempts:    3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		BreakerTrips:   5,
		BreakerTimeout: time.Minute,
	}
}

// ShopifyConfigFrom converts the application settings
func ShopifyConfigFrom(c config.ShopifyConfig) *ShopifyConfig {
	return &ShopifyConfig{
		APIVersion:     c.APIVersion,
		BaseURL:        c.BaseURL,
		PageTimeout:    c.PageTimeout,
		VerifyTimeout:  c.VerifyTimeout,
		RequestsPerSec: c.RequestsPerSec,
		Burst:          c.Burst,
		MaxAttempts:    c.MaxAttempts,
		RetryBaseDelay: c.RetryBaseDelay,
		RetryMaxDelay:  c.RetryMaxDelay,
		BreakerTrips:   c.BreakerTrips,
		BreakerTimeout: c.BreakerTimeout,
	}
}

// Validate checks the configuration
func (c *ShopifyConfig) Validate() error {
	if c.APIVersion == "" {
		return ErrShopifyConfigMissingAPIVersion
	}
	if c.RequestsPerSec <= 0 {
		return ErrShopifyConfigInvalidRate
	}
	if c.MaxAttempts < 1 {
		return ErrShopifyConfigInvalidAttempts
	}
	return nil
}

// backoff returns the wait before the given retry (1 = first retry).
// The delay doubles per retry and is capped at RetryMaxDelay.
func (c *ShopifyConfig) backoff(retry int) time.Duration {
	d := c.RetryBaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if c.RetryMaxDelay > 0 && d >= c.RetryMaxDelay {
			return c.RetryMaxDelay
		}
	}
	if c.RetryMaxDelay > 0 && d > c.RetryMaxDelay {
		return c.RetryMaxDelay
	}
	return d
}
