// Package price looks up spot prices for balance reporting.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gateway-fm/wrapcycler/internal/ratelimit"
	"github.com/gateway-fm/wrapcycler/internal/rpc"
)

// DefaultBaseURL is the public CoinGecko API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoConfig configures a CoinGecko client.
type CoinGeckoConfig struct {
	BaseURL  string
	Currency string // vs_currencies, default "usd"

	// RatePerSec caps request rate. The public tier allows roughly 30
	// requests per minute.
	RatePerSec float64
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
}

// DefaultCoinGeckoConfig returns defaults for the public API.
func DefaultCoinGeckoConfig(baseURL string) CoinGeckoConfig {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return CoinGeckoConfig{
		BaseURL:    baseURL,
		Currency:   "usd",
		RatePerSec: 0.5,
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		Backoff:    2 * time.Second,
	}
}

// CoinGecko fetches prices from the simple/price endpoint.
type CoinGecko struct {
	baseURL    string
	currency   string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewCoinGecko creates a CoinGecko client.
func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &CoinGecko{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		currency:   currency,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.New(cfg.RatePerSec),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     logger,
	}
}

// Currency returns the quote currency.
func (c *CoinGecko) Currency() string {
	return c.currency
}

// Price returns the spot price of assetID (a CoinGecko coin id such as
// "ethereum") in the configured currency. Rate-limited responses are retried
// honouring Retry-After.
func (c *CoinGecko) Price(ctx context.Context, assetID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", assetID)
	q.Set("vs_currencies", c.currency)
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return decimal.Zero, err
		}

		price, err := c.fetch(ctx, endpoint, assetID)
		if err == nil {
			return price, nil
		}
		lastErr = err

		var httpErr *rpc.HTTPStatusError
		if !errors.As(err, &httpErr) || !httpErr.IsRetryable() {
			return decimal.Zero, err
		}
		if httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}
		c.logger.Debug("price lookup throttled, retrying",
			slog.String("asset", assetID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
	}
	return decimal.Zero, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *CoinGecko) fetch(ctx context.Context, endpoint, assetID string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return decimal.Zero, &rpc.HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(body),
		}
	}

	var out map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}
	quotes, ok := out[assetID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %q", assetID)
	}
	price, ok := quotes[c.currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s quote for %q", c.currency, assetID)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %q", price, assetID)
	}
	return price, nil
}
