package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET DATA CLIENT - Liquidity / category / resolution lookups
// ═══════════════════════════════════════════════════════════════════════════════
//
// Thin wrapper around the Gamma markets API. Transient failures retry a
// bounded number of times with backoff behind a circuit breaker; on
// exhaustion the caller rejects the signal (fail-closed). Nothing here
// ever blocks the pipeline indefinitely.
//
// ═══════════════════════════════════════════════════════════════════════════════

// MarketData is the lookup boundary the pipeline consumes.
type MarketData interface {
	Lookup(ctx context.Context, marketID string) (types.MarketInfo, error)
}

// RetryPolicy is the bounded-retry configuration for collaborator calls.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// DefaultRetryPolicy retries twice after the first attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 250 * time.Millisecond, Timeout: 2 * time.Second}
}

// GammaClient looks up market metadata over HTTP.
type GammaClient struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
	breaker *gobreaker.CircuitBreaker
}

func NewGammaClient(baseURL string, retry RetryPolicy) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: retry.Timeout},
		retry:   retry,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "gamma-markets",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("⚡ Collaborator breaker state change")
			},
		}),
	}
}

type gammaMarket struct {
	ID        string  `json:"id"`
	Category  string  `json:"category"`
	Liquidity string  `json:"liquidity"`
	EndDate   string  `json:"endDate"`
}

// Lookup fetches metadata for one market. Errors after retry exhaustion
// are the caller's cue to reject the signal.
func (c *GammaClient) Lookup(ctx context.Context, marketID string) (types.MarketInfo, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return types.MarketInfo{}, ctx.Err()
			case <-time.After(c.retry.Backoff * time.Duration(attempt)):
			}
		}
		out, err := c.breaker.Execute(func() (any, error) {
			return c.fetch(ctx, marketID)
		})
		if err == nil {
			return out.(types.MarketInfo), nil
		}
		lastErr = err
	}
	return types.MarketInfo{}, fmt.Errorf("market lookup %s: %w", marketID, lastErr)
}

func (c *GammaClient) fetch(ctx context.Context, marketID string) (types.MarketInfo, error) {
	url := fmt.Sprintf("%s/markets/%s", c.baseURL, marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.MarketInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return types.MarketInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.MarketInfo{}, fmt.Errorf("gamma status %d", resp.StatusCode)
	}

	var gm gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&gm); err != nil {
		return types.MarketInfo{}, err
	}

	liq, err := decimal.NewFromString(gm.Liquidity)
	if err != nil {
		liq = decimal.Zero
	}
	info := types.MarketInfo{
		MarketID:  marketID,
		Category:  gm.Category,
		Liquidity: liq,
	}
	if gm.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			info.ResolutionAt = t
		}
	}
	return info, nil
}
