package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

// oraclePriceEntry represents one asset in the oracle REST response
type oraclePriceEntry struct {
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h"`
	UpdatedAt int64   `json:"updated_at"`
}

type oracleResponse struct {
	Prices []oraclePriceEntry `json:"prices"`
}

// OracleClient fetches USD prices from the price oracle REST endpoint. It
// implements domain.PriceFeed for one-shot reads and can also poll in the
// background, forwarding fresh quotes through onUpdate. Partial responses
// are returned as-is: callers decide how to treat missing symbols.
type OracleClient struct {
	onUpdate     func([]*domain.PriceQuote)
	prices       map[string]*domain.PriceQuote
	mu           sync.RWMutex
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewOracleClient creates a new oracle price client
func NewOracleClient(onUpdate func([]*domain.PriceQuote)) *OracleClient {
	return &OracleClient{
		onUpdate:     onUpdate,
		prices:       make(map[string]*domain.PriceQuote),
		pollInterval: 30 * time.Second,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewOracleClientWithConfig creates a client with custom configuration
func NewOracleClientWithConfig(onUpdate func([]*domain.PriceQuote), apiURL string, pollIntervalSec int) *OracleClient {
	client := NewOracleClient(onUpdate)
	if apiURL != "" {
		client.apiURL = apiURL
	}
	if pollIntervalSec > 0 {
		client.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return client
}

// Start begins polling for price updates
func (c *OracleClient) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	if err := c.fetchPrices(ctx); err != nil {
		slog.Warn("Initial oracle fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Oracle polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Oracle polling stopped")
				return
			case <-ticker.C:
				if err := c.fetchPrices(ctx); err != nil {
					GlobalMetrics.RecordError()
					slog.Warn("Oracle fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// GetPrices returns current USD quotes for the requested symbols. Missing
// symbols are simply absent from the result, never an error.
func (c *OracleClient) GetPrices(ctx context.Context, symbols []string) (map[string]*domain.PriceQuote, error) {
	c.mu.RLock()
	cached := len(c.prices)
	c.mu.RUnlock()

	if cached == 0 {
		if err := c.fetchPrices(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*domain.PriceQuote, len(symbols))
	for _, s := range symbols {
		if q, ok := c.prices[s]; ok && q.Price.IsPositive() {
			out[s] = q
		}
	}
	return out, nil
}

// fetchPrices fetches current prices with retry logic
func (c *OracleClient) fetchPrices(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			delay := time.Duration(1<<uint(i-1)) * time.Second
			slog.Info("Retrying oracle fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doFetch(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Oracle fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

func (c *OracleClient) doFetch(ctx context.Context) error {
	if c.apiURL == "" {
		return fmt.Errorf("oracle URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var data oracleResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}

	if len(data.Prices) == 0 {
		return fmt.Errorf("empty response from oracle")
	}

	quotes := make([]*domain.PriceQuote, 0, len(data.Prices))
	c.mu.Lock()
	for _, entry := range data.Prices {
		if entry.Symbol == "" || entry.PriceUSD <= 0 {
			continue
		}
		change := decimal.NewFromFloat(entry.Change24h)
		quote := &domain.PriceQuote{
			Symbol:    entry.Symbol,
			Price:     decimal.NewFromFloat(entry.PriceUSD),
			Change24h: &change,
			Source:    "oracle-rest",
		}
		c.prices[entry.Symbol] = quote
		quotes = append(quotes, quote)
	}
	c.mu.Unlock()

	if len(quotes) > 0 && c.onUpdate != nil {
		c.onUpdate(quotes)
	}

	return nil
}

// Stop stops the polling
func (c *OracleClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}
