package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

func mockOracleResponse(entries ...oraclePriceEntry) []byte {
	body, _ := json.Marshal(oracleResponse{Prices: entries})
	return body
}

func TestOracleClient_FetchPrices(t *testing.T) {
	mockBody := mockOracleResponse(
		oraclePriceEntry{Symbol: "KAIA", PriceUSD: 0.1432, Change24h: -2.1, UpdatedAt: time.Now().Unix()},
		oraclePriceEntry{Symbol: "USDT", PriceUSD: 1.0002, Change24h: 0.01, UpdatedAt: time.Now().Unix()},
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockBody)
	}))
	defer server.Close()

	var mu sync.Mutex
	var received []*domain.PriceQuote
	client := NewOracleClientWithConfig(func(quotes []*domain.PriceQuote) {
		mu.Lock()
		received = quotes
		mu.Unlock()
	}, server.URL, 1)

	if err := client.fetchPrices(context.Background()); err != nil {
		t.Fatalf("fetchPrices failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("Expected 2 quotes, got %d", len(received))
	}

	prices, err := client.GetPrices(context.Background(), []string{"KAIA", "USDT", "WBTC"})
	if err != nil {
		t.Fatalf("GetPrices failed: %v", err)
	}
	if len(prices) != 2 {
		t.Errorf("Expected 2 cached prices, got %d", len(prices))
	}
	if q, ok := prices["KAIA"]; !ok || !q.Price.Equal(decimal.NewFromFloat(0.1432)) {
		t.Errorf("Unexpected KAIA quote: %+v", q)
	}
	if prices["KAIA"].Source != "oracle-rest" {
		t.Errorf("Expected oracle-rest source, got %s", prices["KAIA"].Source)
	}
}

func TestOracleClient_SkipsInvalidEntries(t *testing.T) {
	mockBody := mockOracleResponse(
		oraclePriceEntry{Symbol: "KAIA", PriceUSD: 0},
		oraclePriceEntry{Symbol: "", PriceUSD: 1.0},
		oraclePriceEntry{Symbol: "USDT", PriceUSD: 1.0},
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockBody)
	}))
	defer server.Close()

	client := NewOracleClientWithConfig(nil, server.URL, 1)
	if err := client.fetchPrices(context.Background()); err != nil {
		t.Fatalf("fetchPrices failed: %v", err)
	}

	prices, err := client.GetPrices(context.Background(), []string{"KAIA", "USDT"})
	if err != nil {
		t.Fatalf("GetPrices failed: %v", err)
	}
	if len(prices) != 1 {
		t.Errorf("Expected only the valid quote, got %d", len(prices))
	}
}

func TestOracleClient_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockOracleResponse())
	}))
	defer server.Close()

	client := NewOracleClientWithConfig(nil, server.URL, 1)
	if err := client.doFetch(context.Background()); err == nil {
		t.Error("Empty response should return error")
	}
}

func TestOracleClient_RetryOnFailure(t *testing.T) {
	var mu sync.Mutex
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callCount++
		n := callCount
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(mockOracleResponse(oraclePriceEntry{Symbol: "KAIA", PriceUSD: 0.14}))
	}))
	defer server.Close()

	client := NewOracleClientWithConfig(nil, server.URL, 1)

	// Should retry twice and succeed on the 3rd call
	if err := client.fetchPrices(context.Background()); err != nil {
		t.Fatalf("fetchPrices should succeed after retries: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestOracleClient_StartStop(t *testing.T) {
	var mu sync.Mutex
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callCount++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write(mockOracleResponse(oraclePriceEntry{Symbol: "KAIA", PriceUSD: 0.14}))
	}))
	defer server.Close()

	client := NewOracleClientWithConfig(nil, server.URL, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if callCount < 1 {
		t.Error("Expected at least one API call")
	}
	mu.Unlock()

	// Stop should complete without hanging
	client.Stop()
}
