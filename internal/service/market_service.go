package service

import (
	"context"
	"sort"
	"sync"

	"lend_go/internal/domain"
)

// MarketDataService manages the state of all lending markets. Market structs
// handed out are copies: callers work against immutable snapshots, never
// against the shared state under mutation by the feed.
type MarketDataService struct {
	mu        sync.RWMutex
	markets   map[string]*domain.Market
	quoteChan chan []*domain.PriceQuote
}

// NewMarketDataService creates a new MarketDataService instance
func NewMarketDataService() *MarketDataService {
	return &MarketDataService{
		markets:   make(map[string]*domain.Market),
		quoteChan: make(chan []*domain.PriceQuote, 1000), // absorbs feed bursts
	}
}

// SetMarkets replaces the market universe, preserving prices already
// received for markets that stay.
func (s *MarketDataService) SetMarkets(markets []*domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*domain.Market, len(markets))
	for _, m := range markets {
		cp := *m
		if existing, ok := s.markets[m.ID]; ok && !existing.Price.IsZero() && cp.Price.IsZero() {
			cp.Price = existing.Price
		}
		next[cp.ID] = &cp
	}
	s.markets = next
}

// Market returns a copy of the market with the given id, or nil.
func (s *MarketDataService) Market(id string) *domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Snapshot returns copies of all markets sorted by symbol.
func (s *MarketDataService) Snapshot() []*domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		cp := *m
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}

// Symbols returns the distinct underlying symbols of all active markets.
func (s *MarketDataService) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.markets))
	symbols := make([]string, 0, len(s.markets))
	for _, m := range s.markets {
		if !m.IsActive || seen[m.Symbol] {
			continue
		}
		seen[m.Symbol] = true
		symbols = append(symbols, m.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// GetQuoteChan returns the channel for incoming price quotes
func (s *MarketDataService) GetQuoteChan() chan []*domain.PriceQuote {
	return s.quoteChan
}

// StartQuoteProcessor starts a background goroutine applying quotes from
// the channel until the context ends.
func (s *MarketDataService) StartQuoteProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case quotes := <-s.quoteChan:
				s.ApplyQuotes(quotes)
			}
		}
	}()
}

// ApplyQuotes updates market prices from a (possibly partial) quote batch.
// Symbols without a market are ignored; zero prices never overwrite a
// known-good one.
func (s *MarketDataService) ApplyQuotes(quotes []*domain.PriceQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range quotes {
		if q == nil || !q.Price.IsPositive() {
			continue
		}
		for _, m := range s.markets {
			if m.Symbol == q.Symbol {
				m.Price = q.Price
			}
		}
	}
}

// PriceDataComplete reports whether every active market has a usable price.
func (s *MarketDataService) PriceDataComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.IsActive && !m.HasPrice() {
			return false
		}
	}
	return true
}
