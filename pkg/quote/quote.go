// Package quote looks up reference market prices for the simulator.
package quote

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Source returns the current market price of symbol. ok is false when the
// source has no usable price right now; err is reserved for transport or
// decoding failures.
type Source interface {
	Price(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
}

// Static serves fixed prices. Useful offline and in tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = price
}

func (s *Static) Price(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(symbol)]
	return p, ok, nil
}
