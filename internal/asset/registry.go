// Package asset tracks which symbols are tradable against the quote
// currency. The matching engine consults it once per call; everything
// else about an asset (token semantics, transfer plumbing) lives
// outside this process.
package asset

import (
	"errors"
	"sync"
)

var (
	ErrInvalidAsset      = errors.New("invalid asset symbol")
	ErrAlreadyRegistered = errors.New("asset already registered")
)

// Registry holds the fixed quote currency and the set of base assets
// that may appear in an order book. Registration order is preserved for
// stable listing.
type Registry struct {
	mu       sync.RWMutex
	quote    string
	tradable map[string]struct{}
	listing  []string
}

func NewRegistry(quote string) *Registry {
	return &Registry{
		quote:    quote,
		tradable: make(map[string]struct{}),
	}
}

// Quote returns the quote currency symbol. Fixed at construction.
func (r *Registry) Quote() string {
	return r.quote
}

// Register marks a base asset as tradable. The quote currency itself is
// not a tradable base asset.
func (r *Registry) Register(symbol string) error {
	if symbol == "" || symbol == r.quote {
		return ErrInvalidAsset
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tradable[symbol]; ok {
		return ErrAlreadyRegistered
	}
	r.tradable[symbol] = struct{}{}
	r.listing = append(r.listing, symbol)
	return nil
}

// IsTradable reports whether orders may be placed for symbol.
func (r *Registry) IsTradable(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tradable[symbol]
	return ok
}

// Known reports whether symbol is either tradable or the quote currency.
// Deposits and withdrawals accept both.
func (r *Registry) Known(symbol string) bool {
	return symbol == r.quote || r.IsTradable(symbol)
}

// Assets returns the tradable symbols in registration order.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.listing))
	copy(out, r.listing)
	return out
}
