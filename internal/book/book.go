// Package book holds the per-asset order book: two sorted collections
// of resting limit orders, bids descending and asks ascending by price,
// FIFO within a price level.
package book

import (
	"github.com/tidwall/btree"
)

// priceLevel groups the resting orders at one price, sorted by time
// added as they are appended.
type priceLevel struct {
	price  uint64
	orders []*Order
}

type priceLevels = btree.BTreeG[*priceLevel]

// OrderBook is not synchronized; the engine serializes all access per
// asset.
type OrderBook struct {
	asset string

	bids *priceLevels
	asks *priceLevels

	// Book keeping per side, indexed by Side.
	nOrders   [2]uint64
	liquidity [2]uint64 // sum of Remaining across resting orders
}

func New(asset string) *OrderBook {
	// Sorted greatest first.
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price > b.price
	})
	// Sorted least first.
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price < b.price
	})
	return &OrderBook{
		asset: asset,
		bids:  bids,
		asks:  asks,
	}
}

func (b *OrderBook) Asset() string {
	return b.asset
}

func (b *OrderBook) levels(s Side) *priceLevels {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert places an order into its side's sorted sequence. Same-price
// orders keep their relative arrival order.
func (b *OrderBook) Insert(o *Order) {
	levels := b.levels(o.Side)

	// Comparator only looks at price, so a dummy level works for the search.
	if level, ok := levels.GetMut(&priceLevel{price: o.Price}); ok {
		level.orders = append(level.orders, o)
	} else {
		levels.Set(&priceLevel{
			price:  o.Price,
			orders: []*Order{o},
		})
	}

	b.nOrders[o.Side]++
	b.liquidity[o.Side] += o.Remaining()
}

// Best returns the best-priced, earliest resting order on side s:
// highest bid or lowest ask.
func (b *OrderBook) Best(s Side) (*Order, bool) {
	level, ok := b.levels(s).MinMut()
	if !ok {
		return nil, false
	}
	return level.orders[0], true
}

// RemoveBest removes the order Best would return. The engine calls this
// at the instant a resting order reaches full fill.
func (b *OrderBook) RemoveBest(s Side) {
	levels := b.levels(s)
	level, ok := levels.MinMut()
	if !ok {
		return
	}

	b.liquidity[s] -= level.orders[0].Remaining()
	level.orders[0] = nil
	level.orders = level.orders[1:]
	if len(level.orders) == 0 {
		levels.Delete(level)
	}
	b.nOrders[s]--
}

// Reduce records qty of side-s resting liquidity consumed by a fill.
func (b *OrderBook) Reduce(s Side, qty uint64) {
	b.liquidity[s] -= qty
}

// Orders returns the number of resting orders on side s.
func (b *OrderBook) Orders(s Side) uint64 {
	return b.nOrders[s]
}

// Liquidity returns the total unmatched quantity resting on side s.
func (b *OrderBook) Liquidity(s Side) uint64 {
	return b.liquidity[s]
}

// Walk visits resting orders on side s in book order (best price first,
// earliest first within a level) until fn returns false.
func (b *OrderBook) Walk(s Side, fn func(*Order) bool) {
	b.levels(s).Scan(func(level *priceLevel) bool {
		for _, o := range level.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// Snapshot returns copies of the resting orders on side s in book
// order. Callers get a read-only view; mutating the copies has no
// effect on the book.
func (b *OrderBook) Snapshot(s Side) []Order {
	out := make([]Order, 0, b.nOrders[s])
	b.Walk(s, func(o *Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// LevelView is a flattened price level for external inspection.
type LevelView struct {
	Price  uint64
	Orders []Order
}

// Levels returns the side's price levels best-first with order copies.
func (b *OrderBook) Levels(s Side) []LevelView {
	var out []LevelView
	b.levels(s).Scan(func(level *priceLevel) bool {
		view := LevelView{Price: level.price, Orders: make([]Order, len(level.orders))}
		for i, o := range level.orders {
			view.Orders[i] = *o
		}
		out = append(out, view)
		return true
	})
	return out
}
