package book

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a limit order. Identity fields (side, asset, trader, amount,
// price) are fixed at creation; only Filled moves, and only upward.
// Filled accumulates across the order's whole book lifetime, so readers
// must use Remaining rather than assume an order with Filled > 0 is new.
type Order struct {
	UUID     string    `json:"uuid"`
	Asset    string    `json:"asset"`
	Trader   string    `json:"trader"`
	Side     Side      `json:"side"`
	Amount   uint64    `json:"amount"`
	Price    uint64    `json:"price"`
	Filled   uint64    `json:"filled"`
	Seq      uint64    `json:"seq"` // insertion sequence, breaks price ties earliest-first
	PlacedAt time.Time `json:"placedAt"`
}

func NewOrder(trader, asset string, side Side, amount, price uint64) *Order {
	return &Order{
		UUID:     uuid.New().String(),
		Asset:    asset,
		Trader:   trader,
		Side:     side,
		Amount:   amount,
		Price:    price,
		PlacedAt: time.Now(),
	}
}

// Remaining is the unmatched quantity. An order with Remaining() == 0
// must not rest in any book.
func (o *Order) Remaining() uint64 {
	return o.Amount - o.Filled
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %d/%d %s @ %d", o.UUID, o.Side, o.Filled, o.Amount, o.Asset, o.Price)
}
