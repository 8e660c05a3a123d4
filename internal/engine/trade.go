package engine

import (
	"time"

	"skoll/internal/book"
)

// Trade is one fill between an incoming order and a resting order. The
// price is always the resting order's price; the resting side set its
// terms first and keeps them.
type Trade struct {
	Asset     string    `json:"asset"`
	Quantity  uint64    `json:"quantity"`
	Price     uint64    `json:"price"`
	Buyer     string    `json:"buyer"`
	Seller    string    `json:"seller"`
	BuyOrder  string    `json:"buyOrder"`
	SellOrder string    `json:"sellOrder"`
	TakerSide book.Side `json:"takerSide"`
	Timestamp time.Time `json:"timestamp"`
}

// Reporter receives every executed trade. Reporting is best-effort and
// must not block matching.
type Reporter interface {
	ReportTrade(trade Trade)
}
