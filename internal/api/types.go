package api

import (
	"skoll/internal/book"
	"skoll/internal/engine"
)

// Request bodies.

type transferRequest struct {
	Trader string `json:"trader"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type placeOrderRequest struct {
	Trader string `json:"trader"`
	Asset  string `json:"asset"`
	Side   string `json:"side"` // "buy" or "sell"
	Amount uint64 `json:"amount"`
	Price  uint64 `json:"price"`
}

type registerAssetRequest struct {
	Asset string `json:"asset"`
}

// Response bodies.

type orderView struct {
	UUID   string `json:"uuid"`
	Trader string `json:"trader"`
	Asset  string `json:"asset"`
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
	Filled uint64 `json:"filled"`
	Price  uint64 `json:"price"`
}

func viewOf(o book.Order) orderView {
	return orderView{
		UUID:   o.UUID,
		Trader: o.Trader,
		Asset:  o.Asset,
		Side:   o.Side.String(),
		Amount: o.Amount,
		Filled: o.Filled,
		Price:  o.Price,
	}
}

type placeOrderResponse struct {
	Order  orderView      `json:"order"`
	Fills  []engine.Trade `json:"fills"`
	Rested bool           `json:"rested"`
}

type balanceResponse struct {
	Trader    string `json:"trader"`
	Asset     string `json:"asset"`
	Available uint64 `json:"available"`
	Locked    uint64 `json:"locked"`
}

type assetsResponse struct {
	Quote  string   `json:"quote"`
	Assets []string `json:"assets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// wsMessage is the envelope pushed to websocket subscribers.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
