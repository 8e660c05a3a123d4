// Package engine implements the matching engine: the sole mutating
// entry point over the order books and the escrow ledger.
//
// Placement runs to completion under one per-asset critical section
// covering both book mutation and settlement, so matching on one asset
// is strictly serialized while unrelated markets proceed in parallel.
// Every error aborts its call with no observable partial mutation.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"skoll/internal/asset"
	"skoll/internal/book"
	"skoll/internal/ledger"
)

var (
	ErrAssetNotTradable = errors.New("asset not tradable")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrNotionalOverflow = errors.New("order notional overflows")
	ErrFillBudget       = errors.New("order exceeds fill budget")
	ErrFaucetDisabled   = errors.New("faucet disabled")
	ErrFaucetLimit      = errors.New("faucet amount over limit")

	// ErrSettlement is the defensive failure for an escrow debit that
	// cannot be covered mid-match. The upfront reservation makes it
	// unreachable; if it fires, state is corrupt and the call must not
	// be retried.
	ErrSettlement = errors.New("settlement failure")
)

// Store persists engine state after successful mutations. Persistence
// is write-through and best-effort; the in-memory state is
// authoritative and a store error never fails the triggering call.
type Store interface {
	SaveAccount(trader, asset string, acct ledger.Account) error
	SaveOrder(o *book.Order) error
	DeleteOrder(asset string, seq uint64) error
	SaveAsset(symbol string) error
}

// market pairs an order book with the mutex serializing every placement
// touching it, including that asset's escrow settlement.
type market struct {
	mu   sync.Mutex
	book *book.OrderBook
}

type Engine struct {
	registry *asset.Registry
	ledger   *ledger.Ledger

	mu      sync.RWMutex
	markets map[string]*market

	seq      atomic.Uint64
	reporter Reporter
	store    Store

	// maxFills bounds how many resting orders one placement may consume;
	// 0 means unbounded.
	maxFills int

	faucetEnabled bool
	faucetMax     uint64
}

func New(registry *asset.Registry, led *ledger.Ledger) *Engine {
	e := &Engine{
		registry: registry,
		ledger:   led,
		markets:  make(map[string]*market),
	}
	for _, symbol := range registry.Assets() {
		e.markets[symbol] = &market{book: book.New(symbol)}
	}
	return e
}

// SetReporter wires the execution-report sink. Not safe to call once
// orders are flowing.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

// SetStore wires the durable state store.
func (e *Engine) SetStore(s Store) {
	e.store = s
}

// SetMaxFills bounds the resting orders consumed per placement.
func (e *Engine) SetMaxFills(n int) {
	e.maxFills = n
}

// SetFaucet configures the test-token faucet.
func (e *Engine) SetFaucet(enabled bool, maxAmount uint64) {
	e.faucetEnabled = enabled
	e.faucetMax = maxAmount
}

func (e *Engine) Quote() string {
	return e.registry.Quote()
}

func (e *Engine) Assets() []string {
	return e.registry.Assets()
}

// RegisterAsset marks an asset tradable and opens its book.
func (e *Engine) RegisterAsset(symbol string) error {
	if err := e.registry.Register(symbol); err != nil {
		return err
	}

	e.mu.Lock()
	e.markets[symbol] = &market{book: book.New(symbol)}
	e.mu.Unlock()

	e.persistAsset(symbol)
	log.Info().Str("asset", symbol).Msg("asset registered")
	return nil
}

func (e *Engine) market(symbol string) (*market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.markets[symbol]
	if !ok {
		return nil, ErrAssetNotTradable
	}
	return m, nil
}

// Deposit credits a trader's available balance.
func (e *Engine) Deposit(trader, symbol string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Known(symbol) {
		return ErrAssetNotTradable
	}

	e.ledger.Deposit(trader, symbol, amount)
	e.persistAccount(trader, symbol)
	log.Info().
		Str("trader", trader).
		Str("asset", symbol).
		Uint64("amount", amount).
		Msg("deposit")
	return nil
}

// Withdraw debits a trader's available balance. Funds backing open
// orders stay locked and cannot leave.
func (e *Engine) Withdraw(trader, symbol string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Known(symbol) {
		return ErrAssetNotTradable
	}

	if err := e.ledger.Withdraw(trader, symbol, amount); err != nil {
		return err
	}
	e.persistAccount(trader, symbol)
	log.Info().
		Str("trader", trader).
		Str("asset", symbol).
		Uint64("amount", amount).
		Msg("withdraw")
	return nil
}

// Faucet credits test tokens, subject to the configured per-call cap.
func (e *Engine) Faucet(trader, symbol string, amount uint64) error {
	if !e.faucetEnabled {
		return ErrFaucetDisabled
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if e.faucetMax > 0 && amount > e.faucetMax {
		return ErrFaucetLimit
	}
	if !e.registry.Known(symbol) {
		return ErrAssetNotTradable
	}

	e.ledger.Deposit(trader, symbol, amount)
	e.persistAccount(trader, symbol)
	log.Info().
		Str("trader", trader).
		Str("asset", symbol).
		Uint64("amount", amount).
		Msg("faucet drip")
	return nil
}

// Balances returns a trader's escrow state for one asset.
func (e *Engine) Balances(trader, symbol string) (ledger.Account, error) {
	if !e.registry.Known(symbol) {
		return ledger.Account{}, ErrAssetNotTradable
	}
	return e.ledger.Account(trader, symbol), nil
}

// GetOrders returns the resting orders for one side of an asset's book,
// best price first, earliest first within a price level.
func (e *Engine) GetOrders(symbol string, side book.Side) ([]book.Order, error) {
	m, err := e.market(symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Snapshot(side), nil
}

// crosses reports whether an incoming order at price can trade against
// a resting order at restingPrice.
func crosses(side book.Side, price, restingPrice uint64) bool {
	if side == book.Buy {
		return price >= restingPrice
	}
	return price <= restingPrice
}

// PlaceOrder reserves escrow for the whole order, crosses it against
// the opposite side of the book while prices allow, settles every fill,
// and rests the residual. It returns the final state of the order
// (resting only if Remaining() > 0) and the fills executed during this
// placement.
func (e *Engine) PlaceOrder(trader string, side book.Side, symbol string, amount, price uint64) (*book.Order, []Trade, error) {
	if amount == 0 {
		return nil, nil, ErrInvalidAmount
	}
	if price == 0 {
		return nil, nil, ErrInvalidPrice
	}
	if amount > math.MaxUint64/price {
		return nil, nil, ErrNotionalOverflow
	}
	m, err := e.market(symbol)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Bound the work before mutating anything: a placement that would
	// consume more resting orders than the budget is rejected whole,
	// never truncated mid-match.
	if e.maxFills > 0 {
		if e.countFills(m.book, side, amount, price) > e.maxFills {
			return nil, nil, ErrFillBudget
		}
	}

	// Reserve escrow for the full order notional up front. This is the
	// only fallible ledger operation on the placement path; per-fill
	// settlement below is covered by construction.
	reserveAsset, reserveAmount := e.registry.Quote(), amount*price
	if side == book.Sell {
		reserveAsset, reserveAmount = symbol, amount
	}
	if err := e.ledger.Lock(trader, reserveAsset, reserveAmount); err != nil {
		return nil, nil, err
	}

	incoming := book.NewOrder(trader, symbol, side, amount, price)
	incoming.Seq = e.seq.Add(1)

	var fills []Trade
	for incoming.Remaining() > 0 {
		resting, ok := m.book.Best(side.Opposite())
		if !ok || !crosses(side, price, resting.Price) {
			break
		}

		qty := min(incoming.Remaining(), resting.Remaining())
		trade, err := e.settle(incoming, resting, qty)
		if err != nil {
			// Unreachable given the reservation above; surfaced fatally.
			log.Error().Err(err).Str("order", incoming.UUID).Msg("settlement failure")
			return nil, nil, fmt.Errorf("%w: %v", ErrSettlement, err)
		}

		incoming.Filled += qty
		resting.Filled += qty
		m.book.Reduce(resting.Side, qty)
		fills = append(fills, trade)

		if resting.Remaining() == 0 {
			m.book.RemoveBest(side.Opposite())
			e.persistOrderDelete(symbol, resting.Seq)
		} else {
			e.persistOrder(resting)
		}

		if e.reporter != nil {
			e.reporter.ReportTrade(trade)
		}
		log.Debug().
			Str("asset", symbol).
			Uint64("qty", qty).
			Uint64("price", trade.Price).
			Str("buyer", trade.Buyer).
			Str("seller", trade.Seller).
			Msg("trade")
	}

	if incoming.Remaining() > 0 {
		m.book.Insert(incoming)
		e.persistOrder(incoming)
	}
	e.persistFills(trader, symbol, fills)

	log.Info().
		Str("trader", trader).
		Str("order", incoming.UUID).
		Str("asset", symbol).
		Stringer("side", side).
		Uint64("amount", amount).
		Uint64("price", price).
		Uint64("filled", incoming.Filled).
		Msg("order placed")

	result := *incoming
	return &result, fills, nil
}

// countFills walks the opposite side read-only and counts the resting
// orders a placement of (amount, price) would consume.
func (e *Engine) countFills(b *book.OrderBook, side book.Side, amount, price uint64) int {
	var steps int
	remaining := amount
	b.Walk(side.Opposite(), func(resting *book.Order) bool {
		if remaining == 0 || !crosses(side, price, resting.Price) {
			return false
		}
		steps++
		if resting.Remaining() >= remaining {
			remaining = 0
			return false
		}
		remaining -= resting.Remaining()
		return true
	})
	return steps
}

// settle moves value for one fill at the resting order's price. The
// buyer's quote escrow was locked at the buy limit, so the difference
// between limit and execution price is released back to the buyer.
// Debits and credits pair off exactly; no value is created or lost.
func (e *Engine) settle(incoming, resting *book.Order, qty uint64) (Trade, error) {
	buy, sell := incoming, resting
	if incoming.Side == book.Sell {
		buy, sell = resting, incoming
	}
	quote := e.registry.Quote()
	tradePrice := resting.Price

	if err := e.ledger.SpendLocked(buy.Trader, quote, qty*buy.Price); err != nil {
		return Trade{}, err
	}
	if improvement := qty * (buy.Price - tradePrice); improvement > 0 {
		e.ledger.Credit(buy.Trader, quote, improvement)
	}
	e.ledger.Credit(sell.Trader, quote, qty*tradePrice)

	if err := e.ledger.SpendLocked(sell.Trader, sell.Asset, qty); err != nil {
		return Trade{}, err
	}
	e.ledger.Credit(buy.Trader, buy.Asset, qty)

	return Trade{
		Asset:     incoming.Asset,
		Quantity:  qty,
		Price:     tradePrice,
		Buyer:     buy.Trader,
		Seller:    sell.Trader,
		BuyOrder:  buy.UUID,
		SellOrder: sell.UUID,
		TakerSide: incoming.Side,
		Timestamp: time.Now(),
	}, nil
}

// RestoreOrder re-inserts a resting order replayed from the durable
// store. Must be called before the engine starts serving, in ascending
// sequence order per asset so FIFO within price levels is preserved.
func (e *Engine) RestoreOrder(o book.Order) error {
	m, err := e.market(o.Asset)
	if err != nil {
		return err
	}

	restored := o
	m.mu.Lock()
	m.book.Insert(&restored)
	m.mu.Unlock()

	for {
		cur := e.seq.Load()
		if o.Seq <= cur || e.seq.CompareAndSwap(cur, o.Seq) {
			return nil
		}
	}
}

func (e *Engine) persistAccount(trader, symbol string) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAccount(trader, symbol, e.ledger.Account(trader, symbol)); err != nil {
		log.Warn().Err(err).Str("trader", trader).Str("asset", symbol).Msg("persist account")
	}
}

func (e *Engine) persistAsset(symbol string) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAsset(symbol); err != nil {
		log.Warn().Err(err).Str("asset", symbol).Msg("persist asset")
	}
}

func (e *Engine) persistOrder(o *book.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(o); err != nil {
		log.Warn().Err(err).Str("order", o.UUID).Msg("persist order")
	}
}

func (e *Engine) persistOrderDelete(symbol string, seq uint64) {
	if e.store == nil {
		return
	}
	if err := e.store.DeleteOrder(symbol, seq); err != nil {
		log.Warn().Err(err).Str("asset", symbol).Uint64("seq", seq).Msg("delete order")
	}
}

// persistFills writes every account a placement's fills touched: both
// parties' quote and base balances, plus the placer's reservation even
// when nothing matched.
func (e *Engine) persistFills(trader, symbol string, fills []Trade) {
	if e.store == nil {
		return
	}

	quote := e.registry.Quote()
	type acctKey struct{ trader, asset string }
	touched := map[acctKey]struct{}{
		{trader, quote}:  {},
		{trader, symbol}: {},
	}
	for _, f := range fills {
		touched[acctKey{f.Buyer, quote}] = struct{}{}
		touched[acctKey{f.Buyer, symbol}] = struct{}{}
		touched[acctKey{f.Seller, quote}] = struct{}{}
		touched[acctKey{f.Seller, symbol}] = struct{}{}
	}
	for k := range touched {
		e.persistAccount(k.trader, k.asset)
	}
}
