package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/asset"
	"skoll/internal/book"
	"skoll/internal/engine"
	"skoll/internal/ledger"
)

// --- Setup & Helpers --------------------------------------------------------

const (
	quote = "USDT"
	base  = "LINK"

	buyer  = "buyer"
	seller = "seller"
)

type mockReporter struct {
	trades []engine.Trade
}

func (r *mockReporter) ReportTrade(trade engine.Trade) {
	r.trades = append(r.trades, trade)
}

// mockStore records everything the engine persists.
type mockStore struct {
	accounts map[string]ledger.Account
	orders   []book.Order
	assets   []string
}

func newMockStore() *mockStore {
	return &mockStore{accounts: make(map[string]ledger.Account)}
}

func (s *mockStore) SaveAccount(trader, symbol string, acct ledger.Account) error {
	s.accounts[trader+"/"+symbol] = acct
	return nil
}

func (s *mockStore) SaveOrder(o *book.Order) error {
	s.orders = append(s.orders, *o)
	return nil
}

func (s *mockStore) DeleteOrder(symbol string, seq uint64) error {
	return nil
}

func (s *mockStore) SaveAsset(symbol string) error {
	s.assets = append(s.assets, symbol)
	return nil
}

func newTestEngine(t *testing.T) (*engine.Engine, *ledger.Ledger, *mockReporter) {
	t.Helper()

	registry := asset.NewRegistry(quote)
	require.NoError(t, registry.Register(base))

	led := ledger.New()
	eng := engine.New(registry, led)

	reporter := &mockReporter{}
	eng.SetReporter(reporter)
	return eng, led, reporter
}

// assertBook compares one side of the book against expected
// (amount, filled, price) triples in book order, and checks the removal
// invariant: nothing fully filled may rest.
func assertBook(t *testing.T, eng *engine.Engine, side book.Side, expected [][3]uint64) {
	t.Helper()

	orders, err := eng.GetOrders(base, side)
	require.NoError(t, err)

	got := make([][3]uint64, len(orders))
	for i, o := range orders {
		require.Positive(t, o.Remaining(), "fully filled order resting in book: %s", o.String())
		require.LessOrEqual(t, o.Filled, o.Amount, "over-filled order: %s", o.String())
		got[i] = [3]uint64{o.Amount, o.Filled, o.Price}
	}
	assert.Equal(t, expected, got)
}

func assertAccount(t *testing.T, eng *engine.Engine, trader, symbol string, available, locked uint64) {
	t.Helper()

	acct, err := eng.Balances(trader, symbol)
	require.NoError(t, err)
	assert.Equal(t, ledger.Account{Available: available, Locked: locked}, acct,
		"%s %s balance", trader, symbol)
}

// assertConservation checks that no value was created or destroyed
// across the two test parties.
func assertConservation(t *testing.T, led *ledger.Ledger, symbol string, total uint64) {
	t.Helper()

	var sum uint64
	for _, trader := range []string{buyer, seller} {
		acct := led.Account(trader, symbol)
		sum += acct.Available + acct.Locked
	}
	assert.Equal(t, total, sum, "total %s across parties", symbol)
}

// --- Tests ------------------------------------------------------------------

// TestPlaceOrder_Scenario replays the reference session: a buyer with
// 50000 quote units and a seller with 8000 base units trade through a
// sequence of partial fills and sweeps.
func TestPlaceOrder_Scenario(t *testing.T) {
	eng, led, reporter := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 50000))
	require.NoError(t, eng.Deposit(seller, base, 8000))

	// Buy 1 @ 50 rests: empty opposite book.
	order, fills, err := eng.PlaceOrder(buyer, book.Buy, base, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, uint64(1), order.Remaining())
	assertBook(t, eng, book.Buy, [][3]uint64{{1, 0, 50}})
	assertAccount(t, eng, buyer, quote, 49950, 50)

	// Sell 1 @ 60 does not cross (60 > 50) and rests.
	_, fills, err = eng.PlaceOrder(seller, book.Sell, base, 1, 60)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assertBook(t, eng, book.Buy, [][3]uint64{{1, 0, 50}})
	assertBook(t, eng, book.Sell, [][3]uint64{{1, 0, 60}})

	// Sell 1 @ 45 crosses the bid and trades at the bid's price, 50.
	order, fills, err = eng.PlaceOrder(seller, book.Sell, base, 1, 45)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(50), fills[0].Price)
	assert.Equal(t, uint64(1), fills[0].Quantity)
	assert.Zero(t, order.Remaining())
	assertBook(t, eng, book.Buy, [][3]uint64{})
	assertBook(t, eng, book.Sell, [][3]uint64{{1, 0, 60}})
	assertAccount(t, eng, buyer, quote, 49950, 0)
	assertAccount(t, eng, buyer, base, 1, 0)
	assertAccount(t, eng, seller, quote, 50, 0)
	assertAccount(t, eng, seller, base, 7998, 1)

	// Two more resting asks below and above the previous one.
	_, _, err = eng.PlaceOrder(seller, book.Sell, base, 10, 35)
	require.NoError(t, err)
	_, _, err = eng.PlaceOrder(seller, book.Sell, base, 7, 55)
	require.NoError(t, err)
	assertBook(t, eng, book.Sell, [][3]uint64{{10, 0, 35}, {7, 0, 55}, {1, 0, 60}})

	// Buy 14 @ 57 sweeps the 35 level whole, takes 4 of the 55 level and
	// stops short of 60. Fully filled, never rests.
	order, fills, err = eng.PlaceOrder(buyer, book.Buy, base, 14, 57)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, uint64(35), fills[0].Price)
	assert.Equal(t, uint64(10), fills[0].Quantity)
	assert.Equal(t, uint64(55), fills[1].Price)
	assert.Equal(t, uint64(4), fills[1].Quantity)
	assert.Zero(t, order.Remaining())
	assertBook(t, eng, book.Buy, [][3]uint64{})
	assertBook(t, eng, book.Sell, [][3]uint64{{7, 4, 55}, {1, 0, 60}})
	// Fills executed below the 57 limit; the difference is released.
	assertAccount(t, eng, buyer, quote, 49380, 0)
	assertAccount(t, eng, buyer, base, 15, 0)
	assertAccount(t, eng, seller, quote, 620, 0)
	assertAccount(t, eng, seller, base, 7981, 4)

	// Buy 8 @ 58 consumes the last 3 of the 55 ask, which is removed at
	// full fill; the residual rests with its partial fill recorded.
	order, fills, err = eng.PlaceOrder(buyer, book.Buy, base, 8, 58)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(55), fills[0].Price)
	assert.Equal(t, uint64(3), fills[0].Quantity)
	assert.Equal(t, uint64(5), order.Remaining())
	assertBook(t, eng, book.Buy, [][3]uint64{{8, 3, 58}})
	assertBook(t, eng, book.Sell, [][3]uint64{{1, 0, 60}})
	assertAccount(t, eng, buyer, quote, 48925, 290)
	assertAccount(t, eng, buyer, base, 18, 0)
	assertAccount(t, eng, seller, quote, 785, 0)
	assertAccount(t, eng, seller, base, 7981, 1)

	assertConservation(t, led, quote, 50000)
	assertConservation(t, led, base, 8000)

	// Every fill was reported, at the resting order's price.
	require.Len(t, reporter.trades, 4)
	assert.Equal(t, buyer, reporter.trades[0].Buyer)
	assert.Equal(t, seller, reporter.trades[0].Seller)
	assert.Equal(t, book.Sell, reporter.trades[0].TakerSide)
	assert.Equal(t, book.Buy, reporter.trades[3].TakerSide)
}

func TestPlaceOrder_FIFOAtSamePrice(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 10000))
	require.NoError(t, eng.Deposit(seller, base, 100))

	// Two asks at the same price; the earlier one must fill first.
	first, _, err := eng.PlaceOrder(seller, book.Sell, base, 10, 50)
	require.NoError(t, err)
	second, _, err := eng.PlaceOrder(seller, book.Sell, base, 10, 50)
	require.NoError(t, err)

	_, fills, err := eng.PlaceOrder(buyer, book.Buy, base, 10, 50)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, first.UUID, fills[0].SellOrder)

	remaining, err := eng.GetOrders(base, book.Sell)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, second.UUID, remaining[0].UUID)
}

func TestPlaceOrder_AssetNotTradable(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 1000))

	_, _, err := eng.PlaceOrder(buyer, book.Buy, "DOGE", 1, 50)
	assert.ErrorIs(t, err, engine.ErrAssetNotTradable)

	_, err = eng.GetOrders("DOGE", book.Buy)
	assert.ErrorIs(t, err, engine.ErrAssetNotTradable)
}

func TestPlaceOrder_InsufficientBalance_NoStateChange(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 100))
	require.NoError(t, eng.Deposit(seller, base, 10))
	_, _, err := eng.PlaceOrder(seller, book.Sell, base, 10, 40)
	require.NoError(t, err)

	// Notional 3*40 = 120 > 100: rejected before any matching step.
	_, _, err = eng.PlaceOrder(buyer, book.Buy, base, 3, 40)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// The book and both parties are untouched.
	assertBook(t, eng, book.Sell, [][3]uint64{{10, 0, 40}})
	assertAccount(t, eng, buyer, quote, 100, 0)
	assertAccount(t, eng, seller, base, 0, 10)
}

func TestPlaceOrder_Validation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 100))

	_, _, err := eng.PlaceOrder(buyer, book.Buy, base, 0, 50)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, _, err = eng.PlaceOrder(buyer, book.Buy, base, 1, 0)
	assert.ErrorIs(t, err, engine.ErrInvalidPrice)

	_, _, err = eng.PlaceOrder(buyer, book.Buy, base, 1<<40, 1<<40)
	assert.ErrorIs(t, err, engine.ErrNotionalOverflow)
}

func TestPlaceOrder_FillBudget(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.SetMaxFills(1)
	require.NoError(t, eng.Deposit(buyer, quote, 10000))
	require.NoError(t, eng.Deposit(seller, base, 100))

	_, _, err := eng.PlaceOrder(seller, book.Sell, base, 1, 50)
	require.NoError(t, err)
	_, _, err = eng.PlaceOrder(seller, book.Sell, base, 1, 51)
	require.NoError(t, err)

	// Needs two resting orders: rejected whole, nothing consumed.
	_, _, err = eng.PlaceOrder(buyer, book.Buy, base, 2, 55)
	assert.ErrorIs(t, err, engine.ErrFillBudget)
	assertBook(t, eng, book.Sell, [][3]uint64{{1, 0, 50}, {1, 0, 51}})
	assertAccount(t, eng, buyer, quote, 10000, 0)

	// Within budget still works.
	_, fills, err := eng.PlaceOrder(buyer, book.Buy, base, 1, 55)
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestWithdraw_LockedFundsStay(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 100))

	_, _, err := eng.PlaceOrder(buyer, book.Buy, base, 2, 50)
	require.NoError(t, err)
	assertAccount(t, eng, buyer, quote, 0, 100)

	// The open order's reservation cannot be withdrawn.
	assert.ErrorIs(t, eng.Withdraw(buyer, quote, 1), ledger.ErrInsufficientBalance)
}

func TestDepositWithdraw_UnknownAsset(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	assert.ErrorIs(t, eng.Deposit(buyer, "DOGE", 1), engine.ErrAssetNotTradable)
	assert.ErrorIs(t, eng.Withdraw(buyer, "DOGE", 1), engine.ErrAssetNotTradable)
	assert.ErrorIs(t, eng.Deposit(buyer, quote, 0), engine.ErrInvalidAmount)

	// The quote currency itself is depositable.
	assert.NoError(t, eng.Deposit(buyer, quote, 1))
}

func TestFaucet(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	assert.ErrorIs(t, eng.Faucet(buyer, quote, 10), engine.ErrFaucetDisabled)

	eng.SetFaucet(true, 100)
	assert.ErrorIs(t, eng.Faucet(buyer, quote, 101), engine.ErrFaucetLimit)
	assert.ErrorIs(t, eng.Faucet(buyer, "DOGE", 10), engine.ErrAssetNotTradable)

	require.NoError(t, eng.Faucet(buyer, quote, 100))
	assertAccount(t, eng, buyer, quote, 100, 0)
}

func TestRegisterAsset(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	require.NoError(t, eng.RegisterAsset("DOGE"))
	assert.ErrorIs(t, eng.RegisterAsset("DOGE"), asset.ErrAlreadyRegistered)
	assert.ErrorIs(t, eng.RegisterAsset(quote), asset.ErrInvalidAsset)
	assert.Equal(t, []string{base, "DOGE"}, eng.Assets())

	orders, err := eng.GetOrders("DOGE", book.Buy)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// TestRuntimeRegisteredAssetSurvivesRestart rebuilds an engine from the
// base configuration plus the persisted state, the way startup does,
// after an asset was registered and traded at runtime. The replayed
// symbol must come back before its orders or the replay fails.
func TestRuntimeRegisteredAssetSurvivesRestart(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	st := newMockStore()
	eng.SetStore(st)

	require.NoError(t, eng.RegisterAsset("DOGE"))
	require.NoError(t, eng.Deposit(seller, "DOGE", 5))
	_, _, err := eng.PlaceOrder(seller, book.Sell, "DOGE", 5, 10)
	require.NoError(t, err)

	// The registration and the resting order were both persisted.
	require.Equal(t, []string{"DOGE"}, st.assets)
	require.Len(t, st.orders, 1)

	registry := asset.NewRegistry(quote)
	require.NoError(t, registry.Register(base))
	led := ledger.New()
	eng2 := engine.New(registry, led)

	// Orders alone are not replayable without their market.
	assert.ErrorIs(t, eng2.RestoreOrder(st.orders[0]), engine.ErrAssetNotTradable)

	for _, symbol := range st.assets {
		require.NoError(t, eng2.RegisterAsset(symbol))
	}
	for key, acct := range st.accounts {
		var trader, symbol string
		for i := range key {
			if key[i] == '/' {
				trader, symbol = key[:i], key[i+1:]
			}
		}
		led.Restore(trader, symbol, acct)
	}
	for _, o := range st.orders {
		require.NoError(t, eng2.RestoreOrder(o))
	}

	resting, err := eng2.GetOrders("DOGE", book.Sell)
	require.NoError(t, err)
	require.Len(t, resting, 1)
	assert.Equal(t, uint64(5), resting[0].Remaining())

	// The revived market matches.
	require.NoError(t, eng2.Deposit(buyer, quote, 100))
	_, fills, err := eng2.PlaceOrder(buyer, book.Buy, "DOGE", 5, 10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(10), fills[0].Price)
}

func TestRestoreOrder_PreservesPriority(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	require.NoError(t, eng.Deposit(buyer, quote, 10000))

	// Replay two same-price asks as a restart would, in sequence order,
	// together with the escrow that backs them.
	restored := []book.Order{
		{UUID: "ask-1", Asset: base, Trader: seller, Side: book.Sell, Amount: 5, Price: 50, Seq: 1},
		{UUID: "ask-2", Asset: base, Trader: seller, Side: book.Sell, Amount: 5, Price: 50, Seq: 2},
	}
	for _, o := range restored {
		require.NoError(t, eng.RestoreOrder(o))
	}
	led.Restore(seller, base, ledger.Account{Locked: 10})

	assert.ErrorIs(t, eng.RestoreOrder(book.Order{Asset: "DOGE", Seq: 3}), engine.ErrAssetNotTradable)

	_, fills, err := eng.PlaceOrder(buyer, book.Buy, base, 5, 50)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "ask-1", fills[0].SellOrder)

	remaining, err := eng.GetOrders(base, book.Sell)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "ask-2", remaining[0].UUID)

	// New orders get sequence numbers above the replayed ones.
	order, _, err := eng.PlaceOrder(buyer, book.Buy, base, 1, 10)
	require.NoError(t, err)
	assert.Greater(t, order.Seq, uint64(2))
}
