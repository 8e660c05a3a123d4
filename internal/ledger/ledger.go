// Package ledger implements per-(trader, asset) escrow accounting.
//
// Every balance is split into an available and a locked portion. Placing
// an order moves the full reservation into locked; fills consume from
// locked and credit the counterparty's available balance. No operation
// may ever take either portion below zero, which is checked before
// mutating rather than after.
package ledger

import (
	"errors"
	"sync"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Account is the escrow state for one (trader, asset) pair.
type Account struct {
	Available uint64 `json:"available"`
	Locked    uint64 `json:"locked"`
}

type key struct {
	trader string
	asset  string
}

// Ledger is safe for concurrent use: deposits and withdrawals may race
// with matching on unrelated assets.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[key]*Account
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[key]*Account),
	}
}

func (l *Ledger) account(trader, asset string) *Account {
	k := key{trader, asset}
	acct, ok := l.accounts[k]
	if !ok {
		acct = &Account{}
		l.accounts[k] = acct
	}
	return acct
}

// Deposit credits the available balance. Always succeeds.
func (l *Ledger) Deposit(trader, asset string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account(trader, asset).Available += amount
}

// Credit is a settlement credit to the available balance. It is the
// same mutation as Deposit but named for its call sites in the engine.
func (l *Ledger) Credit(trader, asset string, amount uint64) {
	l.Deposit(trader, asset, amount)
}

// Withdraw debits the available balance. Locked funds back open orders
// and cannot be withdrawn.
func (l *Ledger) Withdraw(trader, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(trader, asset)
	if amount > acct.Available {
		return ErrInsufficientBalance
	}
	acct.Available -= amount
	return nil
}

// Lock reserves amount from available for the lifetime of an order.
func (l *Ledger) Lock(trader, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(trader, asset)
	if amount > acct.Available {
		return ErrInsufficientBalance
	}
	acct.Available -= amount
	acct.Locked += amount
	return nil
}

// Unlock releases reserved funds back to available.
func (l *Ledger) Unlock(trader, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(trader, asset)
	if amount > acct.Locked {
		return ErrInsufficientBalance
	}
	acct.Locked -= amount
	acct.Available += amount
	return nil
}

// SpendLocked consumes reserved funds during trade settlement.
func (l *Ledger) SpendLocked(trader, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(trader, asset)
	if amount > acct.Locked {
		return ErrInsufficientBalance
	}
	acct.Locked -= amount
	return nil
}

// Balance returns the available balance.
func (l *Ledger) Balance(trader, asset string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if acct, ok := l.accounts[key{trader, asset}]; ok {
		return acct.Available
	}
	return 0
}

// Account returns a copy of the full escrow state.
func (l *Ledger) Account(trader, asset string) Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if acct, ok := l.accounts[key{trader, asset}]; ok {
		return *acct
	}
	return Account{}
}

// Restore overwrites one account. Used when replaying the durable store
// at startup, before the engine starts serving.
func (l *Ledger) Restore(trader, asset string, acct Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	*l.account(trader, asset) = acct
}
