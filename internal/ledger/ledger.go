package ledger

import (
	"errors"
	"fmt"
)

// ErrInsufficientBalance is returned by Debit when the account cannot cover
// the requested amount. The balance is left untouched; debits are never
// truncated to the available balance.
var ErrInsufficientBalance = errors.New("insufficient ledger balance")

// Ledger maintains the in-memory pre-funded balance per account. Organizers
// deposit into it so that free-ticket storage costs and storage overages can
// be charged without a fresh payment. It is only ever touched from inside a
// single settlement step, so it carries no locking of its own.
type Ledger struct {
	balances map[string]int64
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]int64),
	}
}

// Debit removes amount from the account's balance. Fails without mutating
// anything if the balance cannot cover it; callers must pre-check when a
// rejection is not acceptable.
func (l *Ledger) Debit(account string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("debit of negative amount %d from %s", amount, account)
	}
	current := l.balances[account]
	if amount > current {
		return fmt.Errorf("debit %d from %s (balance %d): %w", amount, account, current, ErrInsufficientBalance)
	}
	l.balances[account] = current - amount
	return nil
}

// Credit adds amount to the account's balance.
func (l *Ledger) Credit(account string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("credit of negative amount %d to %s", amount, account)
	}
	l.balances[account] += amount
	return nil
}

// Balance returns the current balance for an account. Unknown accounts have
// balance zero.
func (l *Ledger) Balance(account string) int64 {
	return l.balances[account]
}

// ValidateNonNegative checks that an account balance is >= 0. A negative
// balance means a prior step broke the debit pre-check invariant.
func (l *Ledger) ValidateNonNegative(account string) error {
	if b := l.balances[account]; b < 0 {
		return fmt.Errorf("account %s has negative balance: %d", account, b)
	}
	return nil
}

// TotalHeld sums all balances. Used by the periodic global invariant check:
// the sum must always equal total deposits minus total withdrawals and
// storage charges, and must never be negative.
func (l *Ledger) TotalHeld() int64 {
	var total int64
	for _, b := range l.balances {
		total += b
	}
	return total
}

// Snapshot returns a copy of all non-zero balances.
func (l *Ledger) Snapshot() map[string]int64 {
	snapshot := make(map[string]int64, len(l.balances))
	for account, b := range l.balances {
		if b != 0 {
			snapshot[account] = b
		}
	}
	return snapshot
}

// Restore sets an account balance directly. Only used when rebuilding state
// from the durable store at startup.
func (l *Ledger) Restore(account string, balance int64) {
	l.balances[account] = balance
}
