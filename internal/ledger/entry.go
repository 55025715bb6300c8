package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies what a journal entry represents.
type EntryKind string

const (
	// EntryDeposit is an organizer topping up their pre-funded balance.
	EntryDeposit EntryKind = "DEPOSIT"
	// EntryWithdraw is an organizer sweeping their balance back out.
	EntryWithdraw EntryKind = "WITHDRAW"
	// EntryStorageCharge is a storage cost debit taken during a sale.
	EntryStorageCharge EntryKind = "STORAGE_CHARGE"
	// EntryStorageRefund reverses a speculative storage charge after the
	// registry call it funded came back failed.
	EntryStorageRefund EntryKind = "STORAGE_REFUND"
)

// Entry is one signed movement on an internal balance. The journal is
// append-only; replaying all entries in sequence order reproduces every
// account balance exactly.
type Entry struct {
	EntryID       uuid.UUID
	SettlementRef string
	Account       string
	Delta         int64 // positive credits, negative debits
	Kind          EntryKind
	Sequence      uint64
	Timestamp     time.Time
}

// NewEntry builds a journal entry with a fresh id.
func NewEntry(settlementRef, account string, delta int64, kind EntryKind, sequence uint64, ts time.Time) Entry {
	return Entry{
		EntryID:       uuid.New(),
		SettlementRef: settlementRef,
		Account:       account,
		Delta:         delta,
		Kind:          kind,
		Sequence:      sequence,
		Timestamp:     ts,
	}
}
