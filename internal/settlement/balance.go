package settlement

import (
	"github.com/google/uuid"

	"TicketLedger/internal/command"
	"TicketLedger/internal/ledger"
)

// handleLedgerDeposit absorbs an attached payment into the account's
// pre-funded balance.
func (e *Engine) handleLedgerDeposit(c *command.LedgerDeposit) *Output {
	if c.Amount <= 0 {
		return e.rejectWithRefund(c, "deposit amount must be positive")
	}
	_ = e.ledger.Credit(c.Account, c.Amount)

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
		Journal: []ledger.Entry{
			e.newEntry(c.CommandID, c.Account, c.Amount, ledger.EntryDeposit, c.At),
		},
		StateChanges: []StateChange{{
			Kind:    ChangeBalanceSet,
			Account: c.Account,
			Balance: e.ledger.Balance(c.Account),
		}},
	}
}

// handleLedgerWithdraw sweeps the entire pre-funded balance back to the
// account.
func (e *Engine) handleLedgerWithdraw(c *command.LedgerWithdraw) *Output {
	balance := e.ledger.Balance(c.Account)
	if balance <= 0 {
		return e.rejectWithRefund(c, "nothing to withdraw")
	}
	if err := e.ledger.Debit(c.Account, balance); err != nil {
		return e.rejectWithRefund(c, "nothing to withdraw")
	}

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
		Journal: []ledger.Entry{
			e.newEntry(c.CommandID, c.Account, -balance, ledger.EntryWithdraw, c.At),
		},
		Transfers: []Transfer{{
			TransferID:    uuid.New(),
			SettlementRef: c.CommandID,
			Recipient:     c.Account,
			Amount:        balance,
			Reason:        "balance withdrawal",
		}},
		StateChanges: []StateChange{{
			Kind:    ChangeBalanceSet,
			Account: c.Account,
			Balance: 0,
		}},
	}
}
