package settlement

import (
	"encoding/json"
	"fmt"

	"TicketLedger/internal/command"
)

// reconcile checks the money conservation identity for one processed step:
// everything that entered the step (attached payment, funds held from an
// earlier step, a returned registry deposit, funds released from the
// internal ledger) must leave it exactly (transfers, registry deposits and
// claim amounts, funds absorbed into the ledger, funds held for a later
// step). Admin commands move no external money and are skipped, except the
// ledger operations which have their own identities.
func (e *Engine) reconcile(cmd command.Command, out *Output) error {
	if out.Envelope.Outcome == OutcomeRejected {
		// A rejection may only refund the attached payment, nothing else.
		if len(out.Journal) != 0 || len(out.RegistryRequests) != 0 {
			return fmt.Errorf("rejection produced side effects")
		}
		attached := attachedFunds(cmd)
		if refunded := transfersTotal(out); refunded != attached {
			return fmt.Errorf("rejection refunded %d of %d attached", refunded, attached)
		}
		return nil
	}

	switch c := cmd.(type) {
	case *command.BuyPrimary:
		return e.checkStep(out, c.AttachedFunds, 0)

	case *command.BuyResale:
		return e.checkStep(out, c.AttachedFunds, 0)

	case *command.DropInfoResult:
		held, ok := heldFromContinuation(c.Continuation)
		if !ok {
			return nil // undecodable continuation moves no money
		}
		return e.checkStep(out, held, 0)

	case *command.MintResult:
		held, ok := heldFromContinuation(c.Continuation)
		if !ok {
			return nil
		}
		return e.checkStep(out, held, c.ReturnedDeposit)

	case *command.TransferResult:
		held, ok := heldFromContinuation(c.Continuation)
		if !ok {
			return nil
		}
		return e.checkStep(out, held, 0)

	case *command.LedgerDeposit:
		if absorbed := journalAbsorbed(out); absorbed != c.Amount {
			return fmt.Errorf("deposit of %d credited %d", c.Amount, absorbed)
		}
		return nil

	case *command.LedgerWithdraw:
		if released, paid := journalReleased(out), transfersTotal(out); released != paid {
			return fmt.Errorf("withdraw released %d but paid %d", released, paid)
		}
		return nil

	default:
		// Catalog admin. Storage charges are consumed by the marketplace
		// itself, so no external conservation identity applies.
		return nil
	}
}

// checkStep validates moneyIn == moneyOut for one settlement step.
func (e *Engine) checkStep(out *Output, heldIn, returnedDeposit int64) error {
	moneyIn := heldIn + returnedDeposit + journalReleased(out)
	moneyOut := transfersTotal(out) + requestsMoneyOut(out) + heldOut(out) + journalAbsorbed(out)
	if moneyIn != moneyOut {
		return fmt.Errorf("step %s: in=%d (held=%d deposit_back=%d ledger=%d) out=%d",
			out.Envelope.SettlementRef, moneyIn, heldIn, returnedDeposit, journalReleased(out), moneyOut)
	}
	return nil
}

func transfersTotal(out *Output) int64 {
	var total int64
	for _, tr := range out.Transfers {
		total += tr.Amount
	}
	return total
}

// requestsMoneyOut sums the money leaving with registry calls.
func requestsMoneyOut(out *Output) int64 {
	var total int64
	for _, req := range out.RegistryRequests {
		total += req.Deposit + req.Amount
	}
	return total
}

// heldOut sums the funds still held by continuations issued in this step.
func heldOut(out *Output) int64 {
	var total int64
	for _, req := range out.RegistryRequests {
		if held, ok := heldFromContinuation(req.Continuation); ok {
			total += held
		}
	}
	return total
}

func journalAbsorbed(out *Output) int64 {
	var total int64
	for _, entry := range out.Journal {
		if entry.Delta > 0 {
			total += entry.Delta
		}
	}
	return total
}

func journalReleased(out *Output) int64 {
	var total int64
	for _, entry := range out.Journal {
		if entry.Delta < 0 {
			total += -entry.Delta
		}
	}
	return total
}

// heldFromContinuation extracts the held amount from either continuation
// shape without fully decoding it.
func heldFromContinuation(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var probe struct {
		Type          string `json:"type"`
		HeldFunds     int64  `json:"held_funds"`
		AttachedFunds int64  `json:"attached_funds"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, false
	}
	switch probe.Type {
	case continuationPrimary:
		return probe.HeldFunds, true
	case continuationResale:
		return probe.AttachedFunds, true
	default:
		return 0, false
	}
}
