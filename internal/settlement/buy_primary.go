package settlement

import (
	"time"

	"github.com/google/uuid"

	"TicketLedger/internal/command"
	"TicketLedger/internal/ledger"
	"TicketLedger/internal/registry"
)

// handleBuyPrimary starts a primary sale. The payment is already collected;
// from here every exit path must return or disburse it exactly. Nothing is
// disbursed in this step: the sale goes pending on a registry call and the
// mint result finishes it.
func (e *Engine) handleBuyPrimary(c *command.BuyPrimary) *Output {
	event, tier, err := e.store.Tier(c.DropID)
	if err != nil {
		return e.rejectWithRefund(c, "unknown drop")
	}
	if !event.AcceptsPrimarySales() {
		return e.rejectWithRefund(c, "event not accepting sales")
	}
	if !tier.SaleOpenAt(c.At) {
		return e.rejectWithRefund(c, "sale window closed")
	}
	if err := e.cfg.ValidateKeys(c.Keys); err != nil {
		return e.rejectWithRefund(c, err.Error())
	}

	keyCount := int64(len(c.Keys))
	totalPrice := tier.Price * keyCount
	storageCost := e.cfg.StorageCost(c.Keys)
	free := tier.Price == 0

	// What the buyer must attach. The relay settles the ticket price on its
	// own rail and only covers storage; free tiers are funded by the
	// organizer's pre-paid balance.
	var required int64
	switch {
	case free:
		required = 0
	case c.RelayFunded:
		required = storageCost
	default:
		if storageCost > totalPrice {
			return e.rejectWithRefund(c, "tier price below storage cost")
		}
		required = totalPrice
	}
	if c.AttachedFunds < required {
		return e.rejectWithRefund(c, "insufficient attached funds")
	}
	if free && e.ledger.Balance(event.Organizer) < storageCost {
		return e.rejectWithRefund(c, "organizer balance cannot cover storage")
	}

	ctx := &PrimarySaleContext{
		SettlementID:  c.PurchaseID,
		Buyer:         c.Buyer,
		EventID:       event.EventID,
		DropID:        c.DropID,
		Organizer:     event.Organizer,
		Keys:          c.Keys,
		AttachedFunds: c.AttachedFunds,
		HeldFunds:     c.AttachedFunds,
		TicketPrice:   totalPrice,
		StorageCost:   storageCost,
		FreeTicket:    free,
		RelayFunded:   c.RelayFunded,
		MaxKeys:       tier.MaxKeys,
	}

	// Capped tiers check remaining capacity at the registry before paying
	// for the mint. The check is best-effort; the registry still enforces
	// the cap on the mint itself.
	if tier.MaxKeys != nil {
		ctx.Stage = StageCapacityCheck
		e.pendingSettlements++
		return &Output{
			Envelope: &Envelope{
				SettlementRef: ctx.SettlementID,
				Outcome:       OutcomePending,
				Reason:        "awaiting capacity check",
			},
			RegistryRequests: []registry.Request{{
				RequestID:    uuid.New().String(),
				Kind:         registry.KindGetDropInfo,
				DropID:       c.DropID,
				Continuation: encodePrimaryContext(ctx),
			}},
		}
	}

	return e.dispatchMint(ctx, c.At)
}

// dispatchMint funds the storage deposit and issues the mint request. For
// free tiers the deposit comes out of the organizer's pre-funded balance;
// otherwise it is carved out of the held payment.
func (e *Engine) dispatchMint(ctx *PrimarySaleContext, ts time.Time) *Output {
	out := &Output{
		Envelope: &Envelope{
			SettlementRef: ctx.SettlementID,
			Outcome:       OutcomePending,
			Reason:        "awaiting mint",
		},
	}

	if ctx.FreeTicket {
		if err := e.ledger.Debit(ctx.Organizer, ctx.StorageCost); err != nil {
			return e.failPrimary(ctx, "organizer balance cannot cover storage")
		}
		out.Journal = append(out.Journal,
			e.newEntry(ctx.SettlementID, ctx.Organizer, -ctx.StorageCost, ledger.EntryStorageCharge, ts))
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:    ChangeBalanceSet,
			Account: ctx.Organizer,
			Balance: e.ledger.Balance(ctx.Organizer),
		})
	} else {
		ctx.HeldFunds -= ctx.StorageCost
	}

	ctx.Stage = StageMint
	e.pendingSettlements++
	out.RegistryRequests = append(out.RegistryRequests, registry.Request{
		RequestID:    uuid.New().String(),
		Kind:         registry.KindMintKeys,
		DropID:       ctx.DropID,
		Keys:         ctx.Keys,
		Deposit:      ctx.StorageCost,
		Owner:        ctx.Buyer,
		Continuation: encodePrimaryContext(ctx),
	})
	return out
}

// handleDropInfoResult resumes a capacity-checked sale.
func (e *Engine) handleDropInfoResult(c *command.DropInfoResult) (*Output, error) {
	ctx, err := decodePrimaryContext(c.Continuation)
	if err != nil {
		e.logger.Error().Err(err).Str("request_id", c.RequestID).Msg("drop info result with bad continuation")
		return &Output{Envelope: &Envelope{
			SettlementRef: c.RequestID,
			Outcome:       OutcomeFailed,
			Reason:        "bad continuation",
		}}, nil
	}
	// A continuation past the capacity check still has a mint in flight;
	// acting on it here would carve the storage deposit out twice.
	if ctx.Stage != StageCapacityCheck {
		e.logger.Error().Str("request_id", c.RequestID).Str("stage", string(ctx.Stage)).
			Msg("drop info result for a settlement past its capacity check")
		return &Output{Envelope: &Envelope{
			SettlementRef: c.RequestID,
			Outcome:       OutcomeFailed,
			Reason:        "continuation stage mismatch",
		}}, nil
	}
	e.pendingSettlements--

	if !c.Succeeded {
		return e.failPrimary(ctx, "capacity check failed: "+c.Reason), nil
	}
	if ctx.MaxKeys != nil {
		var remaining uint64
		if c.Info.NextKeyID < *ctx.MaxKeys {
			remaining = *ctx.MaxKeys - c.Info.NextKeyID
		}
		if uint64(len(ctx.Keys)) > remaining {
			return e.failPrimary(ctx, "tier sold out"), nil
		}
	}

	return e.dispatchMint(ctx, c.At), nil
}

// handleMintResult finishes a primary sale.
func (e *Engine) handleMintResult(c *command.MintResult) (*Output, error) {
	ctx, err := decodePrimaryContext(c.Continuation)
	if err != nil {
		e.logger.Error().Err(err).Str("request_id", c.RequestID).Msg("mint result with bad continuation")
		return &Output{Envelope: &Envelope{
			SettlementRef: c.RequestID,
			Outcome:       OutcomeFailed,
			Reason:        "bad continuation",
		}}, nil
	}
	if ctx.Stage != StageMint {
		e.logger.Error().Str("request_id", c.RequestID).Str("stage", string(ctx.Stage)).
			Msg("mint result for a settlement that has not paid for its mint")
		return &Output{Envelope: &Envelope{
			SettlementRef: c.RequestID,
			Outcome:       OutcomeFailed,
			Reason:        "continuation stage mismatch",
		}}, nil
	}
	e.pendingSettlements--

	if c.ReturnedDeposit < 0 {
		c.ReturnedDeposit = 0
	}

	if !c.Succeeded {
		out := e.failPrimary(ctx, "mint failed: "+c.Reason)
		// The registry hands the unspent deposit back. For free tiers it
		// belongs to the organizer's pre-funded balance, otherwise it folds
		// into the buyer refund built by failPrimary.
		if ctx.FreeTicket {
			e.creditOrganizer(out, ctx, c.ReturnedDeposit, c.At)
		} else if c.ReturnedDeposit > 0 {
			out.Transfers = append(out.Transfers, Transfer{
				TransferID:    uuid.New(),
				SettlementRef: ctx.SettlementID,
				Recipient:     primaryPayer(e.cfg, ctx),
				Amount:        c.ReturnedDeposit,
				Reason:        "refund: mint failed",
			})
		}
		return out, nil
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: ctx.SettlementID,
			Outcome:       OutcomeSettled,
		},
	}
	payer := primaryPayer(e.cfg, ctx)

	switch {
	case ctx.FreeTicket:
		// The buyer paid nothing real; return whatever was attached and put
		// the unspent deposit back on the organizer's balance.
		e.creditOrganizer(out, ctx, c.ReturnedDeposit, c.At)
		addTransfer(out, ctx.SettlementID, payer, ctx.HeldFunds, "refund: overpayment")

	case ctx.RelayFunded:
		// Ticket price settled on the relay's own rail; everything held
		// beyond the spent storage goes back.
		addTransfer(out, ctx.SettlementID, payer, ctx.HeldFunds+c.ReturnedDeposit, "refund: overpayment")

	default:
		organizerPay := ctx.TicketPrice - ctx.StorageCost + c.ReturnedDeposit
		addTransfer(out, ctx.SettlementID, ctx.Organizer, organizerPay, "primary sale proceeds")
		addTransfer(out, ctx.SettlementID, payer, ctx.AttachedFunds-ctx.TicketPrice, "refund: overpayment")
	}

	return out, nil
}

// failPrimary compensates a pending primary sale: the held funds go back to
// whoever paid.
func (e *Engine) failPrimary(ctx *PrimarySaleContext, reason string) *Output {
	out := &Output{
		Envelope: &Envelope{
			SettlementRef: ctx.SettlementID,
			Outcome:       OutcomeFailed,
			Reason:        reason,
		},
	}
	addTransfer(out, ctx.SettlementID, primaryPayer(e.cfg, ctx), ctx.HeldFunds, "refund: "+reason)
	return out
}

func (e *Engine) creditOrganizer(out *Output, ctx *PrimarySaleContext, amount int64, ts time.Time) {
	if amount <= 0 {
		return
	}
	_ = e.ledger.Credit(ctx.Organizer, amount)
	out.Journal = append(out.Journal,
		e.newEntry(ctx.SettlementID, ctx.Organizer, amount, ledger.EntryStorageRefund, ts))
	out.StateChanges = append(out.StateChanges, StateChange{
		Kind:    ChangeBalanceSet,
		Account: ctx.Organizer,
		Balance: e.ledger.Balance(ctx.Organizer),
	})
}

// primaryPayer is where refunds go: the relay fronted the money on relayed
// purchases, the buyer otherwise.
func primaryPayer(cfg *Config, ctx *PrimarySaleContext) string {
	if ctx.RelayFunded {
		return cfg.RelayAccount
	}
	return ctx.Buyer
}

func addTransfer(out *Output, ref, recipient string, amount int64, reason string) {
	if amount <= 0 {
		return
	}
	out.Transfers = append(out.Transfers, Transfer{
		TransferID:    uuid.New(),
		SettlementRef: ref,
		Recipient:     recipient,
		Amount:        amount,
		Reason:        reason,
	})
}
