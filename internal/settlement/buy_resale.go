package settlement

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"TicketLedger/internal/command"
	"TicketLedger/internal/registry"
)

// handleBuyResale starts a resale purchase. The listing stays on the market
// until the transfer result confirms the key actually moved; a second buyer
// racing for the same key loses at the registry and is refunded.
func (e *Engine) handleBuyResale(c *command.BuyResale) *Output {
	listing, err := e.store.Listing(c.PublicKey)
	if err != nil {
		return e.rejectWithRefund(c, "no active listing for key")
	}
	event, err := e.store.Event(listing.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "listing event missing")
	}
	if !event.AcceptsResales() {
		return e.rejectWithRefund(c, "resales suspended")
	}
	if c.Buyer == listing.Seller {
		return e.rejectWithRefund(c, "cannot buy own listing")
	}
	if c.NewPublicKey == "" {
		return e.rejectWithRefund(c, "missing replacement key")
	}
	if c.NewPublicKey == c.PublicKey {
		return e.rejectWithRefund(c, "replacement key matches the listed key")
	}
	if !c.RelayFunded && c.AttachedFunds < listing.Price {
		return e.rejectWithRefund(c, "insufficient attached funds")
	}

	ctx := &ResaleContext{
		SettlementID:  c.PurchaseID,
		Buyer:         c.Buyer,
		EventID:       listing.EventID,
		DropID:        listing.DropID,
		PublicKey:     c.PublicKey,
		NewPublicKey:  c.NewPublicKey,
		Seller:        listing.Seller,
		AttachedFunds: c.AttachedFunds,
		SalePrice:     listing.Price,
		RelayFunded:   c.RelayFunded,
	}

	e.pendingSettlements++
	return &Output{
		Envelope: &Envelope{
			SettlementRef: ctx.SettlementID,
			Outcome:       OutcomePending,
			Reason:        "awaiting transfer",
		},
		RegistryRequests: []registry.Request{{
			RequestID:    uuid.New().String(),
			Kind:         registry.KindTransferWithPayout,
			DropID:       listing.DropID,
			PublicKey:    c.PublicKey,
			NewPublicKey: c.NewPublicKey,
			Receiver:     c.Buyer,
			ApprovalID:   listing.ApprovalID,
			SalePrice:    listing.Price,
			Continuation: encodeResaleContext(ctx),
		}},
	}
}

// handleTransferResult finishes a resale. The registry reverts the transfer
// whenever the marketplace reports the payout unusable, so a failed or
// invalid outcome leaves the listing live and the seller in possession.
func (e *Engine) handleTransferResult(c *command.TransferResult) (*Output, error) {
	ctx, err := decodeResaleContext(c.Continuation)
	if err != nil {
		e.logger.Error().Err(err).Str("request_id", c.RequestID).Msg("transfer result with bad continuation")
		return &Output{Envelope: &Envelope{
			SettlementRef: c.RequestID,
			Outcome:       OutcomeFailed,
			Reason:        "bad continuation",
		}}, nil
	}
	e.pendingSettlements--

	payer := resalePayer(e.cfg, ctx)

	if !c.Succeeded {
		return e.failResale(ctx, payer, "transfer failed: "+c.Reason), nil
	}

	payoutSum, err := e.validatePayout(ctx, c.Payout)
	if err != nil {
		return e.failResale(ctx, payer, err.Error()), nil
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: ctx.SettlementID,
			Outcome:       OutcomeSettled,
		},
	}

	// The listing may already be gone if the event was deleted while the
	// transfer was in flight.
	if _, err := e.store.RemoveListing(ctx.PublicKey); err == nil {
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:      ChangeListingDelete,
			PublicKey: ctx.PublicKey,
		})
	}

	if ctx.RelayFunded {
		// The relay settles the payout on its own rail; everything held
		// here goes straight back to it.
		addTransfer(out, ctx.SettlementID, payer, ctx.AttachedFunds, "refund: relay settled")
		return out, nil
	}

	e.disbursePayout(out, ctx, c.Payout)
	addTransfer(out, ctx.SettlementID, payer, ctx.AttachedFunds-payoutSum, "refund: overpayment")
	return out, nil
}

// validatePayout enforces the acceptance rules on a registry payout split.
func (e *Engine) validatePayout(ctx *ResaleContext, payout registry.Payout) (int64, error) {
	if ctx.RelayFunded {
		return 0, nil
	}
	if len(payout) == 0 || len(payout) > e.cfg.MaxPayoutEntries {
		return 0, fmt.Errorf("payout has %d entries", len(payout))
	}
	var sum int64
	for receiver, amount := range payout {
		if amount <= 0 {
			return 0, fmt.Errorf("payout share for %s is %d", receiver, amount)
		}
		sum += amount
	}
	diff := sum - ctx.SalePrice
	if diff < 0 {
		diff = -diff
	}
	if diff > e.cfg.PayoutTolerance {
		return 0, fmt.Errorf("payout sum %d outside tolerance of sale price %d", sum, ctx.SalePrice)
	}
	if sum > ctx.AttachedFunds {
		return 0, fmt.Errorf("payout sum %d exceeds held funds %d", sum, ctx.AttachedFunds)
	}
	return sum, nil
}

// disbursePayout turns the payout split into transfers. A share aimed at
// the registry's own account becomes a claim link instead; receivers are
// visited in sorted order so replays produce identical output.
func (e *Engine) disbursePayout(out *Output, ctx *ResaleContext, payout registry.Payout) {
	receivers := make([]string, 0, len(payout))
	for receiver := range payout {
		receivers = append(receivers, receiver)
	}
	sort.Strings(receivers)

	for _, receiver := range receivers {
		amount := payout[receiver]
		if receiver == e.cfg.RegistryAccount {
			// Escrowed on the seller's behalf; the seller passes the claim
			// key to the intended recipient out of band.
			out.RegistryRequests = append(out.RegistryRequests, registry.Request{
				RequestID: uuid.New().String(),
				Kind:      registry.KindCreateClaim,
				DropID:    ctx.DropID,
				PublicKey: registry.NewClaimKey(),
				Receiver:  ctx.Seller,
				ClaimID:   uuid.New().String(),
				Amount:    amount,
			})
			continue
		}
		addTransfer(out, ctx.SettlementID, receiver, amount, "resale proceeds")
	}
}

func (e *Engine) failResale(ctx *ResaleContext, payer, reason string) *Output {
	out := &Output{
		Envelope: &Envelope{
			SettlementRef: ctx.SettlementID,
			Outcome:       OutcomeFailed,
			Reason:        reason,
		},
	}
	addTransfer(out, ctx.SettlementID, payer, ctx.AttachedFunds, "refund: "+reason)
	return out
}

func resalePayer(cfg *Config, ctx *ResaleContext) string {
	if ctx.RelayFunded {
		return cfg.RelayAccount
	}
	return ctx.Buyer
}
