package settlement

import (
	"TicketLedger/internal/command"
	"TicketLedger/internal/market"
)

// handleListForResale puts a key on the market. The command is the
// registry's approval callback, so the seller's ownership of the key is
// already authenticated; only the catalog rules remain to check. The asking
// price is clamped into the allowed band, never rejected for being out of
// it.
func (e *Engine) handleListForResale(c *command.ListForResale) *Output {
	event, tier, err := e.store.Tier(c.DropID)
	if err != nil {
		return e.rejectWithRefund(c, "unknown drop")
	}
	if !event.AcceptsResales() {
		return e.rejectWithRefund(c, "resales suspended")
	}

	price := e.cfg.Guard().Clamp(c.AskingPrice, tier.Price)
	listing := &market.Listing{
		PublicKey:  c.PublicKey,
		DropID:     c.DropID,
		EventID:    event.EventID,
		Seller:     c.Seller,
		Price:      price,
		ApprovalID: c.ApprovalID,
		ListedAt:   c.At,
	}
	e.store.PutListing(listing)

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.ApprovalKey,
			Outcome:       OutcomeSettled,
		},
		StateChanges: []StateChange{{
			Kind:    ChangeListingUpsert,
			Listing: listing,
		}},
	}
}

// handleRevokeListing takes a key off the market. Only the seller recorded
// on the listing may do it.
func (e *Engine) handleRevokeListing(c *command.RevokeListing) *Output {
	listing, err := e.store.Listing(c.PublicKey)
	if err != nil {
		return e.rejectWithRefund(c, "no active listing for key")
	}
	if listing.Seller != c.Seller {
		return e.rejectWithRefund(c, "not the listing seller")
	}
	_, _ = e.store.RemoveListing(c.PublicKey)

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
		StateChanges: []StateChange{{
			Kind:      ChangeListingDelete,
			PublicKey: c.PublicKey,
		}},
	}
}

// handleChangeResalePrice re-prices an active listing through the guard.
func (e *Engine) handleChangeResalePrice(c *command.ChangeResalePrice) *Output {
	listing, err := e.store.Listing(c.PublicKey)
	if err != nil {
		return e.rejectWithRefund(c, "no active listing for key")
	}
	if listing.Seller != c.Seller {
		return e.rejectWithRefund(c, "not the listing seller")
	}
	_, tier, err := e.store.Tier(listing.DropID)
	if err != nil {
		return e.rejectWithRefund(c, "unknown drop")
	}

	listing.Price = e.cfg.Guard().Clamp(c.NewPrice, tier.Price)

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
		StateChanges: []StateChange{{
			Kind:    ChangeListingUpsert,
			Listing: listing,
		}},
	}
}
