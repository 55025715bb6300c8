package settlement

import (
	"fmt"
	"time"

	"TicketLedger/internal/command"
	"TicketLedger/internal/ledger"
	"TicketLedger/internal/market"
)

// validateTierSpec checks the rules a tier must satisfy before it is ever
// sellable: a coherent sale window and a price that covers minting a key.
func (e *Engine) validateTierSpec(spec command.TierSpec) error {
	if spec.DropID == "" {
		return fmt.Errorf("tier with empty drop id")
	}
	if !spec.SaleStart.IsZero() && !spec.SaleEnd.IsZero() && !spec.SaleEnd.After(spec.SaleStart) {
		return fmt.Errorf("tier %s sale window ends before it starts", spec.DropID)
	}
	return e.validateTierPrice(spec.DropID, spec.Price)
}

func (e *Engine) validateTierPrice(dropID string, price int64) error {
	if price < 0 {
		return fmt.Errorf("negative price for drop %s", dropID)
	}
	if price != 0 && price < e.cfg.MinKeyStorageCost() {
		return fmt.Errorf("price for drop %s below the per-key storage cost", dropID)
	}
	return nil
}

// handleCreateEvent registers an event. The organizer's pre-funded balance
// pays for the catalog storage the event occupies; the charge comes back on
// deletion.
func (e *Engine) handleCreateEvent(c *command.CreateEvent) *Output {
	if c.EventID == "" {
		return e.rejectWithRefund(c, "missing event id")
	}
	charge := e.cfg.CatalogStorageCost(c.Name, c.Metadata, len(c.Tiers))
	if e.ledger.Balance(c.Organizer) < charge {
		return e.rejectWithRefund(c, "organizer balance cannot cover catalog storage")
	}

	event := &market.Event{
		EventID:        c.EventID,
		Organizer:      c.Organizer,
		Name:           c.Name,
		Metadata:       c.Metadata,
		Status:         market.StatusActive,
		CreatedAt:      c.At,
		StorageCharged: charge,
		Tiers:          make(map[string]*market.TicketTier, len(c.Tiers)),
	}
	for _, spec := range c.Tiers {
		if err := e.validateTierSpec(spec); err != nil {
			return e.rejectWithRefund(c, err.Error())
		}
		if _, dup := event.Tiers[spec.DropID]; dup {
			return e.rejectWithRefund(c, "duplicate drop id in tiers")
		}
		event.Tiers[spec.DropID] = spec.Tier()
	}
	if err := e.store.PutEvent(event); err != nil {
		return e.rejectWithRefund(c, err.Error())
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
	e.chargeCatalogStorage(out, c.CommandID, c.Organizer, charge, c.At)
	e.upsertEventState(out, event)
	return out
}

// handleAddTiers attaches tiers to an existing event, charging the extra
// catalog storage.
func (e *Engine) handleAddTiers(c *command.AddTiers) *Output {
	event, err := e.store.Event(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "event not found")
	}
	if event.Organizer != c.Organizer {
		return e.rejectWithRefund(c, "not the event organizer")
	}
	if len(c.Tiers) == 0 {
		return e.rejectWithRefund(c, "no tiers given")
	}
	charge := e.cfg.CatalogStorageCost("", "", len(c.Tiers))
	if e.ledger.Balance(c.Organizer) < charge {
		return e.rejectWithRefund(c, "organizer balance cannot cover catalog storage")
	}

	tiers := make([]*market.TicketTier, 0, len(c.Tiers))
	for _, spec := range c.Tiers {
		if err := e.validateTierSpec(spec); err != nil {
			return e.rejectWithRefund(c, err.Error())
		}
		tiers = append(tiers, spec.Tier())
	}
	if err := e.store.AddTiers(c.EventID, tiers); err != nil {
		return e.rejectWithRefund(c, err.Error())
	}
	event.StorageCharged += charge

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
	e.chargeCatalogStorage(out, c.CommandID, c.Organizer, charge, c.At)
	e.upsertEventState(out, event)
	return out
}

// handleModifyTierPrices updates base prices. The whole batch applies or
// none of it does.
func (e *Engine) handleModifyTierPrices(c *command.ModifyTierPrices) *Output {
	event, err := e.store.Event(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "event not found")
	}
	if event.Organizer != c.Organizer {
		return e.rejectWithRefund(c, "not the event organizer")
	}
	for dropID, price := range c.Prices {
		if _, ok := event.Tiers[dropID]; !ok {
			return e.rejectWithRefund(c, "unknown drop "+dropID)
		}
		if err := e.validateTierPrice(dropID, price); err != nil {
			return e.rejectWithRefund(c, err.Error())
		}
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
	for dropID, price := range c.Prices {
		tier := event.Tiers[dropID]
		tier.Price = price
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:    ChangeTierUpsert,
			EventID: event.EventID,
			Tier:    tier,
		})
	}
	return out
}

// handleModifyMaxKeys updates mint caps. A nil value removes the cap.
func (e *Engine) handleModifyMaxKeys(c *command.ModifyMaxKeys) *Output {
	event, err := e.store.Event(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "event not found")
	}
	if event.Organizer != c.Organizer {
		return e.rejectWithRefund(c, "not the event organizer")
	}
	for dropID := range c.MaxKeys {
		if _, ok := event.Tiers[dropID]; !ok {
			return e.rejectWithRefund(c, "unknown drop "+dropID)
		}
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
	for dropID, maxKeys := range c.MaxKeys {
		tier := event.Tiers[dropID]
		tier.MaxKeys = maxKeys
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:    ChangeTierUpsert,
			EventID: event.EventID,
			Tier:    tier,
		})
	}
	return out
}

func (e *Engine) handleSetEventStatus(c *command.SetEventStatus) *Output {
	event, err := e.store.Event(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "event not found")
	}
	if event.Organizer != c.Organizer {
		return e.rejectWithRefund(c, "not the event organizer")
	}

	if c.Active {
		event.Status = market.StatusActive
	} else {
		event.Status = market.StatusInactive
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
	e.upsertEventState(out, event)
	return out
}

func (e *Engine) handleSetResaleStatus(c *command.SetResaleStatus) *Output {
	event, err := e.store.Event(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "event not found")
	}
	if event.Organizer != c.Organizer {
		return e.rejectWithRefund(c, "not the event organizer")
	}
	if event.Status == market.StatusInactive {
		return e.rejectWithRefund(c, "event inactive")
	}

	if c.ResalesAllowed {
		event.Status = market.StatusActive
	} else {
		event.Status = market.StatusResalesSuspended
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
	e.upsertEventState(out, event)
	return out
}

// handleDeleteEvent removes an event, cascades away its listings, and
// returns the catalog storage charge to the organizer.
func (e *Engine) handleDeleteEvent(c *command.DeleteEvent) *Output {
	event, err := e.store.Event(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, "event not found")
	}
	if event.Organizer != c.Organizer {
		return e.rejectWithRefund(c, "not the event organizer")
	}

	removed, err := e.store.DeleteEvent(c.EventID)
	if err != nil {
		return e.rejectWithRefund(c, err.Error())
	}

	out := &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
		StateChanges: []StateChange{{
			Kind:    ChangeEventDelete,
			EventID: c.EventID,
		}},
	}
	for _, listing := range removed {
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:      ChangeListingDelete,
			PublicKey: listing.PublicKey,
		})
	}
	if event.StorageCharged > 0 {
		_ = e.ledger.Credit(c.Organizer, event.StorageCharged)
		out.Journal = append(out.Journal,
			e.newEntry(c.CommandID, c.Organizer, event.StorageCharged, ledger.EntryStorageRefund, c.At))
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:    ChangeBalanceSet,
			Account: c.Organizer,
			Balance: e.ledger.Balance(c.Organizer),
		})
	}
	return out
}

func (e *Engine) chargeCatalogStorage(out *Output, ref, organizer string, charge int64, ts time.Time) {
	if charge <= 0 {
		return
	}
	// Pre-checked against the balance; a failure here is a bug.
	if err := e.ledger.Debit(organizer, charge); err != nil {
		panic("FATAL: catalog storage debit failed after balance pre-check: " + err.Error())
	}
	out.Journal = append(out.Journal,
		e.newEntry(ref, organizer, -charge, ledger.EntryStorageCharge, ts))
	out.StateChanges = append(out.StateChanges, StateChange{
		Kind:    ChangeBalanceSet,
		Account: organizer,
		Balance: e.ledger.Balance(organizer),
	})
}

func (e *Engine) upsertEventState(out *Output, event *market.Event) {
	out.StateChanges = append(out.StateChanges, StateChange{
		Kind:  ChangeEventUpsert,
		Event: event,
	})
	for _, tier := range event.Tiers {
		out.StateChanges = append(out.StateChanges, StateChange{
			Kind:    ChangeTierUpsert,
			EventID: event.EventID,
			Tier:    tier,
		})
	}
}
