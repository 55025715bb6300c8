package settlement

import "TicketLedger/internal/command"

// handleSetFreeze toggles the global freeze. Owner only. Registry results
// for in-flight settlements keep processing while frozen; everything else
// bounces at the engine gate.
func (e *Engine) handleSetFreeze(c *command.SetFreeze) *Output {
	if c.Owner != e.cfg.Owner {
		return e.rejectWithRefund(c, "not the owner")
	}
	e.frozen = c.Frozen

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
		StateChanges: []StateChange{{
			Kind:   ChangeFreezeSet,
			Frozen: c.Frozen,
		}},
	}
}

// handleUpdateConfig applies owner changes to the runtime settings. Nil
// fields stay untouched. Settings live in the environment; runtime updates
// last until the next restart.
func (e *Engine) handleUpdateConfig(c *command.UpdateConfig) *Output {
	if c.Owner != e.cfg.Owner {
		return e.rejectWithRefund(c, "not the owner")
	}

	if c.MarkupPercent != nil {
		e.cfg.MarkupPercent = *c.MarkupPercent
	}
	if c.PriceFloor != nil {
		e.cfg.PriceFloor = *c.PriceFloor
	}
	if c.RegistryAccount != nil {
		e.cfg.RegistryAccount = *c.RegistryAccount
	}
	if c.RelayAccount != nil {
		e.cfg.RelayAccount = *c.RelayAccount
	}
	if c.BaseKeyStorageBytes != nil {
		e.cfg.BaseKeyStorageBytes = *c.BaseKeyStorageBytes
	}
	if c.ByteCost != nil {
		e.cfg.ByteCost = *c.ByteCost
	}
	if c.SafetyFactorBps != nil {
		e.cfg.SafetyFactorBps = *c.SafetyFactorBps
	}
	if c.MaxMetadataBytes != nil {
		e.cfg.MaxMetadataBytes = *c.MaxMetadataBytes
	}

	return &Output{
		Envelope: &Envelope{
			SettlementRef: c.CommandID,
			Outcome:       OutcomeSettled,
		},
	}
}
