package settlement

import (
	"encoding/json"
	"fmt"

	"TicketLedger/internal/registry"
)

// Continuation payloads ride inside registry requests and come back verbatim
// in the result message. They carry the entire pending settlement, so a
// restart between request and result loses nothing.

const (
	continuationPrimary = "primary"
	continuationResale  = "resale"
)

// PrimaryStage marks how far a primary sale has progressed.
type PrimaryStage string

const (
	// StageCapacityCheck waits on a drop info result before minting.
	StageCapacityCheck PrimaryStage = "CAPACITY_CHECK"
	// StageMint waits on the mint result to finalize.
	StageMint PrimaryStage = "MINT"
)

// PrimarySaleContext is the pending state of a primary sale.
type PrimarySaleContext struct {
	Type          string             `json:"type"`
	Stage         PrimaryStage       `json:"stage"`
	SettlementID  string             `json:"settlement_id"`
	Buyer         string             `json:"buyer"`
	EventID       string             `json:"event_id"`
	DropID        string             `json:"drop_id"`
	Organizer     string             `json:"organizer"`
	Keys          []registry.KeyData `json:"keys"`
	AttachedFunds int64              `json:"attached_funds"`
	// HeldFunds is what the engine still holds for this settlement. It
	// shrinks when the mint deposit is carved out of the attached payment.
	HeldFunds   int64 `json:"held_funds"`
	TicketPrice int64 `json:"ticket_price"`
	StorageCost int64 `json:"storage_cost"`
	// FreeTicket means the storage deposit came from the organizer's
	// pre-funded balance, not the attached payment.
	FreeTicket  bool    `json:"free_ticket"`
	RelayFunded bool    `json:"relay_funded"`
	MaxKeys     *uint64 `json:"max_keys,omitempty"`
}

// ResaleContext is the pending state of a resale purchase.
type ResaleContext struct {
	Type          string `json:"type"`
	SettlementID  string `json:"settlement_id"`
	Buyer         string `json:"buyer"`
	EventID       string `json:"event_id"`
	DropID        string `json:"drop_id"`
	PublicKey     string `json:"public_key"`
	NewPublicKey  string `json:"new_public_key"`
	Seller        string `json:"seller"`
	AttachedFunds int64  `json:"attached_funds"`
	SalePrice     int64  `json:"sale_price"`
	RelayFunded   bool   `json:"relay_funded"`
}

func encodePrimaryContext(pc *PrimarySaleContext) json.RawMessage {
	pc.Type = continuationPrimary
	data, err := json.Marshal(pc)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal primary sale context: %v", err))
	}
	return data
}

func encodeResaleContext(rc *ResaleContext) json.RawMessage {
	rc.Type = continuationResale
	data, err := json.Marshal(rc)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal resale context: %v", err))
	}
	return data
}

func decodePrimaryContext(raw json.RawMessage) (*PrimarySaleContext, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty continuation")
	}
	var pc PrimarySaleContext
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("decode primary sale context: %w", err)
	}
	if pc.Type != continuationPrimary {
		return nil, fmt.Errorf("continuation type %q is not a primary sale", pc.Type)
	}
	if pc.SettlementID == "" || pc.Buyer == "" {
		return nil, fmt.Errorf("primary sale context missing settlement id or buyer")
	}
	return &pc, nil
}

func decodeResaleContext(raw json.RawMessage) (*ResaleContext, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty continuation")
	}
	var rc ResaleContext
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("decode resale context: %w", err)
	}
	if rc.Type != continuationResale {
		return nil, fmt.Errorf("continuation type %q is not a resale", rc.Type)
	}
	if rc.SettlementID == "" || rc.Buyer == "" {
		return nil, fmt.Errorf("resale context missing settlement id or buyer")
	}
	return &rc, nil
}
