package query

import "time"

// BalanceResponse is a single pre-funded account balance.
type BalanceResponse struct {
	Account      string `json:"account"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TierResponse is one sellable ticket tier of an event.
type TierResponse struct {
	DropID    string     `json:"drop_id"`
	Price     int64      `json:"price"`
	MaxKeys   *int64     `json:"max_keys,omitempty"`
	SaleStart *time.Time `json:"sale_start,omitempty"`
	SaleEnd   *time.Time `json:"sale_end,omitempty"`
}

// EventResponse is a catalog event with its tiers.
type EventResponse struct {
	EventID        string         `json:"event_id"`
	Organizer      string         `json:"organizer"`
	Name           string         `json:"name"`
	Metadata       string         `json:"metadata,omitempty"`
	Status         string         `json:"status"`
	StorageCharged int64          `json:"storage_charged"`
	CreatedAt      time.Time      `json:"created_at"`
	Tiers          []TierResponse `json:"tiers"`
	AsOfSequence   int64          `json:"as_of_sequence"`
}

// ListingResponse is an active resale offer.
type ListingResponse struct {
	PublicKey    string    `json:"public_key"`
	DropID       string    `json:"drop_id"`
	EventID      string    `json:"event_id"`
	Seller       string    `json:"seller"`
	Price        int64     `json:"price"`
	ListedAt     time.Time `json:"listed_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// SettlementStep is one processed command belonging to a settlement.
type SettlementStep struct {
	Sequence       int64     `json:"sequence"`
	CommandType    string    `json:"command_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SettlementResponse is the full trace of a settlement: every command that
// touched it, the journal entries it produced, and the payments it issued.
type SettlementResponse struct {
	SettlementRef string           `json:"settlement_ref"`
	Steps         []SettlementStep `json:"steps"`
	Journal       []JournalEntry   `json:"journal"`
	Transfers     []TransferRecord `json:"transfers"`
	AsOfSequence  int64            `json:"as_of_sequence"`
}

// JournalEntry is one ledger movement for API queries.
type JournalEntry struct {
	EntryID       string    `json:"entry_id"`
	SettlementRef string    `json:"settlement_ref"`
	Account       string    `json:"account"`
	Delta         int64     `json:"delta"`
	Kind          string    `json:"kind"`
	Sequence      int64     `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransferRecord is one outbound payment instruction for API queries.
type TransferRecord struct {
	TransferID    string `json:"transfer_id"`
	SettlementRef string `json:"settlement_ref"`
	Recipient     string `json:"recipient"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}
