package settlement

import (
	"time"

	"github.com/google/uuid"

	"TicketLedger/internal/command"
	"TicketLedger/internal/ledger"
	"TicketLedger/internal/market"
	"TicketLedger/internal/registry"
)

// Outcome states how a command left the engine.
type Outcome string

const (
	// OutcomeSettled means the settlement completed in this step.
	OutcomeSettled Outcome = "SETTLED"
	// OutcomePending means money is held and a registry result will finish
	// the settlement later.
	OutcomePending Outcome = "PENDING"
	// OutcomeRejected means validation failed before any side effect; any
	// attached funds are refunded in full.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeFailed means a registry call came back failed and the
	// settlement was compensated.
	OutcomeFailed Outcome = "FAILED"
)

// Envelope wraps every processed command in the durable command log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence uint64

	// Stable idempotency key from the command
	IdempotencyKey string

	CommandType command.CommandType

	// SettlementRef groups the steps of one multi-phase settlement
	SettlementRef string

	Outcome Outcome
	Reason  string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time
}

// Transfer is one outward payment instruction. Published to the payment rail
// after the step is durable.
type Transfer struct {
	TransferID    uuid.UUID
	SettlementRef string
	Recipient     string
	Amount        int64
	Reason        string
}

// StateChangeKind discriminates state mutations for the durable store.
type StateChangeKind int32

const (
	ChangeEventUpsert StateChangeKind = iota + 1
	ChangeEventDelete
	ChangeTierUpsert
	ChangeListingUpsert
	ChangeListingDelete
	ChangeBalanceSet
	ChangeFreezeSet
)

// StateChange carries one current-state mutation produced by a step. The
// persistence worker applies these in the same transaction as the command
// log append.
type StateChange struct {
	Kind StateChangeKind

	Event     *market.Event
	EventID   string
	Tier      *market.TicketTier
	Listing   *market.Listing
	PublicKey string
	Account   string
	Balance   int64
	Frozen    bool
}

// Output is everything one processed command produced. The persistence
// worker writes it atomically, then forwards requests and transfers to
// their publishers.
type Output struct {
	Envelope         *Envelope
	Journal          []ledger.Entry
	Transfers        []Transfer
	RegistryRequests []registry.Request
	StateChanges     []StateChange
}
