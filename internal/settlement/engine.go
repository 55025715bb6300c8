package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"TicketLedger/internal/command"
	"TicketLedger/internal/ledger"
	"TicketLedger/internal/market"
	"TicketLedger/internal/observability"
)

// Engine is the single-threaded settlement processor. All marketplace state
// lives behind it; every mutation arrives as a typed command and leaves as
// one Output written to the durable log before its side effects publish.
type Engine struct {
	sequence uint64
	cfg      *Config
	frozen   bool

	ledger      *ledger.Ledger
	store       *market.Store
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	// pendingSettlements counts requests in flight at the registry. Held
	// funds are tracked inside continuations, not here; the counter exists
	// for the gauge only.
	pendingSettlements int64

	persistChan chan<- Output
}

func NewEngine(
	startSequence uint64,
	cfg *Config,
	led *ledger.Ledger,
	store *market.Store,
	persistChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		sequence:    startSequence,
		cfg:         cfg,
		ledger:      led,
		store:       store,
		idempotency: NewIdempotencyChecker(1_000_000, dbChecker),
		metrics:     metrics,
		logger:      logger,
		persistChan: persistChan,
	}
}

// SetFrozen restores the freeze flag during startup replay.
func (e *Engine) SetFrozen(frozen bool) { e.frozen = frozen }

// Run consumes commands until the channel closes or ctx is done. The caller
// owns the channel; closing it is the shutdown signal.
func (e *Engine) Run(commands <-chan command.Command) {
	for cmd := range commands {
		if err := e.Process(cmd); err != nil {
			e.logger.Error().
				Err(err).
				Str("command_type", cmd.CommandType().String()).
				Str("idempotency_key", cmd.IdempotencyKey()).
				Msg("command processing failed")
		}
	}
}

// Process is the main processing pipeline.
func (e *Engine) Process(cmd command.Command) error {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	if e.idempotency.IsDuplicate(cmdType, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.CommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return nil
	}

	// Step 2: Freeze gate. Registry results always pass, otherwise money
	// already in flight could never come back. Owner admin passes so the
	// freeze can be lifted.
	var output *Output
	var err error
	if e.frozen && !exemptFromFreeze(cmd) {
		output = e.rejectWithRefund(cmd, "marketplace frozen")
	} else {
		output, err = e.dispatch(cmd)
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", cmdType, err)
		}
	}

	// Step 3: Conservation check. Every step must account for exactly the
	// money that entered it. A violation is a bug, not an input error.
	if err := e.reconcile(cmd, output); err != nil {
		panic(fmt.Sprintf("FATAL: settlement out of balance: %v", err))
	}
	for _, entry := range output.Journal {
		if err := e.ledger.ValidateNonNegative(entry.Account); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	// Step 4: Seal the envelope.
	output.Envelope.Sequence = e.sequence
	output.Envelope.IdempotencyKey = idempotencyKey
	output.Envelope.CommandType = cmd.CommandType()
	output.Envelope.Timestamp = cmd.Timestamp()
	e.sequence++

	// Step 5: Blocking send to persistence. The engine stalls until the
	// worker drains; side effects only publish after the commit.
	e.persistChan <- *output

	// Step 6: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(cmdType, idempotencyKey)

	e.recordMetrics(cmdType, output, time.Since(start))
	return nil
}

func (e *Engine) dispatch(cmd command.Command) (*Output, error) {
	switch c := cmd.(type) {
	case *command.BuyPrimary:
		return e.handleBuyPrimary(c), nil
	case *command.BuyResale:
		return e.handleBuyResale(c), nil
	case *command.DropInfoResult:
		return e.handleDropInfoResult(c)
	case *command.MintResult:
		return e.handleMintResult(c)
	case *command.TransferResult:
		return e.handleTransferResult(c)
	case *command.ListForResale:
		return e.handleListForResale(c), nil
	case *command.RevokeListing:
		return e.handleRevokeListing(c), nil
	case *command.ChangeResalePrice:
		return e.handleChangeResalePrice(c), nil
	case *command.LedgerDeposit:
		return e.handleLedgerDeposit(c), nil
	case *command.LedgerWithdraw:
		return e.handleLedgerWithdraw(c), nil
	case *command.CreateEvent:
		return e.handleCreateEvent(c), nil
	case *command.AddTiers:
		return e.handleAddTiers(c), nil
	case *command.ModifyTierPrices:
		return e.handleModifyTierPrices(c), nil
	case *command.ModifyMaxKeys:
		return e.handleModifyMaxKeys(c), nil
	case *command.SetEventStatus:
		return e.handleSetEventStatus(c), nil
	case *command.SetResaleStatus:
		return e.handleSetResaleStatus(c), nil
	case *command.DeleteEvent:
		return e.handleDeleteEvent(c), nil
	case *command.SetFreeze:
		return e.handleSetFreeze(c), nil
	case *command.UpdateConfig:
		return e.handleUpdateConfig(c), nil
	default:
		return nil, fmt.Errorf("unknown command type %T", cmd)
	}
}

func exemptFromFreeze(cmd command.Command) bool {
	switch cmd.CommandType() {
	case command.CommandTypeMintResult,
		command.CommandTypeDropInfoResult,
		command.CommandTypeTransferResult,
		command.CommandTypeSetFreeze,
		command.CommandTypeUpdateConfig:
		return true
	default:
		return false
	}
}

// attachedFunds returns the money a command carries in, if any.
func attachedFunds(cmd command.Command) int64 {
	switch c := cmd.(type) {
	case *command.BuyPrimary:
		return c.AttachedFunds
	case *command.BuyResale:
		return c.AttachedFunds
	case *command.LedgerDeposit:
		return c.Amount
	default:
		return 0
	}
}

// rejectWithRefund builds a rejection output returning any attached funds in
// full. Used for the freeze gate and by handlers for validation failures.
func (e *Engine) rejectWithRefund(cmd command.Command, reason string) *Output {
	out := &Output{
		Envelope: &Envelope{
			SettlementRef: cmd.IdempotencyKey(),
			Outcome:       OutcomeRejected,
			Reason:        reason,
		},
	}
	if attached := attachedFunds(cmd); attached > 0 {
		out.Transfers = append(out.Transfers, Transfer{
			TransferID:    uuid.New(),
			SettlementRef: cmd.IdempotencyKey(),
			Recipient:     cmd.Actor(),
			Amount:        attached,
			Reason:        "refund: " + reason,
		})
	}
	return out
}

func (e *Engine) recordMetrics(cmdType string, output *Output, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.CommandsApplied.WithLabelValues(cmdType, string(output.Envelope.Outcome)).Inc()
	e.metrics.CommandDuration.WithLabelValues(cmdType).Observe(elapsed.Seconds())
	e.metrics.EngineSequence.Set(float64(e.sequence))
	e.metrics.LedgerTotalHeld.Set(float64(e.ledger.TotalHeld()))
	e.metrics.ActiveListings.Set(float64(e.store.ListingCount()))
	e.metrics.SettlementsPending.Set(float64(e.pendingSettlements))
	for _, entry := range output.Journal {
		e.metrics.JournalEntries.WithLabelValues(string(entry.Kind)).Inc()
	}
	for _, tr := range output.Transfers {
		e.metrics.TransfersIssued.WithLabelValues(tr.Reason).Inc()
	}
	for _, req := range output.RegistryRequests {
		e.metrics.RegistryRequests.WithLabelValues(string(req.Kind)).Inc()
	}
}

// newEntry builds a journal entry stamped with the engine's sequence.
func (e *Engine) newEntry(settlementRef, account string, delta int64, kind ledger.EntryKind, ts time.Time) ledger.Entry {
	return ledger.NewEntry(settlementRef, account, delta, kind, e.sequence, ts)
}
