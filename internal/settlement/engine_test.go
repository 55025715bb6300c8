package settlement_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"TicketLedger/internal/command"
	"TicketLedger/internal/ledger"
	"TicketLedger/internal/market"
	"TicketLedger/internal/registry"
	"TicketLedger/internal/settlement"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testRig struct {
	engine  *settlement.Engine
	ledger  *ledger.Ledger
	store   *market.Store
	persist chan settlement.Output
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	cfg := &settlement.Config{
		Owner:               "owner.test",
		RegistryAccount:     "registry.test",
		RelayAccount:        "relay.test",
		BaseKeyStorageBytes: 100,
		ByteCost:            10,
		SafetyFactorBps:     10_000,
		MaxMetadataBytes:    1_000,
		MarkupPercent:       150,
		PriceFloor:          1_000,
		MaxPayoutEntries:    10,
		PayoutTolerance:     1,
	}
	led := ledger.NewLedger()
	store := market.NewStore()
	persist := make(chan settlement.Output, 64)
	engine := settlement.NewEngine(1, cfg, led, store, persist, nil, nil, zerolog.Nop())
	return &testRig{engine: engine, ledger: led, store: store, persist: persist}
}

// process runs one command and returns its output.
func (r *testRig) process(t *testing.T, cmd command.Command) settlement.Output {
	t.Helper()
	if err := r.engine.Process(cmd); err != nil {
		t.Fatalf("process %s: %v", cmd.CommandType(), err)
	}
	select {
	case out := <-r.persist:
		return out
	default:
		t.Fatalf("process %s produced no output", cmd.CommandType())
		return settlement.Output{}
	}
}

// seedEvent loads a one-tier event directly, the way startup replay would.
func (r *testRig) seedEvent(eventID, organizer, dropID string, price int64, maxKeys *uint64) {
	r.store.RestoreEvent(&market.Event{
		EventID:   eventID,
		Organizer: organizer,
		Name:      "Seeded Event",
		Status:    market.StatusActive,
		CreatedAt: testTime,
		Tiers: map[string]*market.TicketTier{
			dropID: {DropID: dropID, Price: price, MaxKeys: maxKeys},
		},
	})
}

func transferTo(out settlement.Output, recipient string) int64 {
	var total int64
	for _, tr := range out.Transfers {
		if tr.Recipient == recipient {
			total += tr.Amount
		}
	}
	return total
}

func transferTotal(out settlement.Output) int64 {
	var total int64
	for _, tr := range out.Transfers {
		total += tr.Amount
	}
	return total
}

func oneKey() []registry.KeyData {
	return []registry.KeyData{{PublicKey: "key-1"}}
}

// Storage cost for one metadata-free key under the test config.
const keyStorage = 1_000

// ============================================================================
// Test: primary sales
// ============================================================================

func TestPrimarySale_HappyPath(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomePending {
		t.Fatalf("got outcome %s, want PENDING", out.Envelope.Outcome)
	}
	if len(out.Transfers) != 0 {
		t.Fatal("nothing may be disbursed before the mint result")
	}
	if len(out.RegistryRequests) != 1 {
		t.Fatalf("got %d registry requests, want 1", len(out.RegistryRequests))
	}
	req := out.RegistryRequests[0]
	if req.Kind != registry.KindMintKeys {
		t.Fatalf("got request kind %s, want MINT_KEYS", req.Kind)
	}
	if req.Deposit != keyStorage {
		t.Errorf("mint deposit %d, want %d", req.Deposit, keyStorage)
	}
	if len(req.Continuation) == 0 {
		t.Fatal("mint request must carry the settlement continuation")
	}

	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: true,
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", final.Envelope.Outcome)
	}
	// Organizer receives the price minus the storage the mint consumed.
	if got := transferTo(final, "organizer.test"); got != 10_000-keyStorage {
		t.Errorf("organizer received %d, want %d", got, 10_000-keyStorage)
	}
	if got := transferTotal(final); got != 10_000-keyStorage {
		t.Errorf("disbursed %d of 10_000 attached, want %d", got, 10_000-keyStorage)
	}
}

func TestPrimarySale_OverpaymentRefunded(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_500, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: true,
		Continuation: req.Continuation, At: testTime,
	})
	if got := transferTo(final, "alice.test"); got != 500 {
		t.Errorf("buyer refunded %d, want 500", got)
	}
}

func TestPrimarySale_MintFailureRefundsEverything(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: false, Reason: "registry unavailable",
		ReturnedDeposit: req.Deposit, Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeFailed {
		t.Fatalf("got outcome %s, want FAILED", final.Envelope.Outcome)
	}
	if got := transferTo(final, "alice.test"); got != 10_000 {
		t.Errorf("buyer refunded %d, want the full 10_000", got)
	}
	if got := transferTo(final, "organizer.test"); got != 0 {
		t.Errorf("organizer received %d on a failed mint", got)
	}
}

func TestPrimarySale_InsufficientFundsRejected(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 9_999, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
	if got := transferTo(out, "alice.test"); got != 9_999 {
		t.Errorf("buyer refunded %d, want 9_999", got)
	}
	if len(out.RegistryRequests) != 0 {
		t.Error("rejected purchase must not reach the registry")
	}
}

func TestPrimarySale_UnknownDropRejected(t *testing.T) {
	r := newTestRig(t)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-x",
		Keys: oneKey(), AttachedFunds: 5_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
	if got := transferTotal(out); got != 5_000 {
		t.Errorf("refunded %d, want 5_000", got)
	}
}

func TestPrimarySale_SaleWindowClosed(t *testing.T) {
	r := newTestRig(t)
	r.store.RestoreEvent(&market.Event{
		EventID: "ev-1", Organizer: "organizer.test", Status: market.StatusActive,
		Tiers: map[string]*market.TicketTier{
			"drop-a": {DropID: "drop-a", Price: 10_000, SaleEnd: testTime.Add(-time.Hour)},
		},
	})

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

func TestPrimarySale_FreeTierFundedByOrganizer(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 0, nil)
	r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "organizer.test", Amount: 5_000, At: testTime,
	})

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 0, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomePending {
		t.Fatalf("got outcome %s, want PENDING", out.Envelope.Outcome)
	}
	if got := r.ledger.Balance("organizer.test"); got != 5_000-keyStorage {
		t.Errorf("organizer balance %d, want %d", got, 5_000-keyStorage)
	}
	req := out.RegistryRequests[0]

	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: true, ReturnedDeposit: 200,
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", final.Envelope.Outcome)
	}
	// Unspent storage deposit lands back on the organizer's balance.
	if got := r.ledger.Balance("organizer.test"); got != 5_000-keyStorage+200 {
		t.Errorf("organizer balance %d, want %d", got, 5_000-keyStorage+200)
	}
}

func TestPrimarySale_FreeTierInsufficientOrganizerBalance(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 0, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 0, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

func TestPrimarySale_FreeTierMintFailureRestoresOrganizer(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 0, nil)
	r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "organizer.test", Amount: 5_000, At: testTime,
	})

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 0, At: testTime,
	})
	req := out.RegistryRequests[0]

	r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: false, Reason: "registry unavailable",
		ReturnedDeposit: req.Deposit, Continuation: req.Continuation, At: testTime,
	})
	if got := r.ledger.Balance("organizer.test"); got != 5_000 {
		t.Errorf("organizer balance %d after compensation, want 5_000", got)
	}
}

func TestPrimarySale_RelayCoversOnlyStorage(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: keyStorage, RelayFunded: true, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomePending {
		t.Fatalf("got outcome %s, want PENDING", out.Envelope.Outcome)
	}
	req := out.RegistryRequests[0]

	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: true,
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", final.Envelope.Outcome)
	}
	// Price settled off-platform: no organizer payment, nothing left over.
	if got := transferTotal(final); got != 0 {
		t.Errorf("disbursed %d, want 0", got)
	}
}

func TestPrimarySale_RelayFailureRefundsRelay(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: keyStorage, RelayFunded: true, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: false, Reason: "registry unavailable",
		ReturnedDeposit: req.Deposit, Continuation: req.Continuation, At: testTime,
	})
	// The relay fronted the money, so the refund goes to it, not the buyer.
	if got := transferTo(final, "relay.test"); got != keyStorage {
		t.Errorf("relay refunded %d, want %d", got, keyStorage)
	}
	if got := transferTo(final, "alice.test"); got != 0 {
		t.Errorf("buyer refunded %d, want 0", got)
	}
}

// ============================================================================
// Test: capacity-capped tiers
// ============================================================================

func TestCappedTier_ChecksCapacityBeforeMint(t *testing.T) {
	r := newTestRig(t)
	max := uint64(100)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, &max)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	if out.RegistryRequests[0].Kind != registry.KindGetDropInfo {
		t.Fatalf("got kind %s, want GET_DROP_INFO first", out.RegistryRequests[0].Kind)
	}
	if out.RegistryRequests[0].Deposit != 0 {
		t.Error("capacity check must not carry money")
	}
	req := out.RegistryRequests[0]

	chained := r.process(t, &command.DropInfoResult{
		RequestID: req.RequestID, Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 50},
		Continuation: req.Continuation, At: testTime,
	})
	if chained.Envelope.Outcome != settlement.OutcomePending {
		t.Fatalf("got outcome %s, want PENDING", chained.Envelope.Outcome)
	}
	if chained.RegistryRequests[0].Kind != registry.KindMintKeys {
		t.Fatalf("got kind %s, want MINT_KEYS after capacity check", chained.RegistryRequests[0].Kind)
	}
}

func TestCappedTier_SoldOutRefunds(t *testing.T) {
	r := newTestRig(t)
	max := uint64(100)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, &max)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.DropInfoResult{
		RequestID: req.RequestID, Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 100},
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeFailed {
		t.Fatalf("got outcome %s, want FAILED", final.Envelope.Outcome)
	}
	if got := transferTo(final, "alice.test"); got != 10_000 {
		t.Errorf("buyer refunded %d, want 10_000", got)
	}
}

func TestCappedTier_RaceAtLastKeyOnlyOneSettles(t *testing.T) {
	r := newTestRig(t)
	max := uint64(100)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, &max)

	// Two buyers race for the last key. Both capacity checks read the same
	// stale count, so both proceed to mint; the registry enforces the cap.
	first := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	second := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-2", Buyer: "carol.test", DropID: "drop-a",
		Keys: []registry.KeyData{{PublicKey: "key-2"}}, AttachedFunds: 10_000, At: testTime,
	})

	infoA := first.RegistryRequests[0]
	infoB := second.RegistryRequests[0]
	mintA := r.process(t, &command.DropInfoResult{
		RequestID: infoA.RequestID, Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 99},
		Continuation: infoA.Continuation, At: testTime,
	}).RegistryRequests[0]
	mintB := r.process(t, &command.DropInfoResult{
		RequestID: infoB.RequestID, Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 99},
		Continuation: infoB.Continuation, At: testTime,
	}).RegistryRequests[0]

	won := r.process(t, &command.MintResult{
		RequestID: mintA.RequestID, Succeeded: true,
		Continuation: mintA.Continuation, At: testTime,
	})
	lost := r.process(t, &command.MintResult{
		RequestID: mintB.RequestID, Succeeded: false, Reason: "drop sold out",
		ReturnedDeposit: mintB.Deposit, Continuation: mintB.Continuation, At: testTime,
	})

	if won.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("winner got outcome %s, want SETTLED", won.Envelope.Outcome)
	}
	if lost.Envelope.Outcome != settlement.OutcomeFailed {
		t.Fatalf("loser got outcome %s, want FAILED", lost.Envelope.Outcome)
	}
	if got := transferTo(lost, "carol.test"); got != 10_000 {
		t.Errorf("loser refunded %d, want the full 10_000", got)
	}
	if got := transferTo(lost, "organizer.test"); got != 0 {
		t.Errorf("organizer received %d from the losing attempt", got)
	}
}

func TestCappedTier_MintStageEchoDoesNotRemint(t *testing.T) {
	r := newTestRig(t)
	max := uint64(100)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, &max)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	info := out.RegistryRequests[0]
	mint := r.process(t, &command.DropInfoResult{
		RequestID: info.RequestID, Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 50},
		Continuation: info.Continuation, At: testTime,
	}).RegistryRequests[0]

	// The mint-stage continuation echoed back on the capacity-check subject
	// must not carve the storage deposit out a second time.
	echo := r.process(t, &command.DropInfoResult{
		RequestID: "r-echo", Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 50},
		Continuation: mint.Continuation, At: testTime,
	})
	if echo.Envelope.Outcome != settlement.OutcomeFailed {
		t.Fatalf("got outcome %s, want FAILED on a stage mismatch", echo.Envelope.Outcome)
	}
	if len(echo.RegistryRequests) != 0 {
		t.Error("stage mismatch must not dispatch another mint")
	}
	if got := transferTotal(echo); got != 0 {
		t.Errorf("stage mismatch moved %d", got)
	}

	// The genuine mint result still settles.
	final := r.process(t, &command.MintResult{
		RequestID: mint.RequestID, Succeeded: true,
		Continuation: mint.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", final.Envelope.Outcome)
	}
}

func TestCappedTier_LastKeyStillSells(t *testing.T) {
	r := newTestRig(t)
	max := uint64(100)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, &max)

	out := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	req := out.RegistryRequests[0]

	chained := r.process(t, &command.DropInfoResult{
		RequestID: req.RequestID, Succeeded: true,
		Info:         registry.DropInfo{DropID: "drop-a", NextKeyID: 99},
		Continuation: req.Continuation, At: testTime,
	})
	if chained.Envelope.Outcome != settlement.OutcomePending {
		t.Fatalf("got outcome %s, want PENDING for the last key", chained.Envelope.Outcome)
	}
}

// ============================================================================
// Test: resales
// ============================================================================

func seedListing(r *testRig, price int64) {
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)
	r.store.RestoreListing(&market.Listing{
		PublicKey: "pk-1", DropID: "drop-a", EventID: "ev-1",
		Seller: "bob.test", Price: price, ApprovalID: 7,
	})
}

func TestResale_HappyPath(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "alice.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1-new", AttachedFunds: 12_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomePending {
		t.Fatalf("got outcome %s, want PENDING", out.Envelope.Outcome)
	}
	req := out.RegistryRequests[0]
	if req.Kind != registry.KindTransferWithPayout {
		t.Fatalf("got kind %s, want TRANSFER_WITH_PAYOUT", req.Kind)
	}
	if req.ApprovalID != 7 {
		t.Errorf("got approval id %d, want 7", req.ApprovalID)
	}

	final := r.process(t, &command.TransferResult{
		RequestID: req.RequestID, Succeeded: true,
		Payout:       registry.Payout{"bob.test": 12_000},
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", final.Envelope.Outcome)
	}
	if got := transferTo(final, "bob.test"); got != 12_000 {
		t.Errorf("seller received %d, want 12_000", got)
	}
	if _, err := r.store.Listing("pk-1"); err == nil {
		t.Error("listing still active after settled resale")
	}
}

func TestResale_RoyaltySplitWithClaimLink(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "alice.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1-new", AttachedFunds: 12_000, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.TransferResult{
		RequestID: req.RequestID, Succeeded: true,
		Payout: registry.Payout{
			"bob.test":       10_000,
			"organizer.test": 1_000,
			"registry.test":  1_000,
		},
		Continuation: req.Continuation, At: testTime,
	})
	if got := transferTo(final, "bob.test"); got != 10_000 {
		t.Errorf("seller received %d, want 10_000", got)
	}
	if got := transferTo(final, "organizer.test"); got != 1_000 {
		t.Errorf("organizer royalty %d, want 1_000", got)
	}
	// The registry's own share becomes a claim link, not a transfer.
	if got := transferTo(final, "registry.test"); got != 0 {
		t.Errorf("registry share paid as transfer: %d", got)
	}
	var claims int
	for _, rr := range final.RegistryRequests {
		if rr.Kind != registry.KindCreateClaim || rr.Amount != 1_000 {
			continue
		}
		claims++
		if rr.PublicKey == "" {
			t.Error("claim link missing key material")
		}
		if rr.ClaimID == "" {
			t.Error("claim link missing claim id")
		}
		// The escrow is recorded against the seller, who hands the claim
		// key to the intended recipient.
		if rr.Receiver != "bob.test" {
			t.Errorf("claim escrowed for %q, want bob.test", rr.Receiver)
		}
	}
	if claims != 1 {
		t.Errorf("got %d claim links, want 1", claims)
	}
}

func TestResale_InvalidPayoutRefundsAndKeepsListing(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "alice.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1-new", AttachedFunds: 12_000, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.TransferResult{
		RequestID: req.RequestID, Succeeded: true,
		Payout:       registry.Payout{"bob.test": 9_000},
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeFailed {
		t.Fatalf("got outcome %s, want FAILED", final.Envelope.Outcome)
	}
	if got := transferTo(final, "alice.test"); got != 12_000 {
		t.Errorf("buyer refunded %d, want 12_000", got)
	}
	if _, err := r.store.Listing("pk-1"); err != nil {
		t.Error("listing must survive an invalid payout")
	}
}

func TestResale_TransferFailureRefundsAndKeepsListing(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "alice.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1-new", AttachedFunds: 12_000, At: testTime,
	})
	req := out.RegistryRequests[0]

	final := r.process(t, &command.TransferResult{
		RequestID: req.RequestID, Succeeded: false, Reason: "approval consumed",
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeFailed {
		t.Fatalf("got outcome %s, want FAILED", final.Envelope.Outcome)
	}
	if got := transferTo(final, "alice.test"); got != 12_000 {
		t.Errorf("buyer refunded %d, want 12_000", got)
	}
	if _, err := r.store.Listing("pk-1"); err != nil {
		t.Error("listing must survive a failed transfer")
	}
}

func TestResale_BuyOwnListingRejected(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "bob.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1-new", AttachedFunds: 12_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

func TestResale_SameReplacementKeyRejected(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	// Without a rotation the seller keeps access to the key after the sale.
	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "alice.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1", AttachedFunds: 12_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
	if len(out.RegistryRequests) != 0 {
		t.Error("degenerate self-transfer must not reach the registry")
	}
	if got := transferTo(out, "alice.test"); got != 12_000 {
		t.Errorf("buyer refunded %d, want 12_000", got)
	}
}

func TestResale_SuspendedEventRejected(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)
	ev, _ := r.store.Event("ev-1")
	ev.Status = market.StatusResalesSuspended

	out := r.process(t, &command.BuyResale{
		PurchaseID: "p-1", Buyer: "alice.test", PublicKey: "pk-1",
		NewPublicKey: "pk-1-new", AttachedFunds: 12_000, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
	if got := transferTo(out, "alice.test"); got != 12_000 {
		t.Errorf("buyer refunded %d, want 12_000", got)
	}
}

// ============================================================================
// Test: listings
// ============================================================================

func TestListing_ApprovalClampsPrice(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	r.process(t, &command.ListForResale{
		ApprovalKey: "a-1", Seller: "bob.test", DropID: "drop-a",
		PublicKey: "pk-1", ApprovalID: 1, AskingPrice: 99_000, At: testTime,
	})
	l, err := r.store.Listing("pk-1")
	if err != nil {
		t.Fatalf("listing missing: %v", err)
	}
	// 1.5x of 10_000.
	if l.Price != 15_000 {
		t.Errorf("listed at %d, want ceiling 15_000", l.Price)
	}

	r.process(t, &command.ListForResale{
		ApprovalKey: "a-2", Seller: "bob.test", DropID: "drop-a",
		PublicKey: "pk-2", ApprovalID: 2, AskingPrice: 1, At: testTime,
	})
	l2, _ := r.store.Listing("pk-2")
	if l2.Price != 1_000 {
		t.Errorf("listed at %d, want floor 1_000", l2.Price)
	}
}

func TestListing_RevokeOnlyBySeller(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	out := r.process(t, &command.RevokeListing{
		CommandID: "c-1", Seller: "mallory.test", PublicKey: "pk-1", At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}

	out = r.process(t, &command.RevokeListing{
		CommandID: "c-2", Seller: "bob.test", PublicKey: "pk-1", At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", out.Envelope.Outcome)
	}
	if _, err := r.store.Listing("pk-1"); err == nil {
		t.Error("listing still active after revoke")
	}
}

func TestListing_ChangePriceClamps(t *testing.T) {
	r := newTestRig(t)
	seedListing(r, 12_000)

	r.process(t, &command.ChangeResalePrice{
		CommandID: "c-1", Seller: "bob.test", PublicKey: "pk-1",
		NewPrice: 50_000, At: testTime,
	})
	l, _ := r.store.Listing("pk-1")
	if l.Price != 15_000 {
		t.Errorf("re-priced to %d, want ceiling 15_000", l.Price)
	}
}

// ============================================================================
// Test: balances
// ============================================================================

func TestBalance_DepositAndWithdrawAll(t *testing.T) {
	r := newTestRig(t)

	r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "organizer.test", Amount: 5_000, At: testTime,
	})
	if got := r.ledger.Balance("organizer.test"); got != 5_000 {
		t.Fatalf("balance %d, want 5_000", got)
	}

	out := r.process(t, &command.LedgerWithdraw{
		CommandID: "w-1", Account: "organizer.test", At: testTime,
	})
	if got := transferTo(out, "organizer.test"); got != 5_000 {
		t.Errorf("withdrawal paid %d, want 5_000", got)
	}
	if got := r.ledger.Balance("organizer.test"); got != 0 {
		t.Errorf("balance %d after sweep, want 0", got)
	}
}

func TestBalance_WithdrawEmptyRejected(t *testing.T) {
	r := newTestRig(t)
	out := r.process(t, &command.LedgerWithdraw{
		CommandID: "w-1", Account: "organizer.test", At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

// ============================================================================
// Test: freeze
// ============================================================================

func TestFreeze_BouncesNewWorkRefundsAttached(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	// Start a sale, then freeze before its result arrives.
	pending := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	req := pending.RegistryRequests[0]

	out := r.process(t, &command.SetFreeze{
		CommandID: "f-1", Owner: "owner.test", Frozen: true, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("freeze not applied: %s", out.Envelope.Reason)
	}

	rejected := r.process(t, &command.BuyPrimary{
		PurchaseID: "p-2", Buyer: "carol.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	})
	if rejected.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED while frozen", rejected.Envelope.Outcome)
	}
	if got := transferTo(rejected, "carol.test"); got != 10_000 {
		t.Errorf("frozen rejection refunded %d, want 10_000", got)
	}

	// In-flight money must still come home while frozen.
	final := r.process(t, &command.MintResult{
		RequestID: req.RequestID, Succeeded: true,
		Continuation: req.Continuation, At: testTime,
	})
	if final.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("in-flight settlement blocked by freeze: %s", final.Envelope.Outcome)
	}
}

func TestFreeze_OnlyOwner(t *testing.T) {
	r := newTestRig(t)
	out := r.process(t, &command.SetFreeze{
		CommandID: "f-1", Owner: "mallory.test", Frozen: true, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

func TestUpdateConfig_ChangesPriceBand(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	markup := uint64(300)
	out := r.process(t, &command.UpdateConfig{
		CommandID: "u-1", Owner: "owner.test", MarkupPercent: &markup, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", out.Envelope.Outcome)
	}

	// New listings clamp against the widened ceiling.
	r.process(t, &command.ListForResale{
		ApprovalKey: "a-1", Seller: "bob.test", DropID: "drop-a",
		PublicKey: "pk-1", ApprovalID: 1, AskingPrice: 99_000, At: testTime,
	})
	l, err := r.store.Listing("pk-1")
	if err != nil {
		t.Fatalf("listing missing: %v", err)
	}
	if l.Price != 30_000 {
		t.Errorf("listed at %d, want ceiling 30_000", l.Price)
	}
}

func TestUpdateConfig_OnlyOwner(t *testing.T) {
	r := newTestRig(t)
	markup := uint64(300)
	out := r.process(t, &command.UpdateConfig{
		CommandID: "u-1", Owner: "mallory.test", MarkupPercent: &markup, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

// ============================================================================
// Test: idempotency
// ============================================================================

func TestDuplicateCommandIgnored(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	cmd := &command.BuyPrimary{
		PurchaseID: "p-1", Buyer: "alice.test", DropID: "drop-a",
		Keys: oneKey(), AttachedFunds: 10_000, At: testTime,
	}
	r.process(t, cmd)

	if err := r.engine.Process(cmd); err != nil {
		t.Fatalf("duplicate process: %v", err)
	}
	select {
	case <-r.persist:
		t.Fatal("duplicate command produced an output")
	default:
	}
}

// ============================================================================
// Test: event administration
// ============================================================================

func TestEventAdmin_CreateChargesAndDeleteRefunds(t *testing.T) {
	r := newTestRig(t)
	r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "organizer.test", Amount: 50_000, At: testTime,
	})

	out := r.process(t, &command.CreateEvent{
		CommandID: "c-1", EventID: "ev-1", Organizer: "organizer.test",
		Name: "Show", Tiers: []command.TierSpec{{DropID: "drop-a", Price: 10_000}},
		At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("create failed: %s", out.Envelope.Reason)
	}
	after := r.ledger.Balance("organizer.test")
	if after >= 50_000 {
		t.Fatal("catalog storage was not charged")
	}

	out = r.process(t, &command.DeleteEvent{
		CommandID: "c-2", EventID: "ev-1", Organizer: "organizer.test", At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("delete failed: %s", out.Envelope.Reason)
	}
	if got := r.ledger.Balance("organizer.test"); got != 50_000 {
		t.Errorf("balance %d after delete, want the full 50_000 back", got)
	}
}

func TestEventAdmin_InvertedSaleWindowRejected(t *testing.T) {
	r := newTestRig(t)
	r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "organizer.test", Amount: 50_000, At: testTime,
	})

	out := r.process(t, &command.CreateEvent{
		CommandID: "c-1", EventID: "ev-1", Organizer: "organizer.test",
		Name: "Show", Tiers: []command.TierSpec{{
			DropID: "drop-a", Price: 10_000,
			SaleStart: testTime.Add(2 * time.Hour), SaleEnd: testTime.Add(time.Hour),
		}},
		At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
	if got := r.ledger.Balance("organizer.test"); got != 50_000 {
		t.Errorf("organizer balance %d after rejection, want 50_000 untouched", got)
	}
	if _, err := r.store.Event("ev-1"); err == nil {
		t.Error("rejected event was still registered")
	}
}

func TestEventAdmin_PriceBelowStorageRejected(t *testing.T) {
	r := newTestRig(t)
	r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "organizer.test", Amount: 50_000, At: testTime,
	})

	// A paid tier priced under one key's storage cost can never sell.
	out := r.process(t, &command.CreateEvent{
		CommandID: "c-1", EventID: "ev-1", Organizer: "organizer.test",
		Name: "Show", Tiers: []command.TierSpec{{DropID: "drop-a", Price: keyStorage - 1}},
		At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}

	// Free tiers stay allowed; the organizer balance funds their storage.
	out = r.process(t, &command.CreateEvent{
		CommandID: "c-2", EventID: "ev-2", Organizer: "organizer.test",
		Name: "Show", Tiers: []command.TierSpec{{DropID: "drop-b", Price: 0}},
		At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("free tier rejected: %s", out.Envelope.Reason)
	}

	// Re-pricing cannot sneak under the floor either.
	out = r.process(t, &command.ModifyTierPrices{
		CommandID: "c-3", Organizer: "organizer.test", EventID: "ev-2",
		Prices: map[string]int64{"drop-b": keyStorage - 1}, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}
}

func TestEventAdmin_OnlyOrganizerMutates(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	out := r.process(t, &command.ModifyTierPrices{
		CommandID: "c-1", Organizer: "mallory.test", EventID: "ev-1",
		Prices: map[string]int64{"drop-a": 1}, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeRejected {
		t.Fatalf("got outcome %s, want REJECTED", out.Envelope.Outcome)
	}

	out = r.process(t, &command.ModifyTierPrices{
		CommandID: "c-2", Organizer: "organizer.test", EventID: "ev-1",
		Prices: map[string]int64{"drop-a": 20_000}, At: testTime,
	})
	if out.Envelope.Outcome != settlement.OutcomeSettled {
		t.Fatalf("got outcome %s, want SETTLED", out.Envelope.Outcome)
	}
	_, tier, _ := r.store.Tier("drop-a")
	if tier.Price != 20_000 {
		t.Errorf("tier price %d, want 20_000", tier.Price)
	}
}

func TestEventAdmin_ResaleSuspension(t *testing.T) {
	r := newTestRig(t)
	r.seedEvent("ev-1", "organizer.test", "drop-a", 10_000, nil)

	r.process(t, &command.SetResaleStatus{
		CommandID: "c-1", Organizer: "organizer.test", EventID: "ev-1",
		ResalesAllowed: false, At: testTime,
	})
	ev, _ := r.store.Event("ev-1")
	if ev.AcceptsResales() {
		t.Error("resales still accepted after suspension")
	}
	if !ev.AcceptsPrimarySales() {
		t.Error("primary sales must survive a resale suspension")
	}
}

// ============================================================================
// Test: sequencing
// ============================================================================

func TestSequenceIsMonotonic(t *testing.T) {
	r := newTestRig(t)

	first := r.process(t, &command.LedgerDeposit{
		CommandID: "d-1", Account: "a.test", Amount: 100, At: testTime,
	})
	second := r.process(t, &command.LedgerDeposit{
		CommandID: "d-2", Account: "a.test", Amount: 100, At: testTime,
	})
	if second.Envelope.Sequence != first.Envelope.Sequence+1 {
		t.Errorf("sequences %d then %d, want consecutive",
			first.Envelope.Sequence, second.Envelope.Sequence)
	}
}
