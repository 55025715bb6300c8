package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"TicketLedger/internal/command"
	"TicketLedger/internal/registry"
)

// ParseMessage converts a raw NATS message into a typed command based on
// its subject. A parse failure on a registry result subject is NOT safe to
// drop silently: the caller logs it loudly, because it means a settlement
// continuation came back unreadable.
func ParseMessage(raw RawMessage) (command.Command, error) {
	// Whether the relay fronts the purchase is decided by the subject the
	// message arrived on, never by its body: publishing on tix.relay.buy.*
	// requires the payment gateway's NATS credentials.
	switch raw.Subject {
	case SubjectBuyPrimary:
		return parseBuyPrimary(raw.Data, false)
	case SubjectRelayBuyPrimary:
		return parseBuyPrimary(raw.Data, true)
	case SubjectBuyResale:
		return parseBuyResale(raw.Data, false)
	case SubjectRelayBuyResale:
		return parseBuyResale(raw.Data, true)
	case SubjectListingApprove:
		return parseListingApprove(raw.Data)
	case SubjectListingRevoke:
		return parseListingRevoke(raw.Data)
	case SubjectListingReprice:
		return parseListingReprice(raw.Data)
	case SubjectBalanceDeposit:
		return parseBalanceDeposit(raw.Data)
	case SubjectBalanceWithdraw:
		return parseBalanceWithdraw(raw.Data)
	case SubjectResultMint:
		return parseMintResult(raw.Data)
	case SubjectResultDropInfo:
		return parseDropInfoResult(raw.Data)
	case SubjectResultTransfer:
		return parseTransferResult(raw.Data)
	default:
		return nil, fmt.Errorf("unknown subject: %s", raw.Subject)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Timestamps are
// microseconds since epoch; the engine never reads the wall clock, so every
// message must carry its own time.

type buyPrimaryJSON struct {
	PurchaseID    string             `json:"purchase_id"`
	Buyer         string             `json:"buyer_id"`
	DropID        string             `json:"drop_id"`
	Keys          []registry.KeyData `json:"keys"`
	AttachedFunds int64              `json:"attached_funds"`
	TimestampUs   int64              `json:"timestamp_us"`
}

func parseBuyPrimary(data []byte, relayFunded bool) (*command.BuyPrimary, error) {
	var j buyPrimaryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BuyPrimary: %w", err)
	}
	if j.PurchaseID == "" {
		return nil, fmt.Errorf("BuyPrimary missing purchase_id")
	}
	if j.Buyer == "" {
		return nil, fmt.Errorf("BuyPrimary missing buyer_id")
	}
	if j.AttachedFunds < 0 {
		return nil, fmt.Errorf("BuyPrimary negative attached_funds")
	}
	return &command.BuyPrimary{
		PurchaseID:    j.PurchaseID,
		Buyer:         j.Buyer,
		DropID:        j.DropID,
		Keys:          j.Keys,
		AttachedFunds: j.AttachedFunds,
		RelayFunded:   relayFunded,
		At:            time.UnixMicro(j.TimestampUs),
	}, nil
}

type buyResaleJSON struct {
	PurchaseID    string `json:"purchase_id"`
	Buyer         string `json:"buyer_id"`
	PublicKey     string `json:"public_key"`
	NewPublicKey  string `json:"new_public_key"`
	AttachedFunds int64  `json:"attached_funds"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseBuyResale(data []byte, relayFunded bool) (*command.BuyResale, error) {
	var j buyResaleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BuyResale: %w", err)
	}
	if j.PurchaseID == "" {
		return nil, fmt.Errorf("BuyResale missing purchase_id")
	}
	if j.Buyer == "" {
		return nil, fmt.Errorf("BuyResale missing buyer_id")
	}
	if j.AttachedFunds < 0 {
		return nil, fmt.Errorf("BuyResale negative attached_funds")
	}
	return &command.BuyResale{
		PurchaseID:    j.PurchaseID,
		Buyer:         j.Buyer,
		PublicKey:     j.PublicKey,
		NewPublicKey:  j.NewPublicKey,
		AttachedFunds: j.AttachedFunds,
		RelayFunded:   relayFunded,
		At:            time.UnixMicro(j.TimestampUs),
	}, nil
}

type listingApproveJSON struct {
	ApprovalKey string `json:"approval_key"`
	Seller      string `json:"seller_id"`
	DropID      string `json:"drop_id"`
	PublicKey   string `json:"public_key"`
	ApprovalID  uint64 `json:"approval_id"`
	AskingPrice int64  `json:"asking_price"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseListingApprove(data []byte) (*command.ListForResale, error) {
	var j listingApproveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ListForResale: %w", err)
	}
	if j.ApprovalKey == "" || j.Seller == "" || j.PublicKey == "" {
		return nil, fmt.Errorf("ListForResale missing required fields")
	}
	return &command.ListForResale{
		ApprovalKey: j.ApprovalKey,
		Seller:      j.Seller,
		DropID:      j.DropID,
		PublicKey:   j.PublicKey,
		ApprovalID:  j.ApprovalID,
		AskingPrice: j.AskingPrice,
		At:          time.UnixMicro(j.TimestampUs),
	}, nil
}

type listingRevokeJSON struct {
	CommandID   string `json:"command_id"`
	Seller      string `json:"seller_id"`
	PublicKey   string `json:"public_key"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseListingRevoke(data []byte) (*command.RevokeListing, error) {
	var j listingRevokeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RevokeListing: %w", err)
	}
	if j.CommandID == "" || j.Seller == "" {
		return nil, fmt.Errorf("RevokeListing missing required fields")
	}
	return &command.RevokeListing{
		CommandID: j.CommandID,
		Seller:    j.Seller,
		PublicKey: j.PublicKey,
		At:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type listingRepriceJSON struct {
	CommandID   string `json:"command_id"`
	Seller      string `json:"seller_id"`
	PublicKey   string `json:"public_key"`
	NewPrice    int64  `json:"new_price"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseListingReprice(data []byte) (*command.ChangeResalePrice, error) {
	var j listingRepriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ChangeResalePrice: %w", err)
	}
	if j.CommandID == "" || j.Seller == "" {
		return nil, fmt.Errorf("ChangeResalePrice missing required fields")
	}
	return &command.ChangeResalePrice{
		CommandID: j.CommandID,
		Seller:    j.Seller,
		PublicKey: j.PublicKey,
		NewPrice:  j.NewPrice,
		At:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type balanceDepositJSON struct {
	CommandID   string `json:"command_id"`
	Account     string `json:"account_id"`
	Amount      int64  `json:"amount"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBalanceDeposit(data []byte) (*command.LedgerDeposit, error) {
	var j balanceDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LedgerDeposit: %w", err)
	}
	if j.CommandID == "" || j.Account == "" {
		return nil, fmt.Errorf("LedgerDeposit missing required fields")
	}
	return &command.LedgerDeposit{
		CommandID: j.CommandID,
		Account:   j.Account,
		Amount:    j.Amount,
		At:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type balanceWithdrawJSON struct {
	CommandID   string `json:"command_id"`
	Account     string `json:"account_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBalanceWithdraw(data []byte) (*command.LedgerWithdraw, error) {
	var j balanceWithdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LedgerWithdraw: %w", err)
	}
	if j.CommandID == "" || j.Account == "" {
		return nil, fmt.Errorf("LedgerWithdraw missing required fields")
	}
	return &command.LedgerWithdraw{
		CommandID: j.CommandID,
		Account:   j.Account,
		At:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type mintResultJSON struct {
	RequestID       string          `json:"request_id"`
	Succeeded       bool            `json:"succeeded"`
	Reason          string          `json:"reason"`
	ReturnedDeposit int64           `json:"returned_deposit"`
	Continuation    json.RawMessage `json:"continuation"`
	TimestampUs     int64           `json:"timestamp_us"`
}

func parseMintResult(data []byte) (*command.MintResult, error) {
	var j mintResultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MintResult: %w", err)
	}
	if j.RequestID == "" {
		return nil, fmt.Errorf("MintResult missing request_id")
	}
	return &command.MintResult{
		RequestID:       j.RequestID,
		Succeeded:       j.Succeeded,
		Reason:          j.Reason,
		ReturnedDeposit: j.ReturnedDeposit,
		Continuation:    j.Continuation,
		At:              time.UnixMicro(j.TimestampUs),
	}, nil
}

type dropInfoResultJSON struct {
	RequestID    string            `json:"request_id"`
	Succeeded    bool              `json:"succeeded"`
	Reason       string            `json:"reason"`
	Info         registry.DropInfo `json:"info"`
	Continuation json.RawMessage   `json:"continuation"`
	TimestampUs  int64             `json:"timestamp_us"`
}

func parseDropInfoResult(data []byte) (*command.DropInfoResult, error) {
	var j dropInfoResultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DropInfoResult: %w", err)
	}
	if j.RequestID == "" {
		return nil, fmt.Errorf("DropInfoResult missing request_id")
	}
	return &command.DropInfoResult{
		RequestID:    j.RequestID,
		Succeeded:    j.Succeeded,
		Reason:       j.Reason,
		Info:         j.Info,
		Continuation: j.Continuation,
		At:           time.UnixMicro(j.TimestampUs),
	}, nil
}

type transferResultJSON struct {
	RequestID    string          `json:"request_id"`
	Succeeded    bool            `json:"succeeded"`
	Reason       string          `json:"reason"`
	Payout       registry.Payout `json:"payout"`
	Continuation json.RawMessage `json:"continuation"`
	TimestampUs  int64           `json:"timestamp_us"`
}

func parseTransferResult(data []byte) (*command.TransferResult, error) {
	var j transferResultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TransferResult: %w", err)
	}
	if j.RequestID == "" {
		return nil, fmt.Errorf("TransferResult missing request_id")
	}
	return &command.TransferResult{
		RequestID:    j.RequestID,
		Succeeded:    j.Succeeded,
		Reason:       j.Reason,
		Payout:       j.Payout,
		Continuation: j.Continuation,
		At:           time.UnixMicro(j.TimestampUs),
	}, nil
}
