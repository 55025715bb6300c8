package command

import (
	"encoding/json"
	"time"

	"TicketLedger/internal/registry"
)

// MintResult is the registry's answer to a MINT_KEYS request. Continuation
// carries the settlement context the request was sent with.
type MintResult struct {
	RequestID string
	Succeeded bool
	Reason    string
	// ReturnedDeposit is the unspent portion of the mint deposit the
	// registry hands back. On failure it equals the full deposit.
	ReturnedDeposit int64
	Continuation    json.RawMessage
	At              time.Time
}

func (c *MintResult) IdempotencyKey() string   { return c.RequestID + ":mint" }
func (c *MintResult) CommandType() CommandType { return CommandTypeMintResult }
func (c *MintResult) Actor() string            { return "" }
func (c *MintResult) Timestamp() time.Time     { return c.At }

// DropInfoResult answers a GET_DROP_INFO request issued as a capacity
// pre-check before minting on a capped tier.
type DropInfoResult struct {
	RequestID    string
	Succeeded    bool
	Reason       string
	Info         registry.DropInfo
	Continuation json.RawMessage
	At           time.Time
}

func (c *DropInfoResult) IdempotencyKey() string   { return c.RequestID + ":dropinfo" }
func (c *DropInfoResult) CommandType() CommandType { return CommandTypeDropInfoResult }
func (c *DropInfoResult) Actor() string            { return "" }
func (c *DropInfoResult) Timestamp() time.Time     { return c.At }

// TransferResult answers a TRANSFER_WITH_PAYOUT request. On success Payout
// holds the per-receiver split the registry reported for the sale price.
type TransferResult struct {
	RequestID    string
	Succeeded    bool
	Reason       string
	Payout       registry.Payout
	Continuation json.RawMessage
	At           time.Time
}

func (c *TransferResult) IdempotencyKey() string   { return c.RequestID + ":transfer" }
func (c *TransferResult) CommandType() CommandType { return CommandTypeTransferResult }
func (c *TransferResult) Actor() string            { return "" }
func (c *TransferResult) Timestamp() time.Time     { return c.At }
