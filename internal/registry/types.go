// Package registry models the external key registry: the custodial system
// that actually mints, holds, and transfers keys. The settlement engine
// talks to it asynchronously over NATS; every request carries a serialized
// continuation that comes back verbatim in the result, so no pending state
// lives in memory.
package registry

import "encoding/json"

// RequestKind selects the registry operation.
type RequestKind string

const (
	KindMintKeys           RequestKind = "MINT_KEYS"
	KindGetDropInfo        RequestKind = "GET_DROP_INFO"
	KindTransferWithPayout RequestKind = "TRANSFER_WITH_PAYOUT"
	KindCreateClaim        RequestKind = "CREATE_CLAIM"
)

// KeyData describes one key to mint.
type KeyData struct {
	PublicKey string `json:"public_key"`
	// Metadata is opaque to the marketplace but its size is charged as
	// storage.
	Metadata string `json:"metadata,omitempty"`
	// KeyOwner receives the minted key. Empty means the buyer named in the
	// mint request.
	KeyOwner string `json:"key_owner,omitempty"`
	// PasswordByUse gates claims per use. Passed through to the registry.
	PasswordByUse map[uint64]string `json:"password_by_use,omitempty"`
}

// DropInfo is the registry's view of a drop, returned by GET_DROP_INFO.
type DropInfo struct {
	DropID    string `json:"drop_id"`
	Funder    string `json:"funder_id"`
	NextKeyID uint64 `json:"next_key_id"`
}

// Payout maps receiving accounts to amounts for a resale transfer.
type Payout map[string]int64

// Request is one outbound registry call. Continuation is the serialized
// settlement context; the registry echoes it back untouched in the result
// message, which is how a later step resumes the settlement.
type Request struct {
	RequestID string      `json:"request_id"`
	Kind      RequestKind `json:"kind"`
	DropID    string      `json:"drop_id,omitempty"`

	// Mint fields.
	Keys    []KeyData `json:"keys,omitempty"`
	Deposit int64     `json:"deposit,omitempty"`
	Owner   string    `json:"owner,omitempty"`

	// Transfer fields. SalePrice is the basis the registry splits into the
	// payout; no money travels with the request itself.
	PublicKey    string `json:"public_key,omitempty"`
	NewPublicKey string `json:"new_public_key,omitempty"`
	Receiver     string `json:"receiver_id,omitempty"`
	ApprovalID   uint64 `json:"approval_id,omitempty"`
	SalePrice    int64  `json:"sale_price,omitempty"`

	// Claim fields. PublicKey carries the fresh claim key and Receiver the
	// account the escrow is recorded for.
	ClaimID string `json:"claim_id,omitempty"`
	Amount  int64  `json:"amount,omitempty"`

	Continuation json.RawMessage `json:"continuation,omitempty"`
}
