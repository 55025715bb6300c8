package command

import (
	"time"

	"TicketLedger/internal/registry"
)

// BuyPrimary is a buyer paying for freshly minted keys on a tier.
type BuyPrimary struct {
	PurchaseID string
	Buyer      string
	DropID     string
	// Keys to mint. Key count times storage-per-key drives the storage
	// charge.
	Keys []registry.KeyData
	// AttachedFunds is the payment collected up front. All outcomes must
	// return or disburse exactly this amount.
	AttachedFunds int64
	// RelayFunded marks a purchase forwarded by the trusted payment
	// gateway, which settles the ticket price off-platform and attaches
	// only the storage cost. Set from the inbound subject, never from
	// message content.
	RelayFunded bool
	At          time.Time
}

func (c *BuyPrimary) IdempotencyKey() string   { return c.PurchaseID }
func (c *BuyPrimary) CommandType() CommandType { return CommandTypeBuyPrimary }
func (c *BuyPrimary) Actor() string            { return c.Buyer }
func (c *BuyPrimary) Timestamp() time.Time     { return c.At }

// BuyResale is a buyer paying for a listed key.
type BuyResale struct {
	PurchaseID string
	Buyer      string
	PublicKey  string
	// NewPublicKey rotates the key on transfer so the seller loses access.
	NewPublicKey  string
	AttachedFunds int64
	RelayFunded   bool
	At            time.Time
}

func (c *BuyResale) IdempotencyKey() string   { return c.PurchaseID }
func (c *BuyResale) CommandType() CommandType { return CommandTypeBuyResale }
func (c *BuyResale) Actor() string            { return c.Buyer }
func (c *BuyResale) Timestamp() time.Time     { return c.At }
