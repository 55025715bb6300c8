package command

import "time"

// ListForResale is the registry's approval callback: the key owner approved
// the marketplace to transfer their key, naming an asking price. The
// registry authenticates the owner, so Seller is trusted here.
type ListForResale struct {
	ApprovalKey string
	Seller      string
	DropID      string
	PublicKey   string
	ApprovalID  uint64
	// AskingPrice is clamped by the price guard before the listing goes up.
	AskingPrice int64
	At          time.Time
}

func (c *ListForResale) IdempotencyKey() string   { return c.ApprovalKey }
func (c *ListForResale) CommandType() CommandType { return CommandTypeListForResale }
func (c *ListForResale) Actor() string            { return c.Seller }
func (c *ListForResale) Timestamp() time.Time     { return c.At }

// RevokeListing takes a key off the market. Only the seller recorded on the
// listing may revoke it.
type RevokeListing struct {
	CommandID string
	Seller    string
	PublicKey string
	At        time.Time
}

func (c *RevokeListing) IdempotencyKey() string   { return c.CommandID }
func (c *RevokeListing) CommandType() CommandType { return CommandTypeRevokeListing }
func (c *RevokeListing) Actor() string            { return c.Seller }
func (c *RevokeListing) Timestamp() time.Time     { return c.At }

// ChangeResalePrice updates the asking price on an active listing. The new
// price passes through the guard like the original did.
type ChangeResalePrice struct {
	CommandID string
	Seller    string
	PublicKey string
	NewPrice  int64
	At        time.Time
}

func (c *ChangeResalePrice) IdempotencyKey() string   { return c.CommandID }
func (c *ChangeResalePrice) CommandType() CommandType { return CommandTypeChangeResalePrice }
func (c *ChangeResalePrice) Actor() string            { return c.Seller }
func (c *ChangeResalePrice) Timestamp() time.Time     { return c.At }
