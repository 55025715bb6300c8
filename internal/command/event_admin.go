package command

import (
	"time"

	"TicketLedger/internal/market"
)

// TierSpec describes one tier inside CreateEvent or AddTiers.
type TierSpec struct {
	DropID    string
	Price     int64
	MaxKeys   *uint64
	SaleStart time.Time
	SaleEnd   time.Time
}

// Tier builds the catalog representation.
func (ts TierSpec) Tier() *market.TicketTier {
	return &market.TicketTier{
		DropID:    ts.DropID,
		Price:     ts.Price,
		MaxKeys:   ts.MaxKeys,
		SaleStart: ts.SaleStart,
		SaleEnd:   ts.SaleEnd,
	}
}

// CreateEvent registers a new event with its initial tiers. The organizer's
// pre-funded balance is charged for the catalog storage the event occupies.
type CreateEvent struct {
	CommandID string
	EventID   string
	Organizer string
	Name      string
	Metadata  string
	Tiers     []TierSpec
	At        time.Time
}

func (c *CreateEvent) IdempotencyKey() string   { return c.CommandID }
func (c *CreateEvent) CommandType() CommandType { return CommandTypeCreateEvent }
func (c *CreateEvent) Actor() string            { return c.Organizer }
func (c *CreateEvent) Timestamp() time.Time     { return c.At }

// AddTiers attaches new tiers to an existing event. Organizer only.
type AddTiers struct {
	CommandID string
	Organizer string
	EventID   string
	Tiers     []TierSpec
	At        time.Time
}

func (c *AddTiers) IdempotencyKey() string   { return c.CommandID }
func (c *AddTiers) CommandType() CommandType { return CommandTypeAddTiers }
func (c *AddTiers) Actor() string            { return c.Organizer }
func (c *AddTiers) Timestamp() time.Time     { return c.At }

// ModifyTierPrices updates base prices per drop. Organizer only.
type ModifyTierPrices struct {
	CommandID string
	Organizer string
	EventID   string
	// Prices maps drop id to the new base price.
	Prices map[string]int64
	At     time.Time
}

func (c *ModifyTierPrices) IdempotencyKey() string   { return c.CommandID }
func (c *ModifyTierPrices) CommandType() CommandType { return CommandTypeModifyTierPrices }
func (c *ModifyTierPrices) Actor() string            { return c.Organizer }
func (c *ModifyTierPrices) Timestamp() time.Time     { return c.At }

// ModifyMaxKeys updates mint caps per drop. A nil value removes the cap.
type ModifyMaxKeys struct {
	CommandID string
	Organizer string
	EventID   string
	MaxKeys   map[string]*uint64
	At        time.Time
}

func (c *ModifyMaxKeys) IdempotencyKey() string   { return c.CommandID }
func (c *ModifyMaxKeys) CommandType() CommandType { return CommandTypeModifyMaxKeys }
func (c *ModifyMaxKeys) Actor() string            { return c.Organizer }
func (c *ModifyMaxKeys) Timestamp() time.Time     { return c.At }

// SetEventStatus switches an event between active and inactive. Organizer
// only.
type SetEventStatus struct {
	CommandID string
	Organizer string
	EventID   string
	Active    bool
	At        time.Time
}

func (c *SetEventStatus) IdempotencyKey() string   { return c.CommandID }
func (c *SetEventStatus) CommandType() CommandType { return CommandTypeSetEventStatus }
func (c *SetEventStatus) Actor() string            { return c.Organizer }
func (c *SetEventStatus) Timestamp() time.Time     { return c.At }

// SetResaleStatus suspends or resumes resales on an active event.
type SetResaleStatus struct {
	CommandID      string
	Organizer      string
	EventID        string
	ResalesAllowed bool
	At             time.Time
}

func (c *SetResaleStatus) IdempotencyKey() string   { return c.CommandID }
func (c *SetResaleStatus) CommandType() CommandType { return CommandTypeSetResaleStatus }
func (c *SetResaleStatus) Actor() string            { return c.Organizer }
func (c *SetResaleStatus) Timestamp() time.Time     { return c.At }

// DeleteEvent removes an event and every listing under it. Organizer only.
type DeleteEvent struct {
	CommandID string
	Organizer string
	EventID   string
	At        time.Time
}

func (c *DeleteEvent) IdempotencyKey() string   { return c.CommandID }
func (c *DeleteEvent) CommandType() CommandType { return CommandTypeDeleteEvent }
func (c *DeleteEvent) Actor() string            { return c.Organizer }
func (c *DeleteEvent) Timestamp() time.Time     { return c.At }
