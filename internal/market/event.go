// Package market holds the catalog state: events, their ticket tiers, and
// active resale listings. All mutation happens from the settlement engine's
// single loop, so the store is unsynchronized by design of the caller.
package market

import "time"

// EventStatus gates which operations an event currently accepts.
type EventStatus string

const (
	// StatusActive accepts primary sales and resales.
	StatusActive EventStatus = "ACTIVE"
	// StatusResalesSuspended accepts primary sales but no new listings or
	// resale purchases.
	StatusResalesSuspended EventStatus = "RESALES_SUSPENDED"
	// StatusInactive accepts nothing.
	StatusInactive EventStatus = "INACTIVE"
)

// TicketTier is one sellable class of keys inside an event. Each tier is
// backed by exactly one registry drop.
type TicketTier struct {
	DropID string
	// Price in the smallest currency unit. Zero means a free tier.
	Price int64
	// MaxKeys caps how many keys the registry will mint for the drop. Nil
	// means uncapped.
	MaxKeys *uint64
	// Sale window. Zero values mean no bound on that side.
	SaleStart time.Time
	SaleEnd   time.Time
}

// SaleOpenAt reports whether the tier's sale window covers ts.
func (tt TicketTier) SaleOpenAt(ts time.Time) bool {
	if !tt.SaleStart.IsZero() && ts.Before(tt.SaleStart) {
		return false
	}
	if !tt.SaleEnd.IsZero() && ts.After(tt.SaleEnd) {
		return false
	}
	return true
}

// Event groups tiers under one organizer.
type Event struct {
	EventID   string
	Organizer string
	Name      string
	Metadata  string
	Status    EventStatus
	CreatedAt time.Time
	// StorageCharged is what the organizer's pre-funded balance paid for
	// this event's catalog storage. Refunded on deletion.
	StorageCharged int64
	// Tiers keyed by drop id.
	Tiers map[string]*TicketTier
}

// AcceptsPrimarySales reports whether new mints are allowed.
func (e *Event) AcceptsPrimarySales() bool {
	return e.Status == StatusActive || e.Status == StatusResalesSuspended
}

// AcceptsResales reports whether new listings and resale purchases are
// allowed.
func (e *Event) AcceptsResales() bool {
	return e.Status == StatusActive
}
