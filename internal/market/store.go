package market

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrTierNotFound    = errors.New("ticket tier not found")
	ErrListingNotFound = errors.New("listing not found")
	ErrDuplicateDrop   = errors.New("drop already registered")
	ErrDuplicateEvent  = errors.New("event already exists")
)

// Store indexes events by id and by the drops backing their tiers, plus all
// active listings by key. It is rebuilt from Postgres at startup and then
// mutated only by the settlement loop.
type Store struct {
	events map[string]*Event
	// dropToEvent maps each tier's drop id to its owning event id.
	dropToEvent map[string]string
	// listings keyed by public key. A key has at most one active listing.
	listings map[string]*Listing
	// listingsByDrop indexes listing keys per drop for catalog queries and
	// event deletion.
	listingsByDrop map[string]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		events:         make(map[string]*Event),
		dropToEvent:    make(map[string]string),
		listings:       make(map[string]*Listing),
		listingsByDrop: make(map[string]map[string]struct{}),
	}
}

// ============================================================================
// Events and tiers
// ============================================================================

func (s *Store) PutEvent(e *Event) error {
	if _, exists := s.events[e.EventID]; exists {
		return fmt.Errorf("event %s: %w", e.EventID, ErrDuplicateEvent)
	}
	for dropID := range e.Tiers {
		if _, taken := s.dropToEvent[dropID]; taken {
			return fmt.Errorf("drop %s: %w", dropID, ErrDuplicateDrop)
		}
	}
	s.events[e.EventID] = e
	for dropID := range e.Tiers {
		s.dropToEvent[dropID] = e.EventID
	}
	return nil
}

func (s *Store) Event(eventID string) (*Event, error) {
	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
	}
	return e, nil
}

// EventByDrop resolves the event owning a drop.
func (s *Store) EventByDrop(dropID string) (*Event, error) {
	eventID, ok := s.dropToEvent[dropID]
	if !ok {
		return nil, fmt.Errorf("drop %s: %w", dropID, ErrEventNotFound)
	}
	return s.events[eventID], nil
}

// Tier resolves a tier by drop id.
func (s *Store) Tier(dropID string) (*Event, *TicketTier, error) {
	e, err := s.EventByDrop(dropID)
	if err != nil {
		return nil, nil, err
	}
	tt, ok := e.Tiers[dropID]
	if !ok {
		return nil, nil, fmt.Errorf("drop %s: %w", dropID, ErrTierNotFound)
	}
	return e, tt, nil
}

// AddTiers attaches new tiers to an existing event.
func (s *Store) AddTiers(eventID string, tiers []*TicketTier) error {
	e, err := s.Event(eventID)
	if err != nil {
		return err
	}
	for _, tt := range tiers {
		if _, taken := s.dropToEvent[tt.DropID]; taken {
			return fmt.Errorf("drop %s: %w", tt.DropID, ErrDuplicateDrop)
		}
	}
	for _, tt := range tiers {
		e.Tiers[tt.DropID] = tt
		s.dropToEvent[tt.DropID] = eventID
	}
	return nil
}

// DeleteEvent removes an event, its tier index entries, and every listing
// under its drops. Returns the removed listings so callers can report them.
func (s *Store) DeleteEvent(eventID string) ([]*Listing, error) {
	e, err := s.Event(eventID)
	if err != nil {
		return nil, err
	}
	var removed []*Listing
	for dropID := range e.Tiers {
		for key := range s.listingsByDrop[dropID] {
			removed = append(removed, s.listings[key])
			delete(s.listings, key)
		}
		delete(s.listingsByDrop, dropID)
		delete(s.dropToEvent, dropID)
	}
	delete(s.events, eventID)
	return removed, nil
}

// ListEvents returns every event. Order is unspecified.
func (s *Store) ListEvents() []*Event {
	out := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	return out
}

// ============================================================================
// Listings
// ============================================================================

// PutListing records a listing, replacing any prior listing for the same
// key. Re-approval of an already listed key updates the listing in place.
func (s *Store) PutListing(l *Listing) {
	if prev, ok := s.listings[l.PublicKey]; ok && prev.DropID != l.DropID {
		delete(s.listingsByDrop[prev.DropID], l.PublicKey)
	}
	s.listings[l.PublicKey] = l
	byDrop, ok := s.listingsByDrop[l.DropID]
	if !ok {
		byDrop = make(map[string]struct{})
		s.listingsByDrop[l.DropID] = byDrop
	}
	byDrop[l.PublicKey] = struct{}{}
}

func (s *Store) Listing(publicKey string) (*Listing, error) {
	l, ok := s.listings[publicKey]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", publicKey, ErrListingNotFound)
	}
	return l, nil
}

// RemoveListing deletes a listing and returns it.
func (s *Store) RemoveListing(publicKey string) (*Listing, error) {
	l, ok := s.listings[publicKey]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", publicKey, ErrListingNotFound)
	}
	delete(s.listings, publicKey)
	delete(s.listingsByDrop[l.DropID], publicKey)
	return l, nil
}

// ListingsByDrop returns all active listings under a drop.
func (s *Store) ListingsByDrop(dropID string) []*Listing {
	keys := s.listingsByDrop[dropID]
	out := make([]*Listing, 0, len(keys))
	for key := range keys {
		out = append(out, s.listings[key])
	}
	return out
}

// ListingCount reports how many listings are active across all drops.
func (s *Store) ListingCount() int {
	return len(s.listings)
}

// ============================================================================
// Restore
// ============================================================================

// RestoreEvent loads an event during startup replay, bypassing duplicate
// checks already enforced by the durable store.
func (s *Store) RestoreEvent(e *Event) {
	s.events[e.EventID] = e
	for dropID := range e.Tiers {
		s.dropToEvent[dropID] = e.EventID
	}
}

// RestoreListing loads a listing during startup replay.
func (s *Store) RestoreListing(l *Listing) {
	s.PutListing(l)
}
