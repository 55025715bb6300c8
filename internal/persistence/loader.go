package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TicketLedger/internal/ledger"
	"TicketLedger/internal/market"
)

// RestoredState is everything the engine needs to resume after a restart.
// It is rebuilt from the marketplace.* tables, which the persistence worker
// keeps in lockstep with the command log.
type RestoredState struct {
	NextSequence uint64
	Frozen       bool
}

// LoadState hydrates the ledger and catalog store from Postgres and returns
// the resume point. Call before the engine starts consuming commands.
func LoadState(ctx context.Context, db *sql.DB, led *ledger.Ledger, store *market.Store) (*RestoredState, error) {
	state := &RestoredState{NextSequence: 1}

	var maxSeq sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM settlement.commands`,
	).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("load max sequence: %w", err)
	}
	if maxSeq.Valid {
		state.NextSequence = uint64(maxSeq.Int64) + 1
	}

	var frozen bool
	err = db.QueryRowContext(ctx,
		`SELECT frozen FROM marketplace.control WHERE id = 1`,
	).Scan(&frozen)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load freeze flag: %w", err)
	}
	state.Frozen = frozen

	if err := loadBalances(ctx, db, led); err != nil {
		return nil, err
	}
	if err := loadEvents(ctx, db, store); err != nil {
		return nil, err
	}
	if err := loadListings(ctx, db, store); err != nil {
		return nil, err
	}

	return state, nil
}

func loadBalances(ctx context.Context, db *sql.DB, led *ledger.Ledger) error {
	rows, err := db.QueryContext(ctx,
		`SELECT account, balance FROM marketplace.balances`,
	)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var account string
		var balance int64
		if err := rows.Scan(&account, &balance); err != nil {
			return fmt.Errorf("scan balance: %w", err)
		}
		led.Restore(account, balance)
	}
	return rows.Err()
}

func loadEvents(ctx context.Context, db *sql.DB, store *market.Store) error {
	rows, err := db.QueryContext(ctx, `
		SELECT event_id, organizer, name, metadata, status, storage_charged, created_at
		FROM marketplace.events
	`)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	events := make(map[string]*market.Event)
	for rows.Next() {
		e := &market.Event{Tiers: make(map[string]*market.TicketTier)}
		var status string
		if err := rows.Scan(&e.EventID, &e.Organizer, &e.Name, &e.Metadata,
			&status, &e.StorageCharged, &e.CreatedAt); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		e.Status = market.EventStatus(status)
		events[e.EventID] = e
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tierRows, err := db.QueryContext(ctx, `
		SELECT drop_id, event_id, price, max_keys, sale_start, sale_end
		FROM marketplace.tiers
	`)
	if err != nil {
		return fmt.Errorf("load tiers: %w", err)
	}
	defer tierRows.Close()

	for tierRows.Next() {
		var eventID string
		var maxKeys sql.NullInt64
		var saleStart, saleEnd sql.NullTime
		tier := &market.TicketTier{}
		if err := tierRows.Scan(&tier.DropID, &eventID, &tier.Price,
			&maxKeys, &saleStart, &saleEnd); err != nil {
			return fmt.Errorf("scan tier: %w", err)
		}
		if maxKeys.Valid {
			v := uint64(maxKeys.Int64)
			tier.MaxKeys = &v
		}
		if saleStart.Valid {
			tier.SaleStart = saleStart.Time
		}
		if saleEnd.Valid {
			tier.SaleEnd = saleEnd.Time
		}
		e, ok := events[eventID]
		if !ok {
			return fmt.Errorf("tier %s references missing event %s", tier.DropID, eventID)
		}
		e.Tiers[tier.DropID] = tier
	}
	if err := tierRows.Err(); err != nil {
		return err
	}

	for _, e := range events {
		store.RestoreEvent(e)
	}
	return nil
}

func loadListings(ctx context.Context, db *sql.DB, store *market.Store) error {
	rows, err := db.QueryContext(ctx, `
		SELECT public_key, drop_id, event_id, seller, price, approval_id, listed_at
		FROM marketplace.listings
	`)
	if err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l := &market.Listing{}
		var approvalID int64
		var listedAt time.Time
		if err := rows.Scan(&l.PublicKey, &l.DropID, &l.EventID, &l.Seller,
			&l.Price, &approvalID, &listedAt); err != nil {
			return fmt.Errorf("scan listing: %w", err)
		}
		l.ApprovalID = uint64(approvalID)
		l.ListedAt = listedAt
		store.RestoreListing(l)
	}
	return rows.Err()
}
