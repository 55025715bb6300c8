// Package query provides read-only access to the durable settlement state.
// Reads go against Postgres, not the engine's in-memory state, so responses
// trail the engine by at most one persistence batch. Every response carries
// as_of_sequence so callers can reason about freshness.
package query

import (
	"context"
	"database/sql"
	"fmt"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = sql.ErrNoRows

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetBalance returns an account's pre-funded balance. Accounts with no
// balance row read as zero.
func (s *Service) GetBalance(ctx context.Context, account string) (*BalanceResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var balance int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM marketplace.balances WHERE account = $1
	`, account).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		Account:      account,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetEvent returns one event with all its tiers.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*EventResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	e := &EventResponse{AsOfSequence: asOfSeq}
	err = s.db.QueryRowContext(ctx, `
		SELECT event_id, organizer, name, metadata, status, storage_charged, created_at
		FROM marketplace.events
		WHERE event_id = $1
	`, eventID).Scan(&e.EventID, &e.Organizer, &e.Name, &e.Metadata,
		&e.Status, &e.StorageCharged, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.Tiers, err = s.getTiers(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEvents returns the catalog, newest first, with cursor pagination on
// created_at.
func (s *Service) ListEvents(ctx context.Context, limit int, organizer *string) ([]EventResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT event_id, organizer, name, metadata, status, storage_charged, created_at
		FROM marketplace.events
	`
	args := []interface{}{}
	argIdx := 1

	if organizer != nil {
		query += fmt.Sprintf(" WHERE organizer = $%d", argIdx)
		args = append(args, *organizer)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(&e.EventID, &e.Organizer, &e.Name, &e.Metadata,
			&e.Status, &e.StorageCharged, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		events[i].Tiers, err = s.getTiers(ctx, events[i].EventID)
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

// GetListings returns active resale offers for a drop, cheapest first.
func (s *Service) GetListings(ctx context.Context, dropID string) ([]ListingResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT public_key, drop_id, event_id, seller, price, listed_at
		FROM marketplace.listings
		WHERE drop_id = $1
		ORDER BY price ASC, listed_at ASC
	`, dropID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []ListingResponse
	for rows.Next() {
		var l ListingResponse
		l.AsOfSequence = asOfSeq
		if err := rows.Scan(&l.PublicKey, &l.DropID, &l.EventID,
			&l.Seller, &l.Price, &l.ListedAt); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetSettlement returns every command, journal entry, and transfer recorded
// under one settlement reference.
func (s *Service) GetSettlement(ctx context.Context, settlementRef string) (*SettlementResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SettlementResponse{
		SettlementRef: settlementRef,
		AsOfSequence:  asOfSeq,
	}

	stepRows, err := s.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, outcome, reason, timestamp
		FROM settlement.commands
		WHERE settlement_ref = $1
		ORDER BY sequence ASC
	`, settlementRef)
	if err != nil {
		return nil, err
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var st SettlementStep
		if err := stepRows.Scan(&st.Sequence, &st.CommandType,
			&st.IdempotencyKey, &st.Outcome, &st.Reason, &st.Timestamp); err != nil {
			return nil, err
		}
		resp.Steps = append(resp.Steps, st)
	}
	if err := stepRows.Err(); err != nil {
		return nil, err
	}
	if len(resp.Steps) == 0 {
		return nil, ErrNotFound
	}

	journalRows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, settlement_ref, account, delta, kind, sequence, timestamp
		FROM settlement.journal
		WHERE settlement_ref = $1
		ORDER BY sequence ASC
	`, settlementRef)
	if err != nil {
		return nil, err
	}
	defer journalRows.Close()

	for journalRows.Next() {
		var j JournalEntry
		if err := journalRows.Scan(&j.EntryID, &j.SettlementRef, &j.Account,
			&j.Delta, &j.Kind, &j.Sequence, &j.Timestamp); err != nil {
			return nil, err
		}
		resp.Journal = append(resp.Journal, j)
	}
	if err := journalRows.Err(); err != nil {
		return nil, err
	}

	transferRows, err := s.db.QueryContext(ctx, `
		SELECT transfer_id, settlement_ref, recipient, amount, reason
		FROM settlement.transfers
		WHERE settlement_ref = $1
	`, settlementRef)
	if err != nil {
		return nil, err
	}
	defer transferRows.Close()

	for transferRows.Next() {
		var t TransferRecord
		if err := transferRows.Scan(&t.TransferID, &t.SettlementRef,
			&t.Recipient, &t.Amount, &t.Reason); err != nil {
			return nil, err
		}
		resp.Transfers = append(resp.Transfers, t)
	}
	return resp, transferRows.Err()
}

// GetJournalHistory returns an account's ledger movements, newest first,
// with cursor pagination on sequence.
func (s *Service) GetJournalHistory(
	ctx context.Context,
	account string,
	limit int,
	afterSequence *int64,
) ([]JournalEntry, error) {
	query := `
		SELECT entry_id, settlement_ref, account, delta, kind, sequence, timestamp
		FROM settlement.journal
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.EntryID, &e.SettlementRef, &e.Account,
			&e.Delta, &e.Kind, &e.Sequence, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM settlement.commands`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (s *Service) getTiers(ctx context.Context, eventID string) ([]TierResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT drop_id, price, max_keys, sale_start, sale_end
		FROM marketplace.tiers
		WHERE event_id = $1
		ORDER BY drop_id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []TierResponse
	for rows.Next() {
		var t TierResponse
		var maxKeys sql.NullInt64
		var saleStart, saleEnd sql.NullTime
		if err := rows.Scan(&t.DropID, &t.Price, &maxKeys, &saleStart, &saleEnd); err != nil {
			return nil, err
		}
		if maxKeys.Valid {
			t.MaxKeys = &maxKeys.Int64
		}
		if saleStart.Valid {
			t.SaleStart = &saleStart.Time
		}
		if saleEnd.Valid {
			t.SaleEnd = &saleEnd.Time
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}
