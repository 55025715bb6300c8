package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"TicketLedger/internal/settlement"
)

// Writer appends settlement output to Postgres using multi-row INSERT. The
// log tables (commands, journal, transfers) are append-only; the
// marketplace.* tables hold current state and are upserted in the same
// transaction so a restart sees log and state agree.
type Writer struct {
	db *sql.DB
}

// CommandRow represents a row in settlement.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	SettlementRef  string
	Outcome        string
	Reason         string
	Timestamp      time.Time
}

// JournalRow represents a row in settlement.journal
type JournalRow struct {
	EntryID       string
	SettlementRef string
	Account       string
	Delta         int64
	Kind          string
	Sequence      int64
	Timestamp     time.Time
}

// TransferRow represents a row in settlement.transfers
type TransferRow struct {
	TransferID    string
	SettlementRef string
	Recipient     string
	Amount        int64
	Reason        string
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// DB exposes the handle for startup tasks (migrations, state load).
func (w *Writer) DB() *sql.DB { return w.db }

// WriteCommandBatch appends command envelopes. ON CONFLICT DO NOTHING keeps
// replays after a crash idempotent.
func (w *Writer) WriteCommandBatch(ctx context.Context, tx *sql.Tx, rows []CommandRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.commands
		(sequence, command_type, idempotency_key, settlement_ref, outcome, reason, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Sequence, r.CommandType, r.IdempotencyKey, r.SettlementRef,
			r.Outcome, r.Reason, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch appends ledger journal entries.
func (w *Writer) WriteJournalBatch(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.journal
		(entry_id, settlement_ref, account, delta, kind, sequence, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.EntryID, r.SettlementRef, r.Account, r.Delta,
			r.Kind, r.Sequence, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch appends payment instructions.
func (w *Writer) WriteTransferBatch(ctx context.Context, tx *sql.Tx, rows []TransferRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.transfers
		(transfer_id, settlement_ref, recipient, amount, reason)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.TransferID, r.SettlementRef, r.Recipient, r.Amount, r.Reason)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transfer_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ApplyStateChanges upserts the current-state tables. Runs inside the same
// transaction as the log appends.
func (w *Writer) ApplyStateChanges(ctx context.Context, tx *sql.Tx, changes []settlement.StateChange) error {
	for _, ch := range changes {
		var err error
		switch ch.Kind {
		case settlement.ChangeEventUpsert:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO marketplace.events (event_id, organizer, name, metadata, status, storage_charged, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (event_id) DO UPDATE SET
					status = EXCLUDED.status,
					storage_charged = EXCLUDED.storage_charged`,
				ch.Event.EventID, ch.Event.Organizer, ch.Event.Name, ch.Event.Metadata,
				string(ch.Event.Status), ch.Event.StorageCharged, ch.Event.CreatedAt)

		case settlement.ChangeEventDelete:
			// Tiers and listings cascade via foreign keys.
			_, err = tx.ExecContext(ctx,
				`DELETE FROM marketplace.events WHERE event_id = $1`, ch.EventID)

		case settlement.ChangeTierUpsert:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO marketplace.tiers (drop_id, event_id, price, max_keys, sale_start, sale_end)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (drop_id) DO UPDATE SET
					price = EXCLUDED.price,
					max_keys = EXCLUDED.max_keys`,
				ch.Tier.DropID, ch.EventID, ch.Tier.Price, maxKeysParam(ch.Tier.MaxKeys),
				timeParam(ch.Tier.SaleStart), timeParam(ch.Tier.SaleEnd))

		case settlement.ChangeListingUpsert:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO marketplace.listings (public_key, drop_id, event_id, seller, price, approval_id, listed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (public_key) DO UPDATE SET
					price = EXCLUDED.price,
					approval_id = EXCLUDED.approval_id`,
				ch.Listing.PublicKey, ch.Listing.DropID, ch.Listing.EventID,
				ch.Listing.Seller, ch.Listing.Price, int64(ch.Listing.ApprovalID), ch.Listing.ListedAt)

		case settlement.ChangeListingDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM marketplace.listings WHERE public_key = $1`, ch.PublicKey)

		case settlement.ChangeBalanceSet:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO marketplace.balances (account, balance)
				VALUES ($1, $2)
				ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance`,
				ch.Account, ch.Balance)

		case settlement.ChangeFreezeSet:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO marketplace.control (id, frozen)
				VALUES (1, $1)
				ON CONFLICT (id) DO UPDATE SET frozen = EXCLUDED.frozen`,
				ch.Frozen)

		default:
			err = fmt.Errorf("unknown state change kind %d", ch.Kind)
		}
		if err != nil {
			return fmt.Errorf("apply state change kind %d: %w", ch.Kind, err)
		}
	}
	return nil
}

func maxKeysParam(mk *uint64) interface{} {
	if mk == nil {
		return nil
	}
	return int64(*mk)
}

func timeParam(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
