package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"TicketLedger/internal/observability"
	"TicketLedger/internal/registry"
	"TicketLedger/internal/settlement"
)

// Worker drains the persist channel and batch-writes to Postgres. The
// engine uses BLOCKING sends, so if this worker falls behind the engine
// stalls and no output is ever lost. Side effects (registry requests,
// transfers, settled announcements) are forwarded only AFTER their batch
// commits, so nothing observable escapes before it is durable.
type Worker struct {
	writer       *Writer
	inputChan    <-chan settlement.Output
	registryChan chan<- registry.Request
	transferChan chan<- settlement.Transfer
	settledChan  chan<- settlement.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan settlement.Output,
	registryChan chan<- registry.Request,
	transferChan chan<- settlement.Transfer,
	settledChan chan<- settlement.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		inputChan:    inputChan,
		registryChan: registryChan,
		transferChan: transferChan,
		settledChan:  settledChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run starts the persistence loop. It batches incoming outputs and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]settlement.Output, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flushWithRetry(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flushWithRetry(context.Background(), batch); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, output)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or shutdown forces one final
// attempt.
func (w *Worker) flushWithRetry(ctx context.Context, batch []settlement.Output) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("outputs", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if finalErr := w.flush(context.Background(), batch); finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			return nil
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []settlement.Output) error {
	start := time.Now()

	commandRows := make([]CommandRow, 0, len(batch))
	var journalRows []JournalRow
	var transferRows []TransferRow
	var changes []settlement.StateChange

	for _, out := range batch {
		env := out.Envelope
		commandRows = append(commandRows, CommandRow{
			Sequence:       int64(env.Sequence),
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			SettlementRef:  env.SettlementRef,
			Outcome:        string(env.Outcome),
			Reason:         env.Reason,
			Timestamp:      env.Timestamp,
		})
		for _, entry := range out.Journal {
			journalRows = append(journalRows, JournalRow{
				EntryID:       entry.EntryID.String(),
				SettlementRef: entry.SettlementRef,
				Account:       entry.Account,
				Delta:         entry.Delta,
				Kind:          string(entry.Kind),
				Sequence:      int64(entry.Sequence),
				Timestamp:     entry.Timestamp,
			})
		}
		for _, tr := range out.Transfers {
			transferRows = append(transferRows, TransferRow{
				TransferID:    tr.TransferID.String(),
				SettlementRef: tr.SettlementRef,
				Recipient:     tr.Recipient,
				Amount:        tr.Amount,
				Reason:        tr.Reason,
			})
		}
		changes = append(changes, out.StateChanges...)
	}

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteCommandBatch(ctx, tx, commandRows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_commands").Inc()
		}
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journalRows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_journal").Inc()
		}
		return err
	}
	if err := w.writer.WriteTransferBatch(ctx, tx, transferRows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_transfers").Inc()
		}
		return err
	}
	if err := w.writer.ApplyStateChanges(ctx, tx, changes); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("apply_state").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistCommandsWritten.Add(float64(len(commandRows)))
	}

	// The batch is durable; release its side effects. Registry requests and
	// transfers use blocking sends; they must reach their publishers.
	// Settled announcements are informational and may drop.
	for _, out := range batch {
		for _, req := range out.RegistryRequests {
			w.registryChan <- req
		}
		for _, tr := range out.Transfers {
			w.transferChan <- tr
		}
		select {
		case w.settledChan <- *out.Envelope:
		default:
		}
	}

	return nil
}

// GetWriter returns the underlying writer for startup tasks.
func (w *Worker) GetWriter() *Writer {
	return w.writer
}
