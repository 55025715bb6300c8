package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"TicketLedger/internal/settlement"
)

const subjectTransfer = "tix.payments.transfer"

// TransferPublisher pushes payment instructions to the payment rail. These
// are real money movements; a publish failure is retried and a final drop
// is logged as an error so operators can replay it from the transfer log.
type TransferPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan settlement.Transfer
	logger    zerolog.Logger
}

type transferJSON struct {
	TransferID    string `json:"transfer_id"`
	SettlementRef string `json:"settlement_ref"`
	Recipient     string `json:"recipient_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

func NewTransferPublisher(js jetstream.JetStream, inputChan <-chan settlement.Transfer, logger zerolog.Logger) *TransferPublisher {
	return &TransferPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publish loop.
func (tp *TransferPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tr, ok := <-tp.inputChan:
			if !ok {
				return nil
			}
			if err := tp.publish(ctx, tr); err != nil {
				tp.logger.Error().
					Err(err).
					Str("transfer_id", tr.TransferID.String()).
					Str("recipient", tr.Recipient).
					Int64("amount", tr.Amount).
					Msg("transfer publish dropped after retries")
			}
		}
	}
}

func (tp *TransferPublisher) publish(ctx context.Context, tr settlement.Transfer) error {
	data, err := json.Marshal(transferJSON{
		TransferID:    tr.TransferID.String(),
		SettlementRef: tr.SettlementRef,
		Recipient:     tr.Recipient,
		Amount:        tr.Amount,
		Reason:        tr.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		_, lastErr = tp.js.Publish(ctx, subjectTransfer, data, jetstream.WithMsgID(tr.TransferID.String()))
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// SettledPublisher announces finished settlement steps on tix.settled.* for
// downstream consumers. Best effort: a dropped announcement can be rebuilt
// from the command log.
type SettledPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan settlement.Envelope
	logger    zerolog.Logger
}

type settledJSON struct {
	Sequence       uint64 `json:"sequence"`
	IdempotencyKey string `json:"idempotency_key"`
	CommandType    string `json:"command_type"`
	SettlementRef  string `json:"settlement_ref"`
	Outcome        string `json:"outcome"`
	Reason         string `json:"reason,omitempty"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func NewSettledPublisher(js jetstream.JetStream, inputChan <-chan settlement.Envelope, logger zerolog.Logger) *SettledPublisher {
	return &SettledPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publish loop.
func (sp *SettledPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-sp.inputChan:
			if !ok {
				return nil
			}

			data, err := json.Marshal(settledJSON{
				Sequence:       env.Sequence,
				IdempotencyKey: env.IdempotencyKey,
				CommandType:    env.CommandType.String(),
				SettlementRef:  env.SettlementRef,
				Outcome:        string(env.Outcome),
				Reason:         env.Reason,
				TimestampUs:    env.Timestamp.UnixMicro(),
			})
			if err != nil {
				continue
			}

			subject := "tix.settled." + strings.ToLower(string(env.Outcome))
			if _, err := sp.js.Publish(ctx, subject, data); err != nil {
				sp.logger.Warn().Err(err).Uint64("sequence", env.Sequence).Msg("settled publish failed")
			}
		}
	}
}
