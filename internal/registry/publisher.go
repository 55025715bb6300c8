package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subjects for outbound registry calls. The registry bridge consumes these
// and answers on tix.registry.result.*.
const (
	SubjectMintKeys    = "tix.registry.request.mint"
	SubjectGetDropInfo = "tix.registry.request.dropinfo"
	SubjectTransfer    = "tix.registry.request.transfer"
	SubjectCreateClaim = "tix.registry.request.claim"
)

func subjectFor(kind RequestKind) (string, error) {
	switch kind {
	case KindMintKeys:
		return SubjectMintKeys, nil
	case KindGetDropInfo:
		return SubjectGetDropInfo, nil
	case KindTransferWithPayout:
		return SubjectTransfer, nil
	case KindCreateClaim:
		return SubjectCreateClaim, nil
	default:
		return "", fmt.Errorf("unknown registry request kind %q", kind)
	}
}

// Publisher drains outbound registry requests from the settlement loop and
// publishes them to JetStream. Publish failures are retried; a registry call
// that carries a continuation must not be dropped silently, since the
// settlement it belongs to would never resume.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan Request
	logger    zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan Request, logger zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publish loop. Returns when ctx is cancelled or the input
// channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publishWithRetry(ctx, req); err != nil {
				p.logger.Error().
					Err(err).
					Str("request_id", req.RequestID).
					Str("kind", string(req.Kind)).
					Msg("registry request dropped after retries")
			}
		}
	}
}

func (p *Publisher) publishWithRetry(ctx context.Context, req Request) error {
	subject, err := subjectFor(req.Kind)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal registry request: %w", err)
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
		// MsgId gives JetStream-side dedup if a retry races a slow ack.
		_, lastErr = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(req.RequestID))
		if lastErr == nil {
			p.logger.Debug().
				Str("request_id", req.RequestID).
				Str("subject", subject).
				Msg("registry request published")
			return nil
		}
	}
	return lastErr
}

// EnsureRequestStream creates the stream holding outbound registry requests.
func EnsureRequestStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "TIX_REGISTRY_REQUESTS",
		Subjects:  []string{"tix.registry.request.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create registry request stream: %w", err)
	}
	return nil
}
