// Package ingestion is the shell around the settlement engine: it consumes
// raw NATS messages, parses them into typed commands, and publishes the
// engine's outward effects after they are durable.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Inbound subjects. Buyer and seller actions arrive on tix.buy.* and
// tix.listing.*; the registry bridge answers on tix.registry.result.*.
// Purchases the payment gateway fronts arrive on tix.relay.buy.*, which
// NATS authorization restricts to the gateway's credentials.
const (
	SubjectBuyPrimary      = "tix.buy.primary"
	SubjectBuyResale       = "tix.buy.resale"
	SubjectRelayBuyPrimary = "tix.relay.buy.primary"
	SubjectRelayBuyResale  = "tix.relay.buy.resale"
	SubjectListingApprove  = "tix.listing.approve"
	SubjectListingRevoke   = "tix.listing.revoke"
	SubjectListingReprice  = "tix.listing.reprice"
	SubjectBalanceDeposit  = "tix.balance.deposit"
	SubjectBalanceWithdraw = "tix.balance.withdraw"
	SubjectResultMint      = "tix.registry.result.mint"
	SubjectResultDropInfo  = "tix.registry.result.dropinfo"
	SubjectResultTransfer  = "tix.registry.result.transfer"
)

// RawMessage is a consumed-but-unparsed NATS message, ready for the shell
// to convert into a typed command before it reaches the engine.
type RawMessage struct {
	Subject string
	Data    []byte
	AckFunc func()
	NakFunc func()
}

// SubjectConfig maps a NATS subject to its consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: SubjectBuyPrimary, ConsumerName: "tix-buy-primary", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectBuyResale, ConsumerName: "tix-buy-resale", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectRelayBuyPrimary, ConsumerName: "tix-relay-buy-primary", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectRelayBuyResale, ConsumerName: "tix-relay-buy-resale", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectListingApprove, ConsumerName: "tix-listing-approve", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectListingRevoke, ConsumerName: "tix-listing-revoke", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectListingReprice, ConsumerName: "tix-listing-reprice", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectBalanceDeposit, ConsumerName: "tix-balance-deposit", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectBalanceWithdraw, ConsumerName: "tix-balance-withdraw", StreamName: "TIX_COMMANDS"},
		{Subject: SubjectResultMint, ConsumerName: "tix-result-mint", StreamName: "TIX_REGISTRY_RESULTS"},
		{Subject: SubjectResultDropInfo, ConsumerName: "tix-result-dropinfo", StreamName: "TIX_REGISTRY_RESULTS"},
		{Subject: SubjectResultTransfer, ConsumerName: "tix-result-transfer", StreamName: "TIX_REGISTRY_RESULTS"},
	}
}

// Subscriber feeds raw NATS messages into the shell's parse loop.
type Subscriber struct {
	js          jetstream.JetStream
	messageChan chan<- RawMessage
	consumers   []jetstream.ConsumeContext
	logger      zerolog.Logger
}

func NewSubscriber(js jetstream.JetStream, messageChan chan<- RawMessage, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:          js,
		messageChan: messageChan,
		logger:      logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject: msg.Subject(),
				Data:    msg.Data(),
				AckFunc: func() { _ = msg.Ack() },
				NakFunc: func() { _ = msg.Nak() },
			}

			select {
			case s.messageChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, consumerContext)
		s.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "TIX_COMMANDS",
			Subjects:  []string{"tix.buy.>", "tix.relay.>", "tix.listing.>", "tix.balance.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TIX_REGISTRY_RESULTS",
			Subjects:  []string{"tix.registry.result.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TIX_PAYMENTS",
			Subjects:  []string{"tix.payments.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TIX_SETTLED",
			Subjects:  []string{"tix.settled.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}

	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.logger.Info().Msg("subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
