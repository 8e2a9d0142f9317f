// Package ingestion connects the engine to NATS JetStream and Kafka: the
// durable confirm-job queue, the deposit notification subscriber, the payout
// signal and outbound ledger events.
package ingestion

import (
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"CricLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Stream and subject layout.
const (
	StreamDeposits     = "CRIC_DEPOSITS"
	StreamLedgerEvents = "CRIC_LEDGER_EVENTS"
	StreamPayouts      = "CRIC_PAYOUTS"

	SubjectNotify       = "cric.deposits.notify"
	SubjectConfirm      = "cric.deposits.confirm"
	SubjectLedgerEvents = "cric.ledger.events"
	SubjectPayouts      = "cric.payouts.requested"
)

// dedupeWindow is how long JetStream remembers a Nats-Msg-Id.
const dedupeWindow = 2 * time.Minute

// StreamConfigs returns the streams the engine publishes to.
// Streams use FileStorage, retention=Limits, max_age=72h.
func StreamConfigs() []jetstream.StreamConfig {
	mk := func(name, subjects string) jetstream.StreamConfig {
		return jetstream.StreamConfig{
			Name:       name,
			Subjects:   []string{subjects},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: dedupeWindow,
			Replicas:   1,
		}
	}
	return []jetstream.StreamConfig{
		mk(StreamDeposits, "cric.deposits.>"),
		mk(StreamLedgerEvents, SubjectLedgerEvents+".>"),
		mk(StreamPayouts, "cric.payouts.>"),
	}
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	for _, cfg := range StreamConfigs() {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("cricledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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

// Ingester is the part of deposit.Pipeline the notification subscriber needs.
type Ingester interface {
	Ingest(ctx context.Context, n deposit.Notification) (deposit.Ack, error)
}

// NotificationSubscriber feeds deposit notifications published on
// cric.deposits.notify.> into the pipeline. It is the broker-side twin of
// the HTTP webhook.
type NotificationSubscriber struct {
	js       jetstream.JetStream
	ingester Ingester
	log      zerolog.Logger
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewNotificationSubscriber(js jetstream.JetStream, ingester Ingester, log zerolog.Logger, metrics *observability.Metrics) *NotificationSubscriber {
	return &NotificationSubscriber{js: js, ingester: ingester, log: log, metrics: metrics}
}

// Subscribe creates the durable consumer and starts delivering.
// The consumer uses explicit ACK, max_deliver=10, ack_wait=30s.
func (s *NotificationSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamDeposits, jetstream.ConsumerConfig{
		Durable:       "cric-deposit-notify",
		FilterSubject: SubjectNotify + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer cric-deposit-notify: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume cric-deposit-notify: %w", err)
	}
	s.consumer = cc
	s.log.Info().Str("subject", SubjectNotify+".>").Msg("subscribed to deposit notifications")
	return nil
}

func (s *NotificationSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	n, err := ParseNotification(msg.Data())
	if err != nil {
		s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("undecodable deposit notification dropped")
		_ = msg.Term()
		return
	}

	ack, err := s.ingester.Ingest(ctx, n)
	switch domain.Classify(err) {
	case domain.DispositionOK:
		s.log.Debug().Str("reference", n.Reference).Str("transaction_id", ack.TransactionID.String()).Bool("duplicate", ack.Duplicate).Msg("deposit notification accepted")
		_ = msg.Ack()
	case domain.DispositionRetry:
		s.log.Warn().Err(err).Str("reference", n.Reference).Msg("deposit notification will be redelivered")
		_ = msg.NakWithDelay(2 * time.Second)
	default:
		s.log.Warn().Err(err).Str("reference", n.Reference).Msg("deposit notification rejected")
		_ = msg.Term()
	}
}

// Stop stops delivery.
func (s *NotificationSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("deposit notification subscriber stopped")
}
