package ingestion

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/observability"
	"CricLedger/internal/withdrawal"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventSubject is the subject an envelope is published on:
// cric.ledger.events.{type}.
func EventSubject(e event.Envelope) string {
	return SubjectLedgerEvents + "." + e.Type.String()
}

// EventPublisher publishes ledger events to JetStream after commit.
// The envelope id is the Nats-Msg-Id, so a re-published event is dropped
// by the stream within the dedupe window.
type EventPublisher struct {
	js      jetstream.JetStream
	metrics *observability.Metrics
	timeout time.Duration
}

var _ event.Publisher = (*EventPublisher)(nil)

func NewEventPublisher(js jetstream.JetStream, metrics *observability.Metrics) *EventPublisher {
	return &EventPublisher{js: js, metrics: metrics, timeout: DefaultPublishTimeout}
}

func (p *EventPublisher) Publish(ctx context.Context, e event.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(EventSubject(e))
	msg.Data = data
	msg.Header.Set(HeaderEventType, e.Type.String())

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(e.ID.String())); err != nil {
		countPublish(p.metrics, "nats", e, err)
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	countPublish(p.metrics, "nats", e, nil)
	return nil
}

func countPublish(m *observability.Metrics, sink string, e event.Envelope, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EventPublishErrors.WithLabelValues(sink).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(sink, e.Type.String()).Inc()
}

// payoutJSON is the payout instruction sent to the payout collaborator.
type payoutJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	OwnerID      string `json:"owner_id"`
	Amount       string `json:"amount"`
	Address      string `json:"address"`
}

// PayoutSignaler publishes approved withdrawals on
// cric.payouts.requested.{withdrawal_id}. The withdrawal id is the
// Nats-Msg-Id, so signalling the same request twice is harmless.
type PayoutSignaler struct {
	js jetstream.JetStream
}

var _ withdrawal.PayoutSignaler = (*PayoutSignaler)(nil)

func NewPayoutSignaler(js jetstream.JetStream) *PayoutSignaler {
	return &PayoutSignaler{js: js}
}

func (s *PayoutSignaler) SignalPayout(ctx context.Context, w domain.WithdrawalRequest) error {
	msg, err := payoutMessage(w)
	if err != nil {
		return err
	}
	_, err = s.js.PublishMsg(ctx, msg, jetstream.WithMsgID(w.ID.String()))
	return err
}

func payoutMessage(w domain.WithdrawalRequest) (*nats.Msg, error) {
	data, err := json.Marshal(payoutJSON{
		WithdrawalID: w.ID.String(),
		OwnerID:      w.Owner.String(),
		Amount:       w.Amount.String(),
		Address:      w.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payout: %w", err)
	}
	msg := nats.NewMsg(SubjectPayouts + "." + w.ID.String())
	msg.Data = data
	return msg, nil
}
