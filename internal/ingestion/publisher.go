package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopspring/decimal"
)

// OutboundPublisher publishes settlement outcomes to NATS for downstream
// consumers (accounting, notifications). Events are published after the
// settlement record is persisted.
// Subjects follow the pattern: fee.ledger.settled.{currency}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan SettledEvent
}

// SettledEvent is a settled fee ready for outbound publishing.
type SettledEvent struct {
	SettlementID string          `json:"settlement_id"`
	OrderID      string          `json:"order_id"`
	Currency     string          `json:"currency"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	Status       string          `json:"status"`
	Transferred  bool            `json:"transferred"`
	Timestamp    time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan SettledEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed settlement=%s: %v", evt.SettlementID, err)
				// Non-fatal: downstream consumers can query the records directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt SettledEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("fee.ledger.settled.%s", evt.Currency)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FEE_LEDGER_EVENTS",
		Subjects:  []string{"fee.ledger.settled.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream FEE_LEDGER_EVENTS")
	return nil
}
