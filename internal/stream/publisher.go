package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"cdpvault/internal/core"
)

// OutboundPublisher publishes applied operations to NATS for downstream
// consumers. Subjects follow the pattern cdp.vault.events.{op}, with the
// vault id appended for position operations.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.EngineOutput
}

// OperationEvent is the outbound wire form of an applied operation.
type OperationEvent struct {
	Sequence  int64           `json:"sequence"`
	Op        string          `json:"op"`
	RequestID string          `json:"request_id"`
	VaultID   *uuid.UUID      `json:"vault_id,omitempty"`
	Caller    uuid.UUID       `json:"caller"`
	Amount    int64           `json:"amount"`
	Payload   json.RawMessage `json:"payload"`
	StateHash []byte          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.EngineOutput) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop. Blocks until ctx is cancelled
// or the input channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Record.Sequence, err)
				// Non-fatal: downstream consumers can query the operation log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.EngineOutput) error {
	rec := out.Record

	evt := OperationEvent{
		Sequence:  rec.Sequence,
		Op:        rec.Op.String(),
		RequestID: rec.RequestID,
		VaultID:   rec.VaultID,
		Caller:    rec.Caller,
		Amount:    rec.Amount,
		Payload:   rec.Payload,
		StateHash: rec.StateHash[:],
		Timestamp: rec.Timestamp,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("cdp.vault.events.%s", evt.Op)
	if evt.VaultID != nil {
		subject = fmt.Sprintf("%s.%s", subject, evt.VaultID)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "CDP_VAULT_EVENTS",
		Subjects:  []string{"cdp.vault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream CDP_VAULT_EVENTS")
	return nil
}
