package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"clearinghouse/internal/event"
)

// OutboundPublisher publishes applied envelopes to NATS for downstream
// consumers. Subjects follow clearing.events.{record_type}[.{market_index}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.Envelope
	log       zerolog.Logger
}

// PublishableEnvelope is the outbound wire shape of an applied envelope.
type PublishableEnvelope struct {
	Sequence    int64       `json:"sequence"`
	RecordType  string      `json:"record_type"`
	Key         string      `json:"key"`
	MarketIndex *uint16     `json:"market_index,omitempty"`
	Payload     interface{} `json:"payload"`
	StateHash   []byte      `json:"state_hash"`
	Ts          int64       `json:"ts"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan *event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run publishes envelopes until ctx is cancelled or the channel closes. A
// failed publish is non-fatal: downstream consumers can read the event log
// directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	out := PublishableEnvelope{
		Sequence:    env.Sequence,
		RecordType:  env.RecordType.String(),
		Key:         env.Key,
		MarketIndex: env.MarketIndex,
		Payload:     env.Payload,
		StateHash:   env.StateHash[:],
		Ts:          env.Ts,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("clearing.events.%s", env.RecordType)
	if env.MarketIndex != nil {
		subject = fmt.Sprintf("%s.%d", subject, *env.MarketIndex)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "CLEARING_EVENTS",
		Subjects:  []string{"clearing.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
