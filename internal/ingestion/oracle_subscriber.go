package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"clearinghouse/internal/observability"
	"clearinghouse/internal/oracle"
)

// PriceUpdate is the wire shape of one oracle observation on
// clearing.prices.{oracle_key}.
type PriceUpdate struct {
	OracleKey  string `json:"oracle_key"`
	Price      int64  `json:"price"`
	Confidence uint64 `json:"confidence"`
	Tick       int64  `json:"tick"`
}

// OracleSubscriber consumes oracle price updates from JetStream and forwards
// them to the core goroutine through updateChan. Gaps are tolerated: only
// the latest price per key matters.
type OracleSubscriber struct {
	js         jetstream.JetStream
	updateChan chan<- PriceUpdate
	metrics    *observability.Metrics
	log        zerolog.Logger
	consumer   jetstream.ConsumeContext
}

func NewOracleSubscriber(js jetstream.JetStream, updateChan chan<- PriceUpdate, metrics *observability.Metrics, log zerolog.Logger) *OracleSubscriber {
	return &OracleSubscriber{
		js:         js,
		updateChan: updateChan,
		metrics:    metrics,
		log:        log,
	}
}

// Subscribe creates the durable price consumer. Explicit ACK; malformed
// updates are acked and dropped rather than redelivered.
func (os *OracleSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := os.js.CreateOrUpdateConsumer(ctx, "CLEARING_PRICES", jetstream.ConsumerConfig{
		Durable:       "clearing-prices",
		FilterSubject: "clearing.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var upd PriceUpdate
		if err := json.Unmarshal(msg.Data(), &upd); err != nil {
			os.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed price update")
			msg.Ack()
			return
		}

		select {
		case os.updateChan <- upd:
			if os.metrics != nil {
				os.metrics.OracleUpdates.Inc()
			}
			msg.Ack()
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	os.consumer = cc
	os.log.Info().Str("subject", "clearing.prices.>").Msg("subscribed to oracle prices")
	return nil
}

// Stop drains the consumer.
func (os *OracleSubscriber) Stop() {
	if os.consumer != nil {
		os.consumer.Stop()
	}
}

// EnsurePriceStream creates the price stream if it does not exist.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "CLEARING_PRICES",
		Subjects:  []string{"clearing.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	return nil
}

// ToPriceData converts a wire update into the core's oracle observation.
func (u PriceUpdate) ToPriceData() oracle.PriceData {
	return oracle.PriceData{
		Price:          u.Price,
		Confidence:     u.Confidence,
		LastUpdateTick: u.Tick,
	}
}
