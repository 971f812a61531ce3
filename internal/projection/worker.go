package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"clearinghouse/internal/event"
	"clearinghouse/internal/observability"
)

// Worker updates read-side projection tables from applied envelopes. The
// projection channel is non-blocking on the core side: if this worker falls
// behind, envelopes are dropped and the tables rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan *event.Envelope
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan *event.Envelope, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run consumes envelopes until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, env); err != nil {
				// Projections are eventually consistent; a failed update is
				// recovered by a rebuild from the event log.
				w.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("projection update failed")
			}
			w.lastSeq = env.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, env *event.Envelope) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var projection string
	switch rec := env.Payload.(type) {
	case *event.LiquidationRecord:
		projection = "liquidation_history"
		err = w.applyLiquidation(ctx, tx, env, rec)
	case *event.OrderActionRecord:
		projection = "fill_history"
		err = w.applyOrderAction(ctx, tx, env, rec)
	case *event.DepositRecord:
		projection = "transfer_history"
		err = w.applyTransfer(ctx, tx, env, "deposit", rec.Account.String(), rec.Market, rec.TokenAmount)
	case *event.WithdrawalRecord:
		projection = "transfer_history"
		err = w.applyTransfer(ctx, tx, env, "withdrawal", rec.Account.String(), rec.Market, rec.TokenAmount)
	default:
		projection = "watermark"
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) applyLiquidation(ctx context.Context, tx *sql.Tx, env *event.Envelope, rec *event.LiquidationRecord) error {
	var (
		marketIndex       *uint16
		liabilityTransfer uint64
		assetTransfer     uint64
		ifFee             uint64
		socializedLoss    uint64
	)
	switch d := rec.Details.(type) {
	case event.LiquidateSpotDetails:
		idx := d.LiabilityMarketIndex
		marketIndex = &idx
		liabilityTransfer = d.LiabilityTransfer
		assetTransfer = d.AssetTransfer
		ifFee = d.IfFee
	case event.SpotBankruptcyDetails:
		idx := d.MarketIndex
		marketIndex = &idx
		socializedLoss = d.BorrowAmount
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidation_type, account_key, liquidator_key, liquidation_id,
			 market_index, liability_transfer, asset_transfer, if_fee, socialized_loss, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, rec.Details.LiquidationType().String(), rec.Account.String(),
		rec.Liquidator.String(), int(rec.LiquidationID), marketIndexToSQL(marketIndex),
		int64(liabilityTransfer), int64(assetTransfer), int64(ifFee), int64(socializedLoss), rec.Ts)
	return err
}

func (w *Worker) applyOrderAction(ctx context.Context, tx *sql.Tx, env *event.Envelope, rec *event.OrderActionRecord) error {
	var taker, maker *string
	if rec.Taker != nil {
		s := rec.Taker.String()
		taker = &s
	}
	if rec.Maker != nil {
		s := rec.Maker.String()
		maker = &s
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.fill_history
			(sequence, action, fill_id, market_index, fill_price, base_filled, quote_filled,
			 taker_key, taker_order_id, maker_key, maker_order_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, rec.Action.String(), rec.FillID, int(rec.Market),
		int64(rec.FillPrice), int64(rec.BaseFilled), int64(rec.QuoteFilled),
		taker, int64(rec.TakerOrderID), maker, int64(rec.MakerOrderID), rec.Ts)
	return err
}

func (w *Worker) applyTransfer(ctx context.Context, tx *sql.Tx, env *event.Envelope, direction, account string, market uint16, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.transfer_history
			(sequence, direction, account_key, market_index, token_amount, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, direction, account, int(market), int64(amount), env.Ts)
	return err
}

func marketIndexToSQL(idx *uint16) interface{} {
	if idx == nil {
		return nil
	}
	return int(*idx)
}
