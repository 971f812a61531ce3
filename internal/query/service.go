package query

import (
	"context"
	"database/sql"
	"fmt"
)

// Service provides read-only access to projection tables. All responses
// carry as_of_sequence so callers can reason about freshness.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LiquidationHistory returns the liquidation outcomes against an account,
// newest first.
func (s *Service) LiquidationHistory(ctx context.Context, accountKey string, limit int) ([]LiquidationHistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, liquidation_type, account_key, liquidator_key, liquidation_id,
		       market_index, liability_transfer, asset_transfer, if_fee, socialized_loss, ts
		FROM projections.liquidation_history
		WHERE account_key = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, accountKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationHistoryResponse
	for rows.Next() {
		var r LiquidationHistoryResponse
		var marketIndex sql.NullInt64
		if err := rows.Scan(
			&r.Sequence, &r.LiquidationType, &r.AccountKey, &r.LiquidatorKey, &r.LiquidationID,
			&marketIndex, &r.LiabilityTransfer, &r.AssetTransfer, &r.IfFee, &r.SocializedLoss, &r.Ts,
		); err != nil {
			return nil, err
		}
		if marketIndex.Valid {
			idx := int(marketIndex.Int64)
			r.MarketIndex = &idx
		}
		r.AsOfSequence = asOfSeq
		out = append(out, r)
	}
	return out, rows.Err()
}

// FillHistory returns order actions in a market, newest first.
func (s *Service) FillHistory(ctx context.Context, marketIndex int, limit int) ([]FillHistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, action, fill_id, market_index, fill_price, base_filled, quote_filled,
		       taker_key, taker_order_id, maker_key, maker_order_id, ts
		FROM projections.fill_history
		WHERE market_index = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, marketIndex, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillHistoryResponse
	for rows.Next() {
		var r FillHistoryResponse
		if err := rows.Scan(
			&r.Sequence, &r.Action, &r.FillID, &r.MarketIndex, &r.FillPrice, &r.BaseFilled,
			&r.QuoteFilled, &r.TakerKey, &r.TakerOrderID, &r.MakerKey, &r.MakerOrderID, &r.Ts,
		); err != nil {
			return nil, err
		}
		r.AsOfSequence = asOfSeq
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransferHistory returns an account's deposits and withdrawals, newest
// first.
func (s *Service) TransferHistory(ctx context.Context, accountKey string, limit int) ([]TransferHistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, direction, account_key, market_index, token_amount, ts
		FROM projections.transfer_history
		WHERE account_key = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, accountKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferHistoryResponse
	for rows.Next() {
		var r TransferHistoryResponse
		if err := rows.Scan(
			&r.Sequence, &r.Direction, &r.AccountKey, &r.MarketIndex, &r.TokenAmount, &r.Ts,
		); err != nil {
			return nil, err
		}
		r.AsOfSequence = asOfSeq
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
