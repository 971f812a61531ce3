package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager creates and loads state snapshots for recovery. On warm
// restart the latest verified snapshot is loaded and the core resumes from
// snapshot.sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full in-memory clearinghouse state at a point in time.
type SnapshotData struct {
	Sequence  int64             `json:"sequence"`
	StateHash []byte            `json:"state_hash"`
	PrevHash  []byte            `json:"prev_hash"`
	Markets   []MarketSnapshot  `json:"markets"`
	Accounts  []AccountSnapshot `json:"accounts"`
	CreatedAt time.Time         `json:"created_at"`
}

// MarketSnapshot is a serializable market record.
type MarketSnapshot struct {
	MarketIndex               uint16 `json:"market_index"`
	Name                      string `json:"name"`
	Decimals                  uint8  `json:"decimals"`
	OracleKey                 string `json:"oracle_key"`
	DepositBalanceScaled      uint64 `json:"deposit_balance_scaled"`
	BorrowBalanceScaled       uint64 `json:"borrow_balance_scaled"`
	CumulativeDepositInterest uint64 `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest  uint64 `json:"cumulative_borrow_interest"`
	OptimalUtilization        int64  `json:"optimal_utilization"`
	OptimalRate               int64  `json:"optimal_rate"`
	MaxRate                   int64  `json:"max_rate"`
	LastInterestTs            int64  `json:"last_interest_ts"`
	MaintenanceAssetWeight    int64  `json:"maintenance_asset_weight"`
	MaintenanceLiabilityWeight int64 `json:"maintenance_liability_weight"`
	LiquidatorFee             int64  `json:"liquidator_fee"`
	IfLiquidationFee          int64  `json:"if_liquidation_fee"`
	InsuranceFundBalance      uint64 `json:"insurance_fund_balance"`
}

// AccountSnapshot is a serializable account record.
type AccountSnapshot struct {
	AccountID         string                 `json:"account_id"`
	SubAccountID      uint16                 `json:"sub_account_id"`
	Authority         []byte                 `json:"authority"`
	SpotPositions     []PositionSnapshot     `json:"spot_positions"`
	PerpPositions     []PerpPositionSnapshot `json:"perp_positions"`
	IsBeingLiquidated bool                   `json:"is_being_liquidated"`
	IsBankrupt        bool                   `json:"is_bankrupt"`
	NextLiquidationID uint16                 `json:"next_liquidation_id"`
	NextOrderID       uint32                 `json:"next_order_id"`
	HasOrderStore     bool                   `json:"has_order_store"`
	ReplayEntries     []ReplayEntrySnapshot  `json:"replay_entries"`
	OpenOrders        []OrderSnapshot        `json:"open_orders"`
}

// OrderSnapshot is a serializable resting order.
type OrderSnapshot struct {
	OrderID           uint32                `json:"order_id"`
	MarketIndex       uint16                `json:"market_index"`
	MarketType        uint8                 `json:"market_type"`
	Type              uint8                 `json:"type"`
	Direction         uint8                 `json:"direction"`
	BaseAssetAmount   uint64                `json:"base_asset_amount"`
	BaseFilled        uint64                `json:"base_filled"`
	Price             uint64                `json:"price"`
	AuctionStartPrice int64                 `json:"auction_start_price"`
	AuctionEndPrice   int64                 `json:"auction_end_price"`
	AuctionDuration   uint16                `json:"auction_duration"`
	HasAuction        bool                  `json:"has_auction"`
	PostOnly          bool                  `json:"post_only"`
	ImmediateOrCancel bool                  `json:"immediate_or_cancel"`
	TriggerPrice      uint64                `json:"trigger_price"`
	TriggerCondition  uint8                 `json:"trigger_condition"`
	Slot              uint64                `json:"slot"`
	SignedOrigin      bool                  `json:"signed_origin"`
	TakeProfit        *TriggerParamsSnapshot `json:"take_profit,omitempty"`
	StopLoss          *TriggerParamsSnapshot `json:"stop_loss,omitempty"`
}

// TriggerParamsSnapshot is a pending take-profit or stop-loss attachment.
type TriggerParamsSnapshot struct {
	TriggerPrice     uint64 `json:"trigger_price"`
	BaseAssetAmount  uint64 `json:"base_asset_amount"`
	TriggerCondition uint8  `json:"trigger_condition"`
}

// PositionSnapshot is a serializable spot position.
type PositionSnapshot struct {
	MarketIndex   uint16 `json:"market_index"`
	ScaledBalance uint64 `json:"scaled_balance"`
	BalanceType   uint8  `json:"balance_type"`
}

// PerpPositionSnapshot is a serializable perp position.
type PerpPositionSnapshot struct {
	MarketIndex      uint16 `json:"market_index"`
	BaseAssetAmount  int64  `json:"base_asset_amount"`
	QuoteAssetAmount int64  `json:"quote_asset_amount"`
}

// ReplayEntrySnapshot is one live signed-order hash with its expiry slot.
type ReplayEntrySnapshot struct {
	Hash    string `json:"hash"`
	MaxSlot uint64 `json:"max_slot"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots are written unverified; the
// caller marks them verified once the cut is known clean.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEnvelopesFrom loads stored envelopes from a given sequence for replay.
func (sm *SnapshotManager) LoadEnvelopesFrom(ctx context.Context, fromSequence int64, limit int) ([]EnvelopeRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, record_type, record_key, market_index, payload,
		       state_hash, prev_hash, ts
		FROM event_log.records
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnvelopeRow
	for rows.Next() {
		var r EnvelopeRow
		if err := rows.Scan(
			&r.Sequence, &r.RecordType, &r.Key, &r.MarketIndex,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Ts,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}
