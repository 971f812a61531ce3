package event

import (
	"fmt"

	"github.com/google/uuid"

	"clearinghouse/internal/ledger"
)

// LiquidationType discriminates the variant payload of a LiquidationRecord.
type LiquidationType uint8

const (
	LiquidationTypeLiquidateSpot LiquidationType = iota
	LiquidationTypeSpotBankruptcy
	LiquidationTypePerpBankruptcy
)

func (lt LiquidationType) String() string {
	switch lt {
	case LiquidationTypeLiquidateSpot:
		return "LiquidateSpot"
	case LiquidationTypeSpotBankruptcy:
		return "SpotBankruptcy"
	case LiquidationTypePerpBankruptcy:
		return "PerpBankruptcy"
	default:
		return "Unknown"
	}
}

// LiquidationDetails is the tagged variant payload carried by a
// LiquidationRecord. Exactly one concrete type per LiquidationType.
type LiquidationDetails interface {
	LiquidationType() LiquidationType
}

// LiquidateSpotDetails describes an asset/liability swap between a victim and
// its liquidator.
type LiquidateSpotDetails struct {
	AssetMarketIndex     uint16
	LiabilityMarketIndex uint16
	AssetPrice           int64
	LiabilityPrice       int64
	AssetTransfer        uint64
	LiabilityTransfer    uint64
	IfFee                uint64
}

func (LiquidateSpotDetails) LiquidationType() LiquidationType {
	return LiquidationTypeLiquidateSpot
}

// SpotBankruptcyDetails describes a forgiven borrow socialized into the
// market's deposit interest index.
type SpotBankruptcyDetails struct {
	MarketIndex                    uint16
	BorrowAmount                   uint64
	CumulativeDepositInterestDelta uint64
}

func (SpotBankruptcyDetails) LiquidationType() LiquidationType {
	return LiquidationTypeSpotBankruptcy
}

// PerpBankruptcyDetails describes a negative-equity perp position zeroed
// against the market.
type PerpBankruptcyDetails struct {
	MarketIndex       uint16
	Pnl               int64
	IfPayment         uint64
	ClawbackUser      *ledger.AccountKey
	ClawbackUserPayment uint64
}

func (PerpBankruptcyDetails) LiquidationType() LiquidationType {
	return LiquidationTypePerpBankruptcy
}

// LiquidationRecord is the immutable outcome of one liquidation-family
// operation against an account.
type LiquidationRecord struct {
	Ts            int64
	RecordID      uuid.UUID
	Account       ledger.AccountKey
	Liquidator    ledger.AccountKey
	LiquidationID uint16
	Details       LiquidationDetails
}

func (r *LiquidationRecord) RecordType() RecordType { return RecordTypeLiquidation }

func (r *LiquidationRecord) MarketIndex() *uint16 {
	switch d := r.Details.(type) {
	case LiquidateSpotDetails:
		idx := d.LiabilityMarketIndex
		return &idx
	case SpotBankruptcyDetails:
		idx := d.MarketIndex
		return &idx
	case PerpBankruptcyDetails:
		idx := d.MarketIndex
		return &idx
	default:
		return nil
	}
}

func (r *LiquidationRecord) Key() string {
	return fmt.Sprintf("liq:%s:%d", r.Account, r.LiquidationID)
}
