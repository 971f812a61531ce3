package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountKey addresses a fixed-layout account record: account plus
// sub-account index.
type AccountKey struct {
	AccountID    uuid.UUID
	SubAccountID uint16
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s:%d", k.AccountID, k.SubAccountID)
}

// SpotPosition holds one market's interest-bearing balance for an account.
// ScaledBalance is never negative; the balance type flips only through an
// explicit transfer that exhausts the other side.
type SpotPosition struct {
	MarketIndex   uint16
	ScaledBalance uint64
	BalanceType   BalanceType
}

// PerpPosition is the order engine's settlement target: a signed base amount
// plus the quote paid or received for it.
type PerpPosition struct {
	MarketIndex      uint16
	BaseAssetAmount  int64
	QuoteAssetAmount int64
}

// Account is the per-user ledger record. Positions are kept in the order the
// markets were first touched.
type Account struct {
	Key       AccountKey
	Authority []byte // signing public key

	SpotPositions []*SpotPosition
	PerpPositions []*PerpPosition

	IsBeingLiquidated bool
	IsBankrupt        bool

	// NextLiquidationID starts at 1 and increments per liquidation event
	// against this account.
	NextLiquidationID uint16

	NextOrderID uint32
}

func NewAccount(key AccountKey, authority []byte) *Account {
	return &Account{
		Key:               key,
		Authority:         authority,
		NextLiquidationID: 1,
		NextOrderID:       1,
	}
}

// SpotPosition returns the position for a market, or nil.
func (a *Account) SpotPosition(marketIndex uint16) *SpotPosition {
	for _, p := range a.SpotPositions {
		if p.MarketIndex == marketIndex {
			return p
		}
	}
	return nil
}

// EnsureSpotPosition returns the position for a market, creating an empty
// deposit position on first touch.
func (a *Account) EnsureSpotPosition(marketIndex uint16) *SpotPosition {
	if p := a.SpotPosition(marketIndex); p != nil {
		return p
	}
	p := &SpotPosition{MarketIndex: marketIndex, BalanceType: BalanceTypeDeposit}
	a.SpotPositions = append(a.SpotPositions, p)
	return p
}

// PerpPosition returns the perp position for a market, or nil.
func (a *Account) PerpPosition(marketIndex uint16) *PerpPosition {
	for _, p := range a.PerpPositions {
		if p.MarketIndex == marketIndex {
			return p
		}
	}
	return nil
}

// EnsurePerpPosition returns the perp position for a market, creating a flat
// one on first touch.
func (a *Account) EnsurePerpPosition(marketIndex uint16) *PerpPosition {
	if p := a.PerpPosition(marketIndex); p != nil {
		return p
	}
	p := &PerpPosition{MarketIndex: marketIndex}
	a.PerpPositions = append(a.PerpPositions, p)
	return p
}

// TakeLiquidationID returns the current liquidation id and advances the
// monotonic counter.
func (a *Account) TakeLiquidationID() uint16 {
	id := a.NextLiquidationID
	a.NextLiquidationID++
	return id
}

// TakeOrderID returns a fresh order id for this account.
func (a *Account) TakeOrderID() uint32 {
	id := a.NextOrderID
	a.NextOrderID++
	return id
}

// HasDeposits reports whether any spot position still holds collateral.
func (a *Account) HasDeposits() bool {
	for _, p := range a.SpotPositions {
		if p.BalanceType == BalanceTypeDeposit && p.ScaledBalance > 0 {
			return true
		}
	}
	return false
}

// HasBorrows reports whether any spot position still carries debt.
func (a *Account) HasBorrows() bool {
	for _, p := range a.SpotPositions {
		if p.BalanceType == BalanceTypeBorrow && p.ScaledBalance > 0 {
			return true
		}
	}
	return false
}
