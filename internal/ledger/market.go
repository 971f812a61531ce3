package ledger

import (
	"clearinghouse/internal/fpmath"
)

// BalanceType tags a spot position as collateral or debt.
type BalanceType uint8

const (
	BalanceTypeDeposit BalanceType = iota
	BalanceTypeBorrow
)

func (bt BalanceType) String() string {
	switch bt {
	case BalanceTypeDeposit:
		return "deposit"
	case BalanceTypeBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// Market is the fixed-layout spot market record, addressable by MarketIndex.
// Scaled aggregates and cumulative interest indices implement the
// interest-bearing balance model: real amount = scaled * index / 1e10.
type Market struct {
	MarketIndex uint16
	Name        string
	Decimals    uint8

	DepositBalanceScaled uint64
	BorrowBalanceScaled  uint64

	// Monotonic under accrual, baseline fpmath.InterestPrecision (1.0).
	// Bankruptcy socialization is the only path that lowers the deposit index.
	CumulativeDepositInterest uint64
	CumulativeBorrowInterest  uint64

	RateCurve      fpmath.RateCurve
	LastInterestTs int64

	OracleKey string

	// MarginPrecision-scaled maintenance weights. Collateral is discounted by
	// the asset weight, debt inflated by the liability weight.
	MaintenanceAssetWeight     int64
	MaintenanceLiabilityWeight int64

	// FeePrecision-scaled liquidator discount and the insurance-fund skim.
	LiquidatorFee    int64
	IfLiquidationFee int64

	// InsuranceFundBalance is the loss-absorption reserve in token units.
	// It sits outside the deposit/borrow scaled aggregates.
	InsuranceFundBalance uint64
}

// TokenAmount converts a scaled balance into real tokens for this market.
// Deposit balances round down, borrow balances round up.
func (m *Market) TokenAmount(scaled uint64, bt BalanceType) uint64 {
	if bt == BalanceTypeBorrow {
		return fpmath.ScaledToToken(scaled, m.CumulativeBorrowInterest, fpmath.RoundUp)
	}
	return fpmath.ScaledToToken(scaled, m.CumulativeDepositInterest, fpmath.RoundDown)
}

// DepositTokenTotal is the market's real deposit-side total.
func (m *Market) DepositTokenTotal() uint64 {
	return m.TokenAmount(m.DepositBalanceScaled, BalanceTypeDeposit)
}

// BorrowTokenTotal is the market's real borrow-side total.
func (m *Market) BorrowTokenTotal() uint64 {
	return m.TokenAmount(m.BorrowBalanceScaled, BalanceTypeBorrow)
}

// NetTokenBalance is deposits minus borrows in real token units. Bankruptcy
// socialization never decreases it for the affected market.
func (m *Market) NetTokenBalance() int64 {
	return int64(m.DepositTokenTotal()) - int64(m.BorrowTokenTotal())
}

// SettleInterest accrues both cumulative indices up to nowTs. Every
// balance-affecting operation calls this before reading indices
// (accrue-then-act), so conversions never see a stale index.
func (m *Market) SettleInterest(nowTs int64) {
	elapsed := nowTs - m.LastInterestTs
	if elapsed <= 0 {
		return
	}
	m.LastInterestTs = nowTs

	if m.BorrowBalanceScaled == 0 {
		return
	}

	utilization := fpmath.Utilization(m.DepositTokenTotal(), m.BorrowTokenTotal())
	borrowRate := m.RateCurve.BorrowRate(utilization)
	depositRate := m.RateCurve.DepositRate(utilization)

	m.CumulativeBorrowInterest = fpmath.AccrueIndex(m.CumulativeBorrowInterest, borrowRate, elapsed)
	m.CumulativeDepositInterest = fpmath.AccrueIndex(m.CumulativeDepositInterest, depositRate, elapsed)
}
