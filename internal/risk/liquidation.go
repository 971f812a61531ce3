package risk

import (
	"errors"
	"fmt"

	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/oracle"
)

var (
	ErrNotLiquidatable                 = errors.New("account margin above maintenance threshold")
	ErrInsufficientLiquidatorCollateral = errors.New("liquidator cannot absorb the liability")
	ErrInvalidLiquidation              = errors.New("invalid liquidation")
)

// LiquidateSpotResult reports what one liquidation step moved, for event
// emission.
type LiquidateSpotResult struct {
	LiquidationID     uint16
	AssetPrice        int64
	LiabilityPrice    int64
	AssetTransfer     uint64
	LiabilityTransfer uint64
	IfFee             uint64
	Bankrupt          bool
}

// Engine evaluates margin and performs liquidations against the ledger. All
// methods run on the core goroutine.
type Engine struct {
	ledger      *ledger.Ledger
	oracle      oracle.Source
	maxOracleAge int64
}

func NewEngine(l *ledger.Ledger, src oracle.Source, maxOracleAge int64) *Engine {
	return &Engine{ledger: l, oracle: src, maxOracleAge: maxOracleAge}
}

// LiquidateSpot transfers a victim's liability (plus discounted collateral)
// to the liquidator. The liability transfer is capped by the victim's borrow,
// the caller's limit and the liquidator's free collateral; 1% of it is
// skimmed into the market's insurance fund. All deltas are staged before any
// state is touched, so a failed call leaves no trace.
func (e *Engine) LiquidateSpot(victim, liquidator *ledger.Account, assetMarketIndex, liabilityMarketIndex uint16, maxLiabilityTransfer uint64, nowTs int64) (LiquidateSpotResult, error) {
	mAsset, err := e.ledger.Market(assetMarketIndex)
	if err != nil {
		return LiquidateSpotResult{}, err
	}
	mLiab, err := e.ledger.Market(liabilityMarketIndex)
	if err != nil {
		return LiquidateSpotResult{}, err
	}
	mAsset.SettleInterest(nowTs)
	mLiab.SettleInterest(nowTs)

	assetPos := victim.SpotPosition(assetMarketIndex)
	if assetPos == nil || assetPos.BalanceType != ledger.BalanceTypeDeposit || assetPos.ScaledBalance == 0 {
		return LiquidateSpotResult{}, fmt.Errorf("%w: victim holds no deposit in market %d", ErrInvalidLiquidation, assetMarketIndex)
	}
	liabPos := victim.SpotPosition(liabilityMarketIndex)
	if liabPos == nil || liabPos.BalanceType != ledger.BalanceTypeBorrow || liabPos.ScaledBalance == 0 {
		return LiquidateSpotResult{}, fmt.Errorf("%w: victim holds no borrow in market %d", ErrInvalidLiquidation, liabilityMarketIndex)
	}

	victimMargin, err := ComputeMargin(e.ledger, victim, e.oracle, nowTs, e.maxOracleAge)
	if err != nil {
		return LiquidateSpotResult{}, err
	}
	if !victimMargin.CanBeLiquidated() && !victim.IsBeingLiquidated {
		return LiquidateSpotResult{}, ErrNotLiquidatable
	}

	assetPrice, err := oracle.FreshPrice(e.oracle, mAsset.OracleKey, nowTs, e.maxOracleAge)
	if err != nil {
		return LiquidateSpotResult{}, err
	}
	liabPrice, err := oracle.FreshPrice(e.oracle, mLiab.OracleKey, nowTs, e.maxOracleAge)
	if err != nil {
		return LiquidateSpotResult{}, err
	}

	headroom, err := e.liquidatorHeadroom(liquidator, mLiab, liabPrice.Price, nowTs)
	if err != nil {
		return LiquidateSpotResult{}, err
	}
	if headroom == 0 {
		return LiquidateSpotResult{}, ErrInsufficientLiquidatorCollateral
	}

	victimBorrow := mLiab.TokenAmount(liabPos.ScaledBalance, ledger.BalanceTypeBorrow)
	liabilityTransfer := minU64(maxLiabilityTransfer, victimBorrow, headroom)
	if liabilityTransfer == 0 {
		return LiquidateSpotResult{}, fmt.Errorf("%w: zero liability transfer", ErrInvalidLiquidation)
	}

	ifFee := fpmath.MulDivU64(liabilityTransfer, uint64(mLiab.IfLiquidationFee), uint64(fpmath.FeePrecision), fpmath.RoundDown)
	transferred := liabilityTransfer - ifFee

	// Collateral moved to the liquidator: the liability value repriced into
	// the asset, boosted by the liquidator discount, capped at what the
	// victim actually holds.
	liabilityValue := fpmath.TokenValue(liabilityTransfer, liabPrice.Price, mLiab.Decimals)
	boostedValue := fpmath.MulDivI64(liabilityValue, fpmath.FeePrecision+mAsset.LiquidatorFee, fpmath.FeePrecision, fpmath.RoundDown)
	assetTransfer := fpmath.TokenAmountForValue(boostedValue, assetPrice.Price, mAsset.Decimals, fpmath.RoundDown)
	victimDeposit := mAsset.TokenAmount(assetPos.ScaledBalance, ledger.BalanceTypeDeposit)
	if assetTransfer > victimDeposit {
		assetTransfer = victimDeposit
	}

	// Apply. Everything below is infallible.
	liqAssetPos := liquidator.EnsureSpotPosition(assetMarketIndex)
	liqLiabPos := liquidator.EnsureSpotPosition(liabilityMarketIndex)

	e.ledger.ApplyTransfer(assetPos, mAsset, ledger.BalanceTypeBorrow, assetTransfer)
	e.ledger.ApplyTransfer(liqAssetPos, mAsset, ledger.BalanceTypeDeposit, assetTransfer)

	e.ledger.ApplyTransfer(liabPos, mLiab, ledger.BalanceTypeDeposit, transferred)
	e.ledger.ApplyTransfer(liqLiabPos, mLiab, ledger.BalanceTypeBorrow, transferred)
	mLiab.InsuranceFundBalance += ifFee

	victim.IsBeingLiquidated = true
	liquidationID := victim.TakeLiquidationID()

	bankrupt := false
	if !victim.HasDeposits() && victim.HasBorrows() {
		victim.IsBankrupt = true
		bankrupt = true
	}

	return LiquidateSpotResult{
		LiquidationID:     liquidationID,
		AssetPrice:        assetPrice.Price,
		LiabilityPrice:    liabPrice.Price,
		AssetTransfer:     assetTransfer,
		LiabilityTransfer: liabilityTransfer,
		IfFee:             ifFee,
		Bankrupt:          bankrupt,
	}, nil
}

// liquidatorHeadroom converts the liquidator's free collateral into the
// maximum liability tokens it can take on while staying above maintenance.
func (e *Engine) liquidatorHeadroom(liquidator *ledger.Account, mLiab *ledger.Market, liabPrice int64, nowTs int64) (uint64, error) {
	calc, err := ComputeMargin(e.ledger, liquidator, e.oracle, nowTs, e.maxOracleAge)
	if err != nil {
		return 0, err
	}
	free := calc.FreeCollateral()
	if free == 0 {
		return 0, nil
	}
	absorbable := fpmath.MulDivI64(free, fpmath.MarginPrecision, mLiab.MaintenanceLiabilityWeight, fpmath.RoundDown)
	return fpmath.TokenAmountForValue(absorbable, liabPrice, mLiab.Decimals, fpmath.RoundDown), nil
}

func minU64(vals ...uint64) uint64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
