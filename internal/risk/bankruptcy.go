package risk

import (
	"errors"
	"fmt"

	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ledger"
)

var ErrNotBankrupt = errors.New("account is not bankrupt")

// BankruptcyResult reports a resolved spot bankruptcy for event emission.
type BankruptcyResult struct {
	LiquidationID                  uint16
	BorrowAmount                   uint64
	CumulativeDepositInterestDelta uint64
}

// ResolveSpotBankruptcy forgives the victim's residual borrow in one market
// and socializes it across that market's depositors by lowering the
// cumulative deposit interest index. The borrow index and every other market
// are untouched. The forgiven debt leaves the liability side while deposits
// are only discounted, so the market's net token balance never decreases.
func (e *Engine) ResolveSpotBankruptcy(victim *ledger.Account, marketIndex uint16, nowTs int64) (BankruptcyResult, error) {
	if !victim.IsBankrupt {
		return BankruptcyResult{}, ErrNotBankrupt
	}
	m, err := e.ledger.Market(marketIndex)
	if err != nil {
		return BankruptcyResult{}, err
	}
	m.SettleInterest(nowTs)

	pos := victim.SpotPosition(marketIndex)
	if pos == nil || pos.BalanceType != ledger.BalanceTypeBorrow || pos.ScaledBalance == 0 {
		return BankruptcyResult{}, fmt.Errorf("%w: no residual borrow in market %d", ErrNotBankrupt, marketIndex)
	}
	if victim.HasDeposits() {
		return BankruptcyResult{}, fmt.Errorf("%w: collateral remains", ErrNotBankrupt)
	}
	if m.DepositBalanceScaled == 0 {
		return BankruptcyResult{}, fmt.Errorf("socialization impossible: market %d has no depositors", marketIndex)
	}

	// Borrow amounts round up, so forgiveness never under-counts the debt.
	borrowAmount := m.TokenAmount(pos.ScaledBalance, ledger.BalanceTypeBorrow)

	// Index delta rounds down: the deposit side never gives up more than
	// the forgiven amount.
	indexDelta := fpmath.MulDivU64(borrowAmount, uint64(fpmath.InterestPrecision), m.DepositBalanceScaled, fpmath.RoundDown)
	if indexDelta >= m.CumulativeDepositInterest {
		return BankruptcyResult{}, fmt.Errorf("socialization would zero the deposit index for market %d", marketIndex)
	}

	m.BorrowBalanceScaled -= pos.ScaledBalance
	pos.ScaledBalance = 0
	m.CumulativeDepositInterest -= indexDelta

	// The flags stay set while debt is outstanding in other markets; each
	// market resolves separately.
	if !victim.HasBorrows() {
		victim.IsBankrupt = false
		victim.IsBeingLiquidated = false
	}
	liquidationID := victim.TakeLiquidationID()

	return BankruptcyResult{
		LiquidationID:                  liquidationID,
		BorrowAmount:                   borrowAmount,
		CumulativeDepositInterestDelta: indexDelta,
	}, nil
}
