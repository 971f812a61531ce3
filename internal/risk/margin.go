package risk

import (
	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/oracle"
)

// MarginCalculation is one oracle-priced snapshot of an account's solvency.
// Values are QuotePrecision-scaled: collateral is weighted down by each
// market's maintenance asset weight, the requirement weighted up by the
// liability weight.
type MarginCalculation struct {
	WeightedCollateral int64
	MarginRequirement  int64
}

func (c MarginCalculation) CanBeLiquidated() bool {
	return c.WeightedCollateral < c.MarginRequirement
}

// FreeCollateral is the headroom above the maintenance requirement, floored
// at zero.
func (c MarginCalculation) FreeCollateral() int64 {
	free := c.WeightedCollateral - c.MarginRequirement
	if free < 0 {
		return 0
	}
	return free
}

// ComputeMargin values every spot position of the account at fresh oracle
// prices. Markets must have settled interest before the call so token
// conversions see current indices.
func ComputeMargin(l *ledger.Ledger, a *ledger.Account, src oracle.Source, nowTick, maxAgeTicks int64) (MarginCalculation, error) {
	var calc MarginCalculation
	for _, pos := range a.SpotPositions {
		if pos.ScaledBalance == 0 {
			continue
		}
		m, err := l.Market(pos.MarketIndex)
		if err != nil {
			return MarginCalculation{}, err
		}
		pd, err := oracle.FreshPrice(src, m.OracleKey, nowTick, maxAgeTicks)
		if err != nil {
			return MarginCalculation{}, err
		}

		tokens := m.TokenAmount(pos.ScaledBalance, pos.BalanceType)
		value := fpmath.TokenValue(tokens, pd.Price, m.Decimals)

		if pos.BalanceType == ledger.BalanceTypeDeposit {
			calc.WeightedCollateral += fpmath.MulDivI64(value, m.MaintenanceAssetWeight, fpmath.MarginPrecision, fpmath.RoundDown)
		} else {
			calc.MarginRequirement += fpmath.MulDivI64(value, m.MaintenanceLiabilityWeight, fpmath.MarginPrecision, fpmath.RoundUp)
		}
	}
	return calc, nil
}
