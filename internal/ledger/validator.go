package ledger

import "fmt"

// InvariantValidator cross-checks ledger aggregates against the positions
// that back them. Violations indicate a core bug, not bad input.
type InvariantValidator struct {
	ledger *Ledger
}

func NewInvariantValidator(l *Ledger) *InvariantValidator {
	return &InvariantValidator{ledger: l}
}

// ValidateMarketAggregates verifies that the sum of all account positions in
// a market equals the market's scaled aggregates.
func (v *InvariantValidator) ValidateMarketAggregates(marketIndex uint16) error {
	m, err := v.ledger.Market(marketIndex)
	if err != nil {
		return err
	}

	var depositSum, borrowSum uint64
	for _, a := range v.ledger.Accounts() {
		pos := a.SpotPosition(marketIndex)
		if pos == nil {
			continue
		}
		if pos.BalanceType == BalanceTypeDeposit {
			depositSum += pos.ScaledBalance
		} else {
			borrowSum += pos.ScaledBalance
		}
	}

	if depositSum != m.DepositBalanceScaled {
		return fmt.Errorf("market %d deposit aggregate mismatch: positions=%d market=%d",
			marketIndex, depositSum, m.DepositBalanceScaled)
	}
	if borrowSum != m.BorrowBalanceScaled {
		return fmt.Errorf("market %d borrow aggregate mismatch: positions=%d market=%d",
			marketIndex, borrowSum, m.BorrowBalanceScaled)
	}
	return nil
}

// ValidateBorrowCovered verifies deposits cover borrows in real token units.
func (v *InvariantValidator) ValidateBorrowCovered(marketIndex uint16) error {
	m, err := v.ledger.Market(marketIndex)
	if err != nil {
		return err
	}
	if m.BorrowTokenTotal() > m.DepositTokenTotal() {
		return fmt.Errorf("market %d borrows exceed deposits: borrow=%d deposit=%d",
			marketIndex, m.BorrowTokenTotal(), m.DepositTokenTotal())
	}
	return nil
}
