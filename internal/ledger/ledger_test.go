package ledger_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ledger"
)

// --- Test helpers ---

func newTestMarket(index uint16) *ledger.Market {
	return &ledger.Market{
		MarketIndex: index,
		Name:        "TEST",
		Decimals:    6,
		RateCurve: fpmath.RateCurve{
			OptimalUtilization: 800_000,
			OptimalRate:        100_000,
			MaxRate:            1_000_000,
		},
		MaintenanceAssetWeight:     9_000,
		MaintenanceLiabilityWeight: 11_000,
	}
}

func newTestLedger(t *testing.T, marketCount int) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	for i := 0; i < marketCount; i++ {
		if err := l.InitializeMarket(newTestMarket(uint16(i))); err != nil {
			t.Fatalf("initialize market %d: %v", i, err)
		}
	}
	return l
}

func newTestAccount(t *testing.T, l *ledger.Ledger) *ledger.Account {
	t.Helper()
	key := ledger.AccountKey{AccountID: uuid.New(), SubAccountID: 0}
	a, err := l.InitializeAccount(key, nil)
	if err != nil {
		t.Fatalf("initialize account: %v", err)
	}
	return a
}

// ============================================================================
// Test: initialization
// ============================================================================

func TestInitializeMarket_DefaultsIndicesToBaseline(t *testing.T) {
	l := newTestLedger(t, 1)
	m, err := l.Market(0)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if m.CumulativeDepositInterest != uint64(fpmath.InterestPrecision) {
		t.Errorf("deposit index: got %d, want baseline", m.CumulativeDepositInterest)
	}
	if m.CumulativeBorrowInterest != uint64(fpmath.InterestPrecision) {
		t.Errorf("borrow index: got %d, want baseline", m.CumulativeBorrowInterest)
	}
}

func TestInitializeMarket_DuplicateIndexRejected(t *testing.T) {
	l := newTestLedger(t, 1)
	err := l.InitializeMarket(newTestMarket(0))
	if !errors.Is(err, ledger.ErrMarketExists) {
		t.Errorf("got %v, want ErrMarketExists", err)
	}
}

func TestInitializeAccount_DuplicateKeyRejected(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	_, err := l.InitializeAccount(a.Key, nil)
	if !errors.Is(err, ledger.ErrAccountExists) {
		t.Errorf("got %v, want ErrAccountExists", err)
	}
}

func TestAccount_CountersStartAtOne(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	if a.NextLiquidationID != 1 {
		t.Errorf("next liquidation id: got %d, want 1", a.NextLiquidationID)
	}
	if a.NextOrderID != 1 {
		t.Errorf("next order id: got %d, want 1", a.NextOrderID)
	}
}

// ============================================================================
// Test: ApplyTransfer
// ============================================================================

func TestApplyTransfer_DepositCreditsPositionAndAggregate(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(a, m, 1_000_000, 0)

	pos := a.SpotPosition(0)
	if pos == nil || pos.BalanceType != ledger.BalanceTypeDeposit {
		t.Fatalf("expected a deposit position, got %+v", pos)
	}
	if m.DepositBalanceScaled != pos.ScaledBalance {
		t.Errorf("aggregate out of sync: market=%d position=%d", m.DepositBalanceScaled, pos.ScaledBalance)
	}
	if got := m.TokenAmount(pos.ScaledBalance, ledger.BalanceTypeDeposit); got != 1_000_000 {
		t.Errorf("token amount: got %d, want 1000000", got)
	}
}

func TestApplyTransfer_WithdrawBeyondDepositFlipsToBorrow(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	b := newTestAccount(t, l)
	m, _ := l.Market(0)

	// A second depositor keeps borrows covered by deposits.
	l.Deposit(b, m, 10_000_000, 0)
	l.Deposit(a, m, 1_000_000, 0)
	l.Withdraw(a, m, 1_500_000, 0)

	pos := a.SpotPosition(0)
	if pos.BalanceType != ledger.BalanceTypeBorrow {
		t.Fatalf("expected flip to borrow, got %v", pos.BalanceType)
	}
	if got := m.TokenAmount(pos.ScaledBalance, ledger.BalanceTypeBorrow); got != 500_000 {
		t.Errorf("borrowed amount: got %d, want 500000", got)
	}
	if err := ledger.NewInvariantValidator(l).ValidateMarketAggregates(0); err != nil {
		t.Errorf("aggregates after flip: %v", err)
	}
}

func TestApplyTransfer_BorrowAgainstEmptyPositionIsTagged(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	b := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(b, m, 10_000_000, 0)
	l.Withdraw(a, m, 2_000_000, 0) // no prior position at all

	pos := a.SpotPosition(0)
	if pos == nil || pos.BalanceType != ledger.BalanceTypeBorrow {
		t.Fatalf("expected a borrow position, got %+v", pos)
	}
	if got := m.TokenAmount(pos.ScaledBalance, ledger.BalanceTypeBorrow); got != 2_000_000 {
		t.Errorf("borrowed amount: got %d, want 2000000", got)
	}
	if !a.HasBorrows() {
		t.Error("account should report outstanding borrows")
	}
	if a.HasDeposits() {
		t.Error("account holds no deposits in this market")
	}
	if err := ledger.NewInvariantValidator(l).ValidateMarketAggregates(0); err != nil {
		t.Errorf("aggregates after borrow: %v", err)
	}
}

func TestApplyTransfer_DepositPaysDownBorrowFirst(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	b := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(b, m, 10_000_000, 0)
	l.Deposit(a, m, 1_000_000, 0)
	l.Withdraw(a, m, 3_000_000, 0) // borrow 2_000_000

	l.Deposit(a, m, 2_500_000, 0) // repay 2_000_000, deposit 500_000

	pos := a.SpotPosition(0)
	if pos.BalanceType != ledger.BalanceTypeDeposit {
		t.Fatalf("expected flip back to deposit, got %v", pos.BalanceType)
	}
	if got := m.TokenAmount(pos.ScaledBalance, ledger.BalanceTypeDeposit); got != 500_000 {
		t.Errorf("deposit after repay: got %d, want 500000", got)
	}
	if m.BorrowBalanceScaled != 0 {
		t.Errorf("borrow aggregate should be cleared, got %d", m.BorrowBalanceScaled)
	}
}

func TestApplyTransfer_PartialRepayKeepsBorrow(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	b := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(b, m, 10_000_000, 0)
	l.Withdraw(a, m, 2_000_000, 0)
	l.Deposit(a, m, 500_000, 0)

	pos := a.SpotPosition(0)
	if pos.BalanceType != ledger.BalanceTypeBorrow {
		t.Fatalf("expected position to stay a borrow, got %v", pos.BalanceType)
	}
	if got := m.TokenAmount(pos.ScaledBalance, ledger.BalanceTypeBorrow); got != 1_500_000 {
		t.Errorf("remaining borrow: got %d, want 1500000", got)
	}
}

// ============================================================================
// Test: interest settlement
// ============================================================================

func TestSettleInterest_NoBorrowsLeavesIndicesUntouched(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(a, m, 1_000_000, 0)
	before := m.CumulativeDepositInterest

	m.SettleInterest(1_000_000)

	if m.CumulativeDepositInterest != before {
		t.Errorf("deposit index moved without borrows: %d -> %d", before, m.CumulativeDepositInterest)
	}
	if m.LastInterestTs != 1_000_000 {
		t.Errorf("last interest ts not advanced: got %d", m.LastInterestTs)
	}
}

func TestSettleInterest_BorrowIndexOutpacesDepositIndex(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	b := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(a, m, 10_000_000, 0)
	l.Withdraw(b, m, 5_000_000, 0)

	m.SettleInterest(fpmath.TicksPerYear / 2)

	if m.CumulativeBorrowInterest <= uint64(fpmath.InterestPrecision) {
		t.Error("borrow index should accrue")
	}
	if m.CumulativeDepositInterest <= uint64(fpmath.InterestPrecision) {
		t.Error("deposit index should accrue while borrows exist")
	}
	if m.CumulativeBorrowInterest <= m.CumulativeDepositInterest {
		t.Errorf("borrow index %d should outpace deposit index %d",
			m.CumulativeBorrowInterest, m.CumulativeDepositInterest)
	}
}

func TestSettleInterest_ElapsedZeroIsNoop(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(a, m, 1_000_000, 100)
	l.Withdraw(a, m, 500_000, 100)
	before := m.CumulativeBorrowInterest

	m.SettleInterest(100)

	if m.CumulativeBorrowInterest != before {
		t.Error("settling at the same tick must not accrue")
	}
}

// ============================================================================
// Test: invariant validator
// ============================================================================

func TestValidateMarketAggregates_DetectsDrift(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(a, m, 1_000_000, 0)
	m.DepositBalanceScaled++ // inject drift

	if err := ledger.NewInvariantValidator(l).ValidateMarketAggregates(0); err == nil {
		t.Error("expected aggregate mismatch to be reported")
	}
}

func TestValidateBorrowCovered(t *testing.T) {
	l := newTestLedger(t, 1)
	a := newTestAccount(t, l)
	b := newTestAccount(t, l)
	m, _ := l.Market(0)

	l.Deposit(a, m, 10_000_000, 0)
	l.Withdraw(b, m, 5_000_000, 0)

	if err := ledger.NewInvariantValidator(l).ValidateBorrowCovered(0); err != nil {
		t.Errorf("borrows are covered, got %v", err)
	}
}
