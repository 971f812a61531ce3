package fpmath_test

import (
	"testing"

	"clearinghouse/internal/fpmath"
)

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDivU64_RoundDown(t *testing.T) {
	got := fpmath.MulDivU64(7, 3, 2, fpmath.RoundDown)
	if got != 10 {
		t.Errorf("7*3/2 round down: got %d, want 10", got)
	}
}

func TestMulDivU64_RoundUp(t *testing.T) {
	got := fpmath.MulDivU64(7, 3, 2, fpmath.RoundUp)
	if got != 11 {
		t.Errorf("7*3/2 round up: got %d, want 11", got)
	}
}

func TestMulDivU64_ExactDivisionIgnoresRounding(t *testing.T) {
	down := fpmath.MulDivU64(10, 4, 8, fpmath.RoundDown)
	up := fpmath.MulDivU64(10, 4, 8, fpmath.RoundUp)
	if down != 5 || up != 5 {
		t.Errorf("exact division: got down=%d up=%d, want 5", down, up)
	}
}

func TestMulDivU64_LargeOperandsNoOverflow(t *testing.T) {
	// 2^63 * 2 / 4 would overflow a uint64 intermediate.
	a := uint64(1) << 63
	got := fpmath.MulDivU64(a, 2, 4, fpmath.RoundDown)
	if got != uint64(1)<<62 {
		t.Errorf("got %d, want %d", got, uint64(1)<<62)
	}
}

func TestMulDivI64_NegativeTruncatesTowardZero(t *testing.T) {
	got := fpmath.MulDivI64(-7, 3, 2, fpmath.RoundDown)
	if got != -10 {
		t.Errorf("-7*3/2 round down: got %d, want -10", got)
	}
}

func TestMulDivI64_NegativeRoundUpAwayFromZero(t *testing.T) {
	got := fpmath.MulDivI64(-7, 3, 2, fpmath.RoundUp)
	if got != -11 {
		t.Errorf("-7*3/2 round up: got %d, want -11", got)
	}
}

// ============================================================================
// Test: Scaled <-> token conversion
// ============================================================================

func TestScaledToToken_AtBaselineIndex(t *testing.T) {
	idx := uint64(fpmath.InterestPrecision)
	got := fpmath.ScaledToToken(1_000_000_000, idx, fpmath.RoundDown)
	if got != 1_000_000_000 {
		t.Errorf("baseline index should be identity: got %d", got)
	}
}

func TestTokenToScaled_HigherIndexShrinksScaled(t *testing.T) {
	// Index 1.1: one token buys fewer scaled units.
	idx := uint64(fpmath.InterestPrecision) * 11 / 10
	got := fpmath.TokenToScaled(1_100, idx, fpmath.RoundDown)
	if got != 1_000 {
		t.Errorf("got %d, want 1000", got)
	}
}

func TestScaledToToken_RoundUpForBorrows(t *testing.T) {
	idx := uint64(fpmath.InterestPrecision) + 1
	down := fpmath.ScaledToToken(999, idx, fpmath.RoundDown)
	up := fpmath.ScaledToToken(999, idx, fpmath.RoundUp)
	if up != down+1 {
		t.Errorf("round up should exceed round down by one: down=%d up=%d", down, up)
	}
}

// ============================================================================
// Test: token valuation
// ============================================================================

func TestTokenValue_SixDecimalToken(t *testing.T) {
	// 500 tokens of a 6-decimal asset at price 200.
	amount := uint64(500_000_000)
	price := int64(200_000_000)
	got := fpmath.TokenValue(amount, price, 6)
	want := int64(100_000_000_000) // 100_000 quote
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestTokenAmountForValue_RoundTripsTokenValue(t *testing.T) {
	price := int64(200_000_000)
	value := fpmath.TokenValue(499_000_000, price, 6)
	back := fpmath.TokenAmountForValue(value, price, 6, fpmath.RoundDown)
	if back != 499_000_000 {
		t.Errorf("got %d, want 499000000", back)
	}
}

func TestBaseToQuote(t *testing.T) {
	// 1 base at price 40.
	got := fpmath.BaseToQuote(1_000_000_000, 40_000_000)
	if got != 40_000_000 {
		t.Errorf("got %d, want 40000000", got)
	}
}

// ============================================================================
// Test: rate curve
// ============================================================================

func TestUtilization_NoDepositsFullUtilization(t *testing.T) {
	if u := fpmath.Utilization(0, 100); u != fpmath.RatePrecision {
		t.Errorf("got %d, want full utilization", u)
	}
}

func TestUtilization_NoBorrowsZero(t *testing.T) {
	if u := fpmath.Utilization(100, 0); u != 0 {
		t.Errorf("got %d, want 0", u)
	}
}

func TestBorrowRate_AtOptimalPoint(t *testing.T) {
	curve := fpmath.RateCurve{
		OptimalUtilization: 800_000,  // 80%
		OptimalRate:        100_000,  // 10%
		MaxRate:            1_000_000, // 100%
	}
	if r := curve.BorrowRate(800_000); r != 100_000 {
		t.Errorf("rate at optimal utilization: got %d, want 100000", r)
	}
}

func TestBorrowRate_AtFullUtilizationHitsMax(t *testing.T) {
	curve := fpmath.RateCurve{
		OptimalUtilization: 800_000,
		OptimalRate:        100_000,
		MaxRate:            1_000_000,
	}
	if r := curve.BorrowRate(fpmath.RatePrecision); r != 1_000_000 {
		t.Errorf("rate at full utilization: got %d, want max", r)
	}
}

func TestDepositRate_ScaledByUtilization(t *testing.T) {
	curve := fpmath.RateCurve{
		OptimalUtilization: 800_000,
		OptimalRate:        100_000,
		MaxRate:            1_000_000,
	}
	// At 50% utilization the deposit rate is half the borrow rate.
	borrow := curve.BorrowRate(500_000)
	deposit := curve.DepositRate(500_000)
	if deposit != borrow/2 {
		t.Errorf("deposit rate: got %d, want %d", deposit, borrow/2)
	}
}

func TestAccrueIndex_ZeroElapsedIsIdentity(t *testing.T) {
	idx := uint64(fpmath.InterestPrecision)
	if got := fpmath.AccrueIndex(idx, 100_000, 0); got != idx {
		t.Errorf("got %d, want unchanged index", got)
	}
}

func TestAccrueIndex_GrowsWithElapsedTicks(t *testing.T) {
	idx := uint64(fpmath.InterestPrecision)
	one := fpmath.AccrueIndex(idx, 500_000, fpmath.TicksPerYear)
	// 50% annual rate over a full year grows the index by half.
	want := idx + idx/2
	if one != want {
		t.Errorf("got %d, want %d", one, want)
	}
}
