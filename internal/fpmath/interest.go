package fpmath

// TicksPerYear converts per-year curve rates into per-tick accrual. One tick
// is roughly 400ms, mirroring the upstream chain's slot time.
const TicksPerYear int64 = 78_840_000

// RateCurve is a two-segment interest-rate curve keyed on utilization. All
// fields are RatePrecision-scaled. Below OptimalUtilization the borrow rate
// ramps linearly to OptimalRate; above it, linearly on to MaxRate.
type RateCurve struct {
	OptimalUtilization int64
	OptimalRate        int64
	MaxRate            int64
}

// Utilization returns borrow/deposit as a RatePrecision-scaled ratio.
func Utilization(depositTokens, borrowTokens uint64) int64 {
	if depositTokens == 0 {
		if borrowTokens == 0 {
			return 0
		}
		return RatePrecision
	}
	u := MulDivU64(borrowTokens, uint64(RatePrecision), depositTokens, RoundDown)
	if u > uint64(RatePrecision) {
		return RatePrecision
	}
	return int64(u)
}

// BorrowRate looks up the annualized borrow rate for a utilization level.
func (c RateCurve) BorrowRate(utilization int64) int64 {
	if utilization <= c.OptimalUtilization {
		if c.OptimalUtilization == 0 {
			return c.OptimalRate
		}
		return MulDivI64(c.OptimalRate, utilization, c.OptimalUtilization, RoundDown)
	}
	surplus := utilization - c.OptimalUtilization
	span := RatePrecision - c.OptimalUtilization
	if span == 0 {
		return c.MaxRate
	}
	extra := MulDivI64(c.MaxRate-c.OptimalRate, surplus, span, RoundDown)
	return c.OptimalRate + extra
}

// DepositRate is the borrow rate discounted by utilization, so interest paid
// by borrowers flows pro rata to depositors.
func (c RateCurve) DepositRate(utilization int64) int64 {
	borrowRate := c.BorrowRate(utilization)
	return MulDivI64(borrowRate, utilization, RatePrecision, RoundDown)
}

// AccrueIndex grows a cumulative interest index by rate over elapsedTicks.
// The delta rounds down; indices only ever grow through accrual.
func AccrueIndex(index uint64, rate int64, elapsedTicks int64) uint64 {
	if rate <= 0 || elapsedTicks <= 0 {
		return index
	}
	// index * rate * elapsed / (RatePrecision * TicksPerYear)
	perTick := MulDivU64(index, uint64(rate), uint64(RatePrecision), RoundDown)
	delta := MulDivU64(perTick, uint64(elapsedTicks), uint64(TicksPerYear), RoundDown)
	return index + delta
}
