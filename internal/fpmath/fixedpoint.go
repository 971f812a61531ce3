package fpmath

import (
	"math/big"
	"sync"
)

// Fixed-point precisions shared across the clearinghouse.
// Prices and quote amounts carry 6 decimals, base amounts and scaled spot
// balances 9, cumulative interest indices 10.
const (
	PricePrecision    int64 = 1_000_000
	QuotePrecision    int64 = 1_000_000
	BasePrecision     int64 = 1_000_000_000
	BalancePrecision  int64 = 1_000_000_000
	InterestPrecision int64 = 10_000_000_000
	MarginPrecision   int64 = 10_000
	RatePrecision     int64 = 1_000_000
	FeePrecision      int64 = 1_000_000
)

// RoundingMode controls division rounding for fixed-point conversions.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

// int128Pool recycles big.Ints used for intermediate 128-bit products.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulDivU64 computes a * b / denom on uint64 operands via a 128-bit
// intermediate, applying the requested rounding. denom must be non-zero.
func MulDivU64(a, b, denom uint64, rounding RoundingMode) uint64 {
	num := getInt128()
	tmp := getInt128()
	num.SetUint64(a)
	tmp.SetUint64(b)
	num.Mul(num, tmp)

	den := tmp.SetUint64(denom)
	quo := getInt128()
	rem := getInt128()
	quo.QuoRem(num, den, rem)

	result := quo.Uint64()
	if rem.Sign() != 0 {
		switch rounding {
		case RoundUp:
			result++
		case RoundHalfEven:
			rem.Lsh(rem, 1)
			cmp := rem.Cmp(den)
			if cmp > 0 || (cmp == 0 && result%2 != 0) {
				result++
			}
		}
	}

	putInt128(num)
	putInt128(tmp)
	putInt128(quo)
	putInt128(rem)

	return result
}

// MulDivI64 is the signed counterpart of MulDivU64 with truncation toward
// zero (RoundDown) or away from zero (RoundUp).
func MulDivI64(a, b, denom int64, rounding RoundingMode) int64 {
	num := getInt128()
	tmp := getInt128()
	num.SetInt64(a)
	tmp.SetInt64(b)
	num.Mul(num, tmp)

	den := tmp.SetInt64(denom)
	quo := getInt128()
	rem := getInt128()
	quo.QuoRem(num, den, rem)

	result := quo.Int64()
	if rem.Sign() != 0 && rounding == RoundUp {
		if (num.Sign() < 0) != (den.Sign() < 0) {
			result--
		} else {
			result++
		}
	}

	putInt128(num)
	putInt128(tmp)
	putInt128(quo)
	putInt128(rem)

	return result
}

// ScaledToToken converts a scaled balance into a real token amount using the
// market's cumulative interest index. Deposits round down, borrows round up,
// so the protocol never under-collects nor over-credits.
func ScaledToToken(scaled, cumulativeInterest uint64, rounding RoundingMode) uint64 {
	return MulDivU64(scaled, cumulativeInterest, uint64(InterestPrecision), rounding)
}

// TokenToScaled converts a real token amount into scaled units at the current
// cumulative interest index.
func TokenToScaled(token, cumulativeInterest uint64, rounding RoundingMode) uint64 {
	return MulDivU64(token, uint64(InterestPrecision), cumulativeInterest, rounding)
}

// TokenValue prices a raw token amount (native decimals) into quote units.
// price is PricePrecision-scaled; 10^decimals normalizes the token amount.
func TokenValue(tokenAmount uint64, price int64, decimals uint8) int64 {
	return int64(MulDivU64(tokenAmount, uint64(price), pow10(decimals), RoundDown))
}

// TokenAmountForValue is the inverse of TokenValue: how many native tokens a
// quote value buys at the given price.
func TokenAmountForValue(value int64, price int64, decimals uint8, rounding RoundingMode) uint64 {
	if value <= 0 {
		return 0
	}
	return MulDivU64(uint64(value), pow10(decimals), uint64(price), rounding)
}

// BaseToQuote converts a base-precision fill quantity at a price into quote
// units: base(1e9) x price(1e6) / 1e9 = quote(1e6).
func BaseToQuote(baseAmount uint64, price int64) uint64 {
	return MulDivU64(baseAmount, uint64(price), uint64(BasePrecision), RoundDown)
}

func pow10(n uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}
