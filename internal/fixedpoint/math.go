/*
This file contains the deterministic transcendental functions used by the estimator and the predictor.

Every function works on sdkmath.LegacyDec (18 decimals, big.Int backed) and uses bounded series,
so the same inputs produce the same outputs on every platform. No float64 is involved.
*/

package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrDomain   = errors.New("input outside the function domain")
	ErrOverflow = errors.New("result exceeds the fixed-point range")
)

const (
	lnMaxTerms  = 40
	expMaxTerms = 32

	// maxResultBits keeps results well inside the 315 bit limit LegacyDec enforces on products.
	maxResultBits = 255
)

var (
	// Ln2 is ln(2) rounded to 18 decimals.
	Ln2 = sdkmath.LegacyMustNewDecFromStr("0.693147180559945309")

	// ExpMaxInput is the largest argument Exp accepts, e^130 ≈ 2.9e56.
	ExpMaxInput = sdkmath.LegacyNewDec(130)
	// ExpMinInput is the argument below which Exp returns 0, e^-42 < 10^-18.
	ExpMinInput = sdkmath.LegacyNewDec(-42)

	one     = sdkmath.LegacyOneDec()
	two     = sdkmath.LegacyNewDec(2)
	half    = sdkmath.LegacyNewDecWithPrec(5, 1)
	epsilon = sdkmath.LegacySmallestDec()

	unitRaw = new(big.Int).Exp(big.NewInt(10), big.NewInt(sdkmath.LegacyPrecision), nil)
)

// Ln returns the natural logarithm of x.
func Ln(x sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if x.IsNil() || !x.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: ln(%s)", ErrDomain, x)
	}

	// Reduce x = y * 2^power with y in [0.5, 2]. Doubling is exact, so large inputs are
	// divided once by the matching power of two instead of being halved repeatedly.
	var power int64
	y := x
	if y.GT(two) {
		divisor := one
		for x.GT(divisor.MulInt64(2)) {
			divisor = divisor.MulInt64(2)
			power++
		}
		y = x.Quo(divisor)
	}
	for y.LT(half) {
		y = y.MulInt64(2)
		power--
	}

	// ln(y) = 2 * (z + z^3/3 + z^5/5 + ...) with z = (y-1)/(y+1), |z| <= 1/3
	z := y.Sub(one).Quo(y.Add(one))
	z2 := z.Mul(z)
	term := z
	sum := z
	for k := int64(1); k < lnMaxTerms; k++ {
		term = term.Mul(z2)
		contribution := term.QuoInt64(2*k + 1)
		if contribution.Abs().LT(epsilon) {
			break
		}
		sum = sum.Add(contribution)
	}

	return sum.MulInt64(2).Add(Ln2.MulInt64(power)), nil
}

// Exp returns e^x. Inputs above ExpMaxInput fail with ErrOverflow, inputs below ExpMinInput return 0.
func Exp(x sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if x.IsNil() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: exp(nil)", ErrDomain)
	}
	if x.GT(ExpMaxInput) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: exp(%s)", ErrOverflow, x)
	}
	if x.LT(ExpMinInput) {
		return sdkmath.LegacyZeroDec(), nil
	}
	if x.IsZero() {
		return one, nil
	}
	if x.IsNegative() {
		positive, err := Exp(x.Neg())
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		return one.Quo(positive), nil
	}

	// x = k*ln2 + r with r in [0, ln2)
	k := x.Quo(Ln2).TruncateInt64()
	r := x.Sub(Ln2.MulInt64(k))
	if r.IsNegative() {
		k--
		r = r.Add(Ln2)
	}

	sum := one
	term := one
	for i := int64(1); i <= expMaxTerms; i++ {
		term = term.Mul(r).QuoInt64(i)
		if term.LT(epsilon) {
			break
		}
		sum = sum.Add(term)
	}

	for i := int64(0); i < k; i++ {
		sum = sum.MulInt64(2)
		if sum.BigInt().BitLen() > maxResultBits {
			return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: exp(%s)", ErrOverflow, x)
		}
	}
	return sum, nil
}

// Sqrt returns the square root of x, truncated to 18 decimals.
func Sqrt(x sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if x.IsNil() || x.IsNegative() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: sqrt(%s)", ErrDomain, x)
	}
	if x.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}

	// sqrt(raw/10^18) * 10^18 = sqrt(raw * 10^18)
	n := new(big.Int).Mul(x.BigInt(), unitRaw)
	z := new(big.Int).Add(n, big.NewInt(1))
	z.Rsh(z, 1)
	y := new(big.Int).Set(n)
	for z.Cmp(y) < 0 {
		y.Set(z)
		z.Quo(n, z)
		z.Add(z, y)
		z.Rsh(z, 1)
	}
	return sdkmath.LegacyNewDecFromBigIntWithPrec(y, sdkmath.LegacyPrecision), nil
}

// Abs returns |x|.
func Abs(x sdkmath.LegacyDec) sdkmath.LegacyDec {
	return x.Abs()
}

// Min returns the smaller of a and b.
func Min(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.LT(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.GT(b) {
		return a
	}
	return b
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi sdkmath.LegacyDec) sdkmath.LegacyDec {
	return Min(Max(x, lo), hi)
}
