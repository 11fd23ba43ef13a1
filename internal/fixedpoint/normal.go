package fixedpoint

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Abramowitz & Stegun 26.2.17, absolute error below 7.5e-8.
var (
	cdfP  = sdkmath.LegacyMustNewDecFromStr("0.2316419")
	cdfB1 = sdkmath.LegacyMustNewDecFromStr("0.319381530")
	cdfB2 = sdkmath.LegacyMustNewDecFromStr("-0.356563782")
	cdfB3 = sdkmath.LegacyMustNewDecFromStr("1.781477937")
	cdfB4 = sdkmath.LegacyMustNewDecFromStr("-1.821255978")
	cdfB5 = sdkmath.LegacyMustNewDecFromStr("1.330274429")

	invSqrt2Pi = sdkmath.LegacyMustNewDecFromStr("0.398942280401432678")

	// NormalCDFCutoff is where the CDF saturates to exactly 0 or 1.
	NormalCDFCutoff = sdkmath.LegacyNewDec(10)
)

// NormalCDF returns the standard normal cumulative distribution N(x).
// N(0) is exactly 0.5 and N(-x) = 1 - N(x) holds bit for bit.
func NormalCDF(x sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if x.IsNil() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: normalCDF(nil)", ErrDomain)
	}
	if x.IsZero() {
		return half, nil
	}
	if x.GT(NormalCDFCutoff) {
		return one, nil
	}
	if x.LT(NormalCDFCutoff.Neg()) {
		return sdkmath.LegacyZeroDec(), nil
	}

	ax := x.Abs()
	t := one.Quo(one.Add(cdfP.Mul(ax)))
	poly := cdfB5.Mul(t).Add(cdfB4)
	poly = poly.Mul(t).Add(cdfB3)
	poly = poly.Mul(t).Add(cdfB2)
	poly = poly.Mul(t).Add(cdfB1)
	poly = poly.Mul(t)

	density, err := Exp(ax.Mul(ax).QuoInt64(2).Neg())
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	density = density.Mul(invSqrt2Pi)

	upper := Clamp(one.Sub(density.Mul(poly)), sdkmath.LegacyZeroDec(), one)
	if x.IsNegative() {
		return one.Sub(upper), nil
	}
	return upper, nil
}
