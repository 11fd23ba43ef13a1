/*
This file contains common utility functions for converting between different types,
particularly between external representations (strings, floats) and the 18 decimal
fixed-point values used by the core.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidNumber    = errors.New("value is not a valid decimal number")
	ErrAmountNil        = errors.New("amount is nil")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// maxDecBitLen mirrors the bit length limit LegacyDec enforces on arithmetic results.
const maxDecBitLen = 256 + sdkmath.LegacyDecimalPrecisionBits - 1

var half = sdkmath.LegacyNewDecWithPrec(5, 1)

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(sdkmath.LegacyPrecision), nil)

// DecFromString parses plain ("2000.5") and exponent ("1e-12") notation into a LegacyDec.
// Digits beyond 18 decimals are truncated.
func DecFromString(s string) (sdkmath.LegacyDec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: empty string", ErrInvalidNumber)
	}
	rat, ok := new(big.Rat).SetString(s)
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	raw := new(big.Int).Mul(rat.Num(), scale)
	raw.Quo(raw, rat.Denom())
	if raw.BitLen() > maxDecBitLen {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %q is too large", ErrConversionFailed, s)
	}
	return sdkmath.LegacyNewDecFromBigIntWithPrec(raw, sdkmath.LegacyPrecision), nil
}

// DecFromFloat64 converts a float from an external feed into a LegacyDec.
func DecFromFloat64(f float64) (sdkmath.LegacyDec, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %f", ErrNotFinite, f)
	}
	return DecFromString(strconv.FormatFloat(f, 'f', -1, 64))
}

// DecToFloat64 converts a LegacyDec to float64 for metrics and display only.
func DecToFloat64(d sdkmath.LegacyDec) (float64, error) {
	if d.IsNil() {
		return 0, ErrAmountNil
	}
	f, err := d.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// ToBasisPoints converts a fraction to basis points, rounding half up.
// Negative fractions map to 0 and values beyond the uint32 range saturate.
func ToBasisPoints(d sdkmath.LegacyDec) types.BasisPoints {
	if d.IsNil() || !d.IsPositive() {
		return 0
	}
	bps := d.MulInt64(int64(types.MaxBasisPoints)).Add(half).TruncateInt()
	if !bps.IsUint64() || bps.Uint64() > math.MaxUint32 {
		return math.MaxUint32
	}
	return types.BasisPoints(bps.Uint64())
}

// ClampBasisPoints converts a probability-like fraction to basis points within [0, 10000].
func ClampBasisPoints(d sdkmath.LegacyDec) types.BasisPoints {
	bps := ToBasisPoints(d)
	if bps > types.MaxBasisPoints {
		return types.MaxBasisPoints
	}
	return bps
}

// ScaleBasisPoints applies a percentage reduction to a basis point value: value*(10000-penalty)/10000.
func ScaleBasisPoints(value, penalty types.BasisPoints) types.BasisPoints {
	if penalty >= types.MaxBasisPoints {
		return 0
	}
	return types.BasisPoints(uint64(value) * uint64(types.MaxBasisPoints-penalty) / uint64(types.MaxBasisPoints))
}
