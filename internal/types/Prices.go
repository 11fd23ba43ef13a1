/*

This file contains the price types shared by the estimator, the predictor and the feeds.

All values inside the core are 18 decimal fixed-point numbers (sdkmath.LegacyDec) so results
are identical on every platform. Floats only appear at the edges (feeds, metrics).

*/

package types

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// ScaledValue is a fixed-point number with an implicit scale of 10^18.
// Negative values are allowed where a signed quantity is needed (log returns, price deltas).
type ScaledValue = sdkmath.LegacyDec

// BasisPoints is a ratio where 10000 represents 100%.
type BasisPoints uint32

// MaxBasisPoints is 100%.
const MaxBasisPoints BasisPoints = 10000

// Dec returns the basis points as a fraction (10000 -> 1.0).
func (b BasisPoints) Dec() sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(int64(b)).QuoInt64(int64(MaxBasisPoints))
}

// String renders basis points as a percentage, e.g. 572 -> "5.72%".
func (b BasisPoints) String() string {
	return fmt.Sprintf("%d.%02d%%", b/100, b%100)
}

// PriceObservation is a single price sample held by a volatility estimator.
type PriceObservation struct {
	Price     sdkmath.LegacyDec `json:"price"`     // e.g., 2000.000000000000000000
	Timestamp time.Time         `json:"timestamp"` // e.g., time the feed reported the price
	Valid     bool              `json:"valid"`     // false for unused slots of the ring buffer
}
