/*
This file contains the venue's compact price encoding: price = 1.0001^index.

Indices are what range positions store on chain, prices are what the predictor works with.
IndexToPrice uses binary exponentiation over precomputed powers 1.0001^(2^k) held at 36
decimals, so the result rounded to 18 decimals is exact enough that PriceToIndex recovers
the same index for every index in the domain.
*/

package priceindex

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/fixedpoint"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/utils"
)

const (
	// MinIndex and MaxIndex bound the domain to prices in roughly [1e-12, 1e12].
	MinIndex int32 = -276324
	MaxIndex int32 = 276324

	powerTableSize = 19 // 2^18 < MaxIndex < 2^19
)

var (
	ErrIndexOutOfRange = errors.New("price index outside supported domain")
	ErrPriceOutOfRange = errors.New("price outside supported domain")
	ErrInvalidRange    = errors.New("lower index must be below upper index")
)

var (
	// Base is the ratio between adjacent indices.
	Base = sdkmath.LegacyMustNewDecFromStr("1.0001")

	wideScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)
	narrowing = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// basePowers[k] = 1.0001^(2^k) scaled by 10^36
	basePowers = buildPowerTable()

	lnBase sdkmath.LegacyDec

	// MinPrice and MaxPrice are the prices at MinIndex and MaxIndex.
	MinPrice sdkmath.LegacyDec
	MaxPrice sdkmath.LegacyDec
)

func init() {
	var err error
	lnBase, err = fixedpoint.Ln(Base)
	if err != nil {
		panic(err)
	}
	MinPrice = mustIndexToPrice(MinIndex)
	MaxPrice = mustIndexToPrice(MaxIndex)
}

func buildPowerTable() [powerTableSize]*big.Int {
	var table [powerTableSize]*big.Int
	table[0] = new(big.Int).Mul(big.NewInt(10001), new(big.Int).Exp(big.NewInt(10), big.NewInt(32), nil))
	for k := 1; k < powerTableSize; k++ {
		sq := new(big.Int).Mul(table[k-1], table[k-1])
		table[k] = sq.Quo(sq, wideScale)
	}
	return table
}

func mustIndexToPrice(index int32) sdkmath.LegacyDec {
	p, err := IndexToPrice(index)
	if err != nil {
		panic(err)
	}
	return p
}

// IndexToPrice returns 1.0001^index rounded to 18 decimals.
func IndexToPrice(index int32) (sdkmath.LegacyDec, error) {
	if index < MinIndex || index > MaxIndex {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d not in [%d, %d]", ErrIndexOutOfRange, index, MinIndex, MaxIndex)
	}

	abs := index
	if abs < 0 {
		abs = -abs
	}
	acc := new(big.Int).Set(wideScale)
	for k := 0; abs != 0; k++ {
		if abs&1 == 1 {
			acc.Mul(acc, basePowers[k])
			acc.Quo(acc, wideScale)
		}
		abs >>= 1
	}
	if index < 0 {
		inv := new(big.Int).Mul(wideScale, wideScale)
		acc = inv.Quo(inv, acc)
	}

	// round half up from 36 to 18 decimals
	acc.Add(acc, new(big.Int).Quo(narrowing, big.NewInt(2)))
	acc.Quo(acc, narrowing)
	return sdkmath.LegacyNewDecFromBigIntWithPrec(acc, sdkmath.LegacyPrecision), nil
}

// PriceToIndex returns the greatest index whose price is at most price.
func PriceToIndex(price sdkmath.LegacyDec) (int32, error) {
	if price.IsNil() || !price.IsPositive() {
		return 0, fmt.Errorf("%w: %s is not positive", ErrPriceOutOfRange, price)
	}
	if price.LT(MinPrice) || price.GT(MaxPrice) {
		return 0, fmt.Errorf("%w: %s not in [%s, %s]", ErrPriceOutOfRange, price, MinPrice, MaxPrice)
	}

	lnPrice, err := fixedpoint.Ln(price)
	if err != nil {
		return 0, err
	}
	estimate := lnPrice.Quo(lnBase).TruncateInt64()
	if estimate < int64(MinIndex) {
		estimate = int64(MinIndex)
	}
	if estimate > int64(MaxIndex) {
		estimate = int64(MaxIndex)
	}

	// The estimate is off by at most a step or two, settle it with exact comparisons.
	index := int32(estimate)
	for index > MinIndex && mustIndexToPrice(index).GT(price) {
		index--
	}
	for index < MaxIndex && mustIndexToPrice(index+1).LTE(price) {
		index++
	}
	return index, nil
}

// RangeFromIndices converts a position's index bounds into prices.
func RangeFromIndices(lower, upper int32) (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	if lower >= upper {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, lower, upper)
	}
	lowerPrice, err := IndexToPrice(lower)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	upperPrice, err := IndexToPrice(upper)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	return lowerPrice, upperPrice, nil
}

// RangeWidthBasisPoints returns (price(upper)/price(lower) - 1) in basis points.
func RangeWidthBasisPoints(lower, upper int32) (types.BasisPoints, error) {
	lowerPrice, upperPrice, err := RangeFromIndices(lower, upper)
	if err != nil {
		return 0, err
	}
	return utils.ToBasisPoints(upperPrice.Quo(lowerPrice).Sub(sdkmath.LegacyOneDec())), nil
}
