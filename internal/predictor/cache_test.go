package predictor

import (
	"testing"
	"time"

	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCacheVerifiesRequestOnHit(t *testing.T) {
	c := newPredictionCache(time.Minute, 8)
	now := time.Now()
	a := types.PredictionRequest{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: day}
	b := types.PredictionRequest{CurrentPrice: dec("100"), LowerBound: dec("80"), UpperBound: dec("110"), TimeHorizon: day}

	c.put(42, a, types.PredictionResult{ExpectedIL: 7}, now)
	res, ok := c.get(42, a, now)
	assert.True(t, ok)
	assert.Equal(t, types.BasisPoints(7), res.ExpectedIL)

	// same key, different inputs
	_, ok = c.get(42, b, now)
	assert.False(t, ok)
}

func TestCacheKeyDependsOnEveryInput(t *testing.T) {
	base := types.PredictionRequest{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: day}
	variants := []types.PredictionRequest{
		{CurrentPrice: dec("101"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: day},
		{CurrentPrice: dec("100"), LowerBound: dec("91"), UpperBound: dec("110"), TimeHorizon: day},
		{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("111"), TimeHorizon: day},
		{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: 2 * day},
	}
	for _, v := range variants {
		assert.NotEqual(t, cacheKey(base), cacheKey(v))
	}
	assert.Equal(t, cacheKey(base), cacheKey(base))
}

func TestCachePrunesExpiredBeforeEvicting(t *testing.T) {
	c := newPredictionCache(time.Minute, 2)
	now := time.Now()
	reqs := []types.PredictionRequest{
		{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: day},
		{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: 2 * day},
		{CurrentPrice: dec("100"), LowerBound: dec("90"), UpperBound: dec("110"), TimeHorizon: 3 * day},
	}
	c.put(1, reqs[0], types.PredictionResult{}, now.Add(-2*time.Minute))
	c.put(2, reqs[1], types.PredictionResult{}, now)
	c.put(3, reqs[2], types.PredictionResult{}, now)

	assert.Equal(t, 2, c.len())
	_, ok := c.get(2, reqs[1], now)
	assert.True(t, ok)
	_, ok = c.get(3, reqs[2], now)
	assert.True(t, ok)
}
