package routing

import (
	"math"
	"testing"

	routererrors "content-router/src/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factorSum(w map[OptimizationFactor]float64) float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

func TestDefaultFactorWeightsSumToOne(t *testing.T) {
	w := DefaultFactorWeights()
	assert.Len(t, w, len(AllFactors()))
	assert.InDelta(t, 1.0, factorSum(w), 1e-12)
}

func TestUpdateWeightsIsBounded(t *testing.T) {
	w := NewAdaptiveWeights(0, 0)
	before := w.Weights()

	w.UpdateWeights(map[OptimizationFactor]bool{FactorCostEfficiency: true, FactorGeographic: false})
	after := w.Weights()

	assert.InDelta(t, 1.0, factorSum(after), 1e-12)
	assert.Greater(t, after[FactorCostEfficiency], before[FactorCostEfficiency])
	assert.Less(t, after[FactorGeographic], before[FactorGeographic])
	for f, v := range after {
		assert.LessOrEqual(t, math.Abs(v-before[f]), 2*DefaultLearningRate*before[f]+1e-9, string(f))
	}
	assert.EqualValues(t, 1, w.Updates())

	w.UpdateWeights(nil)
	w.UpdateWeights(map[OptimizationFactor]bool{"imaginary": true})
	assert.EqualValues(t, 2, w.Updates())
}

func TestUpdateWeightsRespectsFloor(t *testing.T) {
	w := NewAdaptiveWeights(0.5, 0.05)
	for i := 0; i < 200; i++ {
		w.UpdateWeights(map[OptimizationFactor]bool{FactorGeographic: false, FactorContentMatch: true})
	}
	got := w.Weights()
	assert.InDelta(t, 1.0, factorSum(got), 1e-9)
	assert.Greater(t, got[FactorGeographic], 0.0)
	assert.Greater(t, got[FactorContentMatch], got[FactorCostEfficiency])
}

func TestPriorityAdjustment(t *testing.T) {
	tests := []struct {
		priority Priority
		boosted  []OptimizationFactor
	}{
		{PriorityPerformance, []OptimizationFactor{FactorPerformance, FactorNetworkQuality}},
		{PriorityCost, []OptimizationFactor{FactorCostEfficiency}},
		{PriorityReliability, []OptimizationFactor{FactorAvailability, FactorHistoricalSuccess}},
		{PriorityLocality, []OptimizationFactor{FactorGeographic, FactorNetworkQuality}},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			w := NewAdaptiveWeights(0, 0)
			base := w.Weights()
			adjusted := w.Adjusted(tt.priority)
			assert.InDelta(t, 1.0, factorSum(adjusted), 1e-12)
			for _, f := range tt.boosted {
				assert.Greater(t, adjusted[f], base[f], string(f))
			}
			assert.Equal(t, base, w.Weights(), "Adjusted must not mutate")
		})
	}

	w := NewAdaptiveWeights(0, 0)
	balanced := w.Adjusted(PriorityBalanced)
	for f, v := range w.Weights() {
		assert.InDelta(t, v, balanced[f], 1e-12, string(f))
	}
}

func TestAdjustForPriorityMutates(t *testing.T) {
	w := NewAdaptiveWeights(0, 0)
	w.AdjustForPriority(PriorityCost)
	assert.InDelta(t, 0.30/1.15, w.Weight(FactorCostEfficiency), 1e-9)

	w.Reset()
	assert.Equal(t, DefaultFactorWeights(), w.Weights())
	assert.Zero(t, w.Updates())
}

func TestSetWeights(t *testing.T) {
	w := NewAdaptiveWeights(0, 0)
	require.NoError(t, w.SetWeights(map[OptimizationFactor]float64{FactorCostEfficiency: 3, FactorPerformance: 1}))
	got := w.Weights()
	assert.Len(t, got, len(AllFactors()))
	assert.InDelta(t, 0.75, got[FactorCostEfficiency], 1e-12)
	assert.Zero(t, got[FactorGeographic])

	tests := []map[OptimizationFactor]float64{
		{"imaginary": 1},
		{FactorPerformance: -1},
		{FactorPerformance: math.Inf(1)},
		{FactorPerformance: 0},
	}
	for _, bad := range tests {
		err := w.SetWeights(bad)
		require.Error(t, err)
		assert.True(t, routererrors.IsValidationError(err))
	}
	assert.InDelta(t, 0.75, w.Weight(FactorCostEfficiency), 1e-12)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityBalanced, p)

	p, err = ParsePriority(" COST ")
	require.NoError(t, err)
	assert.Equal(t, PriorityCost, p)

	_, err = ParsePriority("speed")
	assert.Error(t, err)

	assert.Equal(t, map[OptimizationFactor]float64{FactorCostEfficiency: 2.0}, PriorityMultipliers(PriorityCost))
}
