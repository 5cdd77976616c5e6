package dim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meenmo/xvalib/dim"
)

func TestMatrix(t *testing.T) {
	t.Parallel()

	m := dim.Matrix{"NS": {{1, 2}}}
	got, ok := m.DynamicIM("NS")
	require.True(t, ok)
	assert.Equal(t, [][]float64{{1, 2}}, got)

	_, ok = m.DynamicIM("other")
	assert.False(t, ok)
}

func TestScaledVolatility(t *testing.T) {
	t.Parallel()

	calc := dim.ScaledVolatility{
		Values:     map[string][][]float64{"NS": {{1, 3}, {5}}},
		Multiplier: 2,
		MporDays:   365,
	}
	got, ok := calc.DynamicIM("NS")
	require.True(t, ok)
	require.Len(t, got, 2)

	// sample standard deviation of {1, 3} is sqrt(2)
	assert.InDelta(t, 2*math.Sqrt(2), got[0][0], 1e-12)
	assert.Equal(t, got[0][0], got[0][1])
	assert.Equal(t, []float64{0}, got[1], "single sample has no dispersion")

	_, ok = calc.DynamicIM("missing")
	assert.False(t, ok)
}
