// Package dim supplies dynamic initial margin per netting set, date and sample.
package dim

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Calculator returns the simulated initial margin of a netting set as a
// [date][sample] matrix. Values must be non-negative.
type Calculator interface {
	DynamicIM(nettingSetID string) ([][]float64, bool)
}

// Matrix is a Calculator backed by precomputed matrices.
type Matrix map[string][][]float64

func (m Matrix) DynamicIM(nettingSetID string) ([][]float64, bool) {
	v, ok := m[nettingSetID]
	return v, ok
}

// ScaledVolatility approximates DIM as a multiple of the cross-sectional
// standard deviation of netting set values on each date, scaled by the square
// root of the MPoR as a fraction of the year. Every sample of a date gets the
// same amount.
type ScaledVolatility struct {
	// Values are netting set values by id, [date][sample].
	Values map[string][][]float64
	// Multiplier is the quantile multiplier, e.g. 2.33 for a one-sided 99%.
	Multiplier float64
	MporDays   int
}

func (s ScaledVolatility) DynamicIM(nettingSetID string) ([][]float64, bool) {
	values, ok := s.Values[nettingSetID]
	if !ok {
		return nil, false
	}
	scale := s.Multiplier * math.Sqrt(float64(s.MporDays)/365.0)
	out := make([][]float64, len(values))
	for j, row := range values {
		out[j] = make([]float64, len(row))
		im := scale * stdDev(row)
		for k := range row {
			out[j][k] = im
		}
	}
	return out, true
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
