package exposure_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meenmo/xvalib/config"
	"github.com/meenmo/xvalib/cube"
	"github.com/meenmo/xvalib/curve"
	"github.com/meenmo/xvalib/exposure"
	"github.com/meenmo/xvalib/portfolio"
)

var today = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func monthly(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = today.AddDate(0, i+1, 0)
	}
	return out
}

func trade(id, nettingSet string, maturity time.Time) portfolio.Trade {
	return portfolio.Trade{
		ID:           id,
		Type:         "Swap",
		Counterparty: "CPTY_A",
		NettingSetID: nettingSet,
		Maturity:     maturity,
	}
}

// valuation is the content of a test cube: T0 values and [date][sample]
// values per trade, per depth.
type valuation struct {
	t0     map[string]float64
	values map[string][][][]float64 // trade -> depth -> [date][sample]
}

func newCube(t *testing.T, trades []portfolio.Trade, dates []time.Time, samples, depth int, v valuation) *cube.DenseCube {
	t.Helper()

	ids := make([]string, len(trades))
	for i, tr := range trades {
		ids[i] = tr.ID
	}
	c, err := cube.NewDenseCube(today, ids, dates, samples, depth)
	require.NoError(t, err)
	for i, id := range ids {
		c.SetT0(v.t0[id], i, cube.DepthDefaultNPV)
		for d, grid := range v.values[id] {
			for j := range grid {
				for k, x := range grid[j] {
					c.Set(x, i, j, k, d)
				}
			}
		}
	}
	return c
}

// regular is a valuation with default values only.
func regular(t0 map[string]float64, values map[string][][]float64) valuation {
	v := valuation{t0: t0, values: make(map[string][][][]float64, len(values))}
	for id, grid := range values {
		v.values[id] = [][][]float64{grid}
	}
	return v
}

func testConfig() config.Config {
	cfg := config.DefaultConfig
	cfg.ContinueOnError = false
	return cfg
}

func flatCurve() *curve.Curve {
	return curve.NewFlatCurve(today, 0)
}

func mustPortfolio(t *testing.T, trades ...portfolio.Trade) *portfolio.Portfolio {
	t.Helper()

	p, err := portfolio.New(trades...)
	require.NoError(t, err)
	return p
}

func buildTrades(t *testing.T, p exposure.TradeParams) *exposure.TradeExposureCalculator {
	t.Helper()

	calc, err := exposure.NewTradeExposureCalculator(p)
	require.NoError(t, err)
	require.NoError(t, calc.Build())
	return calc
}

// nettedParams wires a built trade calculator into netted calculator inputs.
func nettedParams(tc *exposure.TradeExposureCalculator, p exposure.TradeParams, sets ...portfolio.NettingSet) exposure.NettedParams {
	return exposure.NettedParams{
		Portfolio:         p.Portfolio,
		NettingSets:       portfolio.NewNettingSetManager(sets...),
		Cube:              p.Cube,
		Interpretation:    p.Interpretation,
		Curve:             p.Curve,
		Accumulators:      tc.Accumulators(),
		TradeExposureCube: tc.ExposureCube(),
		Today:             p.Today,
		Config:            p.Config,
	}
}

func buildNetted(t *testing.T, p exposure.NettedParams) *exposure.NettedExposureCalculator {
	t.Helper()

	calc, err := exposure.NewNettedExposureCalculator(p)
	require.NoError(t, err)
	require.NoError(t, calc.Build())
	return calc
}

func uncollateralised(id string) portfolio.NettingSet {
	return portfolio.NettingSet{ID: id}
}

// csaSet has an active EUR CSA with thresholds large enough that no
// collateral ever moves.
func csaSet(id string) portfolio.NettingSet {
	return portfolio.NettingSet{
		ID:        id,
		ActiveCSA: true,
		CSA: &portfolio.CSA{
			Currency:     "EUR",
			MporDays:     14,
			ThresholdPay: 1e12,
			ThresholdRcv: 1e12,
		},
	}
}

func scenarioData(dates, samples int) *cube.InMemoryScenarioData {
	sd := cube.NewInMemoryScenarioData(dates, samples)
	sd.Fill(1, cube.Numeraire, "")
	return sd
}
