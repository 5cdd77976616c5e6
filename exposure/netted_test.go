package exposure_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meenmo/xvalib/collateral"
	"github.com/meenmo/xvalib/config"
	"github.com/meenmo/xvalib/cube"
	"github.com/meenmo/xvalib/dim"
	"github.com/meenmo/xvalib/exposure"
	"github.com/meenmo/xvalib/marketdata"
	"github.com/meenmo/xvalib/portfolio"
	"github.com/meenmo/xvalib/utils"
)

func TestNettedExposureEndToEnd(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	tc := buildTrades(t, p)
	calc := buildNetted(t, nettedParams(tc, p, uncollateralised("NS1")))

	res, ok := calc.Result("NS1")
	require.True(t, ok)
	assert.Equal(t, "CPTY_A", res.Counterparty)
	assert.Equal(t, 1, res.Trades)
	assert.InDeltaSlice(t, []float64{0, 4.0 / 3, 1.0 / 3}, res.Profile.EPE, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 2.0 / 3, 1.0 / 3}, res.Profile.ENE, 1e-12)
	assert.Equal(t, []float64{0, 3, 1}, res.Profile.PFE)
	assert.Equal(t, make([]float64, 3), res.ExpectedCollateral)
	assert.Zero(t, res.Colva)

	// without collateral the netted cube is the netting set value
	nc := calc.NettedCube()
	require.NotNil(t, nc)
	assert.Equal(t, []string{"NS1"}, calc.NettingSetIDs())
	assert.Equal(t, -2.0, nc.Get(0, 0, 1, 0))
	assert.Equal(t, -1.0, nc.Get(0, 1, 2, 0))
}

func TestNettedT0WithInitialBalances(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	p.Cube.(*cube.DenseCube).SetT0(3, 0, cube.DepthDefaultNPV)
	tc := buildTrades(t, p)
	np := nettedParams(tc, p, uncollateralised("NS1"))
	np.Balances = collateral.Balances{"NS1": {Currency: "EUR", VariationMargin: 1, InitialMargin: 0.5}}
	res, _ := buildNetted(t, np).Result("NS1")

	assert.Equal(t, 1.5, res.Profile.EPE[0])
	assert.Equal(t, 0.0, res.Profile.ENE[0])
	assert.Equal(t, 3.0, res.ExpectedCollateral[0])
	assert.Equal(t, 1.5, res.Profile.EEPEB[0])
}

func TestNettedT0WithoutBalances(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	p.Cube.(*cube.DenseCube).SetT0(-4, 0, cube.DepthDefaultNPV)
	tc := buildTrades(t, p)
	res, _ := buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).Result("NS1")
	assert.Equal(t, -4.0, res.ValueToday)
	assert.Equal(t, res.ValueToday, res.Profile.EPE[0]-res.Profile.ENE[0])
}

func TestFullInitialCollateralisation(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	p.Cube.(*cube.DenseCube).SetT0(3, 0, cube.DepthDefaultNPV)
	p.Config.FullInitialCollateralisation = true
	tc := buildTrades(t, p)
	np := nettedParams(tc, p, csaSet("NS1"))
	np.ScenarioData = scenarioData(2, 3)
	calc := buildNetted(t, np)
	res, _ := calc.Result("NS1")

	assert.Equal(t, 0.0, res.Profile.EPE[0])
	assert.Equal(t, 0.0, res.Profile.ENE[0])
	assert.Equal(t, 3.0, res.ExpectedCollateral[0])
	assert.Equal(t, 0.0, calc.NettedCube().GetT0(0, 0))
}

// mporParams builds a single-trade cube with distinct default and close-out
// values and MPoR flows of +2 and -1 in every cell.
func mporParams(t *testing.T, sticky bool) exposure.TradeParams {
	t.Helper()

	trades := []portfolio.Trade{trade("T1", "NS1", today.AddDate(5, 0, 0))}
	dates := monthly(2)
	v := valuation{
		t0: map[string]float64{"T1": 0},
		values: map[string][][][]float64{"T1": {
			{{1, -2}, {3, 4}},    // default
			{{5, 6}, {-7, 8}},    // close-out
			{{2, 2}, {2, 2}},     // MPoR positive flows
			{{-1, -1}, {-1, -1}}, // MPoR negative flows
		}},
	}
	return exposure.TradeParams{
		Portfolio:      mustPortfolio(t, trades...),
		Cube:           newCube(t, trades, dates, 2, cube.DepthMporNegativeFlow+1, v),
		Interpretation: cube.MporInterpretation{StickyDate: sticky},
		Curve:          flatCurve(),
		Config:         testConfig(),
	}
}

func TestCloseOutSubstitution(t *testing.T) {
	t.Parallel()

	p := mporParams(t, false)
	p.Config.CalcType = config.CalcNoLag
	tc := buildTrades(t, p)
	acc := tc.Accumulators()

	np := nettedParams(tc, p, csaSet("NS1"))
	np.ScenarioData = scenarioData(2, 2)
	nc := buildNetted(t, np).NettedCube()
	for j := 0; j < 2; j++ {
		for k := 0; k < 2; k++ {
			assert.Equal(t, acc.CloseOutValue["NS1"][j][k], nc.Get(0, j, k, 0))
		}
	}

	nc = buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).NettedCube()
	for j := 0; j < 2; j++ {
		for k := 0; k < 2; k++ {
			assert.Equal(t, acc.DefaultValue["NS1"][j][k], nc.Get(0, j, k, 0))
		}
	}

	p.Config.ExposureProfilesUseCloseOutValues = true
	tc = buildTrades(t, p)
	nc = buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).NettedCube()
	assert.Equal(t, tc.Accumulators().CloseOutValue["NS1"][1][0], nc.Get(0, 1, 0, 0))
}

func TestMporCashFlowModes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode   config.MporCashFlowMode
		sticky bool
		want   float64
	}{
		{config.MporNonePay, true, 1 + 2 - 1},
		{config.MporBothPay, true, 1},
		{config.MporWePay, true, 1 + 2},
		{config.MporTheyPay, true, 1 - 1},
		// flows only count when the close-out date is sticky
		{config.MporNonePay, false, 1},
	}
	for _, tt := range cases {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p := mporParams(t, tt.sticky)
			p.Config.MporCashFlowMode = tt.mode
			tc := buildTrades(t, p)
			nc := buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).NettedCube()
			assert.Equal(t, tt.want, nc.Get(0, 0, 0, 0))
		})
	}
}

func TestInitialMarginTypes(t *testing.T) {
	t.Parallel()

	trades := []portfolio.Trade{trade("T1", "NS1", today.AddDate(5, 0, 0))}
	dates := monthly(1)
	v := regular(nil, map[string][][]float64{"T1": {{1, -2, 3}}})

	cases := []struct {
		imType  portfolio.IMType
		epe     float64
		ene     float64
		pfeDist float64
	}{
		{portfolio.IMBilateral, (0.5 + 0 + 2.5) / 3, (0 + 1.5 + 0) / 3, 2.5},
		{portfolio.IMPostOnly, (1 + 0 + 3.0) / 3, (0 + 1.5 + 0) / 3, 3},
		{portfolio.IMCallOnly, (0.5 + 0 + 2.5) / 3, (0 + 2.0 + 0) / 3, 2.5},
	}
	for _, tt := range cases {
		t.Run(tt.imType.String(), func(t *testing.T) {
			p := exposure.TradeParams{
				Portfolio: mustPortfolio(t, trades...),
				Cube:      newCube(t, trades, dates, 3, 1, v),
				Curve:     flatCurve(),
				Config:    testConfig(),
			}
			p.Config.ApplyInitialMargin = true
			tc := buildTrades(t, p)

			ns := csaSet("NS1")
			ns.CSA.InitialMarginType = tt.imType
			ns.CSA.ApplyInitialMargin = true
			np := nettedParams(tc, p, ns)
			np.ScenarioData = scenarioData(1, 3)
			np.DIM = dim.Matrix{"NS1": {{0.5, 0.5, 0.5}}}
			res, _ := buildNetted(t, np).Result("NS1")

			assert.InDelta(t, tt.epe, res.Profile.EPE[1], 1e-12)
			assert.InDelta(t, tt.ene, res.Profile.ENE[1], 1e-12)
			assert.InDelta(t, tt.pfeDist, res.Profile.PFE[1], 1e-12)
		})
	}
}

func TestNegativeDIMIsFatal(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	p.Config.ApplyInitialMargin = true
	tc := buildTrades(t, p)
	ns := csaSet("NS1")
	ns.CSA.ApplyInitialMargin = true
	np := nettedParams(tc, p, ns)
	np.ScenarioData = scenarioData(2, 3)
	np.DIM = dim.Matrix{"NS1": {{1, 1, 1}, {1, -0.1, 1}}}

	calc, err := exposure.NewNettedExposureCalculator(np)
	require.NoError(t, err)
	err = calc.Build()
	assert.ErrorIs(t, err, exposure.ErrNegativeDIM)
	_, ok := calc.Result("NS1")
	assert.False(t, ok)
	assert.Nil(t, calc.NettedCube())

	np.DIM = dim.Matrix{}
	_, err = exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrMissingDIM)
}

func TestFailedBuildKeepsPreviousResults(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	p.Config.ApplyInitialMargin = true
	tc := buildTrades(t, p)
	ns := csaSet("NS1")
	ns.CSA.ApplyInitialMargin = true
	np := nettedParams(tc, p, ns)
	np.ScenarioData = scenarioData(2, 3)
	im := dim.Matrix{"NS1": {{1, 1, 1}, {1, 1, 1}}}
	np.DIM = im

	calc := buildNetted(t, np)
	before, ok := calc.Result("NS1")
	require.True(t, ok)

	im["NS1"][1][2] = -1
	require.ErrorIs(t, calc.Build(), exposure.ErrNegativeDIM)
	after, ok := calc.Result("NS1")
	require.True(t, ok)
	assert.Same(t, before, after)
}

func TestCounterpartyMismatch(t *testing.T) {
	t.Parallel()

	mat := today.AddDate(1, 0, 0)
	a := trade("A", "NS1", mat)
	b := trade("B", "NS1", mat)
	b.Counterparty = "CPTY_B"
	trades := []portfolio.Trade{a, b}
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, monthly(1), 1, 1, valuation{}),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	tc := buildTrades(t, p)
	_, err := exposure.NewNettedExposureCalculator(nettedParams(tc, p, uncollateralised("NS1")))
	assert.ErrorIs(t, err, exposure.ErrCounterpartyMismatch)
}

func TestNettedValidation(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	tc := buildTrades(t, p)

	_, err := exposure.NewNettedExposureCalculator(nettedParams(tc, p))
	assert.ErrorIs(t, err, portfolio.ErrUnknownNettingSet)

	flagged := portfolio.NettingSet{ID: "NS1", ActiveCSA: true}
	_, err = exposure.NewNettedExposureCalculator(nettedParams(tc, p, flagged))
	assert.ErrorIs(t, err, exposure.ErrMissingCSA)

	// active CSA without any scenario data
	_, err = exposure.NewNettedExposureCalculator(nettedParams(tc, p, csaSet("NS1")))
	assert.ErrorIs(t, err, exposure.ErrMissingScenarioData)

	np := nettedParams(tc, p)
	np.Accumulators = nil
	_, err = exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrNotBuilt)

	np = nettedParams(tc, p, uncollateralised("NS1"))
	np.Config.MarginalAllocation = true
	np.TradeExposureCube = nil
	_, err = exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrNotBuilt)
}

func TestMissingScenarioData(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	tc := buildTrades(t, p)
	fixings := marketdata.NewMapFixingFeed()
	fixings.Add("ESTR", today, 0.03)
	market := exposure.StaticMarket{
		BaseCurrency: "EUR",
		FX:           map[string]float64{"USD": 0.9},
		Fixings:      fixings,
	}

	usd := csaSet("NS1")
	usd.CSA.Currency = "USD"
	np := nettedParams(tc, p, usd)
	np.Market = market
	np.ScenarioData = scenarioData(2, 3)
	_, err := exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrMissingScenarioData)
	assert.ErrorContains(t, err, "FX spot USD")

	indexed := csaSet("NS1")
	indexed.CSA.Index = "ESTR"
	np = nettedParams(tc, p, indexed)
	np.Market = market
	np.ScenarioData = scenarioData(2, 3)
	_, err = exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrMissingScenarioData)
	assert.ErrorContains(t, err, "ESTR")

	np.ScenarioData.(*cube.InMemoryScenarioData).Fill(0.03, cube.IndexFixing, "ESTR")
	np.Market = nil
	_, err = exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrNilMarket)

	np.Market = market
	buildNetted(t, np)
}

func TestColvaAndCollateralFloor(t *testing.T) {
	t.Parallel()

	trades := []portfolio.Trade{trade("T1", "NS1", today.AddDate(5, 0, 0))}
	dates := monthly(3)
	v := regular(map[string]float64{"T1": 10}, map[string][][]float64{
		"T1": {{10, 10}, {10, 10}, {10, 10}},
	})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, dates, 2, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.CalcType = config.CalcNoLag
	tc := buildTrades(t, p)

	ns := portfolio.NettingSet{
		ID:        "NS1",
		ActiveCSA: true,
		CSA: &portfolio.CSA{
			Currency:        "EUR",
			MporDays:        10,
			CollatSpreadRcv: 0.01,
			CollatSpreadPay: 0.02,
		},
	}
	np := nettedParams(tc, p, ns)
	np.ScenarioData = scenarioData(3, 2)
	res, _ := buildNetted(t, np).Result("NS1")

	// fully collateralised on every date
	assert.Equal(t, []float64{10, 10, 10, 10}, res.ExpectedCollateral)
	assert.Equal(t, []float64{0, 0, 0}, res.Profile.EPE[1:])

	years := utils.YearFraction(today, dates[2], utils.ActActISDA)
	assert.InDelta(t, -10*0.01*years, res.Colva, 1e-12)
	// with no index the floor pays the full spread
	assert.InDelta(t, -10*0.01*years, res.CollateralFloor, 1e-12)
	first := utils.YearFraction(today, dates[0], utils.ActActISDA)
	assert.InDelta(t, -10*0.01*first, res.ColvaIncrement[1], 1e-12)
	assert.Zero(t, res.ColvaIncrement[0])
}

func TestMarginalAllocationUncollateralised(t *testing.T) {
	t.Parallel()

	mat := today.AddDate(3, 0, 0)
	trades := []portfolio.Trade{trade("A", "NS1", mat), trade("B", "NS1", mat)}
	dates := monthly(2)
	v := regular(map[string]float64{"A": 2, "B": -0.5}, map[string][][]float64{
		"A": {{1, -3}, {2, 0.5}},
		"B": {{-4, 1}, {1, 0.25}},
	})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, dates, 2, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.MultiPath = true
	p.Config.MarginalAllocation = true
	tc := buildTrades(t, p)
	buildNetted(t, nettedParams(tc, p, uncollateralised("NS1")))

	ec := tc.ExposureCube()
	acc := tc.Accumulators()
	for j := range dates {
		for k := 0; k < 2; k++ {
			var sum float64
			for i := range trades {
				sum += ec.Get(i, j, k, cube.ExposureAllocatedEPE) + ec.Get(i, j, k, cube.ExposureAllocatedENE)
			}
			assert.InDelta(t, acc.DefaultValue["NS1"][j][k], sum, 1e-12)
		}
	}
	// the netting set is short on (0, 0): both trades land in the ENE slot,
	// including A whose own value is positive
	assert.Equal(t, 1.0, ec.Get(0, 0, 0, cube.ExposureAllocatedENE))
	assert.Equal(t, 0.0, ec.Get(0, 0, 0, cube.ExposureAllocatedEPE))
	assert.Equal(t, -4.0, ec.Get(1, 0, 0, cube.ExposureAllocatedENE))
	// T0: net value 1.5 is positive
	assert.Equal(t, 2.0, ec.GetT0(0, cube.ExposureAllocatedEPE))
	assert.Equal(t, -0.5, ec.GetT0(1, cube.ExposureAllocatedEPE))

	mean, err := tc.MeanExposure("A", cube.ExposureAllocatedEPE)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 0, (2 + 0.5) / 2}, mean, 1e-12)
}

func TestMarginalAllocationAveraged(t *testing.T) {
	t.Parallel()

	mat := today.AddDate(3, 0, 0)
	trades := []portfolio.Trade{trade("A", "NS1", mat), trade("B", "NS1", mat)}
	dates := monthly(1)
	v := regular(nil, map[string][][]float64{
		"A": {{3, 1}},
		"B": {{1, 1}},
	})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, dates, 2, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.MarginalAllocation = true
	tc := buildTrades(t, p)
	buildNetted(t, nettedParams(tc, p, uncollateralised("NS1")))

	ec := tc.ExposureCube()
	require.Equal(t, 1, ec.Samples())
	assert.InDelta(t, 2.0, ec.Get(0, 0, 0, cube.ExposureAllocatedEPE), 1e-12)
	assert.InDelta(t, 1.0, ec.Get(1, 0, 0, cube.ExposureAllocatedEPE), 1e-12)
}

func TestTimeAveragedExposure(t *testing.T) {
	t.Parallel()

	mat := today.AddDate(0, 2, 0)
	trades := []portfolio.Trade{trade("T1", "NS1", mat)}
	dates := monthly(3)
	v := regular(nil, map[string][][]float64{"T1": {{2, -1}, {2, -1}, {50, 50}}})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, dates, 2, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	tc := buildTrades(t, p)
	res, _ := buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).Result("NS1")

	require.Len(t, res.TimeAveraged, 2)
	// the date past maturity is ignored
	assert.InDelta(t, 2.0, res.TimeAveraged[0].PositiveBeforeCollateral, 1e-12)
	assert.InDelta(t, 2.0, res.TimeAveraged[0].PositiveAfterCollateral, 1e-12)
	assert.Zero(t, res.TimeAveraged[0].NegativeBeforeCollateral)
	assert.InDelta(t, 1.0, res.TimeAveraged[1].NegativeAfterCollateral, 1e-12)
}

func TestParallelNettingSetsMatchSequential(t *testing.T) {
	t.Parallel()

	mat := today.AddDate(1, 0, 0)
	var trades []portfolio.Trade
	values := map[string][][]float64{}
	var sets []portfolio.NettingSet
	for n := 0; n < 6; n++ {
		ns := string(rune('A'+n)) + "_NS"
		sets = append(sets, uncollateralised(ns))
		for m := 0; m < 3; m++ {
			id := ns + string(rune('0'+m))
			trades = append(trades, trade(id, ns, mat))
			values[id] = [][]float64{
				{float64(n - m), float64(m*n) - 3, 1},
				{float64(2*m - n), -1, float64(n)},
			}
		}
	}
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, monthly(2), 3, 1, regular(nil, values)),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	tc := buildTrades(t, p)

	seq := buildNetted(t, nettedParams(tc, p, sets...))
	np := nettedParams(tc, p, sets...)
	np.Config.Workers = 4
	par := buildNetted(t, np)

	for _, id := range seq.NettingSetIDs() {
		a, _ := seq.Result(id)
		b, _ := par.Result(id)
		assert.Equal(t, a.Profile, b.Profile, id)
		assert.Equal(t, a.TimeAveraged, b.TimeAveraged, id)
	}

	// callers get their own copy of the netted cube row order
	ids := seq.NettingSetIDs()
	ids[0], ids[5] = ids[5], ids[0]
	assert.Equal(t, "A_NS", seq.NettingSetIDs()[0])
	assert.Equal(t, seq.NettedCube().IDs(), seq.NettingSetIDs())
}

func TestFirstMporCollateralAdjustment(t *testing.T) {
	t.Parallel()

	trades := []portfolio.Trade{trade("T1", "NS1", today.AddDate(1, 0, 0))}
	dates := []time.Time{today.AddDate(0, 0, 7), today.AddDate(0, 1, 0)}
	v := regular(map[string]float64{"T1": 5}, map[string][][]float64{"T1": {{0}, {0}}})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, dates, 1, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.FirstMporCollateralAdjustment = true
	tc := buildTrades(t, p)
	np := nettedParams(tc, p, csaSet("NS1"))
	np.ScenarioData = scenarioData(2, 1)
	np.Balances = collateral.Balances{"NS1": {VariationMargin: 2}}
	res, _ := buildNetted(t, np).Result("NS1")

	// VM 2 against NPV 5 leaves a shortfall of 3 inside the 14 day MPoR
	assert.Equal(t, 3.0, res.Profile.EPE[0])
	assert.Equal(t, 1.0, res.Profile.EPE[1])
	assert.Equal(t, 0.0, res.Profile.EPE[2])
}

func TestScenarioDataShapeMismatch(t *testing.T) {
	t.Parallel()

	p := singleTradeParams(t)
	tc := buildTrades(t, p)

	np := nettedParams(tc, p, csaSet("NS1"))
	np.ScenarioData = scenarioData(1, 3)
	_, err := exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrShapeMismatch)

	np.ScenarioData = scenarioData(2, 2)
	_, err = exposure.NewNettedExposureCalculator(np)
	assert.ErrorIs(t, err, exposure.ErrShapeMismatch)

	np.ScenarioData = scenarioData(2, 3)
	buildNetted(t, np)
}

func TestMarginalAllocationAfterBreaks(t *testing.T) {
	t.Parallel()

	mat := today.AddDate(3, 0, 0)
	broken := trade("A", "NS1", mat)
	broken.Actions = []portfolio.TradeAction{{
		Type:     portfolio.ActionBreak,
		Owner:    portfolio.OwnerMutual,
		Schedule: []string{"2025-01-15"},
	}}
	bad := trade("C", "NS1", mat)
	bad.Actions = []portfolio.TradeAction{{
		Type:     portfolio.ActionBreak,
		Owner:    portfolio.OwnerMutual,
		Schedule: []string{"2025-99-01"},
	}}
	trades := []portfolio.Trade{broken, trade("B", "NS1", mat), bad}
	dates := monthly(2)
	v := regular(map[string]float64{"A": 5, "B": 1, "C": 2}, map[string][][]float64{
		"A": {{5}, {5}},
		"B": {{1}, {-1}},
		"C": {{2}, {2}},
	})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, dates, 1, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.MultiPath = true
	p.Config.MarginalAllocation = true
	p.Config.ExerciseNextBreak = true
	p.Config.ContinueOnError = true
	tc := buildTrades(t, p)
	res, _ := buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).Result("NS1")

	// A is broken before the first date and C is zeroed, so only B is left
	assert.Equal(t, []float64{1, 0}, res.Profile.EPE[1:])
	assert.Equal(t, []float64{0, 1}, res.Profile.ENE[1:])

	ec := tc.ExposureCube()
	acc := tc.Accumulators()
	for j := range dates {
		var sum float64
		for i := range trades {
			sum += ec.Get(i, j, 0, cube.ExposureAllocatedEPE) + ec.Get(i, j, 0, cube.ExposureAllocatedENE)
		}
		assert.InDelta(t, acc.DefaultValue["NS1"][j][0], sum, 1e-12)
	}
	for _, id := range []string{"A", "C"} {
		i, _ := ec.Index(id)
		for j := range dates {
			assert.Zero(t, ec.Get(i, j, 0, cube.ExposureAllocatedEPE), id)
			assert.Zero(t, ec.Get(i, j, 0, cube.ExposureAllocatedENE), id)
		}
	}
	b, _ := ec.Index("B")
	assert.Equal(t, 1.0, ec.Get(b, 0, 0, cube.ExposureAllocatedEPE))
	assert.Equal(t, -1.0, ec.Get(b, 1, 0, cube.ExposureAllocatedENE))
}

// collateralisedAllocation prices two trades, A and B, in one netting set
// with an active EUR CSA: date 0 values 6 and 2, date 1 values 0.5 and -0.2.
func collateralisedAllocation(t *testing.T) (exposure.TradeParams, *exposure.TradeExposureCalculator) {
	t.Helper()

	mat := today.AddDate(3, 0, 0)
	trades := []portfolio.Trade{trade("A", "NS1", mat), trade("B", "NS1", mat)}
	v := regular(map[string]float64{"A": 0, "B": 0}, map[string][][]float64{
		"A": {{6}, {0.5}},
		"B": {{2}, {-0.2}},
	})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, monthly(2), 1, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.MultiPath = true
	p.Config.MarginalAllocation = true
	return p, buildTrades(t, p)
}

func TestMarginalAllocationWithCollateral(t *testing.T) {
	t.Parallel()

	p, tc := collateralisedAllocation(t)
	ns := csaSet("NS1")
	ns.CSA.MporDays = 0
	ns.CSA.ThresholdRcv = 2
	ns.CSA.ThresholdPay = 2
	np := nettedParams(tc, p, ns)
	np.ScenarioData = scenarioData(2, 1)
	res, _ := buildNetted(t, np).Result("NS1")

	// date 0: 8 is called down to the threshold; date 1: 0.3 is below it and
	// the collateral is returned
	assert.Equal(t, []float64{0, 6, 0}, res.ExpectedCollateral)
	assert.InDeltaSlice(t, []float64{0, 2, 0.3}, res.Profile.EPE, 1e-12)

	ec := tc.ExposureCube()
	// pro rata on the netting set value
	assert.InDelta(t, 2*6.0/8, ec.Get(0, 0, 0, cube.ExposureAllocatedEPE), 1e-12)
	assert.InDelta(t, 2*2.0/8, ec.Get(1, 0, 0, cube.ExposureAllocatedEPE), 1e-12)
	// no collateral held: each trade keeps its own value
	assert.InDelta(t, 0.5, ec.Get(0, 1, 0, cube.ExposureAllocatedEPE), 1e-12)
	assert.InDelta(t, -0.2, ec.Get(1, 1, 0, cube.ExposureAllocatedEPE), 1e-12)
}

// fixedCollateral holds the same balance on every path.
type fixedCollateral float64

func (f fixedCollateral) BalancePaths(in collateral.PathInput) ([]collateral.Account, error) {
	out := make([]collateral.Account, len(in.Values[0]))
	for k := range out {
		out[k] = collateral.FixedBalance(f)
	}
	return out, nil
}

func TestMarginalAllocationLimitOverride(t *testing.T) {
	t.Parallel()

	p, tc := collateralisedAllocation(t)
	limit := 10.0
	ns := csaSet("NS1")
	ns.MarginalAllocationLimit = &limit
	np := nettedParams(tc, p, ns)
	np.ScenarioData = scenarioData(2, 1)
	np.Collateral = fixedCollateral(3)
	res, _ := buildNetted(t, np).Result("NS1")

	assert.Equal(t, []float64{0, 3, 3}, res.ExpectedCollateral)
	assert.InDeltaSlice(t, []float64{0, 5, 0}, res.Profile.EPE, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 2.7}, res.Profile.ENE, 1e-12)

	// both netting set values are inside the overridden limit: equal split
	ec := tc.ExposureCube()
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 2.5, ec.Get(i, 0, 0, cube.ExposureAllocatedEPE), 1e-12)
		assert.InDelta(t, -1.35, ec.Get(i, 1, 0, cube.ExposureAllocatedENE), 1e-12)
	}
}

func TestNettedFlipView(t *testing.T) {
	t.Parallel()

	trades := []portfolio.Trade{trade("A", "NS1", today.AddDate(3, 0, 0))}
	v := regular(map[string]float64{"A": 2}, map[string][][]float64{
		"A": {{3, -1}, {0.5, 0.5}},
	})
	p := exposure.TradeParams{
		Portfolio: mustPortfolio(t, trades...),
		Cube:      newCube(t, trades, monthly(2), 2, 1, v),
		Curve:     flatCurve(),
		Config:    testConfig(),
	}
	p.Config.FlipViewXVA = true
	p.Config.MultiPath = true
	p.Config.MarginalAllocation = true
	tc := buildTrades(t, p)
	res, _ := buildNetted(t, nettedParams(tc, p, uncollateralised("NS1"))).Result("NS1")

	assert.Equal(t, -2.0, res.ValueToday)
	assert.Equal(t, []float64{0, 0.5, 0}, res.Profile.EPE)
	assert.Equal(t, []float64{2, 1.5, 0.5}, res.Profile.ENE)

	ec := tc.ExposureCube()
	assert.Equal(t, -3.0, ec.Get(0, 0, 0, cube.ExposureAllocatedENE))
	assert.Equal(t, 1.0, ec.Get(0, 0, 1, cube.ExposureAllocatedEPE))
	assert.Equal(t, -2.0, ec.GetT0(0, cube.ExposureAllocatedENE))
}
