package exposure

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/meenmo/xvalib/calendar"
	"github.com/meenmo/xvalib/collateral"
	"github.com/meenmo/xvalib/config"
	"github.com/meenmo/xvalib/cube"
	"github.com/meenmo/xvalib/dim"
	"github.com/meenmo/xvalib/metrics"
	"github.com/meenmo/xvalib/portfolio"
	"github.com/meenmo/xvalib/utils"
)

// NettedParams are the inputs of a NettedExposureCalculator.
type NettedParams struct {
	Portfolio   *portfolio.Portfolio
	NettingSets *portfolio.NettingSetManager
	Cube        cube.NPVCube
	// Interpretation defaults to cube.RegularInterpretation.
	Interpretation cube.Interpretation
	// ScenarioData is required when any netting set has an active CSA.
	ScenarioData cube.ScenarioData
	Market       Market
	Curve        DiscountCurve
	// Collateral defaults to collateral.CSAHelper.
	Collateral collateral.Helper
	Balances   collateral.Balances
	// DIM is required when initial margin is applied.
	DIM dim.Calculator

	// Accumulators and TradeExposureCube come from a built TradeExposureCalculator.
	Accumulators      *Accumulators
	TradeExposureCube *cube.DenseCube

	// Today defaults to Cube.Asof().
	Today  time.Time
	Config config.Config
}

// TimeAveragedExposure holds one sample's exposures averaged over the netting
// set lifetime, before and after collateral.
type TimeAveragedExposure struct {
	PositiveBeforeCollateral float64
	NegativeBeforeCollateral float64
	PositiveAfterCollateral  float64
	NegativeAfterCollateral  float64
}

// NettingSetExposure is the collateralised result of one netting set.
type NettingSetExposure struct {
	ID           string
	Counterparty string
	Trades       int
	ValueToday   float64
	Maturity     time.Time

	Profile *Profile
	// ExpectedCollateral is the mean collateral balance in base currency.
	ExpectedCollateral []float64
	ColvaIncrement     []float64
	FloorIncrement     []float64
	Colva              float64
	CollateralFloor    float64

	// EPEB and EEPEB are the Basel scalars frozen at the end of the window.
	EPEB  float64
	EEPEB float64

	// TimeAveraged has one entry per sample.
	TimeAveraged []TimeAveragedExposure
}

// NettedExposureCalculator aggregates trade values per netting set and
// applies collateral, initial margin and marginal allocation.
type NettedExposureCalculator struct {
	p   NettedParams
	cfg config.Config
	log zerolog.Logger

	ids         []string
	definitions map[string]portfolio.NettingSet
	trades      map[string][]portfolio.Trade

	results    map[string]*NettingSetExposure
	nettedCube *cube.DenseCube
}

// NewNettedExposureCalculator checks the input contract: every netting set
// is defined, has one counterparty, an active CSA carries its terms, and the
// scenario data holds every FX rate and index the CSAs need.
func NewNettedExposureCalculator(p NettedParams, opts ...Option) (*NettedExposureCalculator, error) {
	const fn = "NewNettedExposureCalculator"
	if p.Portfolio == nil {
		return nil, fmt.Errorf("%s: %w", fn, ErrNilPortfolio)
	}
	if p.Cube == nil {
		return nil, fmt.Errorf("%s: %w", fn, ErrNilCube)
	}
	if p.Curve == nil {
		return nil, fmt.Errorf("%s: %w", fn, ErrNilCurve)
	}
	if p.Accumulators == nil {
		return nil, fmt.Errorf("%s: %w", fn, ErrNotBuilt)
	}
	if p.NettingSets == nil {
		p.NettingSets = portfolio.NewNettingSetManager()
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if p.Interpretation == nil {
		p.Interpretation = cube.RegularInterpretation{}
	}
	if p.Collateral == nil {
		p.Collateral = collateral.CSAHelper{}
	}
	if p.Today.IsZero() {
		p.Today = p.Cube.Asof()
	}
	dates := len(p.Cube.Dates())
	if p.Accumulators.Dates != dates || p.Accumulators.Samples != p.Cube.Samples() {
		return nil, fmt.Errorf("%s: %w: accumulators are %dx%d, cube is %dx%d", fn, ErrShapeMismatch,
			p.Accumulators.Dates, p.Accumulators.Samples, dates, p.Cube.Samples())
	}
	if p.Config.MarginalAllocation {
		if p.TradeExposureCube == nil {
			return nil, fmt.Errorf("%s: marginal allocation needs the trade exposure cube: %w", fn, ErrNotBuilt)
		}
		want := 1
		if p.Config.MultiPath {
			want = p.Cube.Samples()
		}
		if p.TradeExposureCube.Samples() != want || len(p.TradeExposureCube.Dates()) != dates {
			return nil, fmt.Errorf("%s: %w: trade exposure cube is %dx%d, want %dx%d", fn, ErrShapeMismatch,
				len(p.TradeExposureCube.Dates()), p.TradeExposureCube.Samples(), dates, want)
		}
	}

	c := &NettedExposureCalculator{
		p:           p,
		cfg:         p.Config,
		ids:         p.Portfolio.NettingSetIDs(),
		definitions: make(map[string]portfolio.NettingSet),
		trades:      make(map[string][]portfolio.Trade),
	}
	for _, id := range c.ids {
		ns, err := c.validateNettingSet(id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
		c.definitions[id] = ns
		c.trades[id] = p.Portfolio.TradesInNettingSet(id)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c.log = o.log
	return c, nil
}

func (c *NettedExposureCalculator) validateNettingSet(id string) (portfolio.NettingSet, error) {
	ns, err := c.p.NettingSets.Get(id)
	if err != nil {
		return ns, err
	}
	if err := c.p.Accumulators.check(id); err != nil {
		return ns, err
	}

	var counterparty string
	for i, t := range c.p.Portfolio.TradesInNettingSet(id) {
		if _, ok := c.p.Cube.Index(t.ID); !ok {
			return ns, fmt.Errorf("%w: %s", ErrTradeNotInCube, t.ID)
		}
		if c.cfg.MarginalAllocation {
			if _, ok := c.p.TradeExposureCube.Index(t.ID); !ok {
				return ns, fmt.Errorf("%w: %s missing from trade exposure cube", ErrTradeNotInCube, t.ID)
			}
			if err := c.p.Accumulators.checkTrade(t.ID); err != nil {
				return ns, err
			}
		}
		if i == 0 {
			counterparty = t.Counterparty
		} else if t.Counterparty != counterparty {
			return ns, fmt.Errorf("%w: netting set %s has %q and %q (trade %s)",
				ErrCounterpartyMismatch, id, counterparty, t.Counterparty, t.ID)
		}
	}

	if !ns.ActiveCSA {
		return ns, nil
	}
	if ns.CSA == nil {
		return ns, fmt.Errorf("%w: netting set %s is flagged active", ErrMissingCSA, id)
	}
	csa := ns.CSA
	sd := c.p.ScenarioData
	if sd == nil {
		return ns, fmt.Errorf("%w: netting set %s has an active CSA and no scenario data was given", ErrMissingScenarioData, id)
	}
	if sd.Dates() != c.p.Accumulators.Dates || sd.Samples() != c.p.Accumulators.Samples {
		return ns, fmt.Errorf("%w: scenario data is %dx%d, cube is %dx%d (netting set %s)", ErrShapeMismatch,
			sd.Dates(), sd.Samples(), c.p.Accumulators.Dates, c.p.Accumulators.Samples, id)
	}
	if !sd.Has(cube.Numeraire, "") {
		return ns, fmt.Errorf("%w: numeraire (netting set %s)", ErrMissingScenarioData, id)
	}
	if csa.Currency != c.cfg.BaseCurrency && !sd.Has(cube.FXSpot, csa.Currency) {
		return ns, fmt.Errorf("%w: FX spot %s%s (netting set %s)", ErrMissingScenarioData, csa.Currency, c.cfg.BaseCurrency, id)
	}
	if csa.Index != "" && !sd.Has(cube.IndexFixing, csa.Index) {
		return ns, fmt.Errorf("%w: index fixing %s (netting set %s)", ErrMissingScenarioData, csa.Index, id)
	}
	if c.p.Market == nil && (csa.Currency != c.cfg.BaseCurrency || csa.Index != "") {
		return ns, fmt.Errorf("%w: netting set %s needs today's FX rate or index fixing", ErrNilMarket, id)
	}
	if c.cfg.ApplyInitialMargin && csa.ApplyInitialMargin {
		if c.p.DIM == nil {
			return ns, fmt.Errorf("%w: netting set %s applies initial margin and no DIM calculator was given", ErrMissingDIM, id)
		}
		m, ok := c.p.DIM.DynamicIM(id)
		if !ok {
			return ns, fmt.Errorf("%w: netting set %s", ErrMissingDIM, id)
		}
		if len(m) != c.p.Accumulators.Dates {
			return ns, fmt.Errorf("%w: netting set %s DIM has %d dates", ErrShapeMismatch, id, len(m))
		}
		for _, row := range m {
			if len(row) != c.p.Accumulators.Samples {
				return ns, fmt.Errorf("%w: netting set %s DIM has %d samples", ErrShapeMismatch, id, len(row))
			}
		}
	}
	return ns, nil
}

// allocation is the exposure attributed to one trade, [date][sample].
type allocation struct {
	row   int
	value [][]float64 // trade default value, [date][sample]
	epe   [][]float64
	ene   [][]float64
	t0    [2]float64
}

// nettingSetRun is everything one netting set produces during Build.
type nettingSetRun struct {
	result      *NettingSetExposure
	nettedT0    float64
	netted      [][]float64
	allocations []allocation
}

// Build processes every netting set once. Netting sets run concurrently when
// Config.Workers > 1. Outputs are published only if every netting set succeeds.
func (c *NettedExposureCalculator) Build() (err error) {
	start := time.Now()
	defer func() { observe(metrics.CalculatorNetted, start, err) }()

	dates := c.p.Cube.Dates()
	samples := c.p.Cube.Samples()
	c.log.Info().
		Int("netting_sets", len(c.ids)).
		Int("dates", len(dates)).
		Int("samples", samples).
		Int("workers", c.cfg.Workers).
		Msg("building netted exposure")

	grid := newDateGrid(c.p.Today, dates)
	runs := make([]*nettingSetRun, len(c.ids))
	if c.cfg.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(c.cfg.Workers)
		for n, id := range c.ids {
			g.Go(func() error {
				r, err := c.buildNettingSet(id, grid)
				runs[n] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for n, id := range c.ids {
			r, err := c.buildNettingSet(id, grid)
			if err != nil {
				return err
			}
			runs[n] = r
		}
	}

	nettedCube, err := cube.NewDenseCube(c.p.Today, c.ids, dates, samples, 1)
	if err != nil {
		return fmt.Errorf("NettedExposureCalculator.Build: %w", err)
	}
	results := make(map[string]*NettingSetExposure, len(c.ids))
	for n, r := range runs {
		results[c.ids[n]] = r.result
		nettedCube.SetT0(r.nettedT0, n, 0)
		for j := range r.netted {
			for k, v := range r.netted[j] {
				nettedCube.Set(v, n, j, k, 0)
			}
		}
	}
	if c.cfg.MarginalAllocation {
		c.writeAllocations(runs)
	}

	c.results = results
	c.nettedCube = nettedCube
	c.log.Info().Dur("elapsed", time.Since(start)).Msg("netted exposure built")
	return nil
}

// writeAllocations copies allocated exposure into the trade exposure cube.
// Each trade belongs to one netting set, so rows never collide.
func (c *NettedExposureCalculator) writeAllocations(runs []*nettingSetRun) {
	tc := c.p.TradeExposureCube
	for _, r := range runs {
		for _, a := range r.allocations {
			tc.SetT0(a.t0[0], a.row, cube.ExposureAllocatedEPE)
			tc.SetT0(a.t0[1], a.row, cube.ExposureAllocatedENE)
			for j := range a.epe {
				for k := range a.epe[j] {
					tc.Set(a.epe[j][k], a.row, j, k, cube.ExposureAllocatedEPE)
					tc.Set(a.ene[j][k], a.row, j, k, cube.ExposureAllocatedENE)
				}
			}
		}
	}
}

// dateGrid caches year fractions shared by all netting sets.
type dateGrid struct {
	dates []time.Time
	times []float64
	dts   []float64
	prev  []time.Time
}

func newDateGrid(today time.Time, dates []time.Time) dateGrid {
	g := dateGrid{
		dates: dates,
		times: utils.YearFractions(today, dates, utils.ActActISDA),
		dts:   make([]float64, len(dates)),
		prev:  make([]time.Time, len(dates)),
	}
	for j := range dates {
		if j == 0 {
			g.dts[j] = g.times[j]
			g.prev[j] = today
		} else {
			g.dts[j] = g.times[j] - g.times[j-1]
			g.prev[j] = dates[j-1]
		}
	}
	return g
}

func (c *NettedExposureCalculator) buildNettingSet(id string, grid dateGrid) (*nettingSetRun, error) {
	cfg := c.cfg
	ns := c.definitions[id]
	trades := c.trades[id]
	samples := c.p.Cube.Samples()
	nDates := len(grid.dates)
	acc := c.p.Accumulators

	sign := 1.0
	if cfg.FlipViewXVA {
		sign = -1.0
	}
	res := &NettingSetExposure{
		ID:                 id,
		Trades:             len(trades),
		Profile:            newProfile(nDates),
		ExpectedCollateral: make([]float64, nDates+1),
		ColvaIncrement:     make([]float64, nDates+1),
		FloorIncrement:     make([]float64, nDates+1),
		TimeAveraged:       make([]TimeAveragedExposure, samples),
	}
	rows := make([]int, len(trades))
	for n, t := range trades {
		rows[n], _ = c.p.Cube.Index(t.ID)
		res.ValueToday += sign * c.p.Cube.GetT0(rows[n], cube.DepthDefaultNPV)
		if t.Maturity.After(res.Maturity) {
			res.Maturity = t.Maturity
		}
		res.Counterparty = t.Counterparty
	}
	npv := res.ValueToday
	active := ns.ActiveCSA
	c.log.Debug().
		Str("netting_set_id", id).
		Int("trades", len(trades)).
		Bool("csa", active).
		Float64("npv", npv).
		Msg("netting set")

	data := acc.DefaultValue[id]
	if cfg.CalcType == config.CalcNoLag && (active || cfg.ExposureProfilesUseCloseOutValues) {
		data = acc.CloseOutValue[id]
	}

	initialVM, initialIM, err := c.initialBalances(id)
	if err != nil {
		return nil, err
	}
	accounts, err := c.collateralPaths(ns, npv, data, res.Maturity, initialVM)
	if err != nil {
		return nil, err
	}

	imType := portfolio.IMBilateral
	applyIM := false
	var dimGrid [][]float64
	var csa *portfolio.CSA
	if active {
		csa = ns.CSA
		imType = csa.InitialMarginType
		applyIM = cfg.ApplyInitialMargin && csa.ApplyInitialMargin
		if applyIM {
			dimGrid, _ = c.p.DIM.DynamicIM(id)
		}
	}

	// index 0: today
	prof := res.Profile
	collateral0 := initialVM
	if cfg.FullInitialCollateralisation && active {
		collateral0 = npv
	} else {
		prof.EPE[0] = math.Max(npv-initialVM-initialIM, 0)
		prof.ENE[0] = math.Max(-npv+initialVM, 0)
		prof.PFE[0] = prof.EPE[0]
	}
	res.ExpectedCollateral[0] = npv
	prof.seedToday()

	var mismatch float64
	var mporEnd time.Time
	adjustFirstMpor := cfg.FirstMporCollateralAdjustment && active
	if adjustFirstMpor {
		mismatch = math.Min(0, collateral0-npv)
		mporEnd = c.p.Today.AddDate(0, 0, csa.MporDays)
	}

	run := &nettingSetRun{
		result:   res,
		nettedT0: npv - collateral0,
		netted:   newGrid(nDates, samples),
	}
	limit := cfg.MarginalAllocationLimit
	if ns.MarginalAllocationLimit != nil {
		limit = *ns.MarginalAllocationLimit
	}
	if cfg.MarginalAllocation {
		run.allocations = c.newAllocations(trades, rows, npv, collateral0, limit, nDates)
	}
	mporFlows := c.p.Interpretation.WithCloseOutLag() && c.p.Interpretation.WithMporStickyDate()

	indexDayCount := utils.ActActISDA
	if csa != nil && csa.Index != "" && csa.IndexDayCount != "" {
		indexDayCount = csa.IndexDayCount
	}

	fs := float64(samples)
	basel := newBaselAverager(c.p.Today, res.Maturity)
	dist := make([]float64, samples)
	for j, d := range grid.dates {
		inFirstMpor := adjustFirstMpor && !d.After(mporEnd)
		inLifetime := !d.After(res.Maturity)
		var dcf float64
		if active {
			dcf = utils.YearFraction(grid.prev[j], d, indexDayCount)
		}
		for k := 0; k < samples; k++ {
			var balance float64
			if len(accounts) > 0 {
				balance = accounts[k].AccountBalance(d)
				if csa.Currency != cfg.BaseCurrency {
					balance *= c.p.ScenarioData.Get(j, k, cube.FXSpot, csa.Currency)
				}
			}
			res.ExpectedCollateral[j+1] += balance / fs

			var mporCashFlow float64
			if mporFlows {
				mporCashFlow = mporCashFlowContribution(cfg.MporCashFlowMode,
					acc.MporPositiveFlow[id][j][k], acc.MporNegativeFlow[id][j][k])
			}
			if inFirstMpor {
				balance += mismatch
			}

			exposure := data[j][k] - balance + mporCashFlow

			var dimEPE, dimENE float64
			if applyIM && len(accounts) > 0 {
				im := dimGrid[j][k]
				if im < 0 {
					return nil, fmt.Errorf("%w: netting set %s date %d sample %d: %v", ErrNegativeDIM, id, j, k, im)
				}
				dimEPE, dimENE = imType.Reductions(im)
			}

			prof.EPE[j+1] += math.Max(exposure-dimEPE, 0) / fs
			prof.ENE[j+1] += math.Max(-exposure-dimENE, 0) / fs
			run.netted[j][k] = exposure
			dist[k] = exposure - dimEPE

			if active {
				var indexValue float64
				if csa.Index != "" {
					indexValue = c.p.ScenarioData.Get(j, k, cube.IndexFixing, csa.Index)
				}
				spread := csa.CollatSpreadPay
				if balance >= 0 {
					spread = csa.CollatSpreadRcv
				}
				numeraire := c.p.ScenarioData.Get(j, k, cube.Numeraire, "")
				colvaDelta := -balance * spread * dcf / numeraire / fs
				floorDelta := -balance * math.Max(-(indexValue-spread), 0) * dcf / numeraire / fs
				res.ColvaIncrement[j+1] += colvaDelta
				res.Colva += colvaDelta
				res.FloorIncrement[j+1] += floorDelta
				res.CollateralFloor += floorDelta
			}

			if cfg.MarginalAllocation {
				c.allocate(run.allocations, acc.DefaultValue[id][j][k], j, k, exposure, balance, limit)
			}

			if inLifetime {
				w := grid.dts[j]
				tae := &res.TimeAveraged[k]
				tae.PositiveBeforeCollateral += math.Max(data[j][k], 0) * w
				tae.NegativeBeforeCollateral += math.Max(-data[j][k], 0) * w
				tae.PositiveAfterCollateral += math.Max(exposure-dimEPE, 0) * w
				tae.NegativeAfterCollateral += math.Max(-exposure-dimENE, 0) * w
			}
		}

		prof.rollDate(j, d, grid.times[j], grid.dts[j], c.p.Curve.DF(d), basel)
		prof.PFE[j+1] = pfe(dist, cfg.Quantile)
	}
	res.EPEB = basel.epeB
	res.EEPEB = basel.eepeB

	if lifetime := utils.YearFraction(c.p.Today, res.Maturity, utils.ActActISDA); lifetime > 0 {
		for k := range res.TimeAveraged {
			tae := &res.TimeAveraged[k]
			tae.PositiveBeforeCollateral /= lifetime
			tae.NegativeBeforeCollateral /= lifetime
			tae.PositiveAfterCollateral /= lifetime
			tae.NegativeAfterCollateral /= lifetime
		}
	}

	metrics.NettingSetsProcessed.WithLabelValues(metrics.CSALabel(active)).Inc()
	return run, nil
}

// mporCashFlowContribution returns the MPoR cash flows that stay in exposure.
func mporCashFlowContribution(mode config.MporCashFlowMode, positive, negative float64) float64 {
	switch mode {
	case config.MporBothPay:
		return 0
	case config.MporNonePay:
		return positive + negative
	case config.MporWePay:
		return positive
	case config.MporTheyPay:
		return negative
	default:
		return 0
	}
}

func (c *NettedExposureCalculator) newAllocations(trades []portfolio.Trade, rows []int, npv, collateral0, limit float64, nDates int) []allocation {
	samples := 1
	if c.cfg.MultiPath {
		samples = c.p.Cube.Samples()
	}
	sign := 1.0
	if c.cfg.FlipViewXVA {
		sign = -1.0
	}
	exposure0 := npv - collateral0
	out := make([]allocation, len(trades))
	for n, t := range trades {
		row, _ := c.p.TradeExposureCube.Index(t.ID)
		out[n] = allocation{
			row:   row,
			value: c.p.Accumulators.TradeValue[t.ID],
			epe:   newGrid(nDates, samples),
			ene:   newGrid(nDates, samples),
		}
		tradeNPV := sign * c.p.Cube.GetT0(rows[n], cube.DepthDefaultNPV)
		a := allocate(exposure0, collateral0, npv, tradeNPV, len(trades), limit)
		if exposure0 > 0 {
			out[n].t0[0] = a
		} else {
			out[n].t0[1] = a
		}
	}
	return out
}

// allocate distributes a (date, sample) netting set exposure to its trades.
// The slot follows the sign of the netting set exposure, not the trade's.
func (c *NettedExposureCalculator) allocate(allocs []allocation, nsValue float64, j, k int, exposure, balance, limit float64) {
	kk := k
	scale := 1.0
	if !c.cfg.MultiPath {
		kk = 0
		scale = 1.0 / float64(c.p.Cube.Samples())
	}
	for n := range allocs {
		a := allocate(exposure, balance, nsValue, allocs[n].value[j][k], len(allocs), limit) * scale
		if exposure > 0 {
			allocs[n].epe[j][kk] += a
		} else {
			allocs[n].ene[j][kk] += a
		}
	}
}

func allocate(exposure, balance, nettingSetValue, tradeValue float64, trades int, limit float64) float64 {
	switch {
	case balance == 0:
		return tradeValue
	case math.Abs(nettingSetValue) < limit:
		return exposure / float64(trades)
	default:
		return exposure * tradeValue / nettingSetValue
	}
}

// collateralPaths simulates one collateral account per sample, or returns nil
// when the netting set has no active CSA. initialVM is in base currency.
func (c *NettedExposureCalculator) collateralPaths(ns portfolio.NettingSet, npv float64, values [][]float64, maturity time.Time, initialVM float64) ([]collateral.Account, error) {
	if !ns.Active() {
		return nil, nil
	}
	csa := ns.CSA
	dates := c.p.Cube.Dates()
	samples := c.p.Cube.Samples()

	fxToday := 1.0
	if csa.Currency != c.cfg.BaseCurrency {
		v, err := c.p.Market.FXSpot(csa.Currency)
		if err != nil {
			return nil, fmt.Errorf("netting set %s: %w", ns.ID, err)
		}
		fxToday = v
	}
	if fxToday == 0 {
		return nil, fmt.Errorf("netting set %s: zero FX spot for %s", ns.ID, csa.Currency)
	}
	var rateToday float64
	if csa.Index != "" {
		fixingDate := calendar.AdjustPreceding(csa.IndexCalendar, c.p.Today)
		v, err := c.p.Market.Fixing(csa.Index, fixingDate)
		if err != nil {
			return nil, fmt.Errorf("netting set %s: %w", ns.ID, err)
		}
		rateToday = v
	}

	fxPath := newGrid(len(dates), samples)
	ratePath := newGrid(len(dates), samples)
	for j := range dates {
		for k := 0; k < samples; k++ {
			fxPath[j][k] = 1
			if csa.Currency != c.cfg.BaseCurrency {
				fxPath[j][k] = c.p.ScenarioData.Get(j, k, cube.FXSpot, csa.Currency)
			}
			if csa.Index != "" {
				ratePath[j][k] = c.p.ScenarioData.Get(j, k, cube.IndexFixing, csa.Index)
			}
		}
	}

	accounts, err := c.p.Collateral.BalancePaths(collateral.PathInput{
		NettingSet:     ns,
		ValueToday:     npv,
		Asof:           c.p.Today,
		Values:         values,
		Maturity:       maturity,
		Dates:          dates,
		FXToday:        fxToday,
		FXPath:         fxPath,
		RateToday:      rateToday,
		RatePath:       ratePath,
		CalcType:       c.cfg.CalcType,
		InitialBalance: initialVM / fxToday,
	})
	if err != nil {
		return nil, err
	}
	if len(accounts) != 0 && len(accounts) != samples {
		return nil, fmt.Errorf("netting set %s: %w: %d collateral paths for %d samples", ns.ID, ErrShapeMismatch, len(accounts), samples)
	}
	return accounts, nil
}

// initialBalances returns today's VM and IM in base currency.
func (c *NettedExposureCalculator) initialBalances(id string) (vm, im float64, err error) {
	b, ok := c.p.Balances.Get(id)
	if !ok {
		return 0, 0, nil
	}
	fx := 1.0
	if b.Currency != "" && b.Currency != c.cfg.BaseCurrency {
		if c.p.Market == nil {
			return 0, 0, fmt.Errorf("netting set %s: collateral balance in %s needs a market", id, b.Currency)
		}
		fx, err = c.p.Market.FXSpot(b.Currency)
		if err != nil {
			return 0, 0, fmt.Errorf("netting set %s: collateral balance: %w", id, err)
		}
	}
	return b.VariationMargin * fx, b.InitialMargin * fx, nil
}

// Result returns the exposure of a netting set from the last successful Build.
func (c *NettedExposureCalculator) Result(nettingSetID string) (*NettingSetExposure, bool) {
	r, ok := c.results[nettingSetID]
	return r, ok
}

// NettingSetIDs returns the processed netting sets, sorted.
func (c *NettedExposureCalculator) NettingSetIDs() []string {
	return slices.Clone(c.ids)
}

// NettedCube returns the collateralised netting set values, one row per
// netting set in NettingSetIDs order, or nil before Build.
func (c *NettedExposureCalculator) NettedCube() *cube.DenseCube {
	return c.nettedCube
}
