package exposure

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/meenmo/xvalib/config"
	"github.com/meenmo/xvalib/cube"
	"github.com/meenmo/xvalib/metrics"
	"github.com/meenmo/xvalib/portfolio"
	"github.com/meenmo/xvalib/utils"
)

// TradeParams are the inputs of a TradeExposureCalculator.
type TradeParams struct {
	Portfolio *portfolio.Portfolio
	Cube      cube.NPVCube
	// Interpretation defaults to cube.RegularInterpretation.
	Interpretation cube.Interpretation
	Curve          DiscountCurve
	// Today defaults to Cube.Asof().
	Today  time.Time
	Config config.Config
}

// TradeExposureCalculator computes uncollateralised exposure per trade and
// the per-netting-set sums consumed by NettedExposureCalculator.
type TradeExposureCalculator struct {
	portfolio *portfolio.Portfolio
	cube      cube.NPVCube
	interp    cube.Interpretation
	curve     DiscountCurve
	today     time.Time
	cfg       config.Config
	log       zerolog.Logger

	profiles     map[string]*Profile
	epeB         map[string]float64
	eepeB        map[string]float64
	acc          *Accumulators
	exposureCube *cube.DenseCube
}

// NewTradeExposureCalculator validates the inputs.
func NewTradeExposureCalculator(p TradeParams, opts ...Option) (*TradeExposureCalculator, error) {
	if p.Portfolio == nil {
		return nil, fmt.Errorf("NewTradeExposureCalculator: %w", ErrNilPortfolio)
	}
	if p.Cube == nil {
		return nil, fmt.Errorf("NewTradeExposureCalculator: %w", ErrNilCube)
	}
	if p.Curve == nil {
		return nil, fmt.Errorf("NewTradeExposureCalculator: %w", ErrNilCurve)
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("NewTradeExposureCalculator: %w", err)
	}
	if p.Interpretation == nil {
		p.Interpretation = cube.RegularInterpretation{}
	}
	if p.Today.IsZero() {
		p.Today = p.Cube.Asof()
	}
	if err := utils.CheckDateGrid(p.Today, p.Cube.Dates()); err != nil {
		return nil, fmt.Errorf("NewTradeExposureCalculator: %w", err)
	}
	for _, t := range p.Portfolio.Trades() {
		if _, ok := p.Cube.Index(t.ID); !ok {
			return nil, fmt.Errorf("NewTradeExposureCalculator: %w: %s", ErrTradeNotInCube, t.ID)
		}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TradeExposureCalculator{
		portfolio: p.Portfolio,
		cube:      p.Cube,
		interp:    p.Interpretation,
		curve:     p.Curve,
		today:     p.Today,
		cfg:       p.Config,
		log:       o.log,
	}, nil
}

// tradeRun holds the outputs of one Build until it succeeds.
type tradeRun struct {
	profiles     map[string]*Profile
	epeB         map[string]float64
	eepeB        map[string]float64
	acc          *Accumulators
	exposureCube *cube.DenseCube

	times []float64
	dts   []float64
}

// Build processes every trade once. Outputs of a previous Build are replaced
// only if this one succeeds.
func (c *TradeExposureCalculator) Build() (err error) {
	start := time.Now()
	defer func() { observe(metrics.CalculatorTrade, start, err) }()

	dates := c.cube.Dates()
	samples := c.cube.Samples()
	c.log.Info().
		Int("trades", c.portfolio.Size()).
		Int("dates", len(dates)).
		Int("samples", samples).
		Msg("building trade exposure")

	cubeSamples := 1
	if c.cfg.MultiPath {
		cubeSamples = samples
	}
	ids := make([]string, 0, c.portfolio.Size())
	for _, t := range c.portfolio.Trades() {
		ids = append(ids, t.ID)
	}
	expCube, err := cube.NewDenseCube(c.today, ids, dates, cubeSamples, cube.ExposureDepth)
	if err != nil {
		return fmt.Errorf("TradeExposureCalculator.Build: %w", err)
	}

	run := &tradeRun{
		profiles:     make(map[string]*Profile, len(ids)),
		epeB:         make(map[string]float64, len(ids)),
		eepeB:        make(map[string]float64, len(ids)),
		acc:          NewAccumulators(c.portfolio.NettingSetIDs(), len(dates), samples),
		exposureCube: expCube,
		times:        utils.YearFractions(c.today, dates, utils.ActActISDA),
	}
	run.dts = make([]float64, len(dates))
	for j, t := range run.times {
		if j == 0 {
			run.dts[j] = t
		} else {
			run.dts[j] = t - run.times[j-1]
		}
	}

	for i, trade := range c.portfolio.Trades() {
		if err := c.buildTrade(run, i, trade); err != nil {
			return err
		}
		metrics.TradesProcessed.Inc()
	}

	c.profiles = run.profiles
	c.epeB = run.epeB
	c.eepeB = run.eepeB
	c.acc = run.acc
	c.exposureCube = run.exposureCube
	c.log.Info().Dur("elapsed", time.Since(start)).Msg("trade exposure built")
	return nil
}

func (c *TradeExposureCalculator) buildTrade(run *tradeRun, row int, trade portfolio.Trade) error {
	dates := c.cube.Dates()
	samples := c.cube.Samples()
	prof := newProfile(len(dates))
	run.profiles[trade.ID] = prof
	run.epeB[trade.ID] = 0
	run.eepeB[trade.ID] = 0
	tradeValue := newGrid(len(dates), samples)
	run.acc.TradeValue[trade.ID] = tradeValue

	breakDate := trade.Maturity
	if c.cfg.ExerciseNextBreak {
		d, err := trade.NextBreakDate(c.today)
		if err != nil {
			if !c.cfg.ContinueOnError {
				return fmt.Errorf("TradeExposureCalculator.Build: trade %s: %w", trade.ID, err)
			}
			c.log.Warn().
				Str("trade_id", trade.ID).
				Str("trade_type", trade.Type).
				Str("netting_set_id", trade.NettingSetID).
				Err(err).
				Msg("trade exposure zeroed")
			metrics.TradesZeroed.WithLabelValues(trade.Type).Inc()
			return nil
		}
		breakDate = d
	}

	i, _ := c.cube.Index(trade.ID)
	sign := 1.0
	if c.cfg.FlipViewXVA {
		sign = -1.0
	}

	npv0 := sign * c.cube.GetT0(i, cube.DepthDefaultNPV)
	prof.EPE[0] = math.Max(npv0, 0)
	prof.ENE[0] = math.Max(-npv0, 0)
	prof.PFE[0] = math.Max(npv0, 0)
	prof.seedToday()
	run.exposureCube.SetT0(prof.EPE[0], row, cube.ExposureEPE)
	run.exposureCube.SetT0(prof.ENE[0], row, cube.ExposureENE)

	nid := trade.NettingSetID
	defaultValue := run.acc.DefaultValue[nid]
	closeOutValue := run.acc.CloseOutValue[nid]
	positiveFlow := run.acc.MporPositiveFlow[nid]
	negativeFlow := run.acc.MporNegativeFlow[nid]

	regular := !c.interp.WithCloseOutLag()
	basel := newBaselAverager(c.today, trade.Maturity)
	dist := make([]float64, samples)
	for j, d := range dates {
		pastBreak := c.cfg.ExerciseNextBreak && d.After(breakDate)
		for k := 0; k < samples; k++ {
			var def, closeOut float64
			if !pastBreak {
				def = sign * c.interp.DefaultNPV(c.cube, i, j, k)
				if regular && j == len(dates)-1 {
					closeOut = def
				} else {
					closeOut = sign * c.interp.CloseOutNPV(c.cube, i, j, k)
				}
			}
			pos := c.interp.MporPositiveFlows(c.cube, i, j, k)
			neg := c.interp.MporNegativeFlows(c.cube, i, j, k)
			if c.cfg.FlipViewXVA {
				pos, neg = -neg, -pos
			}

			npv := def
			if c.cfg.ExposureProfilesUseCloseOutValues {
				npv = closeOut
			}
			prof.EPE[j+1] += math.Max(npv, 0) / float64(samples)
			prof.ENE[j+1] += math.Max(-npv, 0) / float64(samples)

			defaultValue[j][k] += def
			tradeValue[j][k] = def
			closeOutValue[j][k] += closeOut
			positiveFlow[j][k] += pos
			negativeFlow[j][k] += neg

			dist[k] = npv
			if c.cfg.MultiPath {
				run.exposureCube.Set(math.Max(npv, 0), row, j, k, cube.ExposureEPE)
				run.exposureCube.Set(math.Max(-npv, 0), row, j, k, cube.ExposureENE)
			}
		}
		if !c.cfg.MultiPath {
			run.exposureCube.Set(prof.EPE[j+1], row, j, 0, cube.ExposureEPE)
			run.exposureCube.Set(prof.ENE[j+1], row, j, 0, cube.ExposureENE)
		}

		prof.rollDate(j, d, run.times[j], run.dts[j], c.curve.DF(d), basel)
		prof.PFE[j+1] = pfe(dist, c.cfg.Quantile)
	}
	run.epeB[trade.ID] = basel.epeB
	run.eepeB[trade.ID] = basel.eepeB
	return nil
}

// Profile returns the exposure profile of a trade.
func (c *TradeExposureCalculator) Profile(tradeID string) (*Profile, bool) {
	p, ok := c.profiles[tradeID]
	return p, ok
}

// EPEB returns the Basel time-weighted EPE of a trade at the end of the
// one-year window (or maturity, if earlier).
func (c *TradeExposureCalculator) EPEB(tradeID string) float64 {
	return c.epeB[tradeID]
}

// EEPEB returns the Basel effective EPE of a trade.
func (c *TradeExposureCalculator) EEPEB(tradeID string) float64 {
	return c.eepeB[tradeID]
}

// Accumulators returns the netting set sums of the last successful Build, or nil.
func (c *TradeExposureCalculator) Accumulators() *Accumulators {
	return c.acc
}

// ExposureCube returns the trade exposure cube of the last successful Build, or nil.
func (c *TradeExposureCalculator) ExposureCube() *cube.DenseCube {
	return c.exposureCube
}

// Today returns the valuation date.
func (c *TradeExposureCalculator) Today() time.Time {
	return c.today
}

// MeanExposure returns the expected exposure series of a trade for one of
// cube.ExposureEPE, ExposureENE, ExposureAllocatedEPE or ExposureAllocatedENE.
func (c *TradeExposureCalculator) MeanExposure(tradeID string, index int) ([]float64, error) {
	if c.exposureCube == nil {
		return nil, ErrNotBuilt
	}
	if index < 0 || index >= cube.ExposureDepth {
		return nil, fmt.Errorf("MeanExposure: invalid exposure index %d", index)
	}
	i, ok := c.exposureCube.Index(tradeID)
	if !ok {
		return nil, fmt.Errorf("MeanExposure: %w: %s", ErrTradeNotInCube, tradeID)
	}
	dates := c.exposureCube.Dates()
	samples := c.exposureCube.Samples()
	out := make([]float64, len(dates)+1)
	out[0] = c.exposureCube.GetT0(i, index)
	row := make([]float64, samples)
	for j := range dates {
		for k := 0; k < samples; k++ {
			row[k] = c.exposureCube.Get(i, j, k, index)
		}
		if samples > 0 {
			out[j+1] = floats.Sum(row) / float64(samples)
		}
	}
	return out, nil
}
