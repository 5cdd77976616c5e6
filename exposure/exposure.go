// Package exposure computes counterparty exposure profiles from a Monte Carlo
// valuation cube.
//
// TradeExposureCalculator runs first and produces uncollateralised trade
// profiles plus per-netting-set sums of default values, close-out values and
// MPoR cash flows. NettedExposureCalculator consumes those sums, simulates CSA
// collateral and initial margin, and produces collateralised netting set
// profiles, COLVA and, optionally, exposure allocated back to trades.
package exposure

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meenmo/xvalib/marketdata"
	"github.com/meenmo/xvalib/metrics"
)

var (
	ErrNilPortfolio         = errors.New("nil portfolio")
	ErrNilCube              = errors.New("nil valuation cube")
	ErrNilCurve             = errors.New("nil discount curve")
	ErrNilMarket            = errors.New("nil market")
	ErrNotBuilt             = errors.New("trade exposure not built")
	ErrNegativeDIM          = errors.New("negative dynamic initial margin")
	ErrMissingDIM           = errors.New("missing dynamic initial margin")
	ErrCounterpartyMismatch = errors.New("counterparty mismatch in netting set")
	ErrMissingScenarioData  = errors.New("missing scenario data")
	ErrMissingCSA           = errors.New("missing CSA details")
	ErrShapeMismatch        = errors.New("shape mismatch")
	ErrTradeNotInCube       = errors.New("trade not in valuation cube")
)

// DiscountCurve provides base currency discount factors as of today.
type DiscountCurve interface {
	DF(t time.Time) float64
}

// Market provides today's FX rates and index fixings.
type Market interface {
	// FXSpot returns units of base currency per unit of ccy.
	FXSpot(ccy string) (float64, error)
	// Fixing returns the published fixing of index on d.
	Fixing(index string, d time.Time) (float64, error)
}

// StaticMarket is a Market backed by an FX map and a fixing feed.
type StaticMarket struct {
	BaseCurrency string
	FX           map[string]float64
	Fixings      marketdata.FixingFeed
}

func (m StaticMarket) FXSpot(ccy string) (float64, error) {
	if ccy == m.BaseCurrency {
		return 1, nil
	}
	v, ok := m.FX[ccy]
	if !ok {
		return 0, fmt.Errorf("no FX spot for %s%s", ccy, m.BaseCurrency)
	}
	return v, nil
}

func (m StaticMarket) Fixing(index string, d time.Time) (float64, error) {
	if m.Fixings == nil {
		return 0, fmt.Errorf("no fixing feed for %s", index)
	}
	v, ok := m.Fixings.RateOn(index, d)
	if !ok {
		return 0, fmt.Errorf("no fixing for %s on %s", index, d.Format("2006-01-02"))
	}
	return v, nil
}

// Option configures a calculator.
type Option func(*options)

type options struct {
	log zerolog.Logger
}

func defaultOptions() options {
	return options{log: zerolog.Nop()}
}

// WithLogger sets the calculator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// Accumulators are per-netting-set [date][sample] sums over trades.
// They are allocated once per build and only ever added to.
type Accumulators struct {
	Dates   int
	Samples int

	DefaultValue     map[string][][]float64
	CloseOutValue    map[string][][]float64
	MporPositiveFlow map[string][][]float64
	MporNegativeFlow map[string][][]float64

	// TradeValue is each trade's contribution to DefaultValue, keyed by
	// trade ID: zero past an exercised break and for zeroed trades.
	TradeValue map[string][][]float64
}

// NewAccumulators allocates zeroed grids for every netting set.
func NewAccumulators(nettingSetIDs []string, dates, samples int) *Accumulators {
	a := &Accumulators{
		Dates:            dates,
		Samples:          samples,
		DefaultValue:     make(map[string][][]float64, len(nettingSetIDs)),
		CloseOutValue:    make(map[string][][]float64, len(nettingSetIDs)),
		MporPositiveFlow: make(map[string][][]float64, len(nettingSetIDs)),
		MporNegativeFlow: make(map[string][][]float64, len(nettingSetIDs)),
		TradeValue:       make(map[string][][]float64),
	}
	for _, id := range nettingSetIDs {
		a.DefaultValue[id] = newGrid(dates, samples)
		a.CloseOutValue[id] = newGrid(dates, samples)
		a.MporPositiveFlow[id] = newGrid(dates, samples)
		a.MporNegativeFlow[id] = newGrid(dates, samples)
	}
	return a
}

// check verifies all four grids of a netting set exist with the expected shape.
func (a *Accumulators) check(nettingSetID string) error {
	for name, m := range map[string]map[string][][]float64{
		"default value":      a.DefaultValue,
		"close-out value":    a.CloseOutValue,
		"mpor positive flow": a.MporPositiveFlow,
		"mpor negative flow": a.MporNegativeFlow,
	} {
		g, ok := m[nettingSetID]
		if !ok {
			return fmt.Errorf("%w: netting set %s has no %s accumulator", ErrShapeMismatch, nettingSetID, name)
		}
		if len(g) != a.Dates {
			return fmt.Errorf("%w: netting set %s %s has %d dates, want %d", ErrShapeMismatch, nettingSetID, name, len(g), a.Dates)
		}
		for _, row := range g {
			if len(row) != a.Samples {
				return fmt.Errorf("%w: netting set %s %s has %d samples, want %d", ErrShapeMismatch, nettingSetID, name, len(row), a.Samples)
			}
		}
	}
	return nil
}

// checkTrade verifies the per-trade default value grid of tradeID.
func (a *Accumulators) checkTrade(tradeID string) error {
	g, ok := a.TradeValue[tradeID]
	if !ok {
		return fmt.Errorf("%w: trade %s has no default value accumulator", ErrShapeMismatch, tradeID)
	}
	if len(g) != a.Dates {
		return fmt.Errorf("%w: trade %s default values have %d dates, want %d", ErrShapeMismatch, tradeID, len(g), a.Dates)
	}
	for _, row := range g {
		if len(row) != a.Samples {
			return fmt.Errorf("%w: trade %s default values have %d samples, want %d", ErrShapeMismatch, tradeID, len(row), a.Samples)
		}
	}
	return nil
}

// newGrid returns a [rows][cols] matrix over a single backing array.
func newGrid(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	g := make([][]float64, rows)
	for r := range g {
		g[r] = backing[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return g
}

func observe(calculator string, start time.Time, err error) {
	metrics.BuildDuration.WithLabelValues(calculator).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BuildFailures.WithLabelValues(calculator).Inc()
	}
}
