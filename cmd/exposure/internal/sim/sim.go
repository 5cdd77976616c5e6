// Package sim generates toy Monte Carlo valuation cubes and scenario data
// for the exposure command. Trade values follow a Brownian bridge pulled to
// zero at maturity, FX rates are lognormal and index fixings are normal.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/meenmo/xvalib/cube"
	"github.com/meenmo/xvalib/utils"
)

// Factor is a simulated risk factor started at Spot.
type Factor struct {
	Spot       float64 `json:"spot"`
	Volatility float64 `json:"volatility"`
}

// TradeModel drives the simulated value of one trade.
type TradeModel struct {
	ID         string
	NPV        float64
	Volatility float64
	Maturity   time.Time
}

// Params describes a simulation run.
type Params struct {
	Asof    time.Time
	Dates   []time.Time
	Samples int
	Seed    uint64

	// ZeroRate is the continuously compounded rate behind the numeraire.
	ZeroRate float64
	Trades   []TradeModel
	FX       map[string]Factor
	Indices  map[string]Factor
}

// Result is a simulated cube and its scenario data.
type Result struct {
	Cube         *cube.DenseCube
	ScenarioData *cube.InMemoryScenarioData
}

// Run simulates every trade and risk factor. The same seed reproduces the
// same result.
func Run(p Params) (*Result, error) {
	if p.Samples <= 0 {
		return nil, fmt.Errorf("sim: samples must be positive, got %d", p.Samples)
	}
	if err := utils.CheckDateGrid(p.Asof, p.Dates); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	ids := make([]string, len(p.Trades))
	for i, t := range p.Trades {
		ids[i] = t.ID
	}
	c, err := cube.NewDenseCube(p.Asof, ids, p.Dates, p.Samples, 1)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	sd := cube.NewInMemoryScenarioData(len(p.Dates), p.Samples)

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(p.Seed, 0x9e3779b97f4a7c15)}
	times := utils.YearFractions(p.Asof, p.Dates, utils.Act365F)

	for i, t := range p.Trades {
		c.SetT0(t.NPV, i, cube.DepthDefaultNPV)
		life := utils.YearFraction(p.Asof, t.Maturity, utils.Act365F)
		for k := 0; k < p.Samples; k++ {
			var w, prev float64
			for j, tj := range times {
				w += math.Sqrt(tj-prev) * normal.Rand()
				prev = tj
				var v float64
				if life > 0 && tj < life {
					remaining := (life - tj) / life
					v = (t.NPV + t.Volatility*w) * remaining
				}
				c.Set(v, i, j, k, cube.DepthDefaultNPV)
			}
		}
	}

	for j, tj := range times {
		for k := 0; k < p.Samples; k++ {
			sd.Set(math.Exp(p.ZeroRate*tj), j, k, cube.Numeraire, "")
		}
	}
	walk(sd, normal, times, p.Samples, cube.FXSpot, p.FX, true)
	walk(sd, normal, times, p.Samples, cube.IndexFixing, p.Indices, false)

	return &Result{Cube: c, ScenarioData: sd}, nil
}

func walk(sd *cube.InMemoryScenarioData, normal distuv.Normal, times []float64, samples int, typ cube.ScenarioDataType, factors map[string]Factor, lognormal bool) {
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := factors[name]
		for k := 0; k < samples; k++ {
			x, prev := f.Spot, 0.0
			for j, tj := range times {
				dt := tj - prev
				z := normal.Rand()
				if lognormal {
					x *= math.Exp(f.Volatility*math.Sqrt(dt)*z - 0.5*f.Volatility*f.Volatility*dt)
				} else {
					x += f.Volatility * math.Sqrt(dt) * z
				}
				prev = tj
				sd.Set(x, j, k, typ, name)
			}
		}
	}
}
