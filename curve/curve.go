package curve

import (
	"math"
	"time"

	"github.com/meenmo/xvalib/utils"
)

// Curve is a discount curve with log-linear interpolation between pillar
// discount factors. The time axis uses ACT/365F from the as-of date.
type Curve struct {
	asof            time.Time
	pillars         []time.Time
	discountFactors map[time.Time]float64
	dayCount        string
}

// NewCurveFromDFs creates a curve from explicitly provided discount factors.
//
// The as-of date is an implicit pillar with DF 1 unless dfs overrides it.
// Beyond the last pillar the last forward rate is extrapolated flat.
func NewCurveFromDFs(asof time.Time, dfs map[time.Time]float64) *Curve {
	c := &Curve{
		asof:            asof,
		discountFactors: make(map[time.Time]float64, len(dfs)+1),
		dayCount:        utils.Act365F,
	}
	c.discountFactors[asof] = 1.0
	for t, df := range dfs {
		c.discountFactors[t] = df
	}
	for t := range c.discountFactors {
		c.pillars = append(c.pillars, t)
	}
	utils.SortDates(c.pillars)
	return c
}

// NewFlatCurve builds a curve with a constant continuously compounded zero rate.
// rate is a decimal (0.02 == 2%).
func NewFlatCurve(asof time.Time, rate float64) *Curve {
	end := asof.AddDate(100, 0, 0)
	t := utils.YearFraction(asof, end, utils.Act365F)
	return NewCurveFromDFs(asof, map[time.Time]float64{end: math.Exp(-rate * t)})
}

// DF returns the discount factor to t. Dates on or before the as-of date return 1.
func (c *Curve) DF(t time.Time) float64 {
	if !t.After(c.asof) {
		return 1.0
	}
	if df, ok := c.discountFactors[t]; ok {
		return df
	}
	if len(c.pillars) < 2 {
		return 1.0
	}
	d1, d2 := bracket(c.pillars, t)
	df1 := c.discountFactors[d1]
	df2 := c.discountFactors[d2]

	t1 := utils.YearFraction(c.asof, d1, c.dayCount)
	t2 := utils.YearFraction(c.asof, d2, c.dayCount)
	tTarget := utils.YearFraction(c.asof, t, c.dayCount)
	if t2 == t1 {
		return df1
	}
	forwardRate := math.Log(df1/df2) / (t2 - t1)
	return df1 * math.Exp(-forwardRate*(tTarget-t1))
}

// Asof returns the curve's reference date.
func (c *Curve) Asof() time.Time {
	return c.asof
}

// bracket returns the pillars around t, or the last two pillars when t is
// beyond the curve. pillars must be sorted and hold at least two dates.
func bracket(pillars []time.Time, t time.Time) (time.Time, time.Time) {
	for i := 1; i < len(pillars); i++ {
		if !pillars[i].Before(t) {
			return pillars[i-1], pillars[i]
		}
	}
	n := len(pillars)
	return pillars[n-2], pillars[n-1]
}
