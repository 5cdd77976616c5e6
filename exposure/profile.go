package exposure

import (
	"math"
	"sort"
	"time"

	"github.com/meenmo/xvalib/calendar"
)

// Profile is an exposure profile of a trade or netting set.
// Index 0 is today and index j+1 is simulation date j.
type Profile struct {
	EPE []float64
	ENE []float64
	PFE []float64

	// EEB is EPE divided by today's discount factor to the date.
	EEB []float64
	// EEEB is the running maximum of EEB.
	EEEB []float64
	// EPEB and EEPEB are the time-weighted averages of EEB and EEEB up to
	// each date, frozen after maturity.
	EPEB  []float64
	EEPEB []float64
}

func newProfile(dates int) *Profile {
	n := dates + 1
	return &Profile{
		EPE:   make([]float64, n),
		ENE:   make([]float64, n),
		PFE:   make([]float64, n),
		EEB:   make([]float64, n),
		EEEB:  make([]float64, n),
		EPEB:  make([]float64, n),
		EEPEB: make([]float64, n),
	}
}

// seedToday sets the Basel series at index 0 from EPE[0].
func (p *Profile) seedToday() {
	p.EEB[0] = p.EPE[0]
	p.EEEB[0] = p.EEB[0]
	p.EPEB[0] = p.EEB[0]
	p.EEPEB[0] = p.EEEB[0]
}

// BaselWindowEnd is the last date of the Basel EEPE averaging window:
// one year plus four weekend-adjusted business days from today.
func BaselWindowEnd(today time.Time) time.Time {
	return calendar.AddBusinessDays(calendar.WeekendsOnly, today.AddDate(1, 0, 0), 4)
}

// baselAverager integrates EEB and EEEB over time up to maturity and freezes
// the scalar EPE/EEPE at the last date inside the Basel window.
type baselAverager struct {
	maturity time.Time
	window   time.Time

	epeSum  float64
	eepeSum float64

	epeB  float64
	eepeB float64
}

func newBaselAverager(today, maturity time.Time) *baselAverager {
	return &baselAverager{maturity: maturity, window: BaselWindowEnd(today)}
}

// rollDate fills the Basel series at j+1 once EPE[j+1] is final.
// t is the year fraction from today to d and dt the step from the previous date.
func (p *Profile) rollDate(j int, d time.Time, t, dt, df float64, b *baselAverager) {
	p.EEB[j+1] = p.EPE[j+1] / df
	p.EEEB[j+1] = math.Max(p.EEEB[j], p.EEB[j+1])

	if d.After(b.maturity) {
		p.EPEB[j+1] = p.EPEB[j]
		p.EEPEB[j+1] = p.EEPEB[j]
		return
	}
	b.epeSum += p.EEB[j+1] * dt
	b.eepeSum += p.EEEB[j+1] * dt
	// a simulation date on today has no elapsed time to average over
	if t > 0 {
		p.EPEB[j+1] = b.epeSum / t
		p.EEPEB[j+1] = b.eepeSum / t
	}
	if !d.After(b.window) {
		b.epeB = p.EPEB[j+1]
		b.eepeB = p.EEPEB[j+1]
	}
}

// QuantileIndex is the nearest-rank position of quantile q in a sorted
// sample of size n, rounding half up.
func QuantileIndex(q float64, n int) int {
	if n <= 1 {
		return 0
	}
	idx := int(math.Floor(q*float64(n-1) + 0.5))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// pfe sorts dist in place and returns its q-quantile floored at zero.
func pfe(dist []float64, q float64) float64 {
	if len(dist) == 0 {
		return 0
	}
	sort.Float64s(dist)
	return math.Max(dist[QuantileIndex(q, len(dist))], 0)
}
