// Package marketdata supplies today's observable market data to the
// exposure engines.
package marketdata

import (
	"sync"
	"time"

	"github.com/meenmo/xvalib/utils"
)

// FixingFeed supplies published index fixings, e.g. the overnight rate
// paying interest on cash collateral.
type FixingFeed interface {
	RateOn(index string, date time.Time) (float64, bool)
}

// MapFixingFeed is a static map-backed implementation keyed by ISO date.
type MapFixingFeed struct {
	mu    sync.RWMutex
	rates map[string]map[string]float64
}

func NewMapFixingFeed() *MapFixingFeed {
	return &MapFixingFeed{rates: make(map[string]map[string]float64)}
}

// Add records the fixing of index on date, replacing any previous value.
func (m *MapFixingFeed) Add(index string, date time.Time, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.rates[index]
	if !ok {
		byDate = make(map[string]float64)
		m.rates[index] = byDate
	}
	byDate[date.Format(utils.DateLayout)] = rate
}

func (m *MapFixingFeed) RateOn(index string, date time.Time) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.rates[index][date.Format(utils.DateLayout)]
	return val, ok
}
