package cube

import (
	"fmt"
)

// ScenarioDataType is the kind of risk factor stored in aggregation scenario data.
type ScenarioDataType int

const (
	Numeraire ScenarioDataType = iota
	FXSpot
	IndexFixing
)

func (t ScenarioDataType) String() string {
	switch t {
	case Numeraire:
		return "Numeraire"
	case FXSpot:
		return "FXSpot"
	case IndexFixing:
		return "IndexFixing"
	default:
		return fmt.Sprintf("ScenarioDataType(%d)", int(t))
	}
}

// ScenarioData exposes simulated risk factors per (date, sample).
//
// FXSpot is keyed by currency and quotes units of base currency per unit of
// that currency. Numeraire has an empty name.
type ScenarioData interface {
	Dates() int
	Samples() int
	Get(j, k int, typ ScenarioDataType, name string) float64
	Has(typ ScenarioDataType, name string) bool
}

type scenarioKey struct {
	typ  ScenarioDataType
	name string
}

// InMemoryScenarioData is a dense ScenarioData.
type InMemoryScenarioData struct {
	dates   int
	samples int
	data    map[scenarioKey][]float64
}

// NewInMemoryScenarioData allocates storage for the given grid.
func NewInMemoryScenarioData(dates, samples int) *InMemoryScenarioData {
	return &InMemoryScenarioData{
		dates:   dates,
		samples: samples,
		data:    make(map[scenarioKey][]float64),
	}
}

func (s *InMemoryScenarioData) Dates() int   { return s.dates }
func (s *InMemoryScenarioData) Samples() int { return s.samples }

func (s *InMemoryScenarioData) Has(typ ScenarioDataType, name string) bool {
	_, ok := s.data[scenarioKey{typ, name}]
	return ok
}

// Get returns 0 for an unknown factor; use Has to tell the difference.
func (s *InMemoryScenarioData) Get(j, k int, typ ScenarioDataType, name string) float64 {
	v, ok := s.data[scenarioKey{typ, name}]
	if !ok {
		return 0
	}
	return v[j*s.samples+k]
}

func (s *InMemoryScenarioData) Set(v float64, j, k int, typ ScenarioDataType, name string) {
	key := scenarioKey{typ, name}
	row, ok := s.data[key]
	if !ok {
		row = make([]float64, s.dates*s.samples)
		s.data[key] = row
	}
	row[j*s.samples+k] = v
}

// Fill sets every (date, sample) of a factor to v.
func (s *InMemoryScenarioData) Fill(v float64, typ ScenarioDataType, name string) {
	for j := 0; j < s.dates; j++ {
		for k := 0; k < s.samples; k++ {
			s.Set(v, j, k, typ, name)
		}
	}
}
