// Package cube holds the dense (id, date, sample, depth) containers used by
// the exposure engines: the valuation cube they read and the exposure and
// netted cubes they write.
package cube

import (
	"fmt"
	"time"
)

// NPVCube is a read-only valuation cube indexed by (trade, date, sample, depth).
type NPVCube interface {
	Asof() time.Time
	Dates() []time.Time
	Samples() int
	Depth() int
	// Index returns the row of an id.
	Index(id string) (int, bool)
	GetT0(i, depth int) float64
	Get(i, j, k, depth int) float64
}

// Exposure cube depths.
const (
	ExposureEPE = iota
	ExposureENE
	ExposureAllocatedEPE
	ExposureAllocatedENE

	ExposureDepth
)

// DenseCube stores values in one flat slice.
//
// Concurrent writes are safe as long as no two goroutines write the same row.
type DenseCube struct {
	asof    time.Time
	ids     []string
	index   map[string]int
	dates   []time.Time
	samples int
	depth   int
	t0      []float64
	data    []float64
}

// NewDenseCube allocates a zero-filled cube.
func NewDenseCube(asof time.Time, ids []string, dates []time.Time, samples, depth int) (*DenseCube, error) {
	if samples < 0 || depth < 1 {
		return nil, fmt.Errorf("NewDenseCube: invalid shape samples=%d depth=%d", samples, depth)
	}
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := index[id]; ok {
			return nil, fmt.Errorf("NewDenseCube: duplicate id %s", id)
		}
		index[id] = i
	}
	return &DenseCube{
		asof:    asof,
		ids:     append([]string(nil), ids...),
		index:   index,
		dates:   append([]time.Time(nil), dates...),
		samples: samples,
		depth:   depth,
		t0:      make([]float64, len(ids)*depth),
		data:    make([]float64, len(ids)*len(dates)*samples*depth),
	}, nil
}

func (c *DenseCube) Asof() time.Time    { return c.asof }
func (c *DenseCube) Dates() []time.Time { return c.dates }
func (c *DenseCube) Samples() int       { return c.samples }
func (c *DenseCube) Depth() int         { return c.depth }
func (c *DenseCube) IDs() []string      { return c.ids }

func (c *DenseCube) Index(id string) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

func (c *DenseCube) pos(i, j, k, d int) int {
	return ((i*len(c.dates)+j)*c.samples+k)*c.depth + d
}

func (c *DenseCube) GetT0(i, depth int) float64 {
	return c.t0[i*c.depth+depth]
}

func (c *DenseCube) SetT0(v float64, i, depth int) {
	c.t0[i*c.depth+depth] = v
}

func (c *DenseCube) Get(i, j, k, depth int) float64 {
	return c.data[c.pos(i, j, k, depth)]
}

func (c *DenseCube) Set(v float64, i, j, k, depth int) {
	c.data[c.pos(i, j, k, depth)] = v
}

// Add increments a cell.
func (c *DenseCube) Add(v float64, i, j, k, depth int) {
	c.data[c.pos(i, j, k, depth)] += v
}
