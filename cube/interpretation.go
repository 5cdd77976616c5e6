package cube

// Depth layout of a cube written with a close-out lag.
const (
	DepthDefaultNPV = iota
	DepthCloseOutNPV
	DepthMporPositiveFlow
	DepthMporNegativeFlow
)

// Interpretation reads default values, close-out values and MPoR cash flows
// out of a valuation cube, hiding how the simulation laid them out.
type Interpretation interface {
	DefaultNPV(c NPVCube, i, j, k int) float64
	CloseOutNPV(c NPVCube, i, j, k int) float64
	MporPositiveFlows(c NPVCube, i, j, k int) float64
	MporNegativeFlows(c NPVCube, i, j, k int) float64
	// WithCloseOutLag is true when close-out values were simulated on a
	// separate lagged grid.
	WithCloseOutLag() bool
	// WithMporStickyDate is true when the lagged valuation kept the default
	// date fixed, so cash flows inside the MPoR were not paid out.
	WithMporStickyDate() bool
}

// RegularInterpretation reads a cube with one value per date at depth 0.
// The close-out value at date j is the default value at date j+1.
type RegularInterpretation struct{}

func (RegularInterpretation) DefaultNPV(c NPVCube, i, j, k int) float64 {
	return c.Get(i, j, k, DepthDefaultNPV)
}

func (RegularInterpretation) CloseOutNPV(c NPVCube, i, j, k int) float64 {
	if j+1 < len(c.Dates()) {
		return c.Get(i, j+1, k, DepthDefaultNPV)
	}
	return c.Get(i, j, k, DepthDefaultNPV)
}

func (RegularInterpretation) MporPositiveFlows(NPVCube, int, int, int) float64 { return 0 }
func (RegularInterpretation) MporNegativeFlows(NPVCube, int, int, int) float64 { return 0 }
func (RegularInterpretation) WithCloseOutLag() bool                            { return false }
func (RegularInterpretation) WithMporStickyDate() bool                         { return false }

// MporInterpretation reads a cube with default and close-out values on
// separate depths and, when the cube is deep enough, MPoR cash flows.
type MporInterpretation struct {
	StickyDate bool
}

func (MporInterpretation) DefaultNPV(c NPVCube, i, j, k int) float64 {
	return c.Get(i, j, k, DepthDefaultNPV)
}

func (MporInterpretation) CloseOutNPV(c NPVCube, i, j, k int) float64 {
	return c.Get(i, j, k, DepthCloseOutNPV)
}

func (MporInterpretation) MporPositiveFlows(c NPVCube, i, j, k int) float64 {
	if c.Depth() <= DepthMporPositiveFlow {
		return 0
	}
	return c.Get(i, j, k, DepthMporPositiveFlow)
}

func (MporInterpretation) MporNegativeFlows(c NPVCube, i, j, k int) float64 {
	if c.Depth() <= DepthMporNegativeFlow {
		return 0
	}
	return c.Get(i, j, k, DepthMporNegativeFlow)
}

func (MporInterpretation) WithCloseOutLag() bool      { return true }
func (m MporInterpretation) WithMporStickyDate() bool { return m.StickyDate }
