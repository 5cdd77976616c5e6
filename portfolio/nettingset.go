package portfolio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meenmo/xvalib/calendar"
)

// ErrUnknownNettingSet is returned when a netting set has no definition.
var ErrUnknownNettingSet = errors.New("unknown netting set")

// IMType says which side of the initial margin reduces exposure.
type IMType int

const (
	// IMBilateral: both posted and held IM count.
	IMBilateral IMType = iota
	// IMPostOnly: we only post IM, so held IM never reduces positive exposure.
	IMPostOnly
	// IMCallOnly: we only call IM, so posted IM never reduces negative exposure.
	IMCallOnly
)

func (t IMType) String() string {
	switch t {
	case IMBilateral:
		return "Bilateral"
	case IMPostOnly:
		return "PostOnly"
	case IMCallOnly:
		return "CallOnly"
	default:
		return fmt.Sprintf("IMType(%d)", int(t))
	}
}

// ParseIMType accepts Bilateral, PostOnly and CallOnly (case-insensitive).
func ParseIMType(s string) (IMType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bilateral":
		return IMBilateral, nil
	case "postonly":
		return IMPostOnly, nil
	case "callonly":
		return IMCallOnly, nil
	default:
		return 0, fmt.Errorf("unknown initial margin type %q", s)
	}
}

func (t IMType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *IMType) UnmarshalText(b []byte) error {
	v, err := ParseIMType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Reductions splits a DIM amount into the part that reduces positive
// exposure and the part that reduces negative exposure.
func (t IMType) Reductions(dim float64) (epe, ene float64) {
	switch t {
	case IMPostOnly:
		return 0, dim
	case IMCallOnly:
		return dim, 0
	default:
		return dim, dim
	}
}

// CSA holds the credit support annex terms of a netting set.
//
// Amounts are in CSA currency. Spreads are decimals.
type CSA struct {
	Currency string `json:"currency"`

	// Index is the overnight index paying interest on cash collateral; empty for none.
	// IndexDayCount is its accrual basis; empty means ACT/ACT ISDA.
	Index         string              `json:"index,omitempty"`
	IndexDayCount string              `json:"index_day_count,omitempty"`
	IndexCalendar calendar.CalendarID `json:"index_calendar,omitempty"`

	// MporDays is the margin period of risk in calendar days.
	MporDays int `json:"mpor_days"`

	ThresholdPay    float64 `json:"threshold_pay"`
	ThresholdRcv    float64 `json:"threshold_rcv"`
	MtaPay          float64 `json:"mta_pay"`
	MtaRcv          float64 `json:"mta_rcv"`
	CollatSpreadPay float64 `json:"collat_spread_pay"`
	CollatSpreadRcv float64 `json:"collat_spread_rcv"`

	// Independent amounts sit in the account on top of variation margin
	// and are not called for.
	IndependentAmountHeld   float64 `json:"independent_amount_held,omitempty"`
	IndependentAmountPosted float64 `json:"independent_amount_posted,omitempty"`

	InitialMarginType  IMType `json:"initial_margin_type"`
	ApplyInitialMargin bool   `json:"apply_initial_margin"`
}

// IndependentAmount is the net independent amount held.
func (c *CSA) IndependentAmount() float64 {
	return c.IndependentAmountHeld - c.IndependentAmountPosted
}

// NettingSet is the definition of a netting agreement.
type NettingSet struct {
	ID        string `json:"id"`
	ActiveCSA bool   `json:"active_csa"`
	CSA       *CSA   `json:"csa,omitempty"`

	// MarginalAllocationLimit overrides the global limit when set.
	MarginalAllocationLimit *float64 `json:"marginal_allocation_limit,omitempty"`
}

// Active reports whether collateral is modelled for the netting set.
func (n NettingSet) Active() bool {
	return n.ActiveCSA && n.CSA != nil
}

// NettingSetManager stores netting set definitions by id.
type NettingSetManager struct {
	sets map[string]NettingSet
}

// NewNettingSetManager indexes the given definitions.
func NewNettingSetManager(sets ...NettingSet) *NettingSetManager {
	m := &NettingSetManager{sets: make(map[string]NettingSet, len(sets))}
	for _, s := range sets {
		m.Add(s)
	}
	return m
}

// Add inserts or replaces a definition.
func (m *NettingSetManager) Add(s NettingSet) {
	m.sets[s.ID] = s
}

// Has reports whether id is defined.
func (m *NettingSetManager) Has(id string) bool {
	_, ok := m.sets[id]
	return ok
}

// Get returns the definition for id.
func (m *NettingSetManager) Get(id string) (NettingSet, error) {
	s, ok := m.sets[id]
	if !ok {
		return NettingSet{}, fmt.Errorf("%w: %s", ErrUnknownNettingSet, id)
	}
	return s, nil
}
