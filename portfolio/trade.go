package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meenmo/xvalib/utils"
)

var (
	// ErrDuplicateTrade is returned when two trades share an id.
	ErrDuplicateTrade = errors.New("duplicate trade id")
	// ErrUnknownTrade is returned for lookups of a trade id that is not in the portfolio.
	ErrUnknownTrade = errors.New("unknown trade id")
)

// Trade action types and owners recognised by NextBreakDate.
const (
	ActionBreak = "Break"
	OwnerMutual = "Mutual"
)

// TradeAction is a contractual event attached to a trade, e.g. a mutual break.
//
// Schedule holds ISO dates (YYYY-MM-DD).
type TradeAction struct {
	Type     string   `json:"type"`
	Owner    string   `json:"owner"`
	Schedule []string `json:"schedule"`
}

// Trade is the exposure engine's view of a derivative trade.
type Trade struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Counterparty string        `json:"counterparty"`
	NettingSetID string        `json:"netting_set_id"`
	Maturity     time.Time     `json:"maturity"`
	Actions      []TradeAction `json:"actions,omitempty"`
}

// NextBreakDate returns the earliest mutual break date strictly after today
// and before maturity, or the maturity when there is none.
//
// A malformed schedule date returns the *time.ParseError unwrapped inside an
// *ActionError so callers can match either.
func (t Trade) NextBreakDate(today time.Time) (time.Time, error) {
	next := t.Maturity
	for _, a := range t.Actions {
		if a.Type != ActionBreak || a.Owner != OwnerMutual {
			continue
		}
		dates := make([]time.Time, 0, len(a.Schedule))
		for _, s := range a.Schedule {
			d, err := utils.ParseDate(s)
			if err != nil {
				return time.Time{}, &ActionError{TradeID: t.ID, Action: a.Type, Err: err}
			}
			dates = append(dates, d)
		}
		utils.SortDates(dates)
		for _, d := range dates {
			if d.After(today) && d.Before(next) {
				next = d
				break
			}
		}
	}
	return next, nil
}

// ActionError reports a trade action that could not be interpreted.
type ActionError struct {
	TradeID string
	Action  string
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("trade %s: %s action: %v", e.TradeID, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Portfolio is an ordered collection of trades with netting set lookups.
type Portfolio struct {
	trades      []Trade
	index       map[string]int
	nettingSets map[string][]int
}

// New builds a portfolio, keeping the trade order.
func New(trades ...Trade) (*Portfolio, error) {
	p := &Portfolio{
		trades:      make([]Trade, 0, len(trades)),
		index:       make(map[string]int, len(trades)),
		nettingSets: make(map[string][]int),
	}
	for _, t := range trades {
		if _, ok := p.index[t.ID]; ok {
			return nil, fmt.Errorf("portfolio: %w: %s", ErrDuplicateTrade, t.ID)
		}
		p.index[t.ID] = len(p.trades)
		p.nettingSets[t.NettingSetID] = append(p.nettingSets[t.NettingSetID], len(p.trades))
		p.trades = append(p.trades, t)
	}
	return p, nil
}

// Trades returns the trades in insertion order.
func (p *Portfolio) Trades() []Trade {
	return p.trades
}

// Size is the number of trades.
func (p *Portfolio) Size() int {
	return len(p.trades)
}

// Trade looks a trade up by id.
func (p *Portfolio) Trade(id string) (Trade, error) {
	i, ok := p.index[id]
	if !ok {
		return Trade{}, fmt.Errorf("portfolio: %w: %s", ErrUnknownTrade, id)
	}
	return p.trades[i], nil
}

// NettingSetIDs returns the netting sets referenced by the trades, sorted.
func (p *Portfolio) NettingSetIDs() []string {
	ids := make([]string, 0, len(p.nettingSets))
	for id := range p.nettingSets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TradesInNettingSet returns the trades of a netting set in portfolio order.
func (p *Portfolio) TradesInNettingSet(nettingSetID string) []Trade {
	idx := p.nettingSets[nettingSetID]
	out := make([]Trade, len(idx))
	for i, j := range idx {
		out[i] = p.trades[j]
	}
	return out
}
