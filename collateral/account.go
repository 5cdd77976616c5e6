// Package collateral simulates CSA collateral accounts along Monte Carlo paths.
package collateral

import (
	"sort"
	"time"
)

// Account reports a collateral balance in CSA currency as of a date.
// Positive balances are collateral we hold, negative balances collateral we posted.
type Account interface {
	AccountBalance(d time.Time) float64
}

// FixedBalance is an Account with a constant balance.
type FixedBalance float64

func (f FixedBalance) AccountBalance(time.Time) float64 { return float64(f) }

// SimulatedAccount is a ledger of balances recorded on simulation dates.
type SimulatedAccount struct {
	initial  float64
	dates    []time.Time
	balances []float64
}

// NewSimulatedAccount opens an account holding initial as of the valuation date.
func NewSimulatedAccount(initial float64) *SimulatedAccount {
	return &SimulatedAccount{initial: initial}
}

// record appends a balance; dates must be non-decreasing.
func (a *SimulatedAccount) record(d time.Time, balance float64) {
	if n := len(a.dates); n > 0 && a.dates[n-1].Equal(d) {
		a.balances[n-1] = balance
		return
	}
	a.dates = append(a.dates, d)
	a.balances = append(a.balances, balance)
}

// AccountBalance returns the balance after the last event on or before d.
func (a *SimulatedAccount) AccountBalance(d time.Time) float64 {
	i := sort.Search(len(a.dates), func(i int) bool { return a.dates[i].After(d) })
	if i == 0 {
		return a.initial
	}
	return a.balances[i-1]
}

// Balance is the initial collateral position of a netting set.
type Balance struct {
	Currency        string  `json:"currency"`
	VariationMargin float64 `json:"variation_margin"`
	InitialMargin   float64 `json:"initial_margin"`
}

// Balances holds initial collateral by netting set id.
type Balances map[string]Balance

// Get returns the balance for a netting set.
func (b Balances) Get(nettingSetID string) (Balance, bool) {
	v, ok := b[nettingSetID]
	return v, ok
}
