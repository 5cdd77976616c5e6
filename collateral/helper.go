package collateral

import (
	"fmt"
	"math"
	"time"

	"github.com/meenmo/xvalib/config"
	"github.com/meenmo/xvalib/portfolio"
	"github.com/meenmo/xvalib/utils"
)

// PathInput carries everything needed to simulate the collateral accounts
// of one netting set. Matrices are indexed [date][sample].
type PathInput struct {
	NettingSet portfolio.NettingSet
	// ValueToday is the netting set NPV today in base currency.
	ValueToday float64
	Asof       time.Time
	// Values are simulated netting set values in base currency.
	Values   [][]float64
	Maturity time.Time
	Dates    []time.Time
	// FXToday and FXPath quote base currency per unit of CSA currency.
	FXToday float64
	FXPath  [][]float64
	// RateToday and RatePath are CSA index fixings.
	RateToday float64
	RatePath  [][]float64
	CalcType  config.CalculationType
	// InitialBalance is the VM held today in CSA currency, excluding
	// independent amounts.
	InitialBalance float64
}

// Helper produces one collateral account per Monte Carlo sample.
type Helper interface {
	BalancePaths(in PathInput) ([]Account, error)
}

// CSAHelper simulates cash variation margin under the netting set's CSA.
//
// On each simulation date the account accrues interest at the index fixing
// of the previous date, settles margin calls that have come due and then
// calls for the credit support amount of the current value. Under CalcLag a
// call settles MporDays calendar days after it is made; under CalcNoLag it
// settles immediately. Account balances include the CSA's net independent
// amount, which neither accrues nor enters the margin call.
type CSAHelper struct{}

type marginCall struct {
	settle time.Time
	amount float64
}

// BalancePaths implements Helper.
func (CSAHelper) BalancePaths(in PathInput) ([]Account, error) {
	if !in.NettingSet.Active() {
		return nil, nil
	}
	if err := checkShape(in); err != nil {
		return nil, fmt.Errorf("BalancePaths: netting set %s: %w", in.NettingSet.ID, err)
	}
	samples := 0
	if len(in.Values) > 0 {
		samples = len(in.Values[0])
	}
	csa := in.NettingSet.CSA
	dayCount := csa.IndexDayCount
	if dayCount == "" {
		dayCount = utils.ActActISDA
	}

	ia := csa.IndependentAmount()
	accounts := make([]Account, samples)
	for k := 0; k < samples; k++ {
		acc := NewSimulatedAccount(in.InitialBalance + ia)
		balance := in.InitialBalance
		var pending []marginCall
		prev := in.Asof
		rate := in.RateToday
		for j, d := range in.Dates {
			balance *= 1 + rate*utils.YearFraction(prev, d, dayCount)

			kept := pending[:0]
			for _, c := range pending {
				if c.settle.After(d) {
					kept = append(kept, c)
					continue
				}
				balance += c.amount
			}
			pending = kept

			fx := in.FXPath[j][k]
			if fx == 0 {
				return nil, fmt.Errorf("BalancePaths: netting set %s: zero FX rate at date %d sample %d", in.NettingSet.ID, j, k)
			}
			target := CreditSupportAmount(csa, in.Values[j][k]/fx)
			outstanding := balance
			for _, c := range pending {
				outstanding += c.amount
			}
			call := target - outstanding
			if (call > 0 && call >= csa.MtaRcv) || (call < 0 && -call >= csa.MtaPay) {
				if in.CalcType == config.CalcNoLag || csa.MporDays <= 0 {
					balance += call
				} else {
					pending = append(pending, marginCall{settle: d.AddDate(0, 0, csa.MporDays), amount: call})
				}
			}
			acc.record(d, balance+ia)
			prev = d
			rate = in.RatePath[j][k]
		}
		accounts[k] = acc
	}
	return accounts, nil
}

// CreditSupportAmount is the VM that should be held for a netting set value
// in CSA currency, after thresholds.
func CreditSupportAmount(csa *portfolio.CSA, value float64) float64 {
	if value >= 0 {
		return math.Max(value-csa.ThresholdRcv, 0)
	}
	return -math.Max(-value-csa.ThresholdPay, 0)
}

func checkShape(in PathInput) error {
	n := len(in.Dates)
	if len(in.Values) != n || len(in.FXPath) != n || len(in.RatePath) != n {
		return fmt.Errorf("path matrices have %d/%d/%d rows for %d dates", len(in.Values), len(in.FXPath), len(in.RatePath), n)
	}
	if n == 0 {
		return nil
	}
	samples := len(in.Values[0])
	for j := 0; j < n; j++ {
		if len(in.Values[j]) != samples || len(in.FXPath[j]) != samples || len(in.RatePath[j]) != samples {
			return fmt.Errorf("path matrices have ragged row %d", j)
		}
	}
	return nil
}
