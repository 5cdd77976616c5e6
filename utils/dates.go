package utils

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the ISO date layout used for every date string in inputs.
const DateLayout = "2006-01-02"

// SortDates sorts a slice of time.Time in ascending order.
func SortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})
}

// ParseDate converts YYYY-MM-DD to time.Time.
//
// The returned error is the *time.ParseError from the time package so callers
// can inspect it with errors.As.
func ParseDate(strDate string) (time.Time, error) {
	return time.Parse(DateLayout, strDate)
}

// Days returns the day count fraction in days between two dates.
func Days(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24
}

// YearFractions returns the year fraction from today to each date.
func YearFractions(today time.Time, dates []time.Time, convention string) []float64 {
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = YearFraction(today, d, convention)
	}
	return out
}

// CheckDateGrid verifies that dates are strictly increasing and not before today.
func CheckDateGrid(today time.Time, dates []time.Time) error {
	prev := today
	for i, d := range dates {
		if d.Before(prev) || (i > 0 && d.Equal(prev)) {
			return fmt.Errorf("date grid: %s at index %d is not after %s", d.Format(DateLayout), i, prev.Format(DateLayout))
		}
		prev = d
	}
	return nil
}
