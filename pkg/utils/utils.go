// Package utils provides utility functions for the excursion analyzer.
package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimeRange represents a time range. A zero Start or End leaves that side open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns the duration of the time range.
func (tr TimeRange) Duration() time.Duration {
	if tr.Start.IsZero() || tr.End.IsZero() {
		return 0
	}
	return tr.End.Sub(tr.Start)
}

// Contains checks if a time is within the range, both ends inclusive.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && t.After(tr.End) {
		return false
	}
	return true
}

// IsOpen reports whether neither bound is set.
func (tr TimeRange) IsOpen() bool {
	return tr.Start.IsZero() && tr.End.IsZero()
}

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339, false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02", true},
	{"01/02/2006 15:04:05", false},
	{"01/02/2006 15:04", false},
	{"01/02/2006", true},
	{"2006/01/02 15:04:05", false},
	{"2006/01/02", true},
}

// ParseDate parses a timestamp in any of the common export layouts.
func ParseDate(s string) (time.Time, error) {
	t, _, err := ParseDateLayout(s)
	return t, err
}

// ParseDateLayout is ParseDate that also reports whether the matched layout
// carries no time of day.
func ParseDateLayout(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, errors.New("empty date")
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t, l.dateOnly, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized date: %s", s)
}

// FormatMoney formats a decimal as money.
func FormatMoney(d decimal.Decimal, currency string) string {
	switch strings.ToUpper(currency) {
	case "USD", "USDT", "USDC":
		if d.IsNegative() {
			return "-$" + d.Abs().StringFixed(2)
		}
		return "$" + d.StringFixed(2)
	case "GBP":
		return "£" + d.StringFixed(2)
	case "EUR":
		return "€" + d.StringFixed(2)
	default:
		return d.StringFixed(2) + " " + currency
	}
}

// FormatPercent formats a [0,1] ratio as a percentage with two decimals.
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// Percentile returns the p-th percentile (0-100) of an ascending slice using
// linear interpolation between closest ranks. It returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	// Linear interpolation
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
