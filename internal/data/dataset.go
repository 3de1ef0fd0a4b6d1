// Package data provides the in-memory trade dataset, its filter pipeline and ingestion.
package data

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/atlas-desktop/excursion-lab/pkg/utils"
)

// Dataset is an immutable, ordered collection of trades.
// Filtering and sorting return new datasets; the receiver is never modified.
type Dataset struct {
	trades []types.Trade
}

// NewDataset copies trades into a dataset. Present excursions must be finite and non-negative.
func NewDataset(trades []types.Trade) (*Dataset, error) {
	copied := make([]types.Trade, len(trades))
	for i, t := range trades {
		if err := checkExcursion("mae", t.MAE); err != nil {
			return nil, err
		}
		if err := checkExcursion("mfe", t.MFE); err != nil {
			return nil, err
		}
		copied[i] = cloneTrade(t)
	}
	return &Dataset{trades: copied}, nil
}

func checkExcursion(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return types.NewInvalidParameter(field, *v, "excursion must be a finite value >= 0")
	}
	return nil
}

func cloneTrade(t types.Trade) types.Trade {
	out := t
	if t.MAE != nil {
		out.MAE = types.Float(*t.MAE)
	}
	if t.MFE != nil {
		out.MFE = types.Float(*t.MFE)
	}
	if t.Duration != nil {
		out.Duration = types.Float(*t.Duration)
	}
	return out
}

// Len returns the number of trades, including those with missing excursions
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.trades)
}

// Trades returns a copy of the trades in row order
func (d *Dataset) Trades() []types.Trade {
	if d == nil {
		return nil
	}
	out := make([]types.Trade, len(d.trades))
	for i, t := range d.trades {
		out[i] = cloneTrade(t)
	}
	return out
}

// Each calls fn for every trade in row order. fn must not retain the pointers it receives.
func (d *Dataset) Each(fn func(i int, t types.Trade)) {
	if d == nil {
		return
	}
	for i, t := range d.trades {
		fn(i, t)
	}
}

// Classifiable returns the number of trades with both excursions present
func (d *Dataset) Classifiable() int {
	n := 0
	d.Each(func(_ int, t types.Trade) {
		if t.Classifiable() {
			n++
		}
	})
	return n
}

// MAEValues returns the non-missing MAE column in row order
func (d *Dataset) MAEValues() []float64 {
	return d.column(func(t types.Trade) *float64 { return t.MAE })
}

// MFEValues returns the non-missing MFE column in row order
func (d *Dataset) MFEValues() []float64 {
	return d.column(func(t types.Trade) *float64 { return t.MFE })
}

func (d *Dataset) column(get func(types.Trade) *float64) []float64 {
	values := make([]float64, 0, d.Len())
	d.Each(func(_ int, t types.Trade) {
		if v := get(t); v != nil {
			values = append(values, *v)
		}
	})
	return values
}

// DaysOfWeek returns the distinct day labels in first-seen order
func (d *Dataset) DaysOfWeek() []string {
	seen := make(map[string]bool)
	days := make([]string, 0, 7)
	d.Each(func(_ int, t types.Trade) {
		if t.DayOfWeek == "" || seen[t.DayOfWeek] {
			return
		}
		seen[t.DayOfWeek] = true
		days = append(days, t.DayOfWeek)
	})
	return days
}

// Span returns the earliest and latest timestamps. Trades without a timestamp are ignored.
func (d *Dataset) Span() utils.TimeRange {
	var span utils.TimeRange
	d.Each(func(_ int, t types.Trade) {
		if t.Timestamp.IsZero() {
			return
		}
		if span.Start.IsZero() || t.Timestamp.Before(span.Start) {
			span.Start = t.Timestamp
		}
		if span.End.IsZero() || t.Timestamp.After(span.End) {
			span.End = t.Timestamp
		}
	})
	return span
}

// Filter returns a new dataset holding the trades every filter keeps, in row order.
// Filters run in the order given.
func (d *Dataset) Filter(filters ...Filter) *Dataset {
	out := &Dataset{trades: make([]types.Trade, 0, d.Len())}
	d.Each(func(_ int, t types.Trade) {
		for _, f := range filters {
			if f != nil && !f(t) {
				return
			}
		}
		out.trades = append(out.trades, cloneTrade(t))
	})
	return out
}

// SortedByTime returns a new dataset ordered by timestamp. The sort is stable,
// and trades without a timestamp keep their relative order at the end.
func (d *Dataset) SortedByTime() *Dataset {
	out := &Dataset{trades: d.Trades()}
	sort.SliceStable(out.trades, func(i, j int) bool {
		a, b := out.trades[i].Timestamp, out.trades[j].Timestamp
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.Before(b)
	})
	return out
}

// Filter decides whether a trade stays in a filtered view
type Filter func(t types.Trade) bool

// DateRange keeps trades whose timestamp lies in [start, end]. A zero bound is open.
// Trades without a timestamp are dropped unless both bounds are open.
func DateRange(start, end time.Time) Filter {
	tr := utils.TimeRange{Start: start, End: end}
	if tr.IsOpen() {
		return nil
	}
	return func(t types.Trade) bool {
		return !t.Timestamp.IsZero() && tr.Contains(t.Timestamp)
	}
}

// DaysOfWeek keeps trades whose day label matches one of days, case-insensitively.
// An empty selection keeps everything.
func DaysOfWeek(days ...string) Filter {
	if len(days) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(days))
	for _, day := range days {
		wanted[normalizeDay(day)] = true
	}
	return func(t types.Trade) bool {
		return wanted[normalizeDay(t.DayOfWeek)]
	}
}

// HourWindow keeps trades opened in [fromHour, toHour). A window with
// fromHour > toHour wraps midnight. Trades without a timestamp are dropped.
func HourWindow(fromHour, toHour int) Filter {
	return func(t types.Trade) bool {
		if t.Timestamp.IsZero() {
			return false
		}
		h := t.Timestamp.Hour()
		if fromHour <= toHour {
			return h >= fromHour && h < toHour
		}
		return h >= fromHour || h < toHour
	}
}

// DurationRange keeps trades whose duration lies in [min, max]. Max <= 0 leaves the top open.
// Trades without a duration are dropped.
func DurationRange(min, max float64) Filter {
	return func(t types.Trade) bool {
		if t.Duration == nil {
			return false
		}
		if *t.Duration < min {
			return false
		}
		return max <= 0 || *t.Duration <= max
	}
}

func normalizeDay(day string) string {
	day = strings.ToLower(strings.TrimSpace(day))
	if len(day) > 3 {
		day = day[:3]
	}
	return day
}
