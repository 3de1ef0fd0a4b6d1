package data

import (
	"time"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/atlas-desktop/excursion-lab/pkg/utils"
)

// Selection is the user-facing description of a filtered view: days of the week,
// a date range, an hour-of-day window and a duration range. Unset fields keep everything.
type Selection struct {
	Days        []string `json:"days,omitempty"`
	From        string   `json:"from,omitempty"`
	To          string   `json:"to,omitempty"`
	FromHour    *int     `json:"fromHour,omitempty"`
	ToHour      *int     `json:"toHour,omitempty"`
	MinDuration *float64 `json:"minDuration,omitempty"`
	MaxDuration *float64 `json:"maxDuration,omitempty"`
}

// IsEmpty reports whether the selection keeps every trade
func (s Selection) IsEmpty() bool {
	return len(s.Days) == 0 && s.From == "" && s.To == "" &&
		s.FromHour == nil && s.ToHour == nil &&
		s.MinDuration == nil && s.MaxDuration == nil
}

// Filters converts the selection into dataset filters.
// A date-only upper bound covers the whole day. An hour window needs
// distinct bounds; from > to wraps midnight.
func (s Selection) Filters() ([]Filter, error) {
	var filters []Filter

	if len(s.Days) > 0 {
		filters = append(filters, DaysOfWeek(s.Days...))
	}

	var start, end time.Time
	if s.From != "" {
		t, err := utils.ParseDate(s.From)
		if err != nil {
			return nil, types.NewInvalidParameter("from", s.From, err.Error())
		}
		start = t
	}
	if s.To != "" {
		t, dateOnly, err := utils.ParseDateLayout(s.To)
		if err != nil {
			return nil, types.NewInvalidParameter("to", s.To, err.Error())
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, types.NewInvalidParameter("to", s.To, "must not be before from")
	}
	if f := DateRange(start, end); f != nil {
		filters = append(filters, f)
	}

	if s.FromHour != nil || s.ToHour != nil {
		from, to := 0, 24
		if s.FromHour != nil {
			from = *s.FromHour
		}
		if s.ToHour != nil {
			to = *s.ToHour
		}
		if from < 0 || from > 23 {
			return nil, types.NewInvalidParameter("from_hour", from, "must be within [0,23]")
		}
		if to < 0 || to > 24 {
			return nil, types.NewInvalidParameter("to_hour", to, "must be within [0,24]")
		}
		if from == to {
			return nil, types.NewInvalidParameter("to_hour", to, "must differ from from_hour")
		}
		filters = append(filters, HourWindow(from, to))
	}

	if s.MinDuration != nil || s.MaxDuration != nil {
		var lo, hi float64
		if s.MinDuration != nil {
			lo = *s.MinDuration
		}
		if s.MaxDuration != nil {
			hi = *s.MaxDuration
		}
		if lo < 0 {
			return nil, types.NewInvalidParameter("min_duration", lo, "must be >= 0")
		}
		if hi > 0 && hi < lo {
			return nil, types.NewInvalidParameter("max_duration", hi, "must be >= min_duration")
		}
		filters = append(filters, DurationRange(lo, hi))
	}

	return filters, nil
}

// Apply returns the filtered view of ds
func (s Selection) Apply(ds *Dataset) (*Dataset, error) {
	if s.IsEmpty() {
		return ds, nil
	}
	filters, err := s.Filters()
	if err != nil {
		return nil, err
	}
	return ds.Filter(filters...), nil
}
