package data_test

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekTrades() []types.Trade {
	// 2024-03-04 is a Monday
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	days := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	trades := make([]types.Trade, 0, len(days))
	for i, day := range days {
		trades = append(trades, types.Trade{
			MAE:       types.Float(0.1 * float64(i+1)),
			MFE:       types.Float(0.2 * float64(i+1)),
			Timestamp: base.AddDate(0, 0, i).Add(time.Duration(i) * time.Hour),
			DayOfWeek: day,
			Duration:  types.Float(float64(10 * (i + 1))),
		})
	}
	return trades
}

func TestNewDatasetRejectsNegativeExcursion(t *testing.T) {
	_, err := data.NewDataset([]types.Trade{{MAE: types.Float(-0.1), MFE: types.Float(0.2)}})
	require.Error(t, err)
	assert.True(t, types.IsInvalidParameter(err))

	_, err = data.NewDataset([]types.Trade{{MAE: types.Float(0.1), MFE: types.Float(math.NaN())}})
	require.Error(t, err)
}

func TestDatasetIsImmutable(t *testing.T) {
	trades := weekTrades()
	ds, err := data.NewDataset(trades)
	require.NoError(t, err)

	*trades[0].MAE = 99
	got := ds.Trades()
	assert.InDelta(t, 0.1, *got[0].MAE, 1e-12)

	*got[0].MAE = 42
	assert.InDelta(t, 0.1, ds.MAEValues()[0], 1e-12)
}

func TestDatasetColumnsSkipMissing(t *testing.T) {
	ds, err := data.NewDataset([]types.Trade{
		{MAE: types.Float(0.1), MFE: nil},
		{MAE: nil, MFE: types.Float(0.5)},
		{MAE: types.Float(0.3), MFE: types.Float(0.7)},
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{0.1, 0.3}, ds.MAEValues())
	assert.Equal(t, []float64{0.5, 0.7}, ds.MFEValues())
	assert.Equal(t, 1, ds.Classifiable())
	assert.Equal(t, 3, ds.Len())
}

func TestFilterPipeline(t *testing.T) {
	ds, err := data.NewDataset(weekTrades())
	require.NoError(t, err)

	t.Run("days of week", func(t *testing.T) {
		out := ds.Filter(data.DaysOfWeek("mon", "FRIDAY"))
		require.Equal(t, 2, out.Len())
		assert.Equal(t, []string{"Monday", "Friday"}, out.DaysOfWeek())
	})

	t.Run("empty day selection keeps all", func(t *testing.T) {
		assert.Equal(t, 5, ds.Filter(data.DaysOfWeek()).Len())
	})

	t.Run("date range inclusive", func(t *testing.T) {
		start := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
		end := time.Date(2024, 3, 7, 23, 59, 59, 0, time.UTC)
		out := ds.Filter(data.DateRange(start, end))
		assert.Equal(t, []string{"Tuesday", "Wednesday", "Thursday"}, out.DaysOfWeek())
	})

	t.Run("open range is a no-op", func(t *testing.T) {
		assert.Equal(t, 5, ds.Filter(data.DateRange(time.Time{}, time.Time{})).Len())
	})

	t.Run("hour window", func(t *testing.T) {
		// trades open at 08:00, 09:00, 10:00, 11:00, 12:00
		out := ds.Filter(data.HourWindow(9, 11))
		assert.Equal(t, []string{"Tuesday", "Wednesday"}, out.DaysOfWeek())
	})

	t.Run("hour window wrapping midnight", func(t *testing.T) {
		out := ds.Filter(data.HourWindow(12, 9))
		assert.Equal(t, []string{"Monday", "Friday"}, out.DaysOfWeek())
	})

	t.Run("duration range", func(t *testing.T) {
		out := ds.Filter(data.DurationRange(20, 30))
		assert.Equal(t, []string{"Tuesday", "Wednesday"}, out.DaysOfWeek())
	})

	t.Run("filters compose and leave the source untouched", func(t *testing.T) {
		out := ds.Filter(data.DaysOfWeek("Mon", "Tue", "Wed"), data.HourWindow(9, 24))
		assert.Equal(t, []string{"Tuesday", "Wednesday"}, out.DaysOfWeek())
		assert.Equal(t, 5, ds.Len())
	})
}

func TestSortedByTime(t *testing.T) {
	trades := weekTrades()
	trades[0], trades[3] = trades[3], trades[0]
	trades = append(trades, types.Trade{MAE: types.Float(1), MFE: types.Float(1), DayOfWeek: "Unknown"})
	ds, err := data.NewDataset(trades)
	require.NoError(t, err)

	sorted := ds.SortedByTime()
	assert.Equal(t, []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Unknown"}, sorted.DaysOfWeek())
	assert.Equal(t, []string{"Thursday", "Tuesday", "Wednesday", "Monday", "Friday", "Unknown"}, ds.DaysOfWeek())
}

func TestSpan(t *testing.T) {
	ds, err := data.NewDataset(weekTrades())
	require.NoError(t, err)

	span := ds.Span()
	assert.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), span.Start)
	assert.Equal(t, time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), span.End)
}
