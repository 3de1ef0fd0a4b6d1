package data_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const exportCSV = `Datetime,DayOfWeek,Duration,MAE,MFE
2024-03-04 09:30:00,Monday,12,0.20,0.80
2024-03-05 10:00:00,Tuesday,30,abc,0.50
2024-03-06 11:15:00,Wednesday,,0.40,-0.10
2024-03-07 14:00:00,Thursday,45,0.10,
`

func TestLoadCSV(t *testing.T) {
	loader := data.NewLoader(zap.NewNop())

	ds, stats, err := loader.LoadCSV(strings.NewReader(exportCSV))
	require.NoError(t, err)

	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, 1, ds.Classifiable())
	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 1, stats.MissingMAE)
	assert.Equal(t, 2, stats.MissingMFE)
	assert.Equal(t, 2, stats.InvalidValues)
	assert.Equal(t, 1, stats.Files)

	trades := ds.Trades()
	require.NotNil(t, trades[0].MAE)
	assert.InDelta(t, 0.2, *trades[0].MAE, 1e-12)
	assert.Nil(t, trades[1].MAE, "non-numeric MAE becomes missing")
	assert.Nil(t, trades[2].MFE, "negative MFE becomes missing")
	assert.Nil(t, trades[2].Duration)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC), trades[0].Timestamp)
	assert.Equal(t, "Thursday", trades[3].DayOfWeek)
}

func TestLoadCSVDerivesDayOfWeek(t *testing.T) {
	loader := data.NewLoader(zap.NewNop())
	input := "\ufeffdatetime,mae,mfe\n2024-03-09 08:00:00,0.1,0.2\nnot a date,0.3,0.4\n"

	ds, stats, err := loader.LoadCSV(strings.NewReader(input))
	require.NoError(t, err)

	trades := ds.Trades()
	assert.Equal(t, "Saturday", trades[0].DayOfWeek)
	assert.True(t, trades[1].Timestamp.IsZero())
	assert.Empty(t, trades[1].DayOfWeek)
	assert.Equal(t, 1, stats.UnparsedDates)
}

func TestLoadCSVMissingColumns(t *testing.T) {
	loader := data.NewLoader(zap.NewNop())

	_, _, err := loader.LoadCSV(strings.NewReader("Datetime,MAE\n2024-03-04,0.1\n"))
	require.Error(t, err)

	var colErr *data.MissingColumnsError
	require.True(t, errors.As(err, &colErr))
	assert.Equal(t, []string{"MFE"}, colErr.Columns)
}

func TestLoadCSVEmpty(t *testing.T) {
	loader := data.NewLoader(zap.NewNop())

	_, _, err := loader.LoadCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestLoadCSVHeaderOnly(t *testing.T) {
	loader := data.NewLoader(zap.NewNop())

	ds, stats, err := loader.LoadCSV(strings.NewReader("MAE,MFE\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.Equal(t, 0, stats.Rows)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "2024", "march")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("MAE,MFE\n0.1,0.2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.csv"), []byte("MAE,MFE\n0.3,0.4\n0.5,0.6\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loader := data.NewLoader(zap.NewNop())
	pattern := filepath.Join(dir, "**", "*.csv")

	ds, stats, err := loader.LoadFiles(pattern, pattern)
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, []float64{0.3, 0.5, 0.1}, ds.MAEValues(), "files concatenate in lexical path order")
}

func TestLoadFilesNoMatch(t *testing.T) {
	loader := data.NewLoader(zap.NewNop())

	_, _, err := loader.LoadFiles(filepath.Join(t.TempDir(), "*.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, data.ErrNoFiles))
}
