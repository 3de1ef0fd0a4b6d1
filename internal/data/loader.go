package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/atlas-desktop/excursion-lab/pkg/utils"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Column names recognized in trade exports. Matching is case-insensitive.
const (
	ColumnDatetime  = "Datetime"
	ColumnDayOfWeek = "DayOfWeek"
	ColumnDuration  = "Duration"
	ColumnMAE       = "MAE"
	ColumnMFE       = "MFE"
)

// RequiredColumns must be present in every export
var RequiredColumns = []string{ColumnMAE, ColumnMFE}

// ErrNoFiles is returned when an input pattern matches nothing
var ErrNoFiles = errors.New("no input files matched")

// MissingColumnsError lists required columns absent from a header
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// LoadStats counts what ingestion coerced or dropped
type LoadStats struct {
	Rows          int `json:"rows"`
	MissingMAE    int `json:"missingMae"`
	MissingMFE    int `json:"missingMfe"`
	InvalidValues int `json:"invalidValues"` // non-numeric or negative excursions coerced to missing
	UnparsedDates int `json:"unparsedDates"`
	Files         int `json:"files"`
}

func (s *LoadStats) add(o LoadStats) {
	s.Rows += o.Rows
	s.MissingMAE += o.MissingMAE
	s.MissingMFE += o.MissingMFE
	s.InvalidValues += o.InvalidValues
	s.UnparsedDates += o.UnparsedDates
	s.Files += o.Files
}

// Loader reads trade exports into datasets
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new loader
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadCSV parses a CSV export. Non-numeric or negative excursions become missing
// values, unparseable dates become zero timestamps. When the DayOfWeek column is
// absent the day is derived from Datetime.
func (l *Loader) LoadCSV(r io.Reader) (*Dataset, LoadStats, error) {
	var stats LoadStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, fmt.Errorf("empty csv: %w", err)
		}
		return nil, stats, fmt.Errorf("failed to read header: %w", err)
	}

	cols := indexColumns(header)
	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, stats, &MissingColumnsError{Columns: missing}
	}

	trades := make([]types.Trade, 0, 256)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read row %d: %w", stats.Rows+2, err)
		}
		stats.Rows++
		trades = append(trades, l.parseRow(record, cols, &stats))
	}

	ds, err := NewDataset(trades)
	if err != nil {
		return nil, stats, err
	}
	stats.Files = 1

	l.logger.Debug("Loaded trade export",
		zap.Int("rows", stats.Rows),
		zap.Int("missing_mae", stats.MissingMAE),
		zap.Int("missing_mfe", stats.MissingMFE),
		zap.Int("invalid_values", stats.InvalidValues),
	)

	return ds, stats, nil
}

// LoadFiles loads every file matching the glob patterns (doublestar syntax, e.g.
// "exports/**/*.csv") and concatenates them in lexical path order.
func (l *Loader) LoadFiles(patterns ...string) (*Dataset, LoadStats, error) {
	var total LoadStats

	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, total, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	if len(paths) == 0 {
		return nil, total, fmt.Errorf("%w: %s", ErrNoFiles, strings.Join(patterns, ", "))
	}
	sort.Strings(paths)

	var trades []types.Trade
	for _, path := range paths {
		ds, stats, err := l.loadFile(path)
		if err != nil {
			return nil, total, fmt.Errorf("%s: %w", path, err)
		}
		trades = append(trades, ds.trades...)
		total.add(stats)
	}

	l.logger.Info("Loaded trade exports",
		zap.Int("files", total.Files),
		zap.Int("rows", total.Rows),
	)

	ds, err := NewDataset(trades)
	return ds, total, err
}

func (l *Loader) loadFile(path string) (*Dataset, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open: %w", err)
	}
	defer f.Close()
	return l.LoadCSV(f)
}

func (l *Loader) parseRow(record []string, cols map[string]int, stats *LoadStats) types.Trade {
	var t types.Trade

	t.MAE = parseExcursion(field(record, cols, ColumnMAE), stats)
	if t.MAE == nil {
		stats.MissingMAE++
	}
	t.MFE = parseExcursion(field(record, cols, ColumnMFE), stats)
	if t.MFE == nil {
		stats.MissingMFE++
	}
	if v, ok := parseNumber(field(record, cols, ColumnDuration)); ok {
		t.Duration = types.Float(v)
	}

	if raw := field(record, cols, ColumnDatetime); raw != "" {
		ts, err := utils.ParseDate(raw)
		if err != nil {
			stats.UnparsedDates++
		} else {
			t.Timestamp = ts
		}
	}

	t.DayOfWeek = field(record, cols, ColumnDayOfWeek)
	if _, ok := cols[strings.ToLower(ColumnDayOfWeek)]; !ok && !t.Timestamp.IsZero() {
		t.DayOfWeek = t.Timestamp.Weekday().String()
	}

	return t
}

// parseExcursion returns nil for blanks, non-numeric text and negative values.
func parseExcursion(raw string, stats *LoadStats) *float64 {
	if raw == "" {
		return nil
	}
	v, ok := parseNumber(raw)
	if !ok || v < 0 {
		stats.InvalidValues++
		return nil
	}
	return types.Float(v)
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func field(record []string, cols map[string]int, name string) string {
	i, ok := cols[strings.ToLower(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
