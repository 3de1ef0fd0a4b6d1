// Package data provides data quality validation for trade excursion datasets.
// Missing excursions are excluded from every threshold computation, so the
// report makes the excluded share visible before results are trusted.
package data

import (
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"go.uber.org/zap"
)

// Issue types reported by the validator
const (
	IssueNoData           = "NO_DATA"
	IssueMissingMAE       = "MISSING_MAE"
	IssueMissingMFE       = "MISSING_MFE"
	IssueMissingTimestamp = "MISSING_TIMESTAMP"
	IssueDuplicate        = "DUPLICATE_TIMESTAMP"
	IssueOutOfOrder       = "OUT_OF_ORDER"
	IssueFewTrades        = "FEW_TRADES"
)

// DataQualityValidator checks a trade dataset before analysis
type DataQualityValidator struct {
	logger *zap.Logger

	// MinClassifiable is the smallest classifiable sample considered usable
	MinClassifiable int
	// MaxMissingShare is the largest share of rows with a missing excursion before the dataset is flagged
	MaxMissingShare float64
}

// DataIssue represents a data quality problem
type DataIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // "critical", "high", "medium", "low"
	Timestamp time.Time `json:"timestamp,omitempty"`
	Message   string    `json:"message"`
	Row       int       `json:"row,omitempty"`
}

// QualityReport summarizes data quality assessment
type QualityReport struct {
	TotalTrades     int         `json:"total_trades"`
	Classifiable    int         `json:"classifiable"`
	Issues          []DataIssue `json:"issues"`
	QualityScore    int         `json:"quality_score"` // 0-100
	IsUsable        bool        `json:"is_usable"`
	Chronological   bool        `json:"chronological"`
	MissingMAE      int         `json:"missing_mae"`
	MissingMFE      int         `json:"missing_mfe"`
	StartDate       time.Time   `json:"start_date,omitempty"`
	EndDate         time.Time   `json:"end_date,omitempty"`
	DaysOfWeek      []string    `json:"days_of_week"`
	Recommendations []string    `json:"recommendations"`
}

// NewDataQualityValidator creates a validator with default thresholds
func NewDataQualityValidator(logger *zap.Logger) *DataQualityValidator {
	return &DataQualityValidator{
		logger:          logger,
		MinClassifiable: 30,
		MaxMissingShare: 0.10,
	}
}

// Validate runs all quality checks on a dataset
func (dqv *DataQualityValidator) Validate(ds *Dataset) *QualityReport {
	if ds.Len() == 0 {
		return &QualityReport{
			Issues:       []DataIssue{{Type: IssueNoData, Severity: "critical", Message: "No trades provided"}},
			QualityScore: 0,
			IsUsable:     false,
		}
	}

	trades := ds.trades
	issues := make([]DataIssue, 0)

	issues = append(issues, dqv.checkMissingExcursions(trades)...)
	issues = append(issues, dqv.checkTimestamps(trades)...)
	orderIssues := dqv.checkChronologicalOrder(trades)
	issues = append(issues, orderIssues...)

	classifiable := ds.Classifiable()
	if classifiable < dqv.MinClassifiable {
		severity := "medium"
		if classifiable == 0 {
			severity = "critical"
		}
		issues = append(issues, DataIssue{
			Type:     IssueFewTrades,
			Severity: severity,
			Message:  fmt.Sprintf("Only %d classifiable trades (want at least %d)", classifiable, dqv.MinClassifiable),
		})
	}

	span := ds.Span()
	score := dqv.calculateQualityScore(len(trades), issues)

	report := &QualityReport{
		TotalTrades:     len(trades),
		Classifiable:    classifiable,
		Issues:          issues,
		QualityScore:    score,
		IsUsable:        classifiable > 0 && !hasCriticalIssues(issues),
		Chronological:   len(orderIssues) == 0,
		MissingMAE:      countIssuesByType(issues, IssueMissingMAE),
		MissingMFE:      countIssuesByType(issues, IssueMissingMFE),
		StartDate:       span.Start,
		EndDate:         span.End,
		DaysOfWeek:      ds.DaysOfWeek(),
		Recommendations: dqv.generateRecommendations(issues, len(trades), classifiable),
	}

	dqv.logger.Debug("Dataset validated",
		zap.Int("trades", report.TotalTrades),
		zap.Int("classifiable", report.Classifiable),
		zap.Int("score", report.QualityScore),
		zap.Int("issues", len(issues)),
	)

	return report
}

// checkMissingExcursions flags rows excluded from classification
func (dqv *DataQualityValidator) checkMissingExcursions(trades []types.Trade) []DataIssue {
	issues := make([]DataIssue, 0)
	for i, t := range trades {
		if t.MAE == nil {
			issues = append(issues, DataIssue{
				Type:      IssueMissingMAE,
				Severity:  "low",
				Timestamp: t.Timestamp,
				Message:   "MAE missing or not numeric; trade excluded",
				Row:       i,
			})
		}
		if t.MFE == nil {
			issues = append(issues, DataIssue{
				Type:      IssueMissingMFE,
				Severity:  "low",
				Timestamp: t.Timestamp,
				Message:   "MFE missing or not numeric; trade excluded",
				Row:       i,
			})
		}
	}
	return issues
}

// checkTimestamps flags missing and duplicate timestamps. Datasets without any
// timestamp are not flagged row by row.
func (dqv *DataQualityValidator) checkTimestamps(trades []types.Trade) []DataIssue {
	issues := make([]DataIssue, 0)

	stamped := 0
	for _, t := range trades {
		if !t.Timestamp.IsZero() {
			stamped++
		}
	}
	if stamped == 0 {
		return issues
	}

	seen := make(map[int64]int) // timestamp -> first row
	for i, t := range trades {
		if t.Timestamp.IsZero() {
			issues = append(issues, DataIssue{
				Type:     IssueMissingTimestamp,
				Severity: "medium",
				Message:  "Timestamp missing; trade ignored by date and hour filters",
				Row:      i,
			})
			continue
		}
		ts := t.Timestamp.UnixNano()
		if first, ok := seen[ts]; ok {
			issues = append(issues, DataIssue{
				Type:      IssueDuplicate,
				Severity:  "low",
				Timestamp: t.Timestamp,
				Message:   fmt.Sprintf("Duplicate timestamp (also at row %d)", first),
				Row:       i,
			})
			continue
		}
		seen[ts] = i
	}

	return issues
}

// checkChronologicalOrder flags rows that go back in time. Streaks are computed in
// row order, so an unsorted export changes streak results.
func (dqv *DataQualityValidator) checkChronologicalOrder(trades []types.Trade) []DataIssue {
	issues := make([]DataIssue, 0)
	var prev time.Time
	for i, t := range trades {
		if t.Timestamp.IsZero() {
			continue
		}
		if !prev.IsZero() && t.Timestamp.Before(prev) {
			issues = append(issues, DataIssue{
				Type:      IssueOutOfOrder,
				Severity:  "medium",
				Timestamp: t.Timestamp,
				Message:   "Trade is earlier than the previous row",
				Row:       i,
			})
		}
		prev = t.Timestamp
	}
	return issues
}

func (dqv *DataQualityValidator) calculateQualityScore(total int, issues []DataIssue) int {
	if total == 0 {
		return 0
	}

	penaltyPoints := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penaltyPoints += 10.0
		case "high":
			penaltyPoints += 5.0
		case "medium":
			penaltyPoints += 2.0
		case "low":
			penaltyPoints += 0.5
		}
	}

	// More data = more tolerance for small issues
	normalizedPenalty := penaltyPoints / math.Max(1, float64(total)/100) * 10
	score := 100.0 - math.Min(normalizedPenalty, 100)

	return int(math.Max(0, math.Min(100, score)))
}

func (dqv *DataQualityValidator) generateRecommendations(issues []DataIssue, total, classifiable int) []string {
	recs := make([]string, 0)

	missing := total - classifiable
	if total > 0 && float64(missing)/float64(total) > dqv.MaxMissingShare {
		recs = append(recs, fmt.Sprintf("%d of %d trades lack MAE or MFE; check the export's numeric columns", missing, total))
	}
	if countIssuesByType(issues, IssueOutOfOrder) > 0 {
		recs = append(recs, "Rows are not in time order; sort by Datetime before reading streaks")
	}
	if countIssuesByType(issues, IssueDuplicate) > 0 {
		recs = append(recs, "Duplicate timestamps found; check for rows exported twice")
	}
	if countIssuesByType(issues, IssueFewTrades) > 0 {
		recs = append(recs, "Sample is small; optimized thresholds will be unstable")
	}

	return recs
}

func hasCriticalIssues(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return true
		}
	}
	return false
}

func countIssuesByType(issues []DataIssue, types ...string) int {
	count := 0
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	for _, issue := range issues {
		if typeSet[issue.Type] {
			count++
		}
	}
	return count
}
