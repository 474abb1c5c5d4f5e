package analytics

// TrendDeadBand is the percent change inside which a trend counts as stable.
const TrendDeadBand = 5.0

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// TrendComparisonResult compares event counts of two windows.
type TrendComparisonResult struct {
	CurrentCount    int     `json:"current_count"`
	ComparisonCount int     `json:"comparison_count"`
	PercentChange   float64 `json:"percent_change"`
	AbsoluteChange  int     `json:"absolute_change"`
	TrendDirection  string  `json:"trend_direction"`
}

// CompareTrend computes the change from comparison to current. A zero baseline
// reads as +100% when there is any current activity and 0% otherwise.
func CompareTrend(current, comparison int) TrendComparisonResult {
	abs := current - comparison
	var pct float64
	switch {
	case comparison == 0 && current > 0:
		pct = 100
	case comparison == 0:
		pct = 0
	default:
		pct = round(float64(abs)/float64(comparison)*100, 2)
	}
	return TrendComparisonResult{
		CurrentCount:    current,
		ComparisonCount: comparison,
		PercentChange:   pct,
		AbsoluteChange:  abs,
		TrendDirection:  TrendDirection(pct),
	}
}

// TrendDirection classifies a percent change against the ±5% dead band.
func TrendDirection(percentChange float64) string {
	switch {
	case percentChange > TrendDeadBand:
		return TrendIncreasing
	case percentChange < -TrendDeadBand:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// TrendComparison counts the events matching each predicate and compares them.
func TrendComparison(events []Event, current, comparison Predicate) TrendComparisonResult {
	var cur, cmp int
	for _, e := range events {
		if current(e) {
			cur++
		}
		if comparison(e) {
			cmp++
		}
	}
	return CompareTrend(cur, cmp)
}
