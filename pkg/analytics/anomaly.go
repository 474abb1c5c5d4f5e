package analytics

import (
	"fmt"
	"math"
	"time"
)

// AnomalyType selects the anomaly detector.
type AnomalyType string

const (
	VolumeAnomaly     AnomalyType = "volume"
	GeographicAnomaly AnomalyType = "geographic"
	TemporalAnomaly   AnomalyType = "temporal"
)

const (
	// DefaultSensitivity is the z-score multiple used when none is given.
	DefaultSensitivity = 2.0
	// minAnomalyBuckets is the fewest buckets worth testing.
	minAnomalyBuckets = 3
)

// ParseAnomalyType rejects unknown anomaly tags.
func ParseAnomalyType(tag string) (AnomalyType, error) {
	switch t := AnomalyType(tag); t {
	case VolumeAnomaly, GeographicAnomaly, TemporalAnomaly:
		return t, nil
	default:
		return "", invalidf("unknown anomaly type %q", tag)
	}
}

type AnomalyDetectionResult struct {
	Timestamp      time.Time   `json:"timestamp"`
	AnomalyType    AnomalyType `json:"anomaly_type"`
	AnomalyScore   float64     `json:"anomaly_score"`
	ExpectedValue  float64     `json:"expected_value"`
	ActualValue    float64     `json:"actual_value"`
	DeviationScore float64     `json:"deviation_score"`
	Description    string      `json:"description"`
}

// sensitivity validates threshold; zero selects the default.
func sensitivity(threshold float64) (float64, error) {
	switch {
	case threshold == 0:
		return DefaultSensitivity, nil
	case threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0):
		return 0, invalidf("sensitivity threshold must be positive, got %v", threshold)
	}
	return threshold, nil
}

// DetectVolumeAnomalies flags buckets whose count is more than threshold population
// standard deviations from the mean count. Fewer than three buckets report nothing.
func DetectVolumeAnomalies(buckets []BucketCount, threshold float64) ([]AnomalyDetectionResult, error) {
	thr, err := sensitivity(threshold)
	if err != nil {
		return nil, err
	}
	out := []AnomalyDetectionResult{}
	if len(buckets) < minAnomalyBuckets {
		return out, nil
	}
	counts := make([]float64, len(buckets))
	for i, b := range buckets {
		counts[i] = float64(b.Count)
	}
	mean, sd := meanStdDev(counts)
	for _, b := range buckets {
		actual := float64(b.Count)
		dev := actual - mean
		if math.Abs(dev) <= thr*sd {
			continue
		}
		level := "high"
		if actual < mean {
			level = "low"
		}
		out = append(out, AnomalyDetectionResult{
			Timestamp:      b.Timestamp,
			AnomalyType:    VolumeAnomaly,
			AnomalyScore:   math.Abs(dev) / sd,
			ExpectedValue:  mean,
			ActualValue:    actual,
			DeviationScore: dev / sd,
			Description:    fmt.Sprintf("Unusually %s threat volume: %d events (expected ~%.0f)", level, b.Count, mean),
		})
	}
	return out, nil
}

// hourlyTotals sums a timeline across categories per bucket.
func hourlyTotals(points []TimelineDataPoint) []BucketCount {
	totals := make(map[time.Time]int)
	var order []time.Time
	for _, p := range points {
		ts := BucketStart(p.Timestamp, Hour)
		if _, ok := totals[ts]; !ok {
			order = append(order, ts)
		}
		totals[ts] += p.Count
	}
	out := make([]BucketCount, 0, len(order))
	for _, ts := range order {
		out = append(out, BucketCount{Timestamp: ts, Count: totals[ts]})
	}
	sortBucketCounts(out)
	return out
}
