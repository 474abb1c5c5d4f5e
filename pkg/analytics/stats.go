package analytics

import (
	"github.com/montanaflynn/stats"
)

// StatisticalMetrics describes a numeric projection of an event set.
type StatisticalMetrics struct {
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
}

// CardinalityResult describes how many distinct keys an event set has.
type CardinalityResult[K comparable] struct {
	TotalRecords      int     `json:"total_records"`
	UniqueValues      int     `json:"unique_values"`
	CardinalityRatio  float64 `json:"cardinality_ratio"`
	MostFrequentValue K       `json:"most_frequent_value"`
	MostFrequentCount int     `json:"most_frequent_count"`
}

// Statistics projects the matching events through valueOf, skipping events
// where the field is absent, and describes the values.
func Statistics(events []Event, pred Predicate, valueOf func(Event) (float64, bool)) StatisticalMetrics {
	var values []float64
	for _, e := range events {
		if pred != nil && !pred(e) {
			continue
		}
		if v, ok := valueOf(e); ok {
			values = append(values, v)
		}
	}
	return StatisticsOf(values)
}

// StatisticsOf describes values using the population standard deviation.
// An empty input yields all-zero metrics.
func StatisticsOf(values []float64) StatisticalMetrics {
	if len(values) == 0 {
		return StatisticalMetrics{}
	}
	data := stats.Float64Data(values)
	sum, _ := data.Sum()
	mean, _ := data.Mean()
	minV, _ := data.Min()
	maxV, _ := data.Max()
	sd, _ := data.StandardDeviationPopulation()
	median, _ := data.Median()
	return StatisticalMetrics{
		Count:  len(values),
		Sum:    sum,
		Min:    minV,
		Max:    maxV,
		Mean:   round(mean, 2),
		StdDev: round(sd, 2),
		Median: round(median, 2),
	}
}

// Cardinality counts distinct keys among the matching events. The most frequent
// key is the largest group; ties go to the group encountered first.
func Cardinality[K comparable](events []Event, pred Predicate, keyOf func(Event) K) CardinalityResult[K] {
	groups, total := GroupBy(events, pred, keyOf)
	rankGroups(groups)
	res := CardinalityResult[K]{TotalRecords: total, UniqueValues: len(groups)}
	if total > 0 {
		res.CardinalityRatio = round(float64(len(groups))/float64(total), 4)
	}
	if len(groups) > 0 {
		res.MostFrequentValue = groups[0].Key
		res.MostFrequentCount = groups[0].Count()
	}
	return res
}

// meanStdDev returns the mean and population standard deviation of counts.
func meanStdDev(counts []float64) (mean, sd float64) {
	if len(counts) == 0 {
		return 0, 0
	}
	data := stats.Float64Data(counts)
	mean, _ = data.Mean()
	sd, _ = data.StandardDeviationPopulation()
	return mean, sd
}
