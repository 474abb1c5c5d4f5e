package analytics

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// TopItemResult is one ranked group.
type TopItemResult[K comparable] struct {
	Key         K       `json:"key"`
	DisplayName string  `json:"display_name"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	Rank        int     `json:"rank"`
}

// DistributionResult is one group of a full distribution.
type DistributionResult[K comparable] struct {
	Key                  K       `json:"key"`
	DisplayName          string  `json:"display_name"`
	Count                int     `json:"count"`
	Percentage           float64 `json:"percentage"`
	CumulativePercentage float64 `json:"cumulative_percentage"`
}

// Group is the set of events sharing a key, in encounter order.
type Group[K comparable] struct {
	Key    K
	Events []Event
}

// Count is the group size.
func (g Group[K]) Count() int { return len(g.Events) }

// GroupBy partitions the events matching pred by keyOf. Groups are returned in
// first-encounter order.
func GroupBy[K comparable](events []Event, pred Predicate, keyOf func(Event) K) (groups []Group[K], total int) {
	index := make(map[K]int)
	for _, e := range events {
		if pred != nil && !pred(e) {
			continue
		}
		total++
		k := keyOf(e)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group[K]{Key: k})
		}
		groups[i].Events = append(groups[i].Events, e)
	}
	return groups, total
}

// rankGroups sorts by count descending; ties keep encounter order.
func rankGroups[K comparable](groups []Group[K]) {
	slices.SortStableFunc(groups, func(a, b Group[K]) int {
		return b.Count() - a.Count()
	})
}

// GroupedAggregation groups the matching events and maps every group through agg,
// largest groups first. A positive topN truncates the result.
func GroupedAggregation[K comparable, R any](events []Event, pred Predicate, keyOf func(Event) K, agg func(Group[K]) R, topN int) ([]R, error) {
	if topN < 0 {
		return nil, invalidf("top count must not be negative, got %d", topN)
	}
	groups, _ := GroupBy(events, pred, keyOf)
	rankGroups(groups)
	if topN > 0 && len(groups) > topN {
		groups = groups[:topN]
	}
	out := make([]R, 0, len(groups))
	for _, g := range groups {
		out = append(out, agg(g))
	}
	return out, nil
}

// TopItems ranks the groups of matching events and keeps the topN largest.
// Percentages are relative to the number of matching events.
func TopItems[K comparable](events []Event, pred Predicate, keyOf func(Event) K, topN int) ([]TopItemResult[K], error) {
	if topN < 0 {
		return nil, invalidf("top count must not be negative, got %d", topN)
	}
	groups, total := GroupBy(events, pred, keyOf)
	rankGroups(groups)
	if len(groups) > topN {
		groups = groups[:topN]
	}
	out := make([]TopItemResult[K], 0, len(groups))
	for i, g := range groups {
		out = append(out, TopItemResult[K]{
			Key:         g.Key,
			DisplayName: displayName(g.Key),
			Count:       g.Count(),
			Percentage:  percentage(g.Count(), total),
			Rank:        i + 1,
		})
	}
	return out, nil
}

// Distribution returns every group of matching events, largest first, with a
// running cumulative percentage rounded at each step.
func Distribution[K comparable](events []Event, pred Predicate, keyOf func(Event) K) []DistributionResult[K] {
	groups, total := GroupBy(events, pred, keyOf)
	rankGroups(groups)
	out := make([]DistributionResult[K], 0, len(groups))
	cumulative := 0.0
	for _, g := range groups {
		pct := percentage(g.Count(), total)
		cumulative = round(cumulative+pct, 2)
		out = append(out, DistributionResult[K]{
			Key:                  g.Key,
			DisplayName:          displayName(g.Key),
			Count:                g.Count(),
			Percentage:           pct,
			CumulativePercentage: cumulative,
		})
	}
	return out
}

// distinctValues returns up to limit distinct non-empty values in encounter order;
// limit <= 0 means no limit.
func distinctValues[T comparable](events []Event, valueOf func(Event) (T, bool), limit int) []T {
	seen := make(map[T]struct{})
	out := []T{}
	for _, e := range events {
		v, ok := valueOf(e)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if limit <= 0 || len(out) < limit {
			out = append(out, v)
		}
	}
	return out
}

func distinctCount[T comparable](events []Event, valueOf func(Event) (T, bool)) int {
	return len(distinctValues(events, valueOf, 0))
}

func categoryOf(e Event) (string, bool) { return e.Category, true }

// firstLastSeen returns the earliest and latest timestamps of events.
func firstLastSeen(events []Event) (first, last time.Time) {
	for i, e := range events {
		if i == 0 || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return first, last
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(count)/float64(total)*100, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func displayName[K comparable](k K) string {
	switch v := any(k).(type) {
	case string:
		if v == "" {
			return "Unknown"
		}
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func sortBucketCounts(b []BucketCount) {
	slices.SortFunc(b, func(x, y BucketCount) int { return x.Timestamp.Compare(y.Timestamp) })
}
