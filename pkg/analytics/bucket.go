package analytics

import (
	"strings"
	"time"
)

// Interval is a timeline bucket width.
type Interval string

const (
	Hour  Interval = "hour"
	Day   Interval = "day"
	Week  Interval = "week"
	Month Interval = "month"
)

// ParseInterval accepts hour|day|week|month case-insensitively. An empty tag
// means day; any other tag is rejected.
func ParseInterval(tag string) (Interval, error) {
	switch iv := Interval(strings.ToLower(strings.TrimSpace(tag))); iv {
	case "":
		return Day, nil
	case Hour, Day, Week, Month:
		return iv, nil
	default:
		return "", invalidf("unknown time interval %q", tag)
	}
}

// Valid reports whether iv is one of the known widths.
func (iv Interval) Valid() bool {
	switch iv {
	case Hour, Day, Week, Month:
		return true
	}
	return false
}

// BucketStart returns the start of the bucket containing t, in UTC.
// Unknown widths bucket by day. Weeks start on Monday 00:00.
func BucketStart(t time.Time, iv Interval) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	switch iv {
	case Hour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, time.UTC)
	case Week:
		offset := (7 + int(t.Weekday()) - int(time.Monday)) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// TimestampOf extracts the time an entity should be bucketed by.
type TimestampOf[T any] func(T) time.Time

// EventTime is the TimestampOf for events.
func EventTime(e Event) time.Time { return e.Timestamp }

// Bucketer maps entities to bucket starts through an injected timestamp extractor.
type Bucketer[T any] struct {
	Interval    Interval
	TimestampOf TimestampOf[T]
}

// Bucket returns the bucket start for v.
func (b Bucketer[T]) Bucket(v T) time.Time {
	return BucketStart(b.TimestampOf(v), b.Interval)
}

// BucketCount is the number of entities in one bucket.
type BucketCount struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// CountBuckets groups items by bucket and returns counts ordered by time.
func CountBuckets[T any](items []T, b Bucketer[T]) []BucketCount {
	counts := make(map[time.Time]int)
	var order []time.Time
	for _, it := range items {
		ts := b.Bucket(it)
		if _, ok := counts[ts]; !ok {
			order = append(order, ts)
		}
		counts[ts]++
	}
	out := make([]BucketCount, 0, len(order))
	for _, ts := range order {
		out = append(out, BucketCount{Timestamp: ts, Count: counts[ts]})
	}
	sortBucketCounts(out)
	return out
}
