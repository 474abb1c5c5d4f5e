// Package validation checks and decodes analytics request parameters.
// Every rejection wraps analytics.ErrInvalidInput.
package validation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"threatlens/pkg/analytics"
)

const (
	maxCategoryLen = 100
	maxTopCount    = 1000
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", analytics.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateTenantID parses a tenant identifier.
func ValidateTenantID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, invalid("tenant ID cannot be empty")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalid("tenant ID must be a non-nil UUID")
	}
	return id, nil
}

// ParseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates (midnight UTC).
func ParseTime(name, raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, invalid("%s must be RFC 3339 or YYYY-MM-DD, got %q", name, raw)
}

// ValidateTimeWindow requires start <= end and a window no longer than max.
// A zero max disables the length check.
func ValidateTimeWindow(start, end time.Time, max time.Duration) error {
	if start.IsZero() || end.IsZero() {
		return invalid("start and end time are required")
	}
	if end.Before(start) {
		return invalid("end time must not be before start time")
	}
	if max > 0 && end.Sub(start) > max {
		return invalid("time window %s exceeds the maximum of %s", end.Sub(start), max)
	}
	return nil
}

// ValidateTopCount bounds a requested ranking length. Zero means the default.
func ValidateTopCount(n int) error {
	if n < 0 || n > maxTopCount {
		return invalid("top count must be between 0 and %d, got %d", maxTopCount, n)
	}
	return nil
}

// ValidateCategory rejects oversized or non-printable category filters.
func ValidateCategory(c string) error {
	if len(c) > maxCategoryLen {
		return invalid("category too long (max %d chars)", maxCategoryLen)
	}
	if !utf8.ValidString(c) {
		return invalid("category must be valid UTF-8")
	}
	for _, r := range c {
		if unicode.IsControl(r) {
			return invalid("category contains control characters")
		}
	}
	return nil
}

func optionalUUID(values url.Values, names ...string) (*uuid.UUID, error) {
	for _, name := range names {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, invalid("%s must be a UUID", name)
		}
		return &id, nil
	}
	return nil, nil
}

func first(values url.Values, names ...string) string {
	for _, n := range names {
		if v := values.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// ParseQuery decodes start, end, interval, top, category, malwareFamilyId and
// sourceCountryId. Tenant scoping is not read from the query string.
func ParseQuery(values url.Values, maxWindow time.Duration) (analytics.Query, error) {
	var q analytics.Query
	var err error

	rawStart, rawEnd := first(values, "start", "startTime"), first(values, "end", "endTime")
	if rawStart == "" || rawEnd == "" {
		return q, invalid("start and end time are required")
	}
	if q.Start, err = ParseTime("start", rawStart); err != nil {
		return q, err
	}
	if q.End, err = ParseTime("end", rawEnd); err != nil {
		return q, err
	}
	if err := ValidateTimeWindow(q.Start, q.End, maxWindow); err != nil {
		return q, err
	}

	if q.Interval, err = analytics.ParseInterval(first(values, "interval", "timeInterval")); err != nil {
		return q, err
	}

	if raw := first(values, "top", "topCount"); raw != "" {
		if q.TopCount, err = strconv.Atoi(raw); err != nil {
			return q, invalid("top must be an integer, got %q", raw)
		}
		if err := ValidateTopCount(q.TopCount); err != nil {
			return q, err
		}
	}

	q.Category = strings.TrimSpace(values.Get("category"))
	if err := ValidateCategory(q.Category); err != nil {
		return q, err
	}
	if q.MalwareFamilyID, err = optionalUUID(values, "malwareFamilyId", "malware_family_id"); err != nil {
		return q, err
	}
	if q.SourceCountryID, err = optionalUUID(values, "sourceCountryId", "source_country_id"); err != nil {
		return q, err
	}
	return q, nil
}

// ParseComparison reads the comparison window of comparative queries. When
// absent it defaults to the equal-length window ending at q.Start.
func ParseComparison(values url.Values, q analytics.Query) (time.Time, time.Time, error) {
	rawStart, rawEnd := values.Get("comparisonStart"), values.Get("comparisonEnd")
	if rawStart == "" && rawEnd == "" {
		return q.Start.Add(-q.Period()), q.Start, nil
	}
	start, err := ParseTime("comparisonStart", rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseTime("comparisonEnd", rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if err := ValidateTimeWindow(start, end, 0); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ParseBool reads an optional boolean, returning def when absent.
func ParseBool(values url.Values, name string, def bool) (bool, error) {
	raw := values.Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, invalid("%s must be a boolean, got %q", name, raw)
	}
	return b, nil
}

// ParseFloat reads an optional float, returning def when absent.
func ParseFloat(values url.Values, name string, def float64) (float64, error) {
	raw := values.Get(name)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def, invalid("%s must be a number, got %q", name, raw)
	}
	return f, nil
}
