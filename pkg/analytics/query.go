package analytics

import (
	"time"

	"github.com/google/uuid"
)

// Query is the caller-facing parameter set shared by every operation.
// A nil TenantID asks for the cross-tenant view.
type Query struct {
	Start           time.Time  `json:"start_time"`
	End             time.Time  `json:"end_time"`
	Interval        Interval   `json:"time_interval,omitempty"`
	TenantID        *uuid.UUID `json:"tenant_id,omitempty"`
	TopCount        int        `json:"top_count,omitempty"`
	Category        string     `json:"category,omitempty"`
	MalwareFamilyID *uuid.UUID `json:"malware_family_id,omitempty"`
	SourceCountryID *uuid.UUID `json:"source_country_id,omitempty"`
}

// Validate rejects malformed queries and returns q normalized to UTC with the
// default interval filled in.
func (q Query) Validate() (Query, error) {
	if q.Start.IsZero() || q.End.IsZero() {
		return q, invalidf("start and end time are required")
	}
	q.Start, q.End = q.Start.UTC(), q.End.UTC()
	if q.End.Before(q.Start) {
		return q, invalidf("end time %s is before start time %s", q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}
	if q.TopCount < 0 {
		return q, invalidf("top count must not be negative, got %d", q.TopCount)
	}
	iv, err := ParseInterval(string(q.Interval))
	if err != nil {
		return q, err
	}
	q.Interval = iv
	return q, nil
}

// Period is the length of the queried window.
func (q Query) Period() time.Duration { return q.End.Sub(q.Start) }

// top returns TopCount, or def when unset.
func (q Query) top(def int) int {
	if q.TopCount > 0 {
		return q.TopCount
	}
	return def
}

func (q Query) filter() Filter {
	return Filter{
		Start:           q.Start,
		End:             q.End,
		Category:        q.Category,
		MalwareFamilyID: q.MalwareFamilyID,
		SourceCountryID: q.SourceCountryID,
	}
}

func (q Query) window(start, end time.Time) Filter {
	f := q.filter()
	f.Start, f.End = start, end
	return f
}
