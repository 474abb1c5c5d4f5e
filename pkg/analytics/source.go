package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Filter narrows the events a Handle returns. Start and End are inclusive.
// A nil Scope means no tenant restriction.
type Filter struct {
	Start           time.Time
	End             time.Time
	Scope           *Scope
	Category        string
	MalwareFamilyID *uuid.UUID
	SourceCountryID *uuid.UUID
}

// Match reports whether e passes every condition of f. Soft-deleted events never match.
func (f Filter) Match(e Event) bool {
	if e.DeletedAt != nil {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if !f.Scope.Contains(e.Asn.ID) {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.MalwareFamilyID != nil && (e.MalwareFamily == nil || e.MalwareFamily.ID != *f.MalwareFamilyID) {
		return false
	}
	if f.SourceCountryID != nil && (e.SourceCountry == nil || e.SourceCountry.ID != *f.SourceCountryID) {
		return false
	}
	return true
}

// Store hands out short-lived handles. A handle serves one call at a time and must
// not be shared between concurrent calls.
type Store interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is a single data-access session on the event store.
type Handle interface {
	Events(ctx context.Context, f Filter) ([]Event, error)
	Count(ctx context.Context, f Filter) (int, error)
	Close() error
}

// TimelineQuerier is implemented by handles that can bucket events server side.
type TimelineQuerier interface {
	Timeline(ctx context.Context, f Filter, iv Interval) ([]TimelineDataPoint, error)
}

// source is a handle bound to one tenant scope. Every read goes through it, so no
// operation can see events outside the scope.
type source struct {
	h     Handle
	scope *Scope
}

func (s source) bind(f Filter) Filter {
	f.Scope = s.scope
	return f
}

func (s source) events(ctx context.Context, f Filter) ([]Event, error) {
	return s.h.Events(ctx, s.bind(f))
}

func (s source) count(ctx context.Context, f Filter) (int, error) {
	return s.h.Count(ctx, s.bind(f))
}

// timeline prefers server-side bucketing and falls back to bucketing in memory.
func (s source) timeline(ctx context.Context, f Filter, iv Interval) ([]TimelineDataPoint, error) {
	if tq, ok := s.h.(TimelineQuerier); ok {
		return tq.Timeline(ctx, s.bind(f), iv)
	}
	events, err := s.events(ctx, f)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(events, iv), nil
}

type timelineKey struct {
	ts       time.Time
	category string
}

// BuildTimeline buckets events by (bucket start, category) with unique address counts.
// Points are ordered by time, then category.
func BuildTimeline(events []Event, iv Interval) []TimelineDataPoint {
	b := Bucketer[Event]{Interval: iv, TimestampOf: EventTime}
	type acc struct {
		count    int
		src, dst map[string]struct{}
	}
	accs := make(map[timelineKey]*acc)
	for _, e := range events {
		k := timelineKey{ts: b.Bucket(e), category: e.Category}
		if k.category == "" {
			k.category = "Unknown"
		}
		a, ok := accs[k]
		if !ok {
			a = &acc{src: map[string]struct{}{}, dst: map[string]struct{}{}}
			accs[k] = a
		}
		a.count++
		if e.SourceAddress != "" {
			a.src[e.SourceAddress] = struct{}{}
		}
		if e.DestinationAddress != "" {
			a.dst[e.DestinationAddress] = struct{}{}
		}
	}
	out := make([]TimelineDataPoint, 0, len(accs))
	for k, a := range accs {
		out = append(out, TimelineDataPoint{
			Timestamp:            k.ts,
			Category:             k.category,
			Count:                a.count,
			UniqueSourceIps:      len(a.src),
			UniqueDestinationIps: len(a.dst),
		})
	}
	SortTimeline(out)
	return out
}

// SortTimeline orders points by bucket start, then category.
func SortTimeline(points []TimelineDataPoint) {
	slices.SortFunc(points, func(a, b TimelineDataPoint) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
}

// MemoryStore serves a fixed event slice from memory.
type MemoryStore struct {
	Events []Event
}

// NewMemoryStore returns a store over events.
func NewMemoryStore(events []Event) *MemoryStore {
	return &MemoryStore{Events: events}
}

func (m *MemoryStore) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryHandle{events: m.Events}, nil
}

type memoryHandle struct {
	events []Event
	closed bool
}

const ctxCheckEvery = 1024

func (h *memoryHandle) Events(ctx context.Context, f Filter) ([]Event, error) {
	var out []Event
	for i, e := range h.events {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *memoryHandle) Count(ctx context.Context, f Filter) (int, error) {
	events, err := h.Events(ctx, f)
	return len(events), err
}

func (h *memoryHandle) Close() error {
	h.closed = true
	return nil
}
