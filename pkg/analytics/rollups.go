package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Default top counts per dimension when the query leaves TopCount unset.
const (
	defaultTopCategories = 10
	defaultTopMalware    = 10
	defaultTopCountries  = 20
	defaultTopAsns       = 15
	defaultTopPorts      = 20
	defaultTopIPs        = 50
)

// Sub-list lengths of the dimension rollups.
const (
	subListShort = 3
	subListLen   = 5
	subListLong  = 10
)

const (
	criticalRisk     = 8.0
	recentEventLimit = 5
)

// Summary rolls up the whole window.
func (e *Engine) Summary(ctx context.Context, q Query) (ThreatEventSummary, error) {
	return run(ctx, e, "summary", q, e.summary)
}

func (e *Engine) summary(ctx context.Context, src source, q Query) (ThreatEventSummary, error) {
	events, err := src.events(ctx, q.filter())
	if err != nil {
		return ThreatEventSummary{}, err
	}
	e.observer.EventsScanned("summary", len(events))
	return Summarize(events, q.Period()), nil
}

// Summarize builds the whole-period rollup of events over a window of length period.
func Summarize(events []Event, period time.Duration) ThreatEventSummary {
	s := ThreatEventSummary{
		TotalEvents:             len(events),
		UniqueSourceIps:         distinctCount(events, sourceAddress),
		UniqueDestinationIps:    distinctCount(events, destinationAddress),
		UniqueMalwareFamilies:   distinctCount(events, malwareID),
		UniqueCountries:         distinctCount(events, sourceCountryID),
		UniqueAsns:              distinctCount(events, func(e Event) (uuid.UUID, bool) { return e.Asn.ID, true }),
		MostActiveCategory:      mostFrequent(events, All, func(e Event) string { return e.Category }),
		MostTargetedCountry:     mostFrequentValue(events, destinationCountryName),
		MostActiveMalwareFamily: mostFrequentValue(events, malwareName),
		CategoryDistribution:    make(map[string]int),
	}
	for _, ev := range events {
		s.CategoryDistribution[ev.Category]++
	}
	if hours := period.Hours(); hours > 0 {
		s.AverageEventsPerHour = round(float64(len(events))/hours, 2)
	}
	for _, b := range CountBuckets(events, Bucketer[Event]{Interval: Hour, TimestampOf: EventTime}) {
		if b.Count > s.PeakActivityCount {
			s.PeakActivityTime, s.PeakActivityCount = b.Timestamp, b.Count
		}
	}
	return s
}

// mostFrequent returns the largest group's key, or "Unknown" when nothing matches.
func mostFrequent(events []Event, pred Predicate, keyOf func(Event) string) string {
	top, _ := TopItems(events, pred, keyOf, 1)
	if len(top) == 0 {
		return "Unknown"
	}
	return top[0].DisplayName
}

func mostFrequentValue(events []Event, valueOf func(Event) (string, bool)) string {
	return mostFrequent(events, func(e Event) bool {
		_, ok := valueOf(e)
		return ok
	}, func(e Event) string {
		v, _ := valueOf(e)
		return v
	})
}

// DashboardMetrics reports the rolling 24h and 1h activity as of the engine clock.
// Day-over-day change compares the last 24 hours with the previous UTC calendar day.
func (e *Engine) DashboardMetrics(ctx context.Context, tenantID *uuid.UUID) (ThreatEventDashboardMetrics, error) {
	now := e.Now()
	q := Query{Start: now.Add(-24 * time.Hour), End: now, TenantID: tenantID}
	return run(ctx, e, "dashboard", q, func(ctx context.Context, src source, q Query) (ThreatEventDashboardMetrics, error) {
		day, err := src.events(ctx, q.window(q.Start, now))
		if err != nil {
			return ThreatEventDashboardMetrics{}, err
		}
		e.observer.EventsScanned("dashboard", len(day))
		yStart := BucketStart(now.Add(-24*time.Hour), Day)
		// Postgres keeps microseconds, so the exclusive end is one microsecond earlier.
		yesterday, err := src.count(ctx, q.window(yStart, yStart.Add(24*time.Hour-time.Microsecond)))
		if err != nil {
			return ThreatEventDashboardMetrics{}, err
		}
		return e.dashboard(day, yesterday, now), nil
	})
}

func (e *Engine) dashboard(day []Event, yesterday int, now time.Time) ThreatEventDashboardMetrics {
	lastHour := now.Add(-time.Hour)
	var hour []Event
	for _, ev := range day {
		if !ev.Timestamp.Before(lastHour) {
			hour = append(hour, ev)
		}
	}
	trend := CompareTrend(len(day), yesterday)
	m := ThreatEventDashboardMetrics{
		EventsLast24Hours:             len(day),
		EventsLastHour:                len(hour),
		EventsYesterday:               yesterday,
		PercentageChangeFromYesterday: trend.PercentChange,
		TrendDirection:                trend.TrendDirection,
		ActiveThreatsCurrently:        len(hour),
		TopThreatCategory:             mostFrequent(day, All, func(ev Event) string { return ev.Category }),
		TopSourceCountry:              mostFrequentValue(day, sourceCountryName),
		RecentHighRiskEvents:          []RecentHighRiskEvent{},
		GeneratedAt:                   now,
	}

	// Recent events are scored by the 24h activity of their source address.
	bySource := make(map[string][]Event)
	for _, ev := range day {
		bySource[ev.SourceAddress] = append(bySource[ev.SourceAddress], ev)
	}
	slices.SortStableFunc(hour, func(a, b Event) int { return b.Timestamp.Compare(a.Timestamp) })
	if len(hour) > recentEventLimit {
		hour = hour[:recentEventLimit]
	}
	for _, ev := range hour {
		peers := bySource[ev.SourceAddress]
		risk := e.scorer.IP(len(peers), distinctCount(peers, categoryOf))
		if risk >= criticalRisk {
			m.CriticalAlertsCount++
		}
		m.RecentHighRiskEvents = append(m.RecentHighRiskEvents, RecentHighRiskEvent{
			EventID:           ev.ID,
			Timestamp:         ev.Timestamp,
			SourceAddress:     ev.SourceAddress,
			Category:          ev.Category,
			MalwareFamilyName: refName(ev.MalwareFamily),
			RiskScore:         round(risk, 2),
			CountryName:       refName(ev.SourceCountry),
		})
	}
	return m
}

// TopCategories ranks categories and compares each with the preceding window of
// equal length, under the same tenant scope.
func (e *Engine) TopCategories(ctx context.Context, q Query) ([]CategoryAnalytics, error) {
	return run(ctx, e, "top_categories", q, e.topCategories)
}

func (e *Engine) topCategories(ctx context.Context, src source, q Query) ([]CategoryAnalytics, error) {
	events, err := src.events(ctx, q.filter())
	if err != nil {
		return nil, err
	}
	prevStart := q.Start.Add(-q.Period())
	previous, err := src.events(ctx, q.window(prevStart, q.Start))
	if err != nil {
		return nil, err
	}
	e.observer.EventsScanned("top_categories", len(events)+len(previous))
	prevCounts := make(map[string]int)
	for _, ev := range previous {
		prevCounts[ev.Category]++
	}
	total := len(events)
	return GroupedAggregation(events, All, func(ev Event) string { return ev.Category }, func(g Group[string]) CategoryAnalytics {
		first, last := firstLastSeen(g.Events)
		t := CompareTrend(g.Count(), prevCounts[g.Key])
		return CategoryAnalytics{
			Category:         g.Key,
			Count:            g.Count(),
			Percentage:       percentage(g.Count(), total),
			PreviousCount:    prevCounts[g.Key],
			PercentageChange: t.PercentChange,
			TrendDirection:   t.TrendDirection,
			FirstSeen:        first,
			LastSeen:         last,
		}
	}, q.top(defaultTopCategories))
}

// MalwareFamilies ranks malware families among events that carry one.
func (e *Engine) MalwareFamilies(ctx context.Context, q Query) ([]MalwareFamilyAnalytics, error) {
	return run(ctx, e, "malware_families", q, e.malwareFamilies)
}

func (e *Engine) malwareFamilies(ctx context.Context, src source, q Query) ([]MalwareFamilyAnalytics, error) {
	events, err := src.events(ctx, q.filter())
	if err != nil {
		return nil, err
	}
	e.observer.EventsScanned("malware_families", len(events))
	has := func(ev Event) bool { return ev.MalwareFamily != nil }
	total := count(events, has)
	return GroupedAggregation(events, has, func(ev Event) uuid.UUID { return ev.MalwareFamily.ID }, func(g Group[uuid.UUID]) MalwareFamilyAnalytics {
		categories := distinctValues(g.Events, categoryOf, 0)
		first, last := firstLastSeen(g.Events)
		return MalwareFamilyAnalytics{
			MalwareFamilyID:      g.Key,
			FamilyName:           g.Events[0].MalwareFamily.Name,
			Count:                g.Count(),
			Percentage:           percentage(g.Count(), total),
			RiskScore:            e.scorer.MalwareFamily(g.Count(), len(categories)),
			AssociatedCategories: categories,
			TopSourceCountries:   distinctValues(g.Events, sourceCountryName, subListLen),
			FirstSeen:            first,
			LastSeen:             last,
		}
	}, q.top(defaultTopMalware))
}

// Geographical ranks source countries among events that carry one.
func (e *Engine) Geographical(ctx context.Context, q Query) ([]GeographicalAnalytics, error) {
	return run(ctx, e, "geographical", q, e.geographical)
}

func (e *Engine) geographical(ctx context.Context, src source, q Query) ([]GeographicalAnalytics, error) {
	events, err := src.events(ctx, q.filter())
	if err != nil {
		return nil, err
	}
	e.observer.EventsScanned("geographical", len(events))
	has := func(ev Event) bool { return ev.SourceCountry != nil }
	total := count(events, has)
	return GroupedAggregation(events, has, func(ev Event) uuid.UUID { return ev.SourceCountry.ID }, func(g Group[uuid.UUID]) GeographicalAnalytics {
		country := g.Events[0].SourceCountry
		return GeographicalAnalytics{
			CountryID:          g.Key,
			CountryName:        country.Name,
			CountryCode:        country.Code,
			Count:              g.Count(),
			Percentage:         percentage(g.Count(), total),
			IsSource:           true,
			TopCategories:      distinctValues(g.Events, categoryOf, subListLen),
			TopMalwareFamilies: distinctValues(g.Events, malwareName, subListLen),
			RiskScore:          e.scorer.Country(g.Count(), distinctCount(g.Events, categoryOf)),
		}
	}, q.top(defaultTopCountries))
}

// Asns ranks autonomous systems.
func (e *Engine) Asns(ctx context.Context, q Query) ([]AsnAnalytics, error) {
	return run(ctx, e, "asns", q, e.asns)
}

func (e *Engine) asns(ctx context.Context, src source, q Query) ([]AsnAnalytics, error) {
	events, err := src.events(ctx, q.filter())
	if err != nil {
		return nil, err
	}
	e.observer.EventsScanned("asns", len(events))
	total := len(events)
	return GroupedAggregation(events, All, func(ev Event) uuid.UUID { return ev.Asn.ID }, func(g Group[uuid.UUID]) AsnAnalytics {
		asn := g.Events[0].Asn
		return AsnAnalytics{
			AsnRegistryID:    g.Key,
			AsnNumber:        asn.Number,
			OrganizationName: asn.Description,
			Count:            g.Count(),
			Percentage:       percentage(g.Count(), total),
			TopCategories:    distinctValues(g.Events, categoryOf, subListLen),
			TopSourceIps:     distinctValues(g.Events, sourceAddress, subListLong),
			RiskScore:        e.scorer.Asn(g.Count(), distinctCount(g.Events, categoryOf)),
		}
	}, q.top(defaultTopAsns))
}

// Ports ranks source or destination ports among events that carry one.
func (e *Engine) Ports(ctx context.Context, q Query, isSource bool) ([]PortAnalytics, error) {
	return run(ctx, e, "ports", q, func(ctx context.Context, src source, q Query) ([]PortAnalytics, error) {
		events, err := src.events(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		e.observer.EventsScanned("ports", len(events))
		portOf, portType := destinationPort, "destination"
		if isSource {
			portOf, portType = sourcePort, "source"
		}
		has := func(ev Event) bool {
			_, ok := portOf(ev)
			return ok
		}
		keyOf := func(ev Event) int {
			p, _ := portOf(ev)
			return p
		}
		total := count(events, has)
		return GroupedAggregation(events, has, keyOf, func(g Group[int]) PortAnalytics {
			return PortAnalytics{
				Port:               g.Key,
				PortType:           portType,
				Count:              g.Count(),
				Percentage:         percentage(g.Count(), total),
				AssociatedServices: KnownServices(g.Key),
				TopCategories:      distinctValues(g.Events, categoryOf, subListShort),
				RiskScore:          e.scorer.Port(g.Key, g.Count()),
			}
		}, q.top(defaultTopPorts))
	})
}

// Protocols ranks protocols among events that carry one. Without a top count every
// protocol is returned.
func (e *Engine) Protocols(ctx context.Context, q Query) ([]ProtocolAnalytics, error) {
	return run(ctx, e, "protocols", q, func(ctx context.Context, src source, q Query) ([]ProtocolAnalytics, error) {
		events, err := src.events(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		e.observer.EventsScanned("protocols", len(events))
		has := func(ev Event) bool { return ev.Protocol != nil }
		total := count(events, has)
		return GroupedAggregation(events, has, func(ev Event) uuid.UUID { return ev.Protocol.ID }, func(g Group[uuid.UUID]) ProtocolAnalytics {
			return ProtocolAnalytics{
				ProtocolID:    g.Key,
				ProtocolName:  g.Events[0].Protocol.Name,
				Count:         g.Count(),
				Percentage:    percentage(g.Count(), total),
				TopPorts:      distinctValues(g.Events, anyPort, subListLong),
				TopCategories: distinctValues(g.Events, categoryOf, subListLen),
			}
		}, q.TopCount)
	})
}

// IpReputation ranks source or destination addresses with an activity-based risk score.
func (e *Engine) IpReputation(ctx context.Context, q Query, isSource bool) ([]IpReputationAnalytics, error) {
	return run(ctx, e, "ip_reputation", q, func(ctx context.Context, src source, q Query) ([]IpReputationAnalytics, error) {
		events, err := src.events(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		e.observer.EventsScanned("ip_reputation", len(events))
		addressOf, ipType := func(ev Event) string { return ev.DestinationAddress }, "destination"
		if isSource {
			addressOf, ipType = func(ev Event) string { return ev.SourceAddress }, "source"
		}
		has := func(ev Event) bool { return addressOf(ev) != "" }
		return GroupedAggregation(events, has, addressOf, func(g Group[string]) IpReputationAnalytics {
			categories := distinctValues(g.Events, categoryOf, 0)
			first, last := firstLastSeen(g.Events)
			res := IpReputationAnalytics{
				IPAddress:            g.Key,
				IPType:               ipType,
				Count:                g.Count(),
				RiskScore:            e.scorer.IP(g.Count(), len(categories)),
				CountryName:          "Unknown",
				AsnOrganization:      "Unknown",
				AssociatedCategories: categories,
				FirstSeen:            first,
				LastSeen:             last,
			}
			head := g.Events[0]
			if isSource {
				res.CountryName = refName(head.SourceCountry)
				if label := head.Asn.Label(); label != "" {
					res.AsnOrganization = label
				}
			} else {
				res.CountryName = refName(head.DestinationCountry)
			}
			return res
		}, q.top(defaultTopIPs))
	})
}

func malwareTimeline(events []Event, iv Interval) []MalwareTimelineDataPoint {
	type key struct {
		ts   time.Time
		name string
	}
	counts := make(map[key]int)
	b := Bucketer[Event]{Interval: iv, TimestampOf: EventTime}
	for _, ev := range events {
		if ev.MalwareFamily == nil {
			continue
		}
		counts[key{b.Bucket(ev), ev.MalwareFamily.Name}]++
	}
	out := make([]MalwareTimelineDataPoint, 0, len(counts))
	for k, n := range counts {
		out = append(out, MalwareTimelineDataPoint{Timestamp: k.ts, MalwareFamilyName: k.name, Count: n})
	}
	slices.SortFunc(out, func(a, b MalwareTimelineDataPoint) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.MalwareFamilyName, b.MalwareFamilyName)
	})
	return out
}

func count(events []Event, pred Predicate) int {
	n := 0
	for _, ev := range events {
		if pred(ev) {
			n++
		}
	}
	return n
}

func sourceAddress(e Event) (string, bool) { return e.SourceAddress, e.SourceAddress != "" }

func destinationAddress(e Event) (string, bool) {
	return e.DestinationAddress, e.DestinationAddress != ""
}

func malwareID(e Event) (uuid.UUID, bool) {
	if e.MalwareFamily == nil {
		return uuid.Nil, false
	}
	return e.MalwareFamily.ID, true
}

func sourceCountryID(e Event) (uuid.UUID, bool) {
	if e.SourceCountry == nil {
		return uuid.Nil, false
	}
	return e.SourceCountry.ID, true
}

func destinationCountryName(e Event) (string, bool) {
	if e.DestinationCountry == nil {
		return "", false
	}
	return e.DestinationCountry.Name, true
}

func sourceCountryName(e Event) (string, bool) {
	if e.SourceCountry == nil {
		return "", false
	}
	return e.SourceCountry.Name, true
}

func malwareName(e Event) (string, bool) {
	if e.MalwareFamily == nil {
		return "", false
	}
	return e.MalwareFamily.Name, true
}

func sourcePort(e Event) (int, bool) {
	if e.SourcePort == nil {
		return 0, false
	}
	return *e.SourcePort, true
}

func destinationPort(e Event) (int, bool) {
	if e.DestinationPort == nil {
		return 0, false
	}
	return *e.DestinationPort, true
}

// anyPort prefers the source port.
func anyPort(e Event) (int, bool) {
	if p, ok := sourcePort(e); ok {
		return p, true
	}
	return destinationPort(e)
}
