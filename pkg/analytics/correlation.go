package analytics

import (
	"fmt"
	"slices"
	"strconv"
)

// CorrelationType selects the dimension pair to mine.
type CorrelationType string

const (
	CategoryMalware CorrelationType = "category_malware"
	GeoPort         CorrelationType = "geo_port"
	AsnCategory     CorrelationType = "asn_category"
)

// maxCorrelations caps every mined pattern list.
const maxCorrelations = 10

// ParseCorrelationType rejects unknown correlation tags.
func ParseCorrelationType(tag string) (CorrelationType, error) {
	switch t := CorrelationType(tag); t {
	case CategoryMalware, GeoPort, AsnCategory:
		return t, nil
	default:
		return "", invalidf("unknown correlation type %q", tag)
	}
}

type CorrelationPattern struct {
	PatternType            CorrelationType `json:"pattern_type"`
	PrimaryKey             string          `json:"primary_key"`
	SecondaryKey           string          `json:"secondary_key"`
	CoOccurrenceCount      int             `json:"co_occurrence_count"`
	CorrelationStrength    float64         `json:"correlation_strength"`
	ConditionalProbability float64         `json:"conditional_probability"`
	Description            string          `json:"description"`
}

type pair struct {
	primary, secondary string
}

// miner describes one correlation type: how to extract the pair, the minimum
// co-occurrence to report (exclusive) and the description template.
type miner struct {
	pairOf    func(Event) (pair, bool)
	primaryOf func(Event) (string, bool)
	threshold int
	describe  func(pair) string
}

var miners = map[CorrelationType]miner{
	CategoryMalware: {
		pairOf: func(e Event) (pair, bool) {
			if e.MalwareFamily == nil {
				return pair{}, false
			}
			return pair{e.Category, e.MalwareFamily.Name}, true
		},
		primaryOf: func(e Event) (string, bool) { return e.Category, true },
		threshold: 1,
		describe: func(p pair) string {
			return fmt.Sprintf("Category '%s' frequently appears with malware family '%s'", p.primary, p.secondary)
		},
	},
	GeoPort: {
		pairOf: func(e Event) (pair, bool) {
			if e.SourceCountry == nil || e.SourcePort == nil {
				return pair{}, false
			}
			return pair{e.SourceCountry.Name, strconv.Itoa(*e.SourcePort)}, true
		},
		primaryOf: func(e Event) (string, bool) {
			if e.SourceCountry == nil {
				return "", false
			}
			return e.SourceCountry.Name, true
		},
		threshold: 2,
		describe: func(p pair) string {
			return fmt.Sprintf("Country '%s' frequently uses source port '%s'", p.primary, p.secondary)
		},
	},
	AsnCategory: {
		pairOf:    func(e Event) (pair, bool) { return pair{e.Asn.Label(), e.Category}, true },
		primaryOf: func(e Event) (string, bool) { return e.Asn.Label(), true },
		threshold: 1,
		describe: func(p pair) string {
			return fmt.Sprintf("ASN '%s' frequently associated with category '%s'", p.primary, p.secondary)
		},
	},
}

// MineCorrelations finds the ten strongest co-occurring value pairs of typ in events.
// Strength is relative to every event in the set; conditional probability is
// relative to events carrying the primary value.
func MineCorrelations(events []Event, typ CorrelationType) ([]CorrelationPattern, error) {
	m, ok := miners[typ]
	if !ok {
		return nil, invalidf("unknown correlation type %q", typ)
	}
	pairCounts := make(map[pair]int)
	var order []pair
	primaryCounts := make(map[string]int)
	for _, e := range events {
		if k, ok := m.primaryOf(e); ok {
			primaryCounts[k]++
		}
		p, ok := m.pairOf(e)
		if !ok {
			continue
		}
		if _, seen := pairCounts[p]; !seen {
			order = append(order, p)
		}
		pairCounts[p]++
	}

	total := len(events)
	out := []CorrelationPattern{}
	for _, p := range order {
		n := pairCounts[p]
		if n <= m.threshold {
			continue
		}
		out = append(out, CorrelationPattern{
			PatternType:            typ,
			PrimaryKey:             p.primary,
			SecondaryKey:           p.secondary,
			CoOccurrenceCount:      n,
			CorrelationStrength:    ratio(n, total),
			ConditionalProbability: ratio(n, primaryCounts[p.primary]),
			Description:            m.describe(p),
		})
	}
	slices.SortStableFunc(out, func(a, b CorrelationPattern) int {
		switch {
		case a.CorrelationStrength > b.CorrelationStrength:
			return -1
		case a.CorrelationStrength < b.CorrelationStrength:
			return 1
		}
		return 0
	})
	if len(out) > maxCorrelations {
		out = out[:maxCorrelations]
	}
	return out, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
