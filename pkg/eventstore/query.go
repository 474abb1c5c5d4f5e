package eventstore

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"threatlens/pkg/analytics"
)

const selectEvents = `
SELECT te.id, te."timestamp",
       a.id, a.number, a.description,
       te.source_address, COALESCE(te.destination_address, ''),
       sc.id, sc.name, sc.code,
       dc.id, dc.name, dc.code,
       te.source_port, te.destination_port,
       p.id, p.name,
       te.category,
       mf.id, mf.name
FROM threat_events te
JOIN asn_registries a ON a.id = te.asn_registry_id
LEFT JOIN countries sc ON sc.id = te.source_country_id
LEFT JOIN countries dc ON dc.id = te.destination_country_id
LEFT JOIN protocols p ON p.id = te.protocol_id
LEFT JOIN malware_families mf ON mf.id = te.malware_family_id`

// whereClause renders f as a parameterised WHERE clause. Soft-deleted rows are
// always excluded; an empty tenant scope matches nothing.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereClause) String() string {
	return "WHERE " + strings.Join(w.conds, " AND ")
}

func buildWhere(f analytics.Filter) *whereClause {
	w := &whereClause{conds: []string{"te.deleted_at IS NULL"}}
	if !f.Start.IsZero() {
		w.add(`te."timestamp" >= $%d`, f.Start.UTC())
	}
	if !f.End.IsZero() {
		w.add(`te."timestamp" <= $%d`, f.End.UTC())
	}
	if !f.Scope.Global() {
		ids := f.Scope.AsnIDs()
		asns := make([]string, len(ids))
		for i, id := range ids {
			asns[i] = id.String()
		}
		w.add("te.asn_registry_id = ANY($%d::uuid[])", pq.Array(asns))
	}
	if f.Category != "" {
		w.add("te.category = $%d", f.Category)
	}
	if f.MalwareFamilyID != nil {
		w.add("te.malware_family_id = $%d", *f.MalwareFamilyID)
	}
	if f.SourceCountryID != nil {
		w.add("te.source_country_id = $%d", *f.SourceCountryID)
	}
	return w
}

func eventsQuery(f analytics.Filter) (string, []any) {
	w := buildWhere(f)
	return selectEvents + "\n" + w.String() + "\nORDER BY te.\"timestamp\", te.id", w.args
}

func countQuery(f analytics.Filter) (string, []any) {
	w := buildWhere(f)
	return "SELECT COUNT(*) FROM threat_events te " + w.String(), w.args
}

var truncUnits = map[analytics.Interval]string{
	analytics.Hour:  "hour",
	analytics.Day:   "day",
	analytics.Week:  "week",
	analytics.Month: "month",
}

// bucketExpr returns the SQL bucket expression for iv. Unknown widths bucket
// by day, matching analytics.BucketStart.
func bucketExpr(iv analytics.Interval, timescale bool) string {
	unit, ok := truncUnits[iv]
	if !ok {
		unit = "day"
	}
	if timescale {
		return fmt.Sprintf(`time_bucket(INTERVAL '1 %s', te."timestamp")`, unit)
	}
	return fmt.Sprintf(`date_trunc('%s', te."timestamp" AT TIME ZONE 'UTC')`, unit)
}

func timelineQuery(f analytics.Filter, iv analytics.Interval, timescale bool) (string, []any) {
	w := buildWhere(f)
	q := fmt.Sprintf(`SELECT %s AS bucket,
       COALESCE(NULLIF(te.category, ''), 'Unknown') AS category,
       COUNT(*),
       COUNT(DISTINCT NULLIF(te.source_address, '')),
       COUNT(DISTINCT NULLIF(te.destination_address, ''))
FROM threat_events te
%s
GROUP BY 1, 2`, bucketExpr(iv, timescale), w.String())
	return q, w.args
}
