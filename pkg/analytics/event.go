// Package analytics turns filtered threat-event streams into dashboard aggregates:
// timelines, top-N rankings, distributions, trends, statistics, correlations and
// volume anomalies, optionally scoped to the ASNs a tenant owns.
package analytics

import (
	"time"

	"github.com/google/uuid"
)

// Ref is a resolved reference to a lookup row (country, malware family, protocol).
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Code string    `json:"code,omitempty"`
}

// Asn identifies the autonomous system an event was observed on.
type Asn struct {
	ID          uuid.UUID `json:"id"`
	Number      string    `json:"number"`
	Description string    `json:"description"`
}

// Label returns the description, falling back to the AS number.
func (a Asn) Label() string {
	if a.Description != "" {
		return a.Description
	}
	return a.Number
}

// Event is one threat observation as read from the event store.
type Event struct {
	ID                 uuid.UUID  `json:"id"`
	Timestamp          time.Time  `json:"timestamp"`
	Asn                Asn        `json:"asn"`
	SourceAddress      string     `json:"source_address"`
	DestinationAddress string     `json:"destination_address,omitempty"`
	SourceCountry      *Ref       `json:"source_country,omitempty"`
	DestinationCountry *Ref       `json:"destination_country,omitempty"`
	SourcePort         *int       `json:"source_port,omitempty"`
	DestinationPort    *int       `json:"destination_port,omitempty"`
	Protocol           *Ref       `json:"protocol,omitempty"`
	Category           string     `json:"category"`
	MalwareFamily      *Ref       `json:"malware_family,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// Predicate selects events.
type Predicate func(Event) bool

// All matches every event.
func All(Event) bool { return true }

// And combines predicates; a nil predicate matches everything.
func And(preds ...Predicate) Predicate {
	return func(e Event) bool {
		for _, p := range preds {
			if p != nil && !p(e) {
				return false
			}
		}
		return true
	}
}

// Between matches events with start <= timestamp <= end.
func Between(start, end time.Time) Predicate {
	return func(e Event) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	}
}

// Live matches events that are not soft deleted.
func Live(e Event) bool { return e.DeletedAt == nil }

func refName(r *Ref) string {
	if r == nil {
		return "Unknown"
	}
	return r.Name
}
