package analytics

import (
	"bytes"
	"context"
	"slices"

	"github.com/google/uuid"
)

// MembershipSource returns the ASNs a tenant currently owns. Ownership is a snapshot:
// historical events attribute to whoever owns their ASN now.
type MembershipSource interface {
	TenantAsns(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

// StaticMembership is an in-memory tenant to ASN table.
type StaticMembership map[uuid.UUID][]uuid.UUID

func (m StaticMembership) TenantAsns(_ context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return slices.Clone(m[tenantID]), nil
}

// Scope is the set of ASNs visible to one tenant. A nil *Scope is the global view and
// contains every ASN; a tenant owning no ASNs has an empty, non-nil scope.
type Scope struct {
	TenantID uuid.UUID
	asns     map[uuid.UUID]struct{}
}

// NewScope builds the scope of tenantID over asns.
func NewScope(tenantID uuid.UUID, asns []uuid.UUID) *Scope {
	s := &Scope{TenantID: tenantID, asns: make(map[uuid.UUID]struct{}, len(asns))}
	for _, id := range asns {
		s.asns[id] = struct{}{}
	}
	return s
}

// Contains reports whether events on asnID are visible.
func (s *Scope) Contains(asnID uuid.UUID) bool {
	if s == nil {
		return true
	}
	_, ok := s.asns[asnID]
	return ok
}

// Global reports whether s places no restriction.
func (s *Scope) Global() bool { return s == nil }

// AsnIDs returns the owned ASNs in a stable order.
func (s *Scope) AsnIDs() []uuid.UUID {
	if s == nil {
		return nil
	}
	out := make([]uuid.UUID, 0, len(s.asns))
	for id := range s.asns {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// Predicate returns the scope as an event predicate.
func (s *Scope) Predicate() Predicate {
	return func(e Event) bool { return s.Contains(e.Asn.ID) }
}

// ResolveScope loads the scope for tenantID. A nil tenantID yields the global view.
func ResolveScope(ctx context.Context, src MembershipSource, tenantID *uuid.UUID) (*Scope, error) {
	if tenantID == nil {
		return nil, nil
	}
	if src == nil {
		return NewScope(*tenantID, nil), nil
	}
	asns, err := src.TenantAsns(ctx, *tenantID)
	if err != nil {
		return nil, upstream(ctx, "tenant membership", err)
	}
	return NewScope(*tenantID, asns), nil
}
