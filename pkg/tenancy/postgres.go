// Package tenancy resolves which ASN registries a tenant owns.
package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatlens/pkg/database"
)

const tenantAsnsQuery = `
SELECT tar.asn_registry_id
FROM tenant_asn_registries tar
JOIN asn_registries a ON a.id = tar.asn_registry_id AND a.deleted_at IS NULL
WHERE tar.tenant_id = $1
ORDER BY tar.asn_registry_id`

// PostgresMembership reads current ownership from tenant_asn_registries.
type PostgresMembership struct {
	db *database.Database
}

func NewPostgresMembership(db *database.Database) *PostgresMembership {
	return &PostgresMembership{db: db}
}

func (m *PostgresMembership) TenantAsns(ctx context.Context, tenantID uuid.UUID) (ids []uuid.UUID, err error) {
	defer func(start time.Time) { m.db.ObserveQuery("tenant_asns", start, err) }(time.Now())

	rows, err := m.db.Replica().QueryContext(ctx, tenantAsnsQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tenant asns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant asn: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tenant asns: %w", err)
	}
	return ids, nil
}
