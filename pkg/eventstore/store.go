// Package eventstore reads threat events from PostgreSQL (optionally
// TimescaleDB) for the analytics engine.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatlens/pkg/analytics"
	"threatlens/pkg/circuitbreaker"
	"threatlens/pkg/database"
)

// Store hands out one pinned replica connection per analytics call.
type Store struct {
	db        *database.Database
	timescale bool
	breaker   *circuitbreaker.Breaker
}

// Option configures a Store.
type Option func(*Store)

// WithTimescale buckets timelines with time_bucket instead of date_trunc.
func WithTimescale(enabled bool) Option {
	return func(s *Store) { s.timescale = enabled }
}

// WithBreaker fails Acquire fast while the database keeps refusing
// connections.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

// New returns a store over db.
func New(db *database.Database, opts ...Option) *Store {
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Acquire pins a connection. The returned handle also implements
// analytics.TimelineQuerier.
func (s *Store) Acquire(ctx context.Context) (analytics.Handle, error) {
	var conn *sql.Conn
	connect := func(ctx context.Context) (err error) {
		conn, err = s.db.Conn(ctx)
		return err
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, connect)
	} else {
		err = connect(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &handle{conn: conn, db: s.db, timescale: s.timescale}, nil
}

// querier is the subset of *sql.Conn the handle needs.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

type handle struct {
	conn      querier
	db        *database.Database
	timescale bool
}

func (h *handle) observe(name string, started time.Time, err error) {
	if h.db != nil {
		h.db.ObserveQuery(name, started, err)
	}
}

func (h *handle) Events(ctx context.Context, f analytics.Filter) (out []analytics.Event, err error) {
	defer func(start time.Time) { h.observe("events", start, err) }(time.Now())

	q, args := eventsQuery(f)
	rows, err := h.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func (h *handle) Count(ctx context.Context, f analytics.Filter) (n int, err error) {
	defer func(start time.Time) { h.observe("count", start, err) }(time.Now())

	q, args := countQuery(f)
	if err := h.conn.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (h *handle) Timeline(ctx context.Context, f analytics.Filter, iv analytics.Interval) (out []analytics.TimelineDataPoint, err error) {
	defer func(start time.Time) { h.observe("timeline", start, err) }(time.Now())

	q, args := timelineQuery(f, iv, h.timescale)
	rows, err := h.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p analytics.TimelineDataPoint
		if err := rows.Scan(&p.Timestamp, &p.Category, &p.Count, &p.UniqueSourceIps, &p.UniqueDestinationIps); err != nil {
			return nil, fmt.Errorf("scan timeline point: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	analytics.SortTimeline(out)
	return out, nil
}

func (h *handle) Close() error { return h.conn.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (analytics.Event, error) {
	var (
		e                    analytics.Event
		srcID, dstID         uuid.NullUUID
		srcName, srcCode     sql.NullString
		dstName, dstCode     sql.NullString
		srcPort, dstPort     sql.NullInt32
		protoID, malwareID   uuid.NullUUID
		protoName, malwareNm sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.Timestamp,
		&e.Asn.ID, &e.Asn.Number, &e.Asn.Description,
		&e.SourceAddress, &e.DestinationAddress,
		&srcID, &srcName, &srcCode,
		&dstID, &dstName, &dstCode,
		&srcPort, &dstPort,
		&protoID, &protoName,
		&e.Category,
		&malwareID, &malwareNm,
	)
	if err != nil {
		return analytics.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()
	e.SourceCountry = refOf(srcID, srcName, srcCode)
	e.DestinationCountry = refOf(dstID, dstName, dstCode)
	e.Protocol = refOf(protoID, protoName, sql.NullString{})
	e.MalwareFamily = refOf(malwareID, malwareNm, sql.NullString{})
	e.SourcePort = portOf(srcPort)
	e.DestinationPort = portOf(dstPort)
	return e, nil
}

func refOf(id uuid.NullUUID, name, code sql.NullString) *analytics.Ref {
	if !id.Valid {
		return nil
	}
	return &analytics.Ref{ID: id.UUID, Name: name.String, Code: code.String}
}

func portOf(p sql.NullInt32) *int {
	if !p.Valid {
		return nil
	}
	v := int(p.Int32)
	return &v
}
