package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	tenantA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	tenantB = uuid.MustParse("22222222-2222-2222-2222-222222222222")

	asnOwned   = Asn{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), Number: "AS64500", Description: "Owned Net"}
	asnForeign = Asn{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"), Number: "AS64501", Description: "Foreign Net"}

	countryNL = &Ref{ID: uuid.MustParse("cccccccc-0000-0000-0000-000000000001"), Name: "Netherlands", Code: "NL"}
	countryUS = &Ref{ID: uuid.MustParse("cccccccc-0000-0000-0000-000000000002"), Name: "United States", Code: "US"}

	emotet   = &Ref{ID: uuid.MustParse("dddddddd-0000-0000-0000-000000000001"), Name: "Emotet"}
	trickbot = &Ref{ID: uuid.MustParse("dddddddd-0000-0000-0000-000000000002"), Name: "TrickBot"}

	protoTCP = &Ref{ID: uuid.MustParse("eeeeeeee-0000-0000-0000-000000000001"), Name: "TCP"}
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func port(p int) *int { return &p }

type eventOpt func(*Event)

func withAsn(a Asn) eventOpt { return func(e *Event) { e.Asn = a } }
func withSource(ip string) eventOpt { return func(e *Event) { e.SourceAddress = ip } }
func withDest(ip string) eventOpt { return func(e *Event) { e.DestinationAddress = ip } }
func withCountry(c *Ref) eventOpt { return func(e *Event) { e.SourceCountry = c } }
func withDestCountry(c *Ref) eventOpt { return func(e *Event) { e.DestinationCountry = c } }
func withMalware(m *Ref) eventOpt { return func(e *Event) { e.MalwareFamily = m } }
func withSourcePort(p int) eventOpt { return func(e *Event) { e.SourcePort = port(p) } }
func withDestPort(p int) eventOpt { return func(e *Event) { e.DestinationPort = port(p) } }
func withProtocol(r *Ref) eventOpt { return func(e *Event) { e.Protocol = r } }
func deletedAt(ts time.Time) eventOpt { return func(e *Event) { e.DeletedAt = &ts } }

func ev(ts, category string, opts ...eventOpt) Event {
	e := Event{
		ID:            uuid.New(),
		Timestamp:     at(ts),
		Asn:           asnOwned,
		SourceAddress: "192.0.2.1",
		Category:      category,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func categoryKey(e Event) string { return e.Category }

// countingStore records how many handles were acquired and closed.
type countingStore struct {
	inner Store

	mu       sync.Mutex
	acquired int
	closed   int
}

func (s *countingStore) Acquire(ctx context.Context) (Handle, error) {
	h, err := s.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return &countingHandle{Handle: h, store: s}, nil
}

type countingHandle struct {
	Handle
	store *countingStore
}

func (h *countingHandle) Close() error {
	h.store.mu.Lock()
	h.store.closed++
	h.store.mu.Unlock()
	return h.Handle.Close()
}

var errBackend = errors.New("connection reset by peer")

type failingStore struct{ acquireErr, readErr error }

func (s failingStore) Acquire(context.Context) (Handle, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return failingHandle{err: s.readErr}, nil
}

type failingHandle struct{ err error }

func (h failingHandle) Events(context.Context, Filter) ([]Event, error) { return nil, h.err }
func (h failingHandle) Count(context.Context, Filter) (int, error) { return 0, h.err }
func (h failingHandle) Close() error { return nil }

type failingMembership struct{ err error }

func (m failingMembership) TenantAsns(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, m.err
}
