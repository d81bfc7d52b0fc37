package waste

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	OwnerID string
	Type    Type
	Status  Status
	From    time.Time
	To      time.Time
	Limit   int
}

// Service defines the record lifecycle operations exposed to transports.
// State transitions are serialized per record by the implementation; the
// transition rules themselves live in machine.go.
type Service interface {
	Create(ctx context.Context, ownerID string, d Details) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	Update(ctx context.Context, id, ownerID string, d Details) (Record, error)
	Delete(ctx context.Context, id, ownerID string) error
	Collect(ctx context.Context, id, adminID string) (Record, error)
	Process(ctx context.Context, id, adminID, notes string, disposition Disposition) (Record, error)
	Validate(ctx context.Context, id, adminID, notes string) (Record, error)
	Reject(ctx context.Context, id, adminID, notes string) (Record, error)
}

// InMemory implements Service with in-process concurrency safety. The
// single lock serializes transitions per record, which is the store's job
// under the concurrency model.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Record
	catalog Catalog
	now     func() time.Time
}

// InMemoryOption configures InMemory.
type InMemoryOption func(*InMemory)

// WithCatalog overrides the scoring reference data.
func WithCatalog(c Catalog) InMemoryOption {
	return func(s *InMemory) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty record store with the default catalog.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		records: make(map[string]*Record),
		catalog: DefaultCatalog(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, ownerID string, d Details) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := NewRecord(uuid.NewString(), ownerID, d, s.now())
	if err != nil {
		return Record{}, err
	}
	s.records[rec.ID] = &rec
	return rec.Clone(), nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if f.OwnerID != "" && rec.OwnerID != f.OwnerID {
			continue
		}
		if f.Type != "" && rec.Type != f.Type {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, id, ownerID string, d Details) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		return rec.UpdateDetails(ownerID, d, s.now())
	})
}

func (s *InMemory) Delete(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return ErrNotOwner
	}
	if rec.Status != StatusPending {
		return ErrRecordLocked
	}
	delete(s.records, id)
	return nil
}

func (s *InMemory) Collect(ctx context.Context, id, adminID string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		return rec.Collect(adminID, s.now())
	})
}

func (s *InMemory) Process(ctx context.Context, id, adminID, notes string, disposition Disposition) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		return rec.Process(adminID, notes, disposition, s.catalog.Lookup(rec.Type), s.now())
	})
}

func (s *InMemory) Validate(ctx context.Context, id, adminID, notes string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		return rec.Validate(adminID, notes, s.now())
	})
}

func (s *InMemory) Reject(ctx context.Context, id, adminID, notes string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		return rec.Reject(adminID, notes, s.now())
	})
}

// mutate applies op to a working copy and commits only on success, so a
// rejected transition never leaves partial field changes behind.
func (s *InMemory) mutate(id string, op func(*Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	work := rec.Clone()
	if err := op(&work); err != nil {
		return Record{}, err
	}
	s.records[id] = &work
	return work.Clone(), nil
}

var _ Service = (*InMemory)(nil)
