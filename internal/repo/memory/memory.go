package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/repo"
)

// Store keeps cycle history in process memory, bounded to max records.
type Store struct {
	mu      sync.RWMutex
	max     int
	records []domain.CycleRecord // oldest first
	byID    map[string]int
}

const defaultMax = 10_000

func New() *Store {
	return NewBounded(defaultMax)
}

// NewBounded drops the oldest records once more than max are held.
func NewBounded(max int) *Store {
	if max < 1 {
		max = 1
	}
	return &Store{
		max:     max,
		records: make([]domain.CycleRecord, 0, 128),
		byID:    make(map[string]int),
	}
}

func (m *Store) Append(ctx context.Context, r *domain.CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if i, ok := m.byID[r.ID]; ok {
		m.records[i] = *r
		return nil
	}
	m.records = append(m.records, *r)
	if len(m.records) > m.max {
		drop := len(m.records) - m.max
		m.records = append(m.records[:0:0], m.records[drop:]...)
		m.reindex()
		return nil
	}
	m.byID[r.ID] = len(m.records) - 1
	return nil
}

func (m *Store) reindex() {
	m.byID = make(map[string]int, len(m.records))
	for i, r := range m.records {
		m.byID[r.ID] = i
	}
}

func (m *Store) Recent(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	limit = repo.ClampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.CycleRecord, 0, min(limit, len(m.records)))
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *Store) Get(ctx context.Context, id string) (*domain.CycleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	r := m.records[i]
	return &r, nil
}
