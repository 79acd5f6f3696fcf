package storage

import (
	"sync"

	"github.com/solroute-labs/solroute/pkg/order"
)

// MemoryStore is an in-process Store for tests and single-shot tools.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
	jobs   map[string]JobRecord
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]order.Order),
		jobs:   make(map[string]JobRecord),
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) SaveOrder(o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
	return nil
}

func (s *MemoryStore) GetOrder(id string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) UpdateOrder(id string, apply func(*order.Order) error) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	if err := apply(&o); err != nil {
		return order.Order{}, err
	}
	s.orders[id] = o
	return o, nil
}

func (s *MemoryStore) CountByStatus() (map[order.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[order.Status]int)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) SaveJob(rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.JobID] = rec
	return nil
}

func (s *MemoryStore) GetJob(id string) (JobRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	return rec, ok, nil
}

func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) ListJobs() ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		recs = append(recs, rec)
	}
	return recs, nil
}

var _ Store = (*MemoryStore)(nil)
