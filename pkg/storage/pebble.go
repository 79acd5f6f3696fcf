package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/solroute-labs/solroute/pkg/order"
)

// PebbleStore persists orders and job records in a Pebble keyspace.
type PebbleStore struct {
	db *pebble.DB

	// mu serializes read-modify-write order updates. Each order has a
	// single executor at a time, so one lock is enough.
	mu sync.Mutex
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) SaveOrder(o order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.OrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetOrder(id string) (order.Order, error) {
	val, closer, err := s.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("get order: %w", err)
	}
	defer closer.Close()

	var o order.Order
	if err := json.Unmarshal(val, &o); err != nil {
		return order.Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	return o, nil
}

func (s *PebbleStore) UpdateOrder(id string, apply func(*order.Order) error) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.GetOrder(id)
	if err != nil {
		return order.Order{}, err
	}
	if err := apply(&o); err != nil {
		return order.Order{}, err
	}
	if err := s.SaveOrder(o); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *PebbleStore) CountByStatus() (map[order.Status]int, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	counts := make(map[order.Status]int)
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		counts[o.Status]++
	}
	return counts, nil
}

func (s *PebbleStore) SaveJob(rec JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.db.Set(jobKey(rec.JobID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetJob(id string) (JobRecord, bool, error) {
	val, closer, err := s.db.Get(jobKey(id))
	if err == pebble.ErrNotFound {
		return JobRecord{}, false, nil
	}
	if err != nil {
		return JobRecord{}, false, fmt.Errorf("get job: %w", err)
	}
	defer closer.Close()

	var rec JobRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return JobRecord{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return rec, true, nil
}

func (s *PebbleStore) DeleteJob(id string) error {
	if err := s.db.Delete(jobKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *PebbleStore) ListJobs() ([]JobRecord, error) {
	prefix := []byte(prefixJob)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var recs []JobRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec JobRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

var _ Store = (*PebbleStore)(nil)
