package storage

import (
	"time"

	"github.com/solroute-labs/solroute/pkg/order"
)

// JobState tracks where a job record sits in the queue lifecycle.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobRecord is the durable form of a queued job. It outlives the process
// so interrupted work is redelivered on restart (at-least-once).
type JobRecord struct {
	JobID     string    `json:"jobId"`
	Job       order.Job `json:"job"`
	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts"`
	Priority  int       `json:"priority,omitempty"`
	NotBefore time.Time `json:"notBefore,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderStore persists order rows. The persisted row is the source of truth
// for an order's status; the distribution bus is best-effort on top.
type OrderStore interface {
	SaveOrder(o order.Order) error
	GetOrder(id string) (order.Order, error)
	// UpdateOrder applies a read-modify-write under the store's lock.
	UpdateOrder(id string, apply func(*order.Order) error) (order.Order, error)
	CountByStatus() (map[order.Status]int, error)
}

// JobStore persists queue job records.
type JobStore interface {
	SaveJob(rec JobRecord) error
	GetJob(id string) (JobRecord, bool, error)
	DeleteJob(id string) error
	ListJobs() ([]JobRecord, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	OrderStore
	JobStore
	Close() error
}
