package order

import "errors"

var (
	// ErrNoQuotesAvailable means every configured venue failed to quote.
	ErrNoQuotesAvailable = errors.New("no quotes available")

	// ErrSettlement wraps failures of the external settlement primitive.
	ErrSettlement = errors.New("settlement failed")

	// ErrQueueUnavailable is returned by enqueue when the backing medium
	// is unreachable or the queue has been closed.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrDistributionUnavailable marks a failed status broadcast. Callers
	// log it and continue; the persisted order remains the source of truth.
	ErrDistributionUnavailable = errors.New("status distribution unavailable")

	// ErrUnsupportedKind is returned for order kinds without an executor.
	ErrUnsupportedKind = errors.New("unsupported order kind")

	ErrNotFound = errors.New("order not found")
)

// ValidationError rejects a malformed intake request before it is ever
// enqueued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
