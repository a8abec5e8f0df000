package store

import (
	"errors"

	"github.com/Sternrassler/whatsnews-mirror/pkg/retry"
	"github.com/lib/pq"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Postgres error codes treated as transient contention.
const (
	CodeDeadlockDetected     pq.ErrorCode = "40P01"
	CodeSerializationFailure pq.ErrorCode = "40001"
	CodeLockNotAvailable     pq.ErrorCode = "55P03"
)

// ClassifyError maps a store error to a retry class. Deadlocks,
// serialization failures and lock timeouts are transient contention;
// everything else is fatal.
func ClassifyError(err error) retry.ErrorClass {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return retry.ClassFatal
	}
	switch pqErr.Code {
	case CodeDeadlockDetected, CodeSerializationFailure, CodeLockNotAvailable:
		return retry.ClassTransientContention
	default:
		return retry.ClassFatal
	}
}
