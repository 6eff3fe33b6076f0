package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Get/SetEnabled for an unknown task id.
	ErrNotFound = errors.New("lease not found")

	// ErrUnavailable wraps store connectivity failures. Callers must not
	// read it as "another process holds the lease".
	ErrUnavailable = errors.New("lease store unavailable")
)

// TaskLease is the durable per-task row shared by every process in the fleet.
//
// LockedAt non-nil is the only signal of "currently running". It must never
// survive the end of an attempt; a stuck non-nil value is an orphaned lock.
type TaskLease struct {
	TaskID         string
	LockedAt       *time.Time
	LastExecutedAt *time.Time
	LastResult     string
	Enabled        bool
}

func (l TaskLease) IsRunning() bool { return l.LockedAt != nil }

// Store is the lease arbitration contract. All operations are atomic at the
// row level; implementations must not widen them into read-then-write pairs.
type Store interface {
	// EnsureRow inserts the row for taskID if absent; a concurrent insert
	// from another process is not an error (first writer wins).
	EnsureRow(ctx context.Context, taskID string, enabled bool) error

	// TryClaim transitions the row from available to locked in one
	// conditional statement. It reports whether this caller won the claim.
	// Disabled rows are never claimable.
	TryClaim(ctx context.Context, taskID string, now time.Time) (bool, error)

	// Release clears the lock unconditionally and records the outcome.
	// The current holder always owns the release, however the attempt ended.
	Release(ctx context.Context, taskID string, result string, executedAt time.Time) error

	// SetEnabled flips the operator suppression flag.
	SetEnabled(ctx context.Context, taskID string, enabled bool) error

	Get(ctx context.Context, taskID string) (TaskLease, error)
	List(ctx context.Context) ([]TaskLease, error)

	Close() error
}

// FailureResult serializes a failure outcome for the last_result column.
func FailureResult(msg string) string {
	b, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if err != nil {
		return `{"error":"unserializable failure"}`
	}
	return string(b)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
