// internal/domain/notification/repository.go
package notification

import (
	"context"
	"errors"
	"time"
)

// ErrNotClaimed means the key is already SENT, held by another sweep, or out of attempts.
var ErrNotClaimed = errors.New("dispatch log entry not claimable")

// ErrEntryNotPending is returned when completing an entry that is no longer PENDING.
var ErrEntryNotPending = errors.New("dispatch log entry is not pending")

// ClaimOptions bound when an existing entry may be taken over.
type ClaimOptions struct {
	MaxAttempts int           // FAILED entries with this many attempts stay failed
	StaleAfter  time.Duration // PENDING entries untouched for this long are reclaimed
}

// Repository is the dispatch log. The natural key (Key) is unique in the store.
type Repository interface {
	// HasSent reports whether an entry for key exists with status SENT.
	HasSent(ctx context.Context, key Key) (bool, error)
	// Claim creates a PENDING entry for key, or takes over a FAILED or stale PENDING entry.
	// Returns ErrNotClaimed when the unique key is held and cannot be taken over.
	Claim(ctx context.Context, key Key, now time.Time, opts ClaimOptions) (*LogEntry, error)
	// Complete records the outcome of a claimed entry.
	Complete(ctx context.Context, entry *LogEntry, outcome Outcome, now time.Time) error
	// ListFailed returns FAILED entries of a schedule and type that still have attempts left.
	ListFailed(ctx context.Context, scheduleID string, t Type, maxAttempts int) ([]*LogEntry, error)
	CountByStatus(ctx context.Context, scheduleID string) ([]StatusCount, error)
}
