package participant

import (
	"context"
	"errors"
)

var ErrParticipantNotFound = errors.New("participant not found")

// Repository defines the read operations the engine needs on the participant store.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Participant, error)
	// ListActivePage returns up to limit ACTIVE participants with ID greater than afterID,
	// ordered by ID. An empty afterID starts from the beginning.
	ListActivePage(ctx context.Context, afterID string, limit int) ([]*Participant, error)
}

// ForEachActive walks the whole ACTIVE audience page by page, calling fn for every participant.
// Iteration stops at the first error returned by the repository, fn, or the context.
func ForEachActive(ctx context.Context, repo Repository, pageSize int, fn func(*Participant) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := repo.ListActivePage(ctx, afterID, pageSize)
		if err != nil {
			return err
		}
		for _, p := range page {
			if err := fn(p); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}
