package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam_dispatch_engine/internal/domain/notification"

	"github.com/google/uuid"
)

type DispatchLogStore struct {
	mu      sync.RWMutex
	entries map[notification.Key]*notification.LogEntry
	order   []notification.Key
	inserts int
}

func NewDispatchLogStore() *DispatchLogStore {
	return &DispatchLogStore{entries: make(map[notification.Key]*notification.LogEntry)}
}

func (s *DispatchLogStore) HasSent(_ context.Context, key notification.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return ok && e.Status == notification.DispatchSent, nil
}

func (s *DispatchLogStore) Claim(_ context.Context, key notification.Key, now time.Time, opts notification.ClaimOptions) (*notification.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[key]
	if !ok {
		e := &notification.LogEntry{
			ID:        uuid.NewString(),
			Key:       key,
			Status:    notification.DispatchPending,
			Attempts:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.entries[key] = e
		s.order = append(s.order, key)
		s.inserts++
		cp := *e
		return &cp, nil
	}

	if !claimable(existing, now, opts) {
		return nil, notification.ErrNotClaimed
	}
	existing.Status = notification.DispatchPending
	existing.Attempts++
	existing.ErrorMessage.Valid = false
	existing.ErrorMessage.String = ""
	existing.UpdatedAt = now
	cp := *existing
	return &cp, nil
}

func claimable(e *notification.LogEntry, now time.Time, opts notification.ClaimOptions) bool {
	switch e.Status {
	case notification.DispatchFailed:
		return opts.MaxAttempts <= 0 || e.Attempts < opts.MaxAttempts
	case notification.DispatchPending:
		return opts.StaleAfter > 0 && e.UpdatedAt.Before(now.Add(-opts.StaleAfter))
	default:
		return false
	}
}

// Complete fails with ErrEntryNotPending when the entry was taken over since it was claimed.
func (s *DispatchLogStore) Complete(_ context.Context, entry *notification.LogEntry, outcome notification.Outcome, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entry.Key]
	if !ok || e.ID != entry.ID || e.Attempts != entry.Attempts || e.Status != notification.DispatchPending {
		return notification.ErrEntryNotPending
	}
	e.Status = outcome.Status
	e.UpdatedAt = now
	if outcome.ProviderRef != "" {
		e.ProviderRef.String = outcome.ProviderRef
		e.ProviderRef.Valid = true
	}
	if outcome.Status == notification.DispatchSent {
		e.SentAt.Time = now
		e.SentAt.Valid = true
	} else {
		e.ErrorMessage.String = outcome.Reason
		e.ErrorMessage.Valid = true
	}
	*entry = *e
	return nil
}

func (s *DispatchLogStore) ListFailed(_ context.Context, scheduleID string, t notification.Type, maxAttempts int) ([]*notification.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*notification.LogEntry, 0)
	for _, key := range s.order {
		e := s.entries[key]
		if key.ScheduleID != scheduleID || key.Type != t || e.Status != notification.DispatchFailed {
			continue
		}
		if maxAttempts > 0 && e.Attempts >= maxAttempts {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *DispatchLogStore) CountByStatus(_ context.Context, scheduleID string) ([]notification.StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type group struct {
		t  notification.Type
		ch notification.Channel
		st notification.DispatchStatus
	}
	counts := make(map[group]int)
	for key, e := range s.entries {
		if key.ScheduleID == scheduleID {
			counts[group{key.Type, key.Channel, e.Status}]++
		}
	}
	out := make([]notification.StatusCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, notification.StatusCount{Type: g.t, Channel: g.ch, Status: g.st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// Entries returns a snapshot of every entry in insertion order.
func (s *DispatchLogStore) Entries() []notification.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notification.LogEntry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.entries[key])
	}
	return out
}

// Inserts returns how many distinct entries were ever created.
func (s *DispatchLogStore) Inserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inserts
}
