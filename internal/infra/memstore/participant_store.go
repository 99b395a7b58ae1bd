package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam_dispatch_engine/internal/domain/participant"
)

type ParticipantStore struct {
	mu    sync.RWMutex
	byID  map[string]*participant.Participant
	pages int
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{byID: make(map[string]*participant.Participant)}
}

// Add inserts or replaces a participant.
func (s *ParticipantStore) Add(p *participant.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.byID[cp.ID] = &cp
}

func (s *ParticipantStore) GetByID(_ context.Context, id string) (*participant.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, participant.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ParticipantStore) ListActivePage(_ context.Context, afterID string, limit int) ([]*participant.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages++

	ids := make([]string, 0, len(s.byID))
	for id, p := range s.byID {
		if id > afterID && p.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*participant.Participant, 0, len(ids))
	for _, id := range ids {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}

// PagesServed returns how many pages have been read, for asserting streamed access.
func (s *ParticipantStore) PagesServed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages
}
