// Package memstore keeps schedules, participants and the dispatch log in process memory.
// It enforces the same uniqueness rules as the Postgres schema and backs local dry runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam_dispatch_engine/internal/domain/exam"

	"github.com/google/uuid"
)

type ScheduleStore struct {
	mu     sync.RWMutex
	byID   map[string]*exam.Schedule
	byDate map[string]string // exam date key -> schedule id
	loc    *time.Location
	now    func() time.Time

	// FailNext, when set, is returned by the next call and then cleared.
	FailNext error
}

func NewScheduleStore(loc *time.Location) *ScheduleStore {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleStore{
		byID:   make(map[string]*exam.Schedule),
		byDate: make(map[string]string),
		loc:    loc,
		now:    time.Now,
	}
}

// WithClock makes Create stamp CreatedAt and UpdatedAt from now instead of the wall clock.
func (s *ScheduleStore) WithClock(now func() time.Time) *ScheduleStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *ScheduleStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *ScheduleStore) Create(_ context.Context, sched *exam.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	key := exam.DateKey(sched.ExamDate)
	if _, exists := s.byDate[key]; exists {
		return exam.ErrDuplicateSchedule
	}
	now := s.now()
	sched.ID = uuid.NewString()
	sched.ExamDate = exam.CalendarDate(sched.ExamDate, s.loc)
	sched.CreatedAt = now
	sched.UpdatedAt = now

	stored := *sched
	s.byID[stored.ID] = &stored
	s.byDate[key] = stored.ID
	return nil
}

func (s *ScheduleStore) GetByID(_ context.Context, id string) (*exam.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	sched, ok := s.byID[id]
	if !ok {
		return nil, exam.ErrScheduleNotFound
	}
	out := *sched
	return &out, nil
}

func (s *ScheduleStore) GetByExamDate(_ context.Context, examDate time.Time) (*exam.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	id, ok := s.byDate[exam.DateKey(examDate)]
	if !ok {
		return nil, exam.ErrScheduleNotFound
	}
	out := *s.byID[id]
	return &out, nil
}

func (s *ScheduleStore) ListByStatus(_ context.Context, statuses ...exam.Status) ([]*exam.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]*exam.Schedule, 0)
	for _, sched := range s.byID {
		if containsStatus(statuses, sched.Status) {
			cp := *sched
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExamDate.Before(out[j].ExamDate) })
	return out, nil
}

func (s *ScheduleStore) TransitionStatus(_ context.Context, id string, from []exam.Status, to exam.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return false, err
	}
	sched, ok := s.byID[id]
	if !ok {
		return false, exam.ErrScheduleNotFound
	}
	if !containsStatus(from, sched.Status) {
		return false, nil
	}
	sched.Status = to
	sched.UpdatedAt = at
	if to == exam.StatusNotifying && !sched.NotificationsStartedAt.Valid {
		sched.NotificationsStartedAt.Time = at
		sched.NotificationsStartedAt.Valid = true
	}
	return true, nil
}

// Count returns the number of stored schedules.
func (s *ScheduleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func containsStatus(statuses []exam.Status, st exam.Status) bool {
	for _, candidate := range statuses {
		if candidate == st {
			return true
		}
	}
	return false
}
