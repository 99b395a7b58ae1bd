package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam_dispatch_engine/internal/domain/exam"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const scheduleColumns = `id, exam_date, status, is_recurring, auto_generate_questions,
	notifications_started_at, created_at, updated_at`

type PostgresScheduleRepository struct {
	db  *sql.DB
	loc *time.Location // exam dates are calendar days in this location
}

func NewPostgresScheduleRepository(db *sql.DB, loc *time.Location) *PostgresScheduleRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresScheduleRepository{db: db, loc: loc}
}

func (r *PostgresScheduleRepository) Create(ctx context.Context, s *exam.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	query := `INSERT INTO exam_schedules (id, exam_date, status, is_recurring, auto_generate_questions)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, s.ID, exam.DateKey(s.ExamDate), string(s.Status), s.Recurring, s.AutoGenerateQuestions).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		s.ID = ""
		if isUniqueViolation(err, scheduleExamDateConstraint) {
			return exam.ErrDuplicateSchedule
		}
		return fmt.Errorf("error creating exam schedule: %w", err)
	}
	s.ExamDate = exam.CalendarDate(s.ExamDate, r.loc)
	return nil
}

func (r *PostgresScheduleRepository) GetByID(ctx context.Context, id string) (*exam.Schedule, error) {
	if !validID(id) {
		return nil, exam.ErrScheduleNotFound
	}
	query := `SELECT ` + scheduleColumns + ` FROM exam_schedules WHERE id = $1`
	s, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exam.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("error getting exam schedule by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresScheduleRepository) GetByExamDate(ctx context.Context, examDate time.Time) (*exam.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM exam_schedules WHERE exam_date = $1`
	s, err := r.scanOne(r.db.QueryRowContext(ctx, query, exam.DateKey(examDate)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exam.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("error getting exam schedule by date: %w", err)
	}
	return s, nil
}

func (r *PostgresScheduleRepository) ListByStatus(ctx context.Context, statuses ...exam.Status) ([]*exam.Schedule, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `SELECT ` + scheduleColumns + ` FROM exam_schedules
	          WHERE status = ANY($1) ORDER BY exam_date`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("error listing exam schedules by status: %w", err)
	}
	defer rows.Close()

	var out []*exam.Schedule
	for rows.Next() {
		s, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning exam schedule row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exam schedule rows: %w", err)
	}
	return out, nil
}

// TransitionStatus moves the schedule to `to` only while it is in one of `from`.
// Entering NOTIFYING stamps notifications_started_at once.
func (r *PostgresScheduleRepository) TransitionStatus(ctx context.Context, id string, from []exam.Status, to exam.Status, at time.Time) (bool, error) {
	if !validID(id) {
		return false, exam.ErrScheduleNotFound
	}
	names := make([]string, len(from))
	for i, st := range from {
		names[i] = string(st)
	}
	query := `UPDATE exam_schedules
	          SET status = $2::text,
	              updated_at = $3::timestamptz,
	              notifications_started_at = CASE
	                  WHEN $2::text = 'NOTIFYING' AND notifications_started_at IS NULL THEN $3::timestamptz
	                  ELSE notifications_started_at END
	          WHERE id = $1 AND status = ANY($4)`

	res, err := r.db.ExecContext(ctx, query, id, string(to), at, pq.Array(names))
	if err != nil {
		return false, fmt.Errorf("error updating exam schedule status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for status update: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM exam_schedules WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking exam schedule existence: %w", err)
	}
	if !exists {
		return false, exam.ErrScheduleNotFound
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresScheduleRepository) scanOne(row rowScanner) (*exam.Schedule, error) {
	s := &exam.Schedule{}
	var status string
	err := row.Scan(&s.ID, &s.ExamDate, &status, &s.Recurring, &s.AutoGenerateQuestions,
		&s.NotificationsStartedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = exam.Status(status)
	s.ExamDate = exam.CalendarDate(s.ExamDate, r.loc)
	return s, nil
}
