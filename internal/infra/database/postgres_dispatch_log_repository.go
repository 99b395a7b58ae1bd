package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam_dispatch_engine/internal/domain/notification"

	"github.com/google/uuid"
)

const dispatchReturning = `id, status, attempts, provider_ref, error_message, sent_at, created_at, updated_at`

type PostgresDispatchLogRepository struct {
	db *sql.DB
}

func NewPostgresDispatchLogRepository(db *sql.DB) *PostgresDispatchLogRepository {
	return &PostgresDispatchLogRepository{db: db}
}

func (r *PostgresDispatchLogRepository) HasSent(ctx context.Context, key notification.Key) (bool, error) {
	if !validID(key.ScheduleID) {
		return false, nil
	}
	query := `SELECT EXISTS (
	              SELECT 1 FROM notification_dispatch_logs
	              WHERE schedule_id = $1 AND student_id = $2 AND notif_type = $3 AND channel = $4 AND status = 'SENT')`
	var sent bool
	err := r.db.QueryRowContext(ctx, query, key.ScheduleID, key.ParticipantID, string(key.Type), string(key.Channel)).Scan(&sent)
	if err != nil {
		return false, fmt.Errorf("error checking dispatch log: %w", err)
	}
	return sent, nil
}

// Claim inserts the key as PENDING, or takes over a FAILED entry with attempts left or a
// PENDING entry older than opts.StaleAfter. The unique natural key makes the upsert the
// single gate in front of the channel call: anything else yields ErrNotClaimed.
func (r *PostgresDispatchLogRepository) Claim(ctx context.Context, key notification.Key, now time.Time, opts notification.ClaimOptions) (*notification.LogEntry, error) {
	query := `INSERT INTO notification_dispatch_logs AS l
	              (id, schedule_id, student_id, notif_type, channel, status, attempts, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, 'PENDING', 1, $6::timestamptz, $6::timestamptz)
	          ON CONFLICT ON CONSTRAINT ` + dispatchNaturalKeyConstraint + ` DO UPDATE
	          SET status = 'PENDING',
	              attempts = l.attempts + 1,
	              error_message = NULL,
	              updated_at = EXCLUDED.updated_at
	          WHERE (l.status = 'FAILED' AND ($7::int <= 0 OR l.attempts < $7::int))
	             OR (l.status = 'PENDING' AND $8::float8 > 0
	                 AND l.updated_at < $6::timestamptz - make_interval(secs => $8::float8))
	          RETURNING ` + dispatchReturning

	entry := &notification.LogEntry{Key: key}
	err := scanEntry(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), key.ScheduleID, key.ParticipantID, string(key.Type), string(key.Channel),
		now, opts.MaxAttempts, opts.StaleAfter.Seconds(),
	), entry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrNotClaimed
		}
		return nil, fmt.Errorf("error claiming dispatch log entry: %w", err)
	}
	return entry, nil
}

// Complete records the outcome of a claimed entry and refreshes entry from the stored row.
func (r *PostgresDispatchLogRepository) Complete(ctx context.Context, entry *notification.LogEntry, outcome notification.Outcome, now time.Time) error {
	var providerRef, errorMessage sql.NullString
	var sentAt sql.NullTime
	if outcome.ProviderRef != "" {
		providerRef = sql.NullString{String: outcome.ProviderRef, Valid: true}
	}
	if outcome.Status == notification.DispatchSent {
		sentAt = sql.NullTime{Time: now, Valid: true}
	} else {
		errorMessage = sql.NullString{String: outcome.Reason, Valid: true}
	}

	query := `UPDATE notification_dispatch_logs
	          SET status = $3, provider_ref = COALESCE($4, provider_ref), error_message = $5,
	              sent_at = $6, updated_at = $7
	          WHERE id = $1 AND attempts = $2 AND status = 'PENDING'
	          RETURNING ` + dispatchReturning

	updated := &notification.LogEntry{Key: entry.Key}
	err := scanEntry(r.db.QueryRowContext(ctx, query,
		entry.ID, entry.Attempts, string(outcome.Status), providerRef, errorMessage, sentAt, now,
	), updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notification.ErrEntryNotPending
		}
		return fmt.Errorf("error completing dispatch log entry: %w", err)
	}
	*entry = *updated
	return nil
}

func (r *PostgresDispatchLogRepository) ListFailed(ctx context.Context, scheduleID string, t notification.Type, maxAttempts int) ([]*notification.LogEntry, error) {
	if !validID(scheduleID) {
		return nil, nil
	}
	query := `SELECT schedule_id, student_id, notif_type, channel, ` + dispatchReturning + `
	          FROM notification_dispatch_logs
	          WHERE schedule_id = $1 AND notif_type = $2 AND status = 'FAILED'
	            AND ($3::int <= 0 OR attempts < $3::int)
	          ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, scheduleID, string(t), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("error listing failed dispatches: %w", err)
	}
	defer rows.Close()

	var out []*notification.LogEntry
	for rows.Next() {
		e := &notification.LogEntry{}
		var nt, ch string
		err := rows.Scan(&e.Key.ScheduleID, &e.Key.ParticipantID, &nt, &ch,
			&e.ID, (*string)(&e.Status), &e.Attempts, &e.ProviderRef, &e.ErrorMessage, &e.SentAt, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning dispatch log row: %w", err)
		}
		e.Key.Type = notification.Type(nt)
		e.Key.Channel = notification.Channel(ch)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch log rows: %w", err)
	}
	return out, nil
}

func (r *PostgresDispatchLogRepository) CountByStatus(ctx context.Context, scheduleID string) ([]notification.StatusCount, error) {
	if !validID(scheduleID) {
		return []notification.StatusCount{}, nil
	}
	query := `SELECT notif_type, channel, status, COUNT(*)
	          FROM notification_dispatch_logs
	          WHERE schedule_id = $1
	          GROUP BY notif_type, channel, status
	          ORDER BY notif_type, channel, status`

	rows, err := r.db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("error counting dispatches: %w", err)
	}
	defer rows.Close()

	out := make([]notification.StatusCount, 0)
	for rows.Next() {
		var c notification.StatusCount
		var nt, ch, st string
		if err := rows.Scan(&nt, &ch, &st, &c.Count); err != nil {
			return nil, fmt.Errorf("error scanning dispatch count row: %w", err)
		}
		c.Type = notification.Type(nt)
		c.Channel = notification.Channel(ch)
		c.Status = notification.DispatchStatus(st)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch count rows: %w", err)
	}
	return out, nil
}

func scanEntry(row rowScanner, e *notification.LogEntry) error {
	var status string
	err := row.Scan(&e.ID, &status, &e.Attempts, &e.ProviderRef, &e.ErrorMessage, &e.SentAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return err
	}
	e.Status = notification.DispatchStatus(status)
	return nil
}
