package database

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	scheduleExamDateConstraint   = "exam_schedules_exam_date_key"
	dispatchNaturalKeyConstraint = "notification_dispatch_logs_natural_key"
)

// schemaStatements create the tables the engine reads and writes.
// Every statement is idempotent so EnsureSchema can run on each start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS exam_schedules (
		id                       UUID PRIMARY KEY,
		exam_date                DATE NOT NULL,
		status                   TEXT NOT NULL DEFAULT 'SCHEDULED',
		is_recurring             BOOLEAN NOT NULL DEFAULT FALSE,
		auto_generate_questions  BOOLEAN NOT NULL DEFAULT FALSE,
		notifications_started_at TIMESTAMPTZ,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT ` + scheduleExamDateConstraint + ` UNIQUE (exam_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exam_schedules_status ON exam_schedules (status)`,
	`CREATE TABLE IF NOT EXISTS students (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT,
		mobile      TEXT,
		class_level INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'PENDING',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_students_status_id ON students (status, id)`,
	`CREATE TABLE IF NOT EXISTS notification_dispatch_logs (
		id            UUID PRIMARY KEY,
		schedule_id   UUID NOT NULL REFERENCES exam_schedules (id),
		student_id    TEXT NOT NULL,
		notif_type    TEXT NOT NULL,
		channel       TEXT NOT NULL,
		status        TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 1,
		provider_ref  TEXT,
		error_message TEXT,
		sent_at       TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT ` + dispatchNaturalKeyConstraint + ` UNIQUE (schedule_id, student_id, notif_type, channel)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatch_logs_schedule_type_status
		ON notification_dispatch_logs (schedule_id, notif_type, status)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
