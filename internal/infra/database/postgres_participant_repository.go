package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"exam_dispatch_engine/internal/domain/participant"
)

const defaultPageSize = 500

const participantColumns = `id, name, COALESCE(email, ''), COALESCE(mobile, ''), class_level, status, created_at`

// PostgresParticipantRepository reads the students table. The engine never writes it.
type PostgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) *PostgresParticipantRepository {
	return &PostgresParticipantRepository{db: db}
}

func (r *PostgresParticipantRepository) GetByID(ctx context.Context, id string) (*participant.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM students WHERE id = $1`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, participant.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("error getting student by ID: %w", err)
	}
	return p, nil
}

// ListActivePage uses keyset pagination on id so large audiences are never loaded at once.
func (r *PostgresParticipantRepository) ListActivePage(ctx context.Context, afterID string, limit int) ([]*participant.Participant, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := `SELECT ` + participantColumns + ` FROM students
	          WHERE status = $1 AND id > $2
	          ORDER BY id
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, string(participant.StatusActive), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing active students: %w", err)
	}
	defer rows.Close()

	out := make([]*participant.Participant, 0, limit)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning student row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating student rows: %w", err)
	}
	return out, nil
}

func scanParticipant(row rowScanner) (*participant.Participant, error) {
	p := &participant.Participant{}
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Mobile, &p.ClassLevel, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = participant.Status(status)
	return p, nil
}
