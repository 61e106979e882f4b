package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/duedeck/internal/domain"
)

// PutSyllabus claims the (user, course) upload slot for filePath. An existing
// slot is overwritten and its previous parse result cleared.
func (db *DB) PutSyllabus(ctx context.Context, userID, courseID, filePath string) (*domain.Syllabus, error) {
	s := domain.Syllabus{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  courseID,
		FilePath:  filePath,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO syllabi (id, user_id, course_id, file_path, created_at)
		VALUES (:id, :user_id, :course_id, :file_path, :created_at)
		ON CONFLICT (user_id, course_id) DO UPDATE SET
			file_path = excluded.file_path,
			parsed_at = NULL,
			raw_response = NULL
	`, s)
	if err != nil {
		return nil, fmt.Errorf("failed to store syllabus slot for course %s: %w", courseID, err)
	}

	var stored domain.Syllabus
	err = db.conn.GetContext(ctx, &stored, `
		SELECT * FROM syllabi WHERE user_id = ? AND course_id = ?
	`, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload syllabus slot for course %s: %w", courseID, err)
	}
	return &stored, nil
}

// FindSyllabus retrieves a syllabus slot by id. It returns nil, nil when absent.
func (db *DB) FindSyllabus(ctx context.Context, id string) (*domain.Syllabus, error) {
	var s domain.Syllabus
	if err := db.conn.GetContext(ctx, &s, `SELECT * FROM syllabi WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Syllabus not found
		}
		return nil, fmt.Errorf("failed to find syllabus %s: %w", id, err)
	}
	return &s, nil
}

// CompleteSyllabusParse inserts the extracted rows, stamps the slot with the
// raw payload and marks the course parsed, all or nothing.
func (db *DB) CompleteSyllabusParse(ctx context.Context, s domain.Syllabus, rows []domain.Assignment, raw string, at time.Time) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertAssignments(ctx, tx, rows); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE syllabi SET parsed_at = ?, raw_response = ? WHERE id = ?
		`, at.UTC(), raw, s.ID); err != nil {
			return fmt.Errorf("failed to stamp syllabus %s: %w", s.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE courses SET syllabus_parsed = 1 WHERE id = ?
		`, s.CourseID); err != nil {
			return fmt.Errorf("failed to mark course %s parsed: %w", s.CourseID, err)
		}
		return nil
	})
}
