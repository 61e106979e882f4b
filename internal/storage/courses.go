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

// UpsertLMSCourse inserts or refreshes the course keyed by (user, lms course id)
// and returns the stored row.
func (db *DB) UpsertLMSCourse(ctx context.Context, userID string, lmsCourseID int64, name string, shortName *string) (*domain.Course, error) {
	c := domain.Course{
		ID:          uuid.NewString(),
		UserID:      userID,
		LMSCourseID: lmsCourseID,
		Name:        name,
		ShortName:   shortName,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO courses (id, user_id, lms_course_id, name, short_name, syllabus_parsed, created_at)
		VALUES (:id, :user_id, :lms_course_id, :name, :short_name, 0, :created_at)
		ON CONFLICT (user_id, lms_course_id) DO UPDATE SET
			name = excluded.name,
			short_name = excluded.short_name
	`, c)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert course %d: %w", lmsCourseID, err)
	}

	var stored domain.Course
	err = db.conn.GetContext(ctx, &stored, `
		SELECT * FROM courses WHERE user_id = ? AND lms_course_id = ?
	`, userID, lmsCourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload course %d: %w", lmsCourseID, err)
	}
	return &stored, nil
}

// ListCourses returns every course of a user ordered by name.
func (db *DB) ListCourses(ctx context.Context, userID string) ([]domain.Course, error) {
	var courses []domain.Course
	err := db.conn.SelectContext(ctx, &courses, `
		SELECT * FROM courses WHERE user_id = ? ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses for user %s: %w", userID, err)
	}
	return courses, nil
}

// FindCourse retrieves one of a user's courses. It returns nil, nil when absent.
func (db *DB) FindCourse(ctx context.Context, userID, courseID string) (*domain.Course, error) {
	var c domain.Course
	err := db.conn.GetContext(ctx, &c, `SELECT * FROM courses WHERE id = ? AND user_id = ?`, courseID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Course not found
		}
		return nil, fmt.Errorf("failed to find course %s: %w", courseID, err)
	}
	return &c, nil
}

// DeleteCoursesNotIn removes a user's courses whose LMS id is not in keep.
// An empty keep set is a no-op so a transient empty response never wipes
// every course.
func (db *DB) DeleteCoursesNotIn(ctx context.Context, userID string, keep []int64) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM courses WHERE user_id = ? AND lms_course_id NOT IN (?)`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to build course cleanup: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale courses for user %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// LinkGradingCourse records the explicit grading-platform link for a course.
func (db *DB) LinkGradingCourse(ctx context.Context, courseID, gradingCourseID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE courses SET grading_course_id = ? WHERE id = ?
	`, gradingCourseID, courseID)
	if err != nil {
		return fmt.Errorf("failed to link course %s to %s: %w", courseID, gradingCourseID, err)
	}
	return nil
}

// StampCoursesSynced sets last_synced_at on every course of the user.
func (db *DB) StampCoursesSynced(ctx context.Context, userID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE courses SET last_synced_at = ? WHERE user_id = ?
	`, at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update last synced for user %s: %w", userID, err)
	}
	return nil
}
