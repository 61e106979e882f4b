package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/duedeck/internal/domain"
)

const insertAssignmentSQL = `
	INSERT INTO assignments (
		id, user_id, course_id, title, due_date, due_time, type, platform, points,
		status, source, notes, parse_confidence, recurring_rule_id, external_url,
		created_at, updated_at
	) VALUES (
		:id, :user_id, :course_id, :title, :due_date, :due_time, :type, :platform, :points,
		:status, :source, :notes, :parse_confidence, :recurring_rule_id, :external_url,
		:created_at, :updated_at
	)`

// prepareNew fills in the id and timestamps of a row about to be inserted.
func prepareNew(a *domain.Assignment, now time.Time) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	a.CreatedAt = now
	a.UpdatedAt = now
}

// UpsertAssignment is the atomic find-or-insert-then-update primitive behind
// the reconciliation engine. When no row shares a's (user, course, source,
// title) key, a is inserted. Otherwise merge receives the stored row and its
// result is written back. Only the refreshable columns and status are written
// on update. It reports whether a row was inserted.
func (db *DB) UpsertAssignment(ctx context.Context, a domain.Assignment, merge func(existing domain.Assignment) domain.Assignment) (bool, error) {
	now := time.Now().UTC()
	prepareNew(&a, now)

	var inserted bool
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, insertAssignmentSQL+`
			ON CONFLICT (user_id, course_id, source, title) WHERE `+upsertWhere+` DO NOTHING`, a)
		if err != nil {
			return fmt.Errorf("failed to insert assignment %q: %w", a.Title, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read insert result for %q: %w", a.Title, err)
		}
		if n == 1 {
			inserted = true
			return nil
		}

		var existing domain.Assignment
		err = tx.GetContext(ctx, &existing, `
			SELECT * FROM assignments
			WHERE user_id = ? AND course_id = ? AND source = ? AND title = ?
		`, a.UserID, a.CourseID, a.Source, a.Title)
		if err != nil {
			return fmt.Errorf("failed to load existing assignment %q: %w", a.Title, err)
		}

		merged := merge(existing)
		merged.ID = existing.ID
		merged.UpdatedAt = now
		_, err = tx.NamedExecContext(ctx, `
			UPDATE assignments
			SET due_date = :due_date, due_time = :due_time, points = :points,
				external_url = :external_url, status = :status, updated_at = :updated_at
			WHERE id = :id
		`, merged)
		if err != nil {
			return fmt.Errorf("failed to update assignment %s: %w", existing.ID, err)
		}
		return nil
	})
	return inserted, err
}

// PromotePendingToGraded marks every pending assignment in a course whose
// title matches case-insensitively as graded. Rows in any other status are
// left alone.
func (db *DB) PromotePendingToGraded(ctx context.Context, userID, courseID, title string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE assignments SET status = ?, updated_at = ?
		WHERE user_id = ? AND course_id = ? AND lower(title) = lower(?) AND status = ?
	`, domain.StatusGraded, time.Now().UTC(), userID, courseID, strings.TrimSpace(title), domain.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to promote %q to graded: %w", title, err)
	}
	return res.RowsAffected()
}

func insertAssignments(ctx context.Context, tx *sqlx.Tx, rows []domain.Assignment) error {
	now := time.Now().UTC()
	for i := range rows {
		prepareNew(&rows[i], now)
		if _, err := tx.NamedExecContext(ctx, insertAssignmentSQL, rows[i]); err != nil {
			return fmt.Errorf("failed to insert assignment %q: %w", rows[i].Title, err)
		}
	}
	return nil
}

// ListAssignments returns a user's assignments ordered by due date, undated last.
func (db *DB) ListAssignments(ctx context.Context, userID string, f domain.AssignmentFilter) ([]domain.Assignment, error) {
	query := `SELECT * FROM assignments WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.CourseID != "" {
		query += ` AND course_id = ?`
		args = append(args, f.CourseID)
	}
	if f.DueBefore != "" {
		query += ` AND due_date <= ?`
		args = append(args, f.DueBefore)
	}
	if f.DueAfter != "" {
		query += ` AND due_date >= ?`
		args = append(args, f.DueAfter)
	}
	query += ` ORDER BY due_date IS NULL, due_date, due_time IS NULL, due_time, title`

	var out []domain.Assignment
	if err := db.conn.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list assignments for user %s: %w", userID, err)
	}
	return out, nil
}

// SetAssignmentStatus records an explicit user status change. Sync never calls this.
func (db *DB) SetAssignmentStatus(ctx context.Context, userID, id string, status domain.Status) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE assignments SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?
	`, status, time.Now().UTC(), id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to set status of assignment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result for %s: %w", id, err)
	}
	return n == 1, nil
}
