package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/duedeck/internal/domain"
)

// CreateRule inserts a recurring rule together with the assignments it generated.
// generated rows get the rule id stamped on them.
func (db *DB) CreateRule(ctx context.Context, r domain.RecurringRule, generated []domain.Assignment) (*domain.RecurringRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO recurring_rules (id, user_id, course_id, title, day_of_week, type, platform, start_date, end_date, created_at)
			VALUES (:id, :user_id, :course_id, :title, :day_of_week, :type, :platform, :start_date, :end_date, :created_at)
		`, r)
		if err != nil {
			return fmt.Errorf("failed to insert recurring rule %q: %w", r.Title, err)
		}
		for i := range generated {
			generated[i].RecurringRuleID = &r.ID
		}
		return insertAssignments(ctx, tx, generated)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns a user's recurring rules in creation order.
func (db *DB) ListRules(ctx context.Context, userID string) ([]domain.RecurringRule, error) {
	var rules []domain.RecurringRule
	err := db.conn.SelectContext(ctx, &rules, `
		SELECT * FROM recurring_rules WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for user %s: %w", userID, err)
	}
	return rules, nil
}

// DeleteRule removes a rule and every assignment it generated.
func (db *DB) DeleteRule(ctx context.Context, userID, ruleID string) (bool, error) {
	var deleted bool
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM assignments WHERE recurring_rule_id = ? AND user_id = ?
		`, ruleID, userID); err != nil {
			return fmt.Errorf("failed to delete generated assignments for rule %s: %w", ruleID, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ? AND user_id = ?`, ruleID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read delete result for rule %s: %w", ruleID, err)
		}
		deleted = n == 1
		return nil
	})
	return deleted, err
}
