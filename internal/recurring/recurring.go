// Package recurring expands weekly rules into dated assignments.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/duedeck/internal/domain"
)

const dateLayout = "2006-01-02"

var (
	ErrCourseNotFound = errors.New("course not found")
	ErrInvalidRule    = errors.New("invalid rule")
)

// Dates returns every date falling on weekday from start through end,
// inclusive, as YYYY-MM-DD strings.
func Dates(start, end time.Time, weekday time.Weekday) []string {
	cur := time.Date(start.Year(), start.Month(), start.Day(), 12, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 12, 0, 0, 0, time.UTC)

	for cur.Weekday() != weekday {
		cur = cur.AddDate(0, 0, 1)
	}
	var dates []string
	for !cur.After(last) {
		dates = append(dates, cur.Format(dateLayout))
		cur = cur.AddDate(0, 0, 7)
	}
	return dates
}

// Store is the persistence the service needs.
type Store interface {
	FindCourse(ctx context.Context, userID, courseID string) (*domain.Course, error)
	CreateRule(ctx context.Context, r domain.RecurringRule, generated []domain.Assignment) (*domain.RecurringRule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) (bool, error)
	ListRules(ctx context.Context, userID string) ([]domain.RecurringRule, error)
}

// Service creates and deletes rules together with their generated rows.
type Service struct {
	store    Store
	validate *validator.Validate
}

func NewService(store Store) *Service {
	return &Service{store: store, validate: validator.New()}
}

// Create validates r, stores it and inserts one assignment per matching
// date. Generation happens once; later edits to the rule do not resync.
func (s *Service) Create(ctx context.Context, r domain.RecurringRule) (*domain.RecurringRule, int, error) {
	r.Title = strings.TrimSpace(r.Title)
	if err := s.validate.Struct(r); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	start, _ := time.Parse(dateLayout, r.StartDate)
	end, _ := time.Parse(dateLayout, r.EndDate)
	if end.Before(start) {
		return nil, 0, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidRule, r.EndDate, r.StartDate)
	}

	course, err := s.store.FindCourse(ctx, r.UserID, r.CourseID)
	if err != nil {
		return nil, 0, err
	}
	if course == nil {
		return nil, 0, ErrCourseNotFound
	}

	high := domain.ConfidenceHigh
	dates := Dates(start, end, time.Weekday(r.DayOfWeek))
	rows := make([]domain.Assignment, 0, len(dates))
	for _, d := range dates {
		due := d
		rows = append(rows, domain.Assignment{
			UserID:          r.UserID,
			CourseID:        r.CourseID,
			Title:           r.Title,
			DueDate:         &due,
			Type:            r.Type,
			Platform:        r.Platform,
			Status:          domain.StatusPending,
			Source:          domain.SourceRecurring,
			ParseConfidence: &high,
		})
	}

	stored, err := s.store.CreateRule(ctx, r, rows)
	if err != nil {
		return nil, 0, err
	}
	slog.Info("Recurring rule created", "rule_id", stored.ID, "course_id", r.CourseID, "generated", len(rows))
	return stored, len(rows), nil
}

// Delete removes a rule and every row it generated.
func (s *Service) Delete(ctx context.Context, userID, ruleID string) (bool, error) {
	return s.store.DeleteRule(ctx, userID, ruleID)
}

// List returns the user's rules.
func (s *Service) List(ctx context.Context, userID string) ([]domain.RecurringRule, error) {
	return s.store.ListRules(ctx, userID)
}
