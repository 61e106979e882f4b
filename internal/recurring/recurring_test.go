package recurring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/storage"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDates(t *testing.T) {
	testCases := []struct {
		name     string
		start    string
		end      string
		weekday  time.Weekday
		expected []string
	}{
		{"Fridays in January", "2026-01-01", "2026-01-31", time.Friday, []string{"2026-01-02", "2026-01-09", "2026-01-16", "2026-01-23", "2026-01-30"}},
		{"Start on the weekday", "2026-01-05", "2026-01-19", time.Monday, []string{"2026-01-05", "2026-01-12", "2026-01-19"}},
		{"End inclusive", "2026-01-06", "2026-01-13", time.Tuesday, []string{"2026-01-06", "2026-01-13"}},
		{"No match in range", "2026-01-05", "2026-01-07", time.Sunday, nil},
		{"Across the DST change", "2026-03-01", "2026-03-15", time.Sunday, []string{"2026-03-01", "2026-03-08", "2026-03-15"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Dates(day(tc.start), day(tc.end), tc.weekday))
		})
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u, err := db.CreateUser(ctx, "student@example.edu")
	require.NoError(t, err)
	c, err := db.UpsertLMSCourse(ctx, u.ID, 3, "Spring 2026 - PHYS 131", nil)
	require.NoError(t, err)

	svc := NewService(db)
	rule := domain.RecurringRule{
		UserID:    u.ID,
		CourseID:  c.ID,
		Title:     " Quiz ",
		DayOfWeek: int(time.Friday),
		Type:      domain.TypeQuiz,
		Platform:  domain.PlatformInClass,
		StartDate: "2026-01-01",
		EndDate:   "2026-01-31",
	}

	stored, n, err := svc.Create(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rows, err := db.ListAssignments(ctx, u.ID, domain.AssignmentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Quiz", rows[0].Title)
	assert.Equal(t, domain.SourceRecurring, rows[0].Source)
	assert.Equal(t, domain.ConfidenceHigh, *rows[0].ParseConfidence)

	rules, err := svc.List(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	deleted, err := svc.Delete(ctx, u.ID, stored.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	rows, err = db.ListAssignments(ctx, u.ID, domain.AssignmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	t.Run("invalid rules", func(t *testing.T) {
		bad := rule
		bad.DayOfWeek = 7
		_, _, err := svc.Create(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidRule)

		bad = rule
		bad.EndDate = "2025-12-01"
		_, _, err = svc.Create(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidRule)

		bad = rule
		bad.CourseID = "missing"
		_, _, err = svc.Create(ctx, bad)
		assert.ErrorIs(t, err, ErrCourseNotFound)
	})
}
