package reconcile

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/storage"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestMerge(t *testing.T) {
	testCases := []struct {
		name     string
		existing domain.Status
		incoming domain.Status
		want     domain.Status
	}{
		{"graded is never downgraded to pending", domain.StatusGraded, domain.StatusPending, domain.StatusGraded},
		{"graded is never downgraded to submitted", domain.StatusGraded, domain.StatusSubmitted, domain.StatusGraded},
		{"pending advances to submitted", domain.StatusPending, domain.StatusSubmitted, domain.StatusSubmitted},
		{"pending advances to graded", domain.StatusPending, domain.StatusGraded, domain.StatusGraded},
		{"submitted advances to graded", domain.StatusSubmitted, domain.StatusGraded, domain.StatusGraded},
		{"submitted stays on pending", domain.StatusSubmitted, domain.StatusPending, domain.StatusSubmitted},
		{"excused is left to the user", domain.StatusExcused, domain.StatusGraded, domain.StatusExcused},
		{"archived is left to the user", domain.StatusArchived, domain.StatusSubmitted, domain.StatusArchived},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			existing := domain.Assignment{
				Title:   "Lab 1",
				Status:  tc.existing,
				Notes:   strPtr("bring calculator"),
				DueDate: strPtr("2026-02-01"),
			}
			got := Merge(existing, domain.ExternalAssignment{
				Title:       "Lab 1",
				Status:      tc.incoming,
				DueDate:     strPtr("2026-02-03"),
				DueTime:     strPtr("17:00"),
				Points:      f64Ptr(20),
				ExternalURL: strPtr("https://lms.example.edu/mod/assign/view.php?id=9"),
			})
			assert.Equal(t, tc.want, got.Status)
			assert.Equal(t, "2026-02-03", *got.DueDate)
			assert.Equal(t, "17:00", *got.DueTime)
			assert.Equal(t, 20.0, *got.Points)
			assert.Equal(t, "bring calculator", *got.Notes)
		})
	}
}

func TestEngineUpsert(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u, err := db.CreateUser(ctx, "student@example.edu")
	require.NoError(t, err)
	c, err := db.UpsertLMSCourse(ctx, u.ID, 7, "Spring 2026 - MATH 161", nil)
	require.NoError(t, err)

	engine := New(db)
	candidate := domain.ExternalAssignment{
		UserID:     u.ID,
		CourseID:   c.ID,
		Title:      "  Problem Set 2 ",
		DueDate:    strPtr("2026-03-05"),
		DueTime:    strPtr("23:59"),
		Type:       domain.TypeHomework,
		Platform:   domain.PlatformGrading,
		Points:     f64Ptr(20),
		Status:     domain.StatusGraded,
		Source:     domain.SourceGrading,
		Confidence: domain.ConfidenceHigh,
	}

	outcome, err := engine.Upsert(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)

	t.Run("identical candidate is idempotent", func(t *testing.T) {
		outcome, err := engine.Upsert(ctx, candidate)
		require.NoError(t, err)
		assert.Equal(t, Merged, outcome)

		rows, err := db.ListAssignments(ctx, u.ID, domain.AssignmentFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Problem Set 2", rows[0].Title)
		assert.Equal(t, domain.ConfidenceHigh, *rows[0].ParseConfidence)
	})

	t.Run("pending candidate keeps graded row and refreshes due date", func(t *testing.T) {
		stale := candidate
		stale.Status = domain.StatusPending
		stale.DueDate = strPtr("2026-03-07")
		_, err := engine.Upsert(ctx, stale)
		require.NoError(t, err)

		rows, err := db.ListAssignments(ctx, u.ID, domain.AssignmentFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, domain.StatusGraded, rows[0].Status)
		assert.Equal(t, "2026-03-07", *rows[0].DueDate)
	})

	t.Run("submitted lands on pending row", func(t *testing.T) {
		fresh := candidate
		fresh.Title = "Problem Set 3"
		fresh.Status = domain.StatusPending
		_, err := engine.Upsert(ctx, fresh)
		require.NoError(t, err)

		fresh.Status = domain.StatusSubmitted
		outcome, err := engine.Upsert(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, Merged, outcome)

		rows, err := db.ListAssignments(ctx, u.ID, domain.AssignmentFilter{Status: domain.StatusSubmitted})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Problem Set 3", rows[0].Title)
	})
}

func TestEngineUpsertConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	u, err := first.CreateUser(ctx, "student@example.edu")
	require.NoError(t, err)
	c, err := first.UpsertLMSCourse(ctx, u.ID, 7, "Spring 2026 - MATH 161", nil)
	require.NoError(t, err)

	engines := []*Engine{New(first), New(second)}
	candidate := domain.ExternalAssignment{
		UserID:     u.ID,
		CourseID:   c.ID,
		Title:      "Lab 4",
		DueDate:    strPtr("2026-03-12"),
		Type:       domain.TypeHomework,
		Platform:   domain.PlatformLMS,
		Status:     domain.StatusPending,
		Source:     domain.SourceLMS,
		Confidence: domain.ConfidenceHigh,
	}

	var g errgroup.Group
	var inserted atomic.Int32
	for i := range 40 {
		engine := engines[i%len(engines)]
		g.Go(func() error {
			outcome, err := engine.Upsert(ctx, candidate)
			if outcome == Inserted {
				inserted.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, inserted.Load())

	rows, err := first.ListAssignments(ctx, u.ID, domain.AssignmentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Lab 4", rows[0].Title)
}
