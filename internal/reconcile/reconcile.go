// Package reconcile merges external assignment candidates into the ledger.
package reconcile

import (
	"context"
	"strings"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/metrics"
)

// Store is the atomic find-or-insert-then-update primitive the engine needs.
type Store interface {
	UpsertAssignment(ctx context.Context, a domain.Assignment, merge func(existing domain.Assignment) domain.Assignment) (bool, error)
}

// Outcome tells the caller what an upsert did.
type Outcome int

const (
	Inserted Outcome = iota
	Merged
)

func (o Outcome) String() string {
	if o == Inserted {
		return "inserted"
	}
	return "merged"
}

// Engine is shared by every feed. It knows nothing about the upstream
// beyond the source tag on the candidate.
type Engine struct {
	store Store
}

// New creates an engine writing through store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Upsert inserts c when no row shares its (user, course, source, title) key,
// and otherwise merges it into the existing row. Running it twice with the
// same candidate leaves one row in the same state.
func (e *Engine) Upsert(ctx context.Context, c domain.ExternalAssignment) (Outcome, error) {
	c.Title = strings.TrimSpace(c.Title)
	fresh := fromCandidate(c)

	inserted, err := e.store.UpsertAssignment(ctx, fresh, func(existing domain.Assignment) domain.Assignment {
		return Merge(existing, c)
	})
	if err != nil {
		return 0, err
	}

	outcome := Merged
	if inserted {
		outcome = Inserted
	}
	metrics.Upserts.WithLabelValues(string(c.Source), outcome.String()).Inc()
	return outcome, nil
}

// Merge applies the field-level policy to an existing row. Due date, due
// time, points and the external link always take the candidate's values.
// Status only moves forward along pending, submitted, graded; rows the user
// marked excused or archived keep their status. Every other field is kept.
func Merge(existing domain.Assignment, c domain.ExternalAssignment) domain.Assignment {
	merged := existing
	merged.DueDate = c.DueDate
	merged.DueTime = c.DueTime
	merged.Points = c.Points
	merged.ExternalURL = c.ExternalURL
	if existing.Status.Advances(c.Status) {
		merged.Status = c.Status
	}
	return merged
}

func fromCandidate(c domain.ExternalAssignment) domain.Assignment {
	a := domain.Assignment{
		UserID:      c.UserID,
		CourseID:    c.CourseID,
		Title:       c.Title,
		DueDate:     c.DueDate,
		DueTime:     c.DueTime,
		Type:        c.Type,
		Platform:    c.Platform,
		Points:      c.Points,
		Status:      c.Status,
		Source:      c.Source,
		ExternalURL: c.ExternalURL,
	}
	if a.Type == "" {
		a.Type = domain.TypeOther
	}
	if a.Platform == "" {
		a.Platform = domain.PlatformUnknown
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	if c.Confidence != "" {
		conf := c.Confidence
		a.ParseConfidence = &conf
	}
	return a
}
