// Package syllabus handles the per-course syllabus upload slot and turns an
// uploaded document into syllabus-sourced assignments.
package syllabus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conorfennell/duedeck/internal/docstore"
	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/metrics"
	"github.com/conorfennell/duedeck/internal/parser"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrSyllabusNotFound = errors.New("syllabus not found")
	ErrEmptyDocument    = errors.New("document is empty")
)

// Store is the persistence the service needs.
type Store interface {
	FindCourse(ctx context.Context, userID, courseID string) (*domain.Course, error)
	PutSyllabus(ctx context.Context, userID, courseID, filePath string) (*domain.Syllabus, error)
	FindSyllabus(ctx context.Context, id string) (*domain.Syllabus, error)
	CompleteSyllabusParse(ctx context.Context, s domain.Syllabus, rows []domain.Assignment, raw string, at time.Time) error
}

// Summary is what an ingest reports back.
type Summary struct {
	Count int `json:"count"`
}

// Service uploads and ingests syllabi.
type Service struct {
	store     Store
	docs      docstore.Store
	extractor Extractor
	now       func() time.Time
}

// NewService wires a service.
func NewService(store Store, docs docstore.Store, extractor Extractor) *Service {
	return &Service{store: store, docs: docs, extractor: extractor, now: time.Now}
}

// Path is where a course's syllabus document lives in the document store.
func Path(userID, courseID string) string {
	return fmt.Sprintf("syllabi/%s/%s/syllabus.pdf", userID, courseID)
}

// Upload stores document in the course's slot, replacing any earlier upload
// and clearing its parse result.
func (s *Service) Upload(ctx context.Context, userID, courseID string, document []byte) (*domain.Syllabus, error) {
	if len(document) == 0 {
		return nil, ErrEmptyDocument
	}
	course, err := s.store.FindCourse(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}

	path := Path(userID, courseID)
	if err := s.docs.Put(ctx, path, document); err != nil {
		return nil, fmt.Errorf("failed to store syllabus document: %w", err)
	}
	syl, err := s.store.PutSyllabus(ctx, userID, courseID, path)
	if err != nil {
		if derr := s.docs.Delete(ctx, path); derr != nil {
			slog.Warn("Failed to remove orphaned syllabus document", "path", path, "error", derr)
		}
		return nil, err
	}
	return syl, nil
}

// Ingest extracts assignments from an uploaded syllabus and inserts them as
// syllabus rows. Nothing is inserted unless the whole response parses.
// Rows are appended; earlier syllabus rows for the course are kept.
func (s *Service) Ingest(ctx context.Context, userID, syllabusID string) (*Summary, error) {
	syl, err := s.store.FindSyllabus(ctx, syllabusID)
	if err != nil {
		return nil, err
	}
	if syl == nil || syl.UserID != userID {
		return nil, ErrSyllabusNotFound
	}
	course, err := s.store.FindCourse(ctx, userID, syl.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}

	document, err := s.docs.Get(ctx, syl.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load syllabus document: %w", err)
	}

	slog.Info("Extracting syllabus", "syllabus_id", syl.ID, "course_id", course.ID, "bytes", len(document))
	answer, err := s.extractor.Extract(ctx, document, course.Name)
	if err != nil {
		metrics.Extractions.WithLabelValues("unreachable").Inc()
		return nil, domain.UnreachableError("Could not reach the extraction service", err)
	}

	items, raw, err := parser.Parse(strings.NewReader(answer))
	if err != nil {
		metrics.Extractions.WithLabelValues("unparsable").Inc()
		slog.Warn("Syllabus extraction unparsable", "syllabus_id", syl.ID, "error", err)
		return nil, err
	}

	rows := make([]domain.Assignment, 0, len(items))
	for _, it := range items {
		rows = append(rows, toAssignment(userID, course.ID, it))
	}
	if err := s.store.CompleteSyllabusParse(ctx, *syl, rows, raw, s.now()); err != nil {
		return nil, err
	}

	metrics.Extractions.WithLabelValues("ok").Inc()
	slog.Info("Syllabus ingested", "syllabus_id", syl.ID, "count", len(rows))
	return &Summary{Count: len(rows)}, nil
}

func toAssignment(userID, courseID string, it parser.Item) domain.Assignment {
	conf := it.Confidence
	return domain.Assignment{
		UserID:          userID,
		CourseID:        courseID,
		Title:           it.Title,
		DueDate:         it.DueDate,
		DueTime:         it.DueTime,
		Type:            it.Type,
		Platform:        it.Platform,
		Points:          it.Points,
		Status:          domain.StatusPending,
		Source:          domain.SourceSyllabus,
		Notes:           it.Notes,
		ParseConfidence: &conf,
	}
}
