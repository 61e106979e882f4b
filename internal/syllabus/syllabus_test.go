package syllabus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/duedeck/internal/docstore"
	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/storage"
)

// extractionRequest is the part of a messages request the fake inspects.
type extractionRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type   string `json:"type"`
			Text   string `json:"text"`
			Source struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			} `json:"source"`
		} `json:"content"`
	} `json:"messages"`
}

// fakeMessages answers every extraction request with text.
func fakeMessages(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req extractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 4096, req.MaxTokens)
		if !assert.Len(t, req.Messages, 1) || !assert.Len(t, req.Messages[0].Content, 2) {
			http.Error(w, "unexpected message shape", http.StatusBadRequest)
			return
		}
		doc := req.Messages[0].Content[0]
		assert.Equal(t, "document", doc.Type)
		assert.Equal(t, "base64", doc.Source.Type)
		assert.Equal(t, "application/pdf", doc.Source.MediaType)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), doc.Source.Data)
		assert.Contains(t, req.Messages[0].Content[1].Text, "Spring 2026 - COSC 208")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{
				"type":  "error",
				"error": map[string]string{"type": "overloaded_error", "message": "Overloaded"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "test-model",
			"stop_reason": "end_turn",
			"content":     []map[string]string{{"type": "text", "text": text}},
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	db      *storage.DB
	user    *domain.User
	course  *domain.Course
	service *Service
}

func newFixture(t *testing.T, srv *httptest.Server) fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	docs, err := docstore.OpenBolt(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	u, err := db.CreateUser(ctx, "student@example.edu")
	require.NoError(t, err)
	c, err := db.UpsertLMSCourse(ctx, u.ID, 11, "Spring 2026 - COSC 208", nil)
	require.NoError(t, err)

	extractor := NewMessagesExtractor(srv.URL, "test-key", "test-model", 4096, srv.Client(), option.WithMaxRetries(0))
	return fixture{db: db, user: u, course: c, service: NewService(db, docs, extractor)}
}

const goodAnswer = "```json\n" + `{"assignments": [
  {"title": "Midterm", "due_date": "2026-03-04", "due_time": null, "type": "exam", "platform": "in-class", "points": 100, "notes": null, "confidence": "high"},
  {"title": "Essay", "due_date": null, "notes": "Week 9"}
]}` + "\n```"

func TestIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeMessages(t, http.StatusOK, goodAnswer))

	syl, err := f.service.Upload(ctx, f.user.ID, f.course.ID, []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, Path(f.user.ID, f.course.ID), syl.FilePath)

	summary, err := f.service.Ingest(ctx, f.user.ID, syl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)

	rows, err := f.db.ListAssignments(ctx, f.user.ID, domain.AssignmentFilter{CourseID: f.course.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, domain.SourceSyllabus, r.Source)
	}
	assert.Equal(t, domain.ConfidenceMedium, *rows[1].ParseConfidence)

	course, err := f.db.FindCourse(ctx, f.user.ID, f.course.ID)
	require.NoError(t, err)
	assert.True(t, course.SyllabusParsed)

	t.Run("re-ingest appends", func(t *testing.T) {
		_, err := f.service.Ingest(ctx, f.user.ID, syl.ID)
		require.NoError(t, err)
		rows, err := f.db.ListAssignments(ctx, f.user.ID, domain.AssignmentFilter{})
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})
}

func TestIngestUnparsableInsertsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeMessages(t, http.StatusOK, "Sorry, I can't read this document."))

	syl, err := f.service.Upload(ctx, f.user.ID, f.course.ID, []byte("%PDF-1.4"))
	require.NoError(t, err)

	_, err = f.service.Ingest(ctx, f.user.ID, syl.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExtraction))

	rows, err := f.db.ListAssignments(ctx, f.user.ID, domain.AssignmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	course, err := f.db.FindCourse(ctx, f.user.ID, f.course.ID)
	require.NoError(t, err)
	assert.False(t, course.SyllabusParsed)
}

func TestIngestServiceError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeMessages(t, http.StatusServiceUnavailable, ""))

	syl, err := f.service.Upload(ctx, f.user.ID, f.course.ID, []byte("%PDF-1.4"))
	require.NoError(t, err)

	_, err = f.service.Ingest(ctx, f.user.ID, syl.ID)
	assert.True(t, errors.Is(err, domain.ErrUnreachableSource))
}

func TestUploadChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeMessages(t, http.StatusOK, goodAnswer))

	_, err := f.service.Upload(ctx, f.user.ID, f.course.ID, nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = f.service.Upload(ctx, f.user.ID, "missing", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrCourseNotFound)

	_, err = f.service.Ingest(ctx, "someone-else", "missing")
	assert.ErrorIs(t, err, ErrSyllabusNotFound)
}

// failingSlot records the document but cannot claim the upload slot.
type failingSlot struct{ *storage.DB }

func (failingSlot) PutSyllabus(context.Context, string, string, string) (*domain.Syllabus, error) {
	return nil, errors.New("disk full")
}

func TestUploadRemovesOrphanedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeMessages(t, http.StatusOK, goodAnswer))
	docs, err := docstore.OpenBolt(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	svc := NewService(failingSlot{f.db}, docs, nil)
	_, err = svc.Upload(ctx, f.user.ID, f.course.ID, []byte("%PDF-1.4"))
	require.Error(t, err)

	_, err = docs.Get(ctx, Path(f.user.ID, f.course.ID))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
