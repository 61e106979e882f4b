// Package web serves duedeck's JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/conorfennell/duedeck/internal/coursematch"
	"github.com/conorfennell/duedeck/internal/docstore"
	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/metrics"
	"github.com/conorfennell/duedeck/internal/recurring"
	"github.com/conorfennell/duedeck/internal/storage"
	"github.com/conorfennell/duedeck/internal/syllabus"
	"github.com/conorfennell/duedeck/internal/sync"
)

// UserHeader carries the id of the calling user.
const UserHeader = "X-User-ID"

const maxUpload = 20 << 20

type ctxKey struct{}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db      *storage.DB
	syncer  *sync.Syncer
	syllabi *syllabus.Service
	rules   *recurring.Service
	router  *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, syncer *sync.Syncer, syllabi *syllabus.Service, rules *recurring.Service) *Server {
	s := &Server{
		db:      db,
		syncer:  syncer,
		syllabi: syllabi,
		rules:   rules,
		router:  http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Handle("GET /metrics", metrics.Handler())
	s.router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.HandleFunc("POST /users", s.handleCreateUser())

	s.router.Handle("GET /me", s.withUser(s.handleMe()))
	s.router.Handle("GET /courses", s.withUser(s.handleListCourses()))
	s.router.Handle("GET /assignments", s.withUser(s.handleListAssignments()))
	s.router.Handle("PATCH /assignments/{id}", s.withUser(s.handleSetStatus()))

	s.router.Handle("POST /sync/lms", s.withUser(s.handleSyncLMS()))
	s.router.Handle("POST /sync/grading", s.withUser(s.handleSyncGrading()))
	s.router.Handle("POST /connect/lms", s.withUser(s.handleConnectLMS()))
	s.router.Handle("POST /connect/grading", s.withUser(s.handleConnectGrading()))
	s.router.Handle("DELETE /connect/{provider}", s.withUser(s.handleDisconnect()))

	s.router.Handle("POST /courses/{id}/syllabus", s.withUser(s.handleUploadSyllabus()))
	s.router.Handle("POST /syllabi/{id}/ingest", s.withUser(s.handleIngestSyllabus()))

	s.router.Handle("GET /rules", s.withUser(s.handleListRules()))
	s.router.Handle("POST /rules", s.withUser(s.handleCreateRule()))
	s.router.Handle("DELETE /rules/{id}", s.withUser(s.handleDeleteRule()))
}

// withUser resolves the calling user from UserHeader.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			writeMessage(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		user, err := s.db.FindUserByID(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if user == nil {
			writeMessage(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func userFrom(r *http.Request) *domain.User {
	return r.Context().Value(ctxKey{}).(*domain.User)
}

func (s *Server) handleCreateUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if !strings.Contains(body.Email, "@") {
			writeMessage(w, http.StatusBadRequest, "a valid email is required")
			return
		}
		existing, err := s.db.FindUserByEmail(r.Context(), body.Email)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if existing != nil {
			writeMessage(w, http.StatusConflict, "a user with this email already exists")
			return
		}
		user, err := s.db.CreateUser(r.Context(), body.Email)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	}
}

func (s *Server) handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"user":          user,
			"lms_connected": user.HasLMSToken(),
		})
	}
}

func (s *Server) handleListCourses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courses, err := s.db.ListCourses(r.Context(), userFrom(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, coursematch.WithLabels(courses))
	}
}

func (s *Server) handleListAssignments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := domain.AssignmentFilter{
			Status:    domain.Status(q.Get("status")),
			CourseID:  q.Get("course_id"),
			DueBefore: q.Get("due_before"),
			DueAfter:  q.Get("due_after"),
		}
		rows, err := s.db.ListAssignments(r.Context(), userFrom(r).ID, f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(rows))
	}
}

var userStatuses = map[domain.Status]bool{
	domain.StatusPending:   true,
	domain.StatusSubmitted: true,
	domain.StatusGraded:    true,
	domain.StatusExcused:   true,
	domain.StatusArchived:  true,
}

// handleSetStatus applies an explicit status change. Unlike sync, a user may
// move a row in any direction.
func (s *Server) handleSetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status domain.Status `json:"status"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if !userStatuses[body.Status] {
			writeMessage(w, http.StatusBadRequest, "unknown status "+string(body.Status))
			return
		}
		ok, err := s.db.SetAssignmentStatus(r.Context(), userFrom(r).ID, r.PathValue("id"), body.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeMessage(w, http.StatusNotFound, "assignment not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSyncLMS runs in the foreground so the caller gets the summary.
func (s *Server) handleSyncLMS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.syncer.SyncLMS(r.Context(), userFrom(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleSyncGrading() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.syncer.SyncGrading(r.Context(), userFrom(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// handleConnectLMS accepts either a token or a username and password.
func (s *Server) handleConnectLMS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token    string `json:"token"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		userID := userFrom(r).ID
		var err error
		switch {
		case body.Token != "":
			err = s.syncer.ConnectLMS(r.Context(), userID, body.Token)
		case body.Username != "" && body.Password != "":
			err = s.syncer.ConnectLMSWithPassword(r.Context(), userID, body.Username, body.Password)
		default:
			writeMessage(w, http.StatusBadRequest, "token or username and password required")
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleConnectGrading() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string `json:"password"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.Password == "" {
			writeMessage(w, http.StatusBadRequest, "password required")
			return
		}
		if err := s.syncer.ConnectGrading(r.Context(), userFrom(r).ID, body.Password); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := sync.ParseProvider(r.PathValue("provider"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.syncer.Disconnect(r.Context(), userFrom(r).ID, p); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleUploadSyllabus reads the "file" part of a multipart form.
func (s *Server) handleUploadSyllabus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		file, _, err := r.FormFile("file")
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "a file part is required")
			return
		}
		defer file.Close()
		document, err := io.ReadAll(file)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "failed to read upload")
			return
		}

		syl, err := s.syllabi.Upload(r.Context(), userFrom(r).ID, r.PathValue("id"), document)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, syl)
	}
}

func (s *Server) handleIngestSyllabus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.syllabi.Ingest(r.Context(), userFrom(r).ID, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleListRules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := s.rules.List(r.Context(), userFrom(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(rules))
	}
}

func (s *Server) handleCreateRule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule domain.RecurringRule
		if !readJSON(w, r, &rule) {
			return
		}
		rule.ID = ""
		rule.UserID = userFrom(r).ID
		stored, n, err := s.rules.Create(r.Context(), rule)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"rule": stored, "generated": n})
	}
}

func (s *Server) handleDeleteRule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.rules.Delete(r.Context(), userFrom(r).ID, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeMessage(w, http.StatusNotFound, "rule not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps a failure onto a status code. Only classified errors and
// known sentinels reach the caller verbatim.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if !errors.Is(err, domain.ErrCrypto) {
			writeMessage(w, status, "Internal Server Error")
			return
		}
	}
	writeMessage(w, status, domain.Message(err))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnreachableSource):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, syllabus.ErrCourseNotFound),
		errors.Is(err, syllabus.ErrSyllabusNotFound),
		errors.Is(err, recurring.ErrCourseNotFound),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, sync.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, syllabus.ErrEmptyDocument),
		errors.Is(err, recurring.ErrInvalidRule),
		errors.Is(err, sync.ErrUnknownProvider):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
