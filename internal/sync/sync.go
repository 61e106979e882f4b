// Package sync runs the per-user synchronization against the LMS and the
// grading platform and funnels everything through the reconciliation engine.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/metrics"
	"github.com/conorfennell/duedeck/internal/reconcile"
	"github.com/conorfennell/duedeck/internal/vault"
)

// Store is everything a run reads or writes.
type Store interface {
	reconcile.Store
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
	SetLMSToken(ctx context.Context, userID string, s vault.Sealed) error
	ClearLMSToken(ctx context.Context, userID string) error
	SetGradingPassword(ctx context.Context, userID string, s vault.Sealed) error
	ClearGradingPassword(ctx context.Context, userID string) error
	UpsertLMSCourse(ctx context.Context, userID string, lmsCourseID int64, name string, shortName *string) (*domain.Course, error)
	ListCourses(ctx context.Context, userID string) ([]domain.Course, error)
	DeleteCoursesNotIn(ctx context.Context, userID string, keep []int64) (int64, error)
	LinkGradingCourse(ctx context.Context, courseID, gradingCourseID string) error
	StampCoursesSynced(ctx context.Context, userID string, at time.Time) error
	PromotePendingToGraded(ctx context.Context, userID, courseID, title string) (int64, error)
}

// Options configures where the upstreams live and how runs behave.
type Options struct {
	LMSBaseURL       string
	LMSService       string
	GradingBaseURL   string
	GradingUserAgent string
	HTTPClient       *http.Client
	Location         *time.Location
	Concurrency      int
}

// Syncer owns no per-run state; every run builds its own clients and sessions.
type Syncer struct {
	store  Store
	vault  *vault.Vault
	engine *reconcile.Engine
	opts   Options
	now    func() time.Time
}

func New(store Store, v *vault.Vault, opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Syncer{
		store:  store,
		vault:  v,
		engine: reconcile.New(store),
		opts:   opts,
		now:    time.Now,
	}
}

type state int

const (
	idle state = iota
	authenticating
	fetchingCourses
	fetchingActivities
	fetchingGrades
	loggingIn
	accountFetched
	perCourseScrape
	done
	failed
)

var stateNames = map[state]string{
	idle:               "idle",
	authenticating:     "authenticating",
	fetchingCourses:    "fetching_courses",
	fetchingActivities: "fetching_activities",
	fetchingGrades:     "fetching_grades",
	loggingIn:          "logging_in",
	accountFetched:     "account_fetched",
	perCourseScrape:    "per_course_scrape",
	done:               "done",
	failed:             "failed",
}

func (s state) String() string { return stateNames[s] }

// tracker records the phase a run is in and logs each transition.
type tracker struct {
	provider string
	userID   string
	current  state
}

func (t *tracker) enter(next state) {
	slog.Debug("Sync phase", "provider", t.provider, "user_id", t.userID, "from", t.current, "to", next)
	t.current = next
}

// finish moves the run to done or failed and records the outcome.
func (t *tracker) finish(err error) {
	if err != nil {
		slog.Warn("Sync failed", "provider", t.provider, "user_id", t.userID, "phase", t.current, "error", err)
		t.current = failed
		metrics.SyncRuns.WithLabelValues(t.provider, resultLabel(err)).Inc()
		return
	}
	t.current = done
	metrics.SyncRuns.WithLabelValues(t.provider, "ok").Inc()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return "auth"
	case errors.Is(err, domain.ErrUnreachableSource):
		return "unreachable"
	case errors.Is(err, domain.ErrCrypto):
		return "crypto"
	}
	return "error"
}

// skip logs and counts a per-item failure. It never aborts the run.
func skip(provider string, err error, args ...any) {
	metrics.SkippedItems.WithLabelValues(provider).Inc()
	slog.Warn("Skipping item", append(args, "provider", provider, "error", domain.ItemError("", err))...)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
