package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/lms"
)

const providerLMS = "lms"

// LMSSummary is what a successful LMS run reports.
type LMSSummary struct {
	Courses        int `json:"courses"`
	Assignments    int `json:"assignments"`
	GradesPromoted int `json:"grades_promoted"`
}

type lmsRun struct {
	*Syncer
	tracker
	client     *lms.Client
	lmsUserID  int64
	courses    map[int64]*domain.Course
	lmsCourses []lms.Course

	assignments atomic.Int64
	promoted    atomic.Int64
}

// SyncLMS runs the LMS pipeline for one user. An authentication failure is
// fatal; a failing course or activity kind is logged and skipped.
func (s *Syncer) SyncLMS(ctx context.Context, userID string) (*LMSSummary, error) {
	run := &lmsRun{
		Syncer:  s,
		tracker: tracker{provider: providerLMS, userID: userID},
		courses: map[int64]*domain.Course{},
	}
	summary, err := run.execute(ctx)
	run.finish(err)
	return summary, err
}

func (r *lmsRun) execute(ctx context.Context) (*LMSSummary, error) {
	r.enter(authenticating)
	if err := r.authenticate(ctx); err != nil {
		return nil, err
	}

	r.enter(fetchingCourses)
	if err := r.fetchCourses(ctx); err != nil {
		return nil, err
	}

	r.enter(fetchingActivities)
	r.forEachCourse(ctx, r.syncActivities)

	r.enter(fetchingGrades)
	r.forEachCourse(ctx, r.promoteGrades)

	if err := r.store.StampCoursesSynced(ctx, r.userID, r.now()); err != nil {
		return nil, err
	}

	summary := &LMSSummary{
		Courses:        len(r.lmsCourses),
		Assignments:    int(r.assignments.Load()),
		GradesPromoted: int(r.promoted.Load()),
	}
	slog.Info("LMS sync complete",
		"user_id", r.userID,
		"courses", summary.Courses,
		"assignments", summary.Assignments,
		"grades_promoted", summary.GradesPromoted,
	)
	return summary, nil
}

func (r *lmsRun) authenticate(ctx context.Context) error {
	user, err := r.store.FindUserByID(ctx, r.userID)
	if err != nil {
		return err
	}
	if user == nil || !user.HasLMSToken() {
		return domain.AuthError("No LMS token found. Reconnect the LMS in settings.", nil)
	}
	token, err := r.vault.Decrypt(*user.LMSTokenEncrypted, *user.LMSTokenIV)
	if err != nil {
		return err
	}

	r.client = lms.New(r.opts.LMSBaseURL, token, r.opts.HTTPClient)
	info, err := r.client.SiteInfo(ctx)
	if err != nil {
		return domain.AuthError("The LMS rejected the stored token. Reconnect the LMS in settings.", err)
	}
	r.lmsUserID = info.UserID
	return nil
}

// fetchCourses keeps the current-term courses and drops stored ones that
// left the term. An empty current set never deletes anything.
func (r *lmsRun) fetchCourses(ctx context.Context) error {
	enrolled, err := r.client.EnrolledCourses(ctx, r.lmsUserID)
	if err != nil {
		return domain.UnreachableError("Could not fetch courses from the LMS", err)
	}
	r.lmsCourses = lms.CurrentCourses(enrolled, r.now().In(r.opts.Location))

	keep := make([]int64, 0, len(r.lmsCourses))
	for _, mc := range r.lmsCourses {
		course, err := r.store.UpsertLMSCourse(ctx, r.userID, mc.ID, mc.FullName, strPtr(mc.ShortName))
		if err != nil {
			return fmt.Errorf("failed to store course %d: %w", mc.ID, err)
		}
		r.courses[mc.ID] = course
		keep = append(keep, mc.ID)
	}

	removed, err := r.store.DeleteCoursesNotIn(ctx, r.userID, keep)
	if err != nil {
		return err
	}
	slog.Info("LMS courses fetched", "user_id", r.userID, "enrolled", len(enrolled), "current", len(keep), "removed", removed)
	return nil
}

// forEachCourse runs fn for every current course, at most opts.Concurrency
// at a time, and waits for all of them.
func (r *lmsRun) forEachCourse(ctx context.Context, fn func(ctx context.Context, mc lms.Course, course *domain.Course)) {
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, mc := range r.lmsCourses {
		course := r.courses[mc.ID]
		if course == nil {
			continue
		}
		g.Go(func() error {
			fn(ctx, mc, course)
			return nil
		})
	}
	g.Wait()
}

func (r *lmsRun) syncActivities(ctx context.Context, mc lms.Course, course *domain.Course) {
	assignments, err := r.client.Assignments(ctx, mc.ID)
	if err != nil {
		skip(providerLMS, err, "course_id", course.ID, "kind", "assignments")
	}
	for _, a := range assignments {
		date, clock, ok := lms.DueParts(a.DueDate, r.opts.Location)
		if !ok {
			continue
		}
		status := domain.StatusPending
		if sub, err := r.client.SubmissionStatus(ctx, a.ID); err != nil {
			slog.Debug("Submission status unavailable", "assignment_id", a.ID, "error", err)
		} else {
			status = sub.Status()
		}
		r.upsert(ctx, course, domain.ExternalAssignment{
			Title:       a.Name,
			DueDate:     &date,
			DueTime:     &clock,
			Type:        domain.TypeHomework,
			Points:      positive(a.Grade),
			Status:      status,
			ExternalURL: r.client.AssignmentURL(a.CMID),
		})
	}

	quizzes, err := r.client.Quizzes(ctx, mc.ID)
	if err != nil {
		skip(providerLMS, err, "course_id", course.ID, "kind", "quizzes")
		return
	}
	for _, q := range quizzes {
		if q.Course != mc.ID {
			continue
		}
		date, clock, ok := lms.DueParts(q.TimeClose, r.opts.Location)
		if !ok {
			continue
		}
		r.upsert(ctx, course, domain.ExternalAssignment{
			Title:       q.Name,
			DueDate:     &date,
			DueTime:     &clock,
			Type:        domain.TypeQuiz,
			Points:      positive(q.Grade),
			Status:      domain.StatusPending,
			ExternalURL: r.client.QuizURL(q.CourseModule),
		})
	}
}

func (r *lmsRun) upsert(ctx context.Context, course *domain.Course, c domain.ExternalAssignment) {
	c.UserID = r.userID
	c.CourseID = course.ID
	c.Source = domain.SourceLMS
	c.Platform = domain.PlatformLMS
	c.Confidence = domain.ConfidenceHigh
	if _, err := r.engine.Upsert(ctx, c); err != nil {
		skip(providerLMS, err, "course_id", course.ID, "title", c.Title)
		return
	}
	r.assignments.Add(1)
}

// promoteGrades marks pending rows graded when the grade report has a
// numeric grade under the same title.
func (r *lmsRun) promoteGrades(ctx context.Context, mc lms.Course, course *domain.Course) {
	items, err := r.client.GradeItems(ctx, mc.ID, r.lmsUserID)
	if err != nil {
		skip(providerLMS, err, "course_id", course.ID, "kind", "grades")
		return
	}
	for _, item := range items {
		if !item.Graded() {
			continue
		}
		n, err := r.store.PromotePendingToGraded(ctx, r.userID, course.ID, *item.ItemName)
		if err != nil {
			skip(providerLMS, err, "course_id", course.ID, "item", *item.ItemName)
			continue
		}
		r.promoted.Add(n)
	}
}

func positive(f float64) *float64 {
	if f <= 0 {
		return nil
	}
	return &f
}
