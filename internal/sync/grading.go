package sync

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/duedeck/internal/coursematch"
	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/gradeplatform"
)

const providerGrading = "grading_platform"

// GradingSummary is what a successful grading-platform run reports.
type GradingSummary struct {
	CoursesSynced     int `json:"courses_synced"`
	AssignmentsSynced int `json:"assignments_synced"`
}

type gradingRun struct {
	*Syncer
	tracker
	session *gradeplatform.Session
	scraper *gradeplatform.Scraper
	account string

	coursesSynced atomic.Int64
	assignments   atomic.Int64
}

// SyncGrading logs into the grading platform with the stored password and
// scrapes every course that matches one of the user's LMS courses.
func (s *Syncer) SyncGrading(ctx context.Context, userID string) (*GradingSummary, error) {
	run := &gradingRun{
		Syncer:  s,
		tracker: tracker{provider: providerGrading, userID: userID},
		scraper: gradeplatform.NewScraper(s.opts.Location),
	}
	summary, err := run.execute(ctx)
	run.finish(err)
	return summary, err
}

func (r *gradingRun) execute(ctx context.Context) (*GradingSummary, error) {
	r.enter(loggingIn)
	if err := r.login(ctx); err != nil {
		return nil, err
	}

	r.enter(accountFetched)
	tiles, err := r.scraper.Courses(r.account)
	if err != nil {
		return nil, domain.UnreachableError("Could not read the grading platform course list", err)
	}
	courses, err := r.store.ListCourses(ctx, r.userID)
	if err != nil {
		return nil, err
	}

	r.enter(perCourseScrape)
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, tile := range tiles {
		course := coursematch.Match(coursematch.External{ID: tile.ID, ShortName: tile.ShortName, FullName: tile.FullName}, courses)
		if course == nil {
			slog.Debug("Unmatched grading platform course", "user_id", r.userID, "grading_course_id", tile.ID, "short_name", tile.ShortName)
			continue
		}
		if course.GradingCourseID == nil {
			if err := r.store.LinkGradingCourse(ctx, course.ID, tile.ID); err != nil {
				skip(providerGrading, err, "course_id", course.ID, "grading_course_id", tile.ID)
				continue
			}
		}
		g.Go(func() error {
			r.scrapeCourse(ctx, tile.ID, course)
			return nil
		})
	}
	g.Wait()

	summary := &GradingSummary{
		CoursesSynced:     int(r.coursesSynced.Load()),
		AssignmentsSynced: int(r.assignments.Load()),
	}
	slog.Info("Grading platform sync complete",
		"user_id", r.userID,
		"courses", summary.CoursesSynced,
		"assignments", summary.AssignmentsSynced,
	)
	return summary, nil
}

func (r *gradingRun) login(ctx context.Context) error {
	user, err := r.store.FindUserByID(ctx, r.userID)
	if err != nil {
		return err
	}
	if user == nil || !user.HasGradingPassword() {
		return domain.AuthError("No grading platform password found. Reconnect it in settings.", nil)
	}
	password, err := r.vault.Decrypt(*user.GradingPasswordEncrypted, *user.GradingPasswordIV)
	if err != nil {
		return err
	}

	r.session, err = gradeplatform.NewSession(r.opts.GradingBaseURL, r.opts.GradingUserAgent, r.opts.HTTPClient)
	if err != nil {
		return err
	}
	r.account, err = r.session.Login(ctx, user.Email, password)
	return err
}

func (r *gradingRun) scrapeCourse(ctx context.Context, gradingID string, course *domain.Course) {
	page, err := r.session.CoursePage(ctx, gradingID)
	if err != nil {
		skip(providerGrading, err, "course_id", course.ID, "grading_course_id", gradingID)
		return
	}
	items, err := r.scraper.Assignments(page)
	if err != nil {
		skip(providerGrading, err, "course_id", course.ID, "grading_course_id", gradingID)
		return
	}

	for _, a := range items {
		c := domain.ExternalAssignment{
			UserID:      r.userID,
			CourseID:    course.ID,
			Title:       a.Name,
			DueDate:     a.DueDate,
			DueTime:     a.DueTime,
			Type:        domain.TypeHomework,
			Platform:    domain.PlatformGrading,
			Points:      a.MaxPoints,
			Status:      a.Status,
			Source:      domain.SourceGrading,
			Confidence:  domain.ConfidenceHigh,
			ExternalURL: strPtr(r.session.AssignmentURL(gradingID, a.ID)),
		}
		if _, err := r.engine.Upsert(ctx, c); err != nil {
			skip(providerGrading, err, "course_id", course.ID, "title", a.Name)
			continue
		}
		r.assignments.Add(1)
	}
	r.coursesSynced.Add(1)
}
