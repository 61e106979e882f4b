package lms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/duedeck/internal/domain"
)

// fakeSite answers web service calls from a table keyed by wsfunction.
func fakeSite(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, restPath, r.URL.Path)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("wstoken") != "good-token" {
			w.Write([]byte(`{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token - token not found"}`))
			return
		}
		body, ok := responses[r.FormValue("wsfunction")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSiteInfo(t *testing.T) {
	srv := fakeSite(t, map[string]string{
		"core_webservice_get_site_info": `{"userid": 42, "username": "jdoe", "sitename": "Campus"}`,
	})

	t.Run("valid token", func(t *testing.T) {
		info, err := New(srv.URL, "good-token", srv.Client()).SiteInfo(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, 42, info.UserID)
	})

	t.Run("exception payload", func(t *testing.T) {
		_, err := New(srv.URL, "bad-token", srv.Client()).SiteInfo(context.Background())
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "invalidtoken", remote.ErrorCode)
		assert.Equal(t, "lms: Invalid token - token not found", err.Error())
	})
}

func TestSiteInfoRejectsMissingUser(t *testing.T) {
	srv := fakeSite(t, map[string]string{
		"core_webservice_get_site_info": `{"sitename": "Campus"}`,
	})
	_, err := New(srv.URL, "good-token", srv.Client()).SiteInfo(context.Background())
	assert.Error(t, err)
}

func TestActivities(t *testing.T) {
	srv := fakeSite(t, map[string]string{
		"core_enrol_get_users_courses": `[
			{"id": 11, "fullname": "Spring 2026 - MATH 161", "shortname": "MATH161", "enddate": 0},
			{"id": 12, "fullname": "Fall 2025 - MATH 161", "shortname": "MATH161-F", "enddate": 0}
		]`,
		"mod_assign_get_assignments": `{"courses": [
			{"id": 11, "assignments": [
				{"id": 5, "cmid": 77, "name": "Problem Set 1", "duedate": 1772755140, "grade": 20},
				{"id": 6, "cmid": 78, "name": "Unscheduled", "duedate": 0, "grade": 10}
			]}
		]}`,
		"mod_quiz_get_quizzes_by_courses": `{"quizzes": [
			{"id": 9, "coursemodule": 90, "course": 11, "name": "Quiz 1", "timeclose": 1772755140, "grade": 10}
		]}`,
		"mod_assign_get_submission_status": `{"lastattempt": {"submission": {"status": "submitted"}}, "feedback": {"grade": {"grade": "-1.00000"}}}`,
		"gradereport_user_get_grade_items": `{"usergrades": [{"gradeitems": [
			{"itemname": "Quiz 1", "graderaw": 8.5},
			{"itemname": null, "graderaw": 90},
			{"itemname": "Problem Set 1", "graderaw": null}
		]}]}`,
	})
	c := New(srv.URL, "good-token", srv.Client())
	ctx := context.Background()

	courses, err := c.EnrolledCourses(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, courses, 2)

	assignments, err := c.Assignments(ctx, 11)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.EqualValues(t, 11, assignments[0].CourseID)
	assert.Equal(t, srv.URL+"/mod/assign/view.php?id=77", *c.AssignmentURL(assignments[0].CMID))

	quizzes, err := c.Quizzes(ctx, 11)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.Equal(t, srv.URL+"/mod/quiz/view.php?id=90", *c.QuizURL(quizzes[0].CourseModule))
	assert.Nil(t, c.QuizURL(0))

	status, err := c.SubmissionStatus(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, status.Status())

	items, err := c.GradeItems(ctx, 11, 42)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Graded())
	assert.False(t, items[1].Graded())
	assert.False(t, items[2].Graded())
}

func TestSubmissionStatusMapping(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    domain.Status
	}{
		{"numeric grade", `{"feedback": {"grade": {"grade": 17}}}`, domain.StatusGraded},
		{"string grade", `{"feedback": {"grade": {"grade": "17.50000"}}, "lastattempt": {"submission": {"status": "submitted"}}}`, domain.StatusGraded},
		{"ungraded marker", `{"feedback": {"grade": {"grade": -1}}}`, domain.StatusPending},
		{"null grade submitted", `{"feedback": {"grade": {"grade": null}}, "lastattempt": {"submission": {"status": "submitted"}}}`, domain.StatusSubmitted},
		{"draft", `{"lastattempt": {"submission": {"status": "draft"}}}`, domain.StatusPending},
		{"empty", `{}`, domain.StatusPending},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var s SubmissionStatus
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &s))
			assert.Equal(t, tc.want, s.Status())
		})
	}
}

func TestTermFilter(t *testing.T) {
	march := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	september := time.Date(2026, time.September, 2, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "spring 2026", CurrentTerm(march))
	assert.Equal(t, "fall 2026", CurrentTerm(september))

	testCases := []struct {
		name   string
		course Course
		now    time.Time
		want   bool
	}{
		{"current spring course", Course{ID: 1, FullName: "Spring 2026 - MATH 161"}, march, true},
		{"last fall course", Course{ID: 2, FullName: "Fall 2025 - MATH 161"}, march, false},
		{"ended early", Course{ID: 3, FullName: "Spring 2026 - ART 101", EndDate: march.Add(-time.Hour).Unix()}, march, false},
		{"ends later", Course{ID: 4, FullName: "Spring 2026 - ART 101", EndDate: march.Add(time.Hour).Unix()}, march, true},
		{"term not a prefix", Course{ID: 5, FullName: "MATH 161 Spring 2026"}, march, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InCurrentTerm(tc.course, tc.now))
		})
	}
}

func TestDueParts(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	date, clock, ok := DueParts(1772755140, ny)
	require.True(t, ok)
	assert.Equal(t, "2026-03-05", date)
	assert.Equal(t, "18:59", clock)

	_, _, ok = DueParts(0, ny)
	assert.False(t, ok)
}

func TestRequestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login/token.php", r.URL.Path)
		assert.Equal(t, DefaultService, r.FormValue("service"))
		if r.FormValue("password") != "secret" {
			w.Write([]byte(`{"error": "Invalid login, please try again", "errorcode": "invalidlogin"}`))
			return
		}
		w.Write([]byte(`{"token": "good-token", "privatetoken": null}`))
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	token, err := RequestToken(ctx, srv.Client(), srv.URL, "", "jdoe", "secret")
	require.NoError(t, err)
	assert.Equal(t, "good-token", token)

	_, err = RequestToken(ctx, srv.Client(), srv.URL, "", "jdoe", "nope")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "invalidlogin", remote.ErrorCode)
}
