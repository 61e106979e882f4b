// Package lms talks to the institution's token-authenticated web service API.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const restPath = "/webservice/rest/server.php"

// RemoteError is an exception payload returned by the web service. It is
// authoritative and never retried.
type RemoteError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("lms: %s", e.Message)
}

// Client calls the web service with one user's token.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	validate *validator.Validate
}

// New creates a client for baseURL. A nil httpClient gets a 30 second timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     httpClient,
		validate: validator.New(),
	}
}

// SiteInfo verifies the token and returns its owner.
func (c *Client) SiteInfo(ctx context.Context) (*SiteInfo, error) {
	var info SiteInfo
	if err := c.call(ctx, http.MethodGet, "core_webservice_get_site_info", nil, &info); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(info); err != nil {
		return nil, fmt.Errorf("failed to validate site info: %w", err)
	}
	return &info, nil
}

// EnrolledCourses lists every course the user is enrolled in.
func (c *Client) EnrolledCourses(ctx context.Context, userID int64) ([]Course, error) {
	params := url.Values{"userid": {strconv.FormatInt(userID, 10)}}
	var resp coursesResponse
	if err := c.call(ctx, http.MethodGet, "core_enrol_get_users_courses", params, &resp.Courses); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("failed to validate enrolled courses: %w", err)
	}
	return resp.Courses, nil
}

// Assignments lists the assign activities of the given courses.
func (c *Client) Assignments(ctx context.Context, courseIDs ...int64) ([]Assignment, error) {
	var resp assignmentsResponse
	if err := c.call(ctx, http.MethodPost, "mod_assign_get_assignments", courseParams(courseIDs), &resp); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("failed to validate assignments: %w", err)
	}
	var out []Assignment
	for _, course := range resp.Courses {
		for _, a := range course.Assignments {
			a.CourseID = course.ID
			out = append(out, a)
		}
	}
	return out, nil
}

// Quizzes lists the quiz activities of the given courses.
func (c *Client) Quizzes(ctx context.Context, courseIDs ...int64) ([]Quiz, error) {
	var resp quizzesResponse
	if err := c.call(ctx, http.MethodPost, "mod_quiz_get_quizzes_by_courses", courseParams(courseIDs), &resp); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("failed to validate quizzes: %w", err)
	}
	return resp.Quizzes, nil
}

// SubmissionStatus fetches the user's submission and feedback for one assignment.
func (c *Client) SubmissionStatus(ctx context.Context, assignmentID int64) (*SubmissionStatus, error) {
	params := url.Values{"assignid": {strconv.FormatInt(assignmentID, 10)}}
	var status SubmissionStatus
	if err := c.call(ctx, http.MethodGet, "mod_assign_get_submission_status", params, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GradeItems returns the user's grade report lines for a course.
func (c *Client) GradeItems(ctx context.Context, courseID, userID int64) ([]GradeItem, error) {
	params := url.Values{
		"courseid": {strconv.FormatInt(courseID, 10)},
		"userid":   {strconv.FormatInt(userID, 10)},
	}
	var resp gradeItemsResponse
	if err := c.call(ctx, http.MethodGet, "gradereport_user_get_grade_items", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.UserGrades) == 0 {
		return nil, nil
	}
	return resp.UserGrades[0].GradeItems, nil
}

// AssignmentURL links to an assign activity, or returns nil without a course module id.
func (c *Client) AssignmentURL(cmid int64) *string {
	return c.activityURL("assign", cmid)
}

// QuizURL links to a quiz activity, or returns nil without a course module id.
func (c *Client) QuizURL(coursemodule int64) *string {
	return c.activityURL("quiz", coursemodule)
}

func (c *Client) activityURL(module string, id int64) *string {
	if id == 0 {
		return nil
	}
	u := fmt.Sprintf("%s/mod/%s/view.php?id=%d", c.baseURL, module, id)
	return &u
}

func courseParams(ids []int64) url.Values {
	params := url.Values{}
	for i, id := range ids {
		params.Set(fmt.Sprintf("courseids[%d]", i), strconv.FormatInt(id, 10))
	}
	return params
}

// call invokes wsfunction and decodes the JSON result into out. Any payload
// carrying an exception field is returned as a *RemoteError.
func (c *Client) call(ctx context.Context, method, wsfunction string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("wstoken", c.token)
	params.Set("wsfunction", wsfunction)
	params.Set("moodlewsrestformat", "json")

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+restPath, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+restPath+"?"+params.Encode(), nil)
	}
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", wsfunction, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", wsfunction, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", wsfunction, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", wsfunction, resp.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var remote RemoteError
		if err := json.Unmarshal(trimmed, &remote); err == nil && remote.Exception != "" {
			return &remote
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", wsfunction, err)
	}
	return nil
}
