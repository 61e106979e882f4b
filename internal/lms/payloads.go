package lms

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/conorfennell/duedeck/internal/domain"
)

// SiteInfo identifies the token owner.
type SiteInfo struct {
	UserID   int64  `json:"userid" validate:"required"`
	Username string `json:"username"`
	SiteName string `json:"sitename"`
}

// Course is one enrolled course. EndDate is a unix timestamp, 0 when unset.
type Course struct {
	ID        int64  `json:"id" validate:"required"`
	FullName  string `json:"fullname" validate:"required"`
	ShortName string `json:"shortname"`
	EndDate   int64  `json:"enddate"`
}

type coursesResponse struct {
	Courses []Course `validate:"dive"`
}

// Assignment is an assign activity. DueDate is a unix timestamp, 0 when unscheduled.
type Assignment struct {
	ID       int64   `json:"id" validate:"required"`
	CourseID int64   `json:"-"`
	CMID     int64   `json:"cmid"`
	Name     string  `json:"name" validate:"required"`
	DueDate  int64   `json:"duedate"`
	Grade    float64 `json:"grade"`
}

type assignmentsResponse struct {
	Courses []struct {
		ID          int64        `json:"id" validate:"required"`
		Assignments []Assignment `json:"assignments" validate:"dive"`
	} `json:"courses" validate:"dive"`
}

// Quiz is a quiz activity. TimeClose is a unix timestamp, 0 when open-ended.
type Quiz struct {
	ID           int64   `json:"id" validate:"required"`
	CourseModule int64   `json:"coursemodule"`
	Course       int64   `json:"course" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	TimeClose    int64   `json:"timeclose"`
	Grade        float64 `json:"grade"`
}

type quizzesResponse struct {
	Quizzes []Quiz `json:"quizzes" validate:"dive"`
}

// SubmissionStatus is the per-student state of one assignment.
type SubmissionStatus struct {
	LastAttempt *struct {
		Submission *struct {
			Status string `json:"status"`
		} `json:"submission"`
	} `json:"lastattempt"`
	Feedback *struct {
		Grade *struct {
			Grade json.RawMessage `json:"grade"`
		} `json:"grade"`
	} `json:"feedback"`
}

// Status maps the submission state onto the ledger: a recorded grade other
// than -1 means graded, a submitted attempt means submitted, anything else
// is pending.
func (s SubmissionStatus) Status() domain.Status {
	if s.Feedback != nil && s.Feedback.Grade != nil && hasGrade(s.Feedback.Grade.Grade) {
		return domain.StatusGraded
	}
	if s.LastAttempt != nil && s.LastAttempt.Submission != nil && s.LastAttempt.Submission.Status == "submitted" {
		return domain.StatusSubmitted
	}
	return domain.StatusPending
}

// hasGrade accepts the grade either as a number or as a numeric string.
func hasGrade(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	text := strings.Trim(string(raw), `"`)
	if text == "" {
		return false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return false
	}
	return v != -1
}

// GradeItem is a line of the user grade report.
type GradeItem struct {
	ItemName *string  `json:"itemname"`
	GradeRaw *float64 `json:"graderaw"`
}

// Graded reports whether the item carries a name and a numeric grade.
func (g GradeItem) Graded() bool {
	return g.ItemName != nil && strings.TrimSpace(*g.ItemName) != "" && g.GradeRaw != nil
}

type gradeItemsResponse struct {
	UserGrades []struct {
		GradeItems []GradeItem `json:"gradeitems"`
	} `json:"usergrades"`
}
