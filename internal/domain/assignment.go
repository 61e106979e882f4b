package domain

import "time"

// AssignmentType classifies the kind of graded work.
type AssignmentType string

const (
	TypeHomework AssignmentType = "homework"
	TypeExam     AssignmentType = "exam"
	TypeProject  AssignmentType = "project"
	TypeReading  AssignmentType = "reading"
	TypeQuiz     AssignmentType = "quiz"
	TypeOther    AssignmentType = "other"
)

// Platform is where the work is handed in.
type Platform string

const (
	PlatformGrading Platform = "grading_platform"
	PlatformLMS     Platform = "lms"
	PlatformInClass Platform = "in-class"
	PlatformUnknown Platform = "unknown"
)

// Status is the completion state of an assignment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusGraded    Status = "graded"
	StatusExcused   Status = "excused"
	StatusArchived  Status = "archived"
)

// Source records which feed produced an assignment row.
type Source string

const (
	SourceSyllabus  Source = "syllabus"
	SourceLMS       Source = "lms"
	SourceManual    Source = "manual"
	SourceRecurring Source = "recurring"
	SourceGrading   Source = "grading_platform"
)

// Confidence is the parse confidence attached to extracted or synced rows.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// progress orders the statuses a sync is allowed to move between.
// Statuses outside the map are set by the user only.
var progress = map[Status]int{
	StatusPending:   0,
	StatusSubmitted: 1,
	StatusGraded:    2,
}

// Advances reports whether moving from s to next is a forward step on the ladder.
func (s Status) Advances(next Status) bool {
	cur, ok := progress[s]
	if !ok {
		return false
	}
	n, ok := progress[next]
	if !ok {
		return false
	}
	return n > cur
}

// Assignment is one row of the per-user deadline ledger.
type Assignment struct {
	ID              string         `db:"id" json:"id"`
	UserID          string         `db:"user_id" json:"user_id"`
	CourseID        string         `db:"course_id" json:"course_id"`
	Title           string         `db:"title" json:"title"`
	DueDate         *string        `db:"due_date" json:"due_date"`
	DueTime         *string        `db:"due_time" json:"due_time"`
	Type            AssignmentType `db:"type" json:"type"`
	Platform        Platform       `db:"platform" json:"platform"`
	Points          *float64       `db:"points" json:"points"`
	Status          Status         `db:"status" json:"status"`
	Source          Source         `db:"source" json:"source"`
	Notes           *string        `db:"notes" json:"notes"`
	ParseConfidence *Confidence    `db:"parse_confidence" json:"parse_confidence"`
	RecurringRuleID *string        `db:"recurring_rule_id" json:"recurring_rule_id"`
	ExternalURL     *string        `db:"external_url" json:"external_url"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// ExternalAssignment is the canonical shape every upstream feed maps into
// before it reaches the reconciliation engine.
type ExternalAssignment struct {
	UserID      string
	CourseID    string
	Title       string
	DueDate     *string
	DueTime     *string
	Type        AssignmentType
	Platform    Platform
	Points      *float64
	Status      Status
	Source      Source
	Confidence  Confidence
	ExternalURL *string
}

// AssignmentFilter narrows a listing of a user's assignments.
type AssignmentFilter struct {
	Status    Status
	CourseID  string
	DueBefore string
	DueAfter  string
}
