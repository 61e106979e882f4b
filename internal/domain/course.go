package domain

import "time"

// User holds the identity plus the sealed credentials for both platforms.
// The encrypted fields are hex strings produced by the vault and are never
// decrypted outside a sync run.
type User struct {
	ID                       string    `db:"id" json:"id"`
	Email                    string    `db:"email" json:"email"`
	LMSTokenEncrypted        *string   `db:"lms_token_encrypted" json:"-"`
	LMSTokenIV               *string   `db:"lms_token_iv" json:"-"`
	GradingPasswordEncrypted *string   `db:"grading_password_encrypted" json:"-"`
	GradingPasswordIV        *string   `db:"grading_password_iv" json:"-"`
	GradingConnected         bool      `db:"grading_connected" json:"grading_connected"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
}

// HasLMSToken reports whether a sealed LMS token pair is stored.
func (u User) HasLMSToken() bool {
	return u.LMSTokenEncrypted != nil && *u.LMSTokenEncrypted != "" && u.LMSTokenIV != nil
}

// HasGradingPassword reports whether a sealed grading-platform password pair is stored.
func (u User) HasGradingPassword() bool {
	return u.GradingPasswordEncrypted != nil && *u.GradingPasswordEncrypted != "" && u.GradingPasswordIV != nil
}

// Course belongs to one user and is keyed upstream by its LMS course id.
type Course struct {
	ID              string     `db:"id" json:"id"`
	UserID          string     `db:"user_id" json:"user_id"`
	LMSCourseID     int64      `db:"lms_course_id" json:"lms_course_id"`
	Name            string     `db:"name" json:"name"`
	ShortName       *string    `db:"short_name" json:"short_name"`
	GradingCourseID *string    `db:"grading_course_id" json:"grading_course_id"`
	SyllabusParsed  bool       `db:"syllabus_parsed" json:"syllabus_parsed"`
	LastSyncedAt    *time.Time `db:"last_synced_at" json:"last_synced_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// RecurringRule generates one assignment per matching weekday in a date range.
type RecurringRule struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	CourseID  string         `db:"course_id" json:"course_id"`
	Title     string         `db:"title" json:"title" validate:"required"`
	DayOfWeek int            `db:"day_of_week" json:"day_of_week" validate:"min=0,max=6"`
	Type      AssignmentType `db:"type" json:"type" validate:"oneof=homework exam project reading quiz other"`
	Platform  Platform       `db:"platform" json:"platform" validate:"oneof=grading_platform lms in-class unknown"`
	StartDate string         `db:"start_date" json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string         `db:"end_date" json:"end_date" validate:"required,datetime=2006-01-02"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Syllabus is the single upload slot for a (user, course) pair.
type Syllabus struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	CourseID    string     `db:"course_id" json:"course_id"`
	FilePath    string     `db:"file_path" json:"file_path"`
	ParsedAt    *time.Time `db:"parsed_at" json:"parsed_at"`
	RawResponse *string    `db:"raw_response" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
