package lms

import (
	"fmt"
	"strings"
	"time"
)

// CurrentTerm derives the term label from now: August onward is "fall {year}",
// earlier months are "spring {year}".
func CurrentTerm(now time.Time) string {
	if now.Month() >= time.August {
		return fmt.Sprintf("fall %d", now.Year())
	}
	return fmt.Sprintf("spring %d", now.Year())
}

// InCurrentTerm reports whether a course belongs to the term containing now.
// Its name must start with the term label, case-insensitively, and a nonzero
// end date must not be in the past.
func InCurrentTerm(c Course, now time.Time) bool {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(c.FullName)), CurrentTerm(now)) {
		return false
	}
	if c.EndDate > 0 && c.EndDate < now.Unix() {
		return false
	}
	return true
}

// CurrentCourses filters courses down to the current term.
func CurrentCourses(courses []Course, now time.Time) []Course {
	var out []Course
	for _, c := range courses {
		if InCurrentTerm(c, now) {
			out = append(out, c)
		}
	}
	return out
}

// DueParts renders a unix timestamp as a date and a clock time in loc.
// It reports false for an unscheduled (zero) timestamp.
func DueParts(ts int64, loc *time.Location) (date, clock string, ok bool) {
	if ts <= 0 {
		return "", "", false
	}
	t := time.Unix(ts, 0).In(loc)
	return t.Format("2006-01-02"), t.Format("15:04"), true
}
