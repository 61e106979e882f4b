package coursematch

import (
	"regexp"
	"strings"

	"github.com/conorfennell/duedeck/internal/domain"
)

var (
	codePattern      = regexp.MustCompile(`(?i)\b([A-Z]{2,5})\s*[-–]?\s*(\d{3}[A-Z]?)(?:\D|$)`)
	shortNamePattern = regexp.MustCompile(`([A-Z]{2,5})[-\s](\d{3}[A-Z]?)`)
	segmentSplit     = regexp.MustCompile(`[-–|]`)
)

// NormalizeCode extracts a canonical "DEPTNNN" code from free text such as
// "Spring 2026 - COSC 208 - Intro to CS - L01". It returns false when the
// text carries no department + number pattern.
func NormalizeCode(text string) (string, bool) {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1] + m[2]), true
}

// codeOf tries each candidate text in order and returns the first code found.
func codeOf(texts ...string) (string, bool) {
	for _, t := range texts {
		if code, ok := NormalizeCode(t); ok {
			return code, true
		}
	}
	return "", false
}

// External is a course as another system names it.
type External struct {
	ID        string
	ShortName string
	FullName  string
}

// Match resolves an external course to one of the user's courses. A stored
// explicit link wins; otherwise both sides are normalized and the first
// candidate with an equal code is returned. Duplicate codes are not
// disambiguated.
func Match(ext External, candidates []domain.Course) *domain.Course {
	for i := range candidates {
		c := &candidates[i]
		if c.GradingCourseID != nil && *c.GradingCourseID == ext.ID {
			return c
		}
	}

	extCode, ok := codeOf(ext.ShortName, ext.FullName)
	if !ok {
		return nil
	}

	for i := range candidates {
		c := &candidates[i]
		short := ""
		if c.ShortName != nil {
			short = *c.ShortName
		}
		if code, ok := codeOf(c.Name, short); ok && code == extCode {
			return c
		}
	}
	return nil
}

// Labeled is a course with its display label.
type Labeled struct {
	domain.Course
	Label string `json:"label"`
}

// WithLabels attaches a display label to each course.
func WithLabels(courses []domain.Course) []Labeled {
	out := make([]Labeled, len(courses))
	for i, c := range courses {
		short := ""
		if c.ShortName != nil {
			short = *c.ShortName
		}
		out[i] = Labeled{Course: c, Label: Label(c.Name, short)}
	}
	return out
}

// Label renders the short "DEPT NNN" display label for a course, falling
// back to the short name, then the last segment of the full name.
func Label(name, shortName string) string {
	if m := codePattern.FindStringSubmatch(name); m != nil {
		return strings.ToUpper(m[1] + " " + m[2])
	}

	if shortName != "" {
		if m := shortNamePattern.FindStringSubmatch(shortName); m != nil {
			return m[1] + " " + m[2]
		}
		if len(shortName) <= 12 {
			return strings.ToUpper(shortName)
		}
	}

	var parts []string
	for _, p := range segmentSplit.Split(name, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		if last := parts[len(parts)-1]; len(last) <= 20 {
			return strings.ToUpper(last)
		}
	}

	if len(name) > 10 {
		name = name[:10]
	}
	return strings.ToUpper(name)
}
