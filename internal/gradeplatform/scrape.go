package gradeplatform

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/conorfennell/duedeck/internal/domain"
)

// Course is a course tile from the landing page.
type Course struct {
	ID        string
	ShortName string
	FullName  string
}

// Assignment is one scraped assignment. DueDate and DueTime are rendered in
// the scraper's location.
type Assignment struct {
	ID        string
	Name      string
	DueDate   *string
	DueTime   *string
	MaxPoints *float64
	Grade     *float64
	Status    domain.Status
}

// Strategy reads one page shape. Detect must be cheap and must not fail.
type Strategy interface {
	Name() string
	Detect(doc *goquery.Document) bool
	ScrapeCourses(doc *goquery.Document) []Course
	ScrapeAssignments(doc *goquery.Document, loc *time.Location) ([]Assignment, error)
}

// Scraper probes its strategies in order and falls back to the next one
// when a detected shape fails to parse.
type Scraper struct {
	strategies []Strategy
	loc        *time.Location
}

// NewScraper returns a scraper using the structured-blob strategy first and
// the table strategy second.
func NewScraper(loc *time.Location) *Scraper {
	if loc == nil {
		loc = time.UTC
	}
	return &Scraper{strategies: []Strategy{blobStrategy{}, tableStrategy{}}, loc: loc}
}

// Courses extracts the course tiles of a landing page, deduplicated by id.
func (s *Scraper) Courses(html string) ([]Course, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse account page: %w", err)
	}
	for _, st := range s.strategies {
		if courses := st.ScrapeCourses(doc); len(courses) > 0 {
			return courses, nil
		}
	}
	return nil, nil
}

// Assignments extracts the assignments of a course page. A page matching
// no known shape yields no assignments.
func (s *Scraper) Assignments(html string) ([]Assignment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse course page: %w", err)
	}

	var errs []error
	for _, st := range s.strategies {
		if !st.Detect(doc) {
			continue
		}
		out, err := st.ScrapeAssignments(doc, s.loc)
		if err == nil {
			return out, nil
		}
		slog.Debug("Course page shape failed to parse, trying next", "strategy", st.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", st.Name(), err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

var numericID = regexp.MustCompile(`^\d+$`)

// tileCourses reads the course tiles of the landing page. Both page shapes
// share this layout.
func tileCourses(doc *goquery.Document) []Course {
	var courses []Course
	seen := map[string]bool{}
	doc.Find(`a[href^="/courses/"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		parts := strings.Split(href, "/")
		if len(parts) < 3 || !numericID.MatchString(parts[2]) {
			return
		}
		id := parts[2]
		short := cleanText(link.Find(".courseBox--shortname").First().Text())
		if short == "" || seen[id] {
			return
		}
		seen[id] = true
		courses = append(courses, Course{
			ID:        id,
			ShortName: short,
			FullName:  cleanText(link.Find(".courseBox--name").First().Text()),
		})
	})
	return courses
}

// blobStrategy reads the instructor view, a JSON table embedded in a data attribute.
type blobStrategy struct{}

type blobProps struct {
	TableData []blobRow `json:"table_data"`
}

type blobRow struct {
	Type             string          `json:"type"`
	Title            string          `json:"title"`
	URL              string          `json:"url"`
	TotalPoints      json.RawMessage `json:"total_points"`
	SubmissionWindow *struct {
		DueDate *string `json:"due_date"`
	} `json:"submission_window"`
}

const blobSelector = `div[data-react-class="AssignmentsTable"]`

func (blobStrategy) Name() string { return "blob" }

func (blobStrategy) Detect(doc *goquery.Document) bool {
	return doc.Find(blobSelector).Length() > 0
}

func (blobStrategy) ScrapeCourses(doc *goquery.Document) []Course { return tileCourses(doc) }

// ScrapeAssignments maps the blob straight across. The instructor view has
// no per-student state, so everything is pending.
func (blobStrategy) ScrapeAssignments(doc *goquery.Document, loc *time.Location) ([]Assignment, error) {
	raw, ok := doc.Find(blobSelector).First().Attr("data-react-props")
	if !ok {
		return nil, errors.New("assignments table has no props")
	}
	var props blobProps
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("failed to decode assignments table: %w", err)
	}

	var out []Assignment
	for _, row := range props.TableData {
		if row.Type != "assignment" || strings.TrimSpace(row.Title) == "" {
			continue
		}
		a := Assignment{
			ID:        lastSegment(row.URL),
			Name:      strings.TrimSpace(row.Title),
			MaxPoints: looseFloat(row.TotalPoints),
			Status:    domain.StatusPending,
		}
		if row.SubmissionWindow != nil && row.SubmissionWindow.DueDate != nil {
			if t, ok := parseTimestamp(*row.SubmissionWindow.DueDate); ok {
				a.DueDate, a.DueTime = splitTime(t, loc)
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// tableStrategy reads the student view, one table row per assignment.
type tableStrategy struct{}

const rowSelector = `tr[role="row"]`

func (tableStrategy) Name() string { return "table" }

func (tableStrategy) Detect(doc *goquery.Document) bool {
	return doc.Find(rowSelector).Length() > 0
}

func (tableStrategy) ScrapeCourses(doc *goquery.Document) []Course { return tileCourses(doc) }

// ScrapeAssignments skips the header row, and the trailing row when the
// table has more than two.
func (tableStrategy) ScrapeAssignments(doc *goquery.Document, loc *time.Location) ([]Assignment, error) {
	rows := doc.Find(rowSelector)
	n := rows.Length()
	if n <= 1 {
		return nil, nil
	}
	end := n
	if n > 2 {
		end = n - 1
	}

	var out []Assignment
	rows.Slice(1, end).Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		if th.Length() == 0 {
			return
		}
		name := cleanText(th.Text())
		if name == "" {
			return
		}

		a := Assignment{Name: name, ID: rowAssignmentID(th)}
		cells := row.Find("td")
		a.Status, a.Grade, a.MaxPoints = ParseGradeCell(cells.Eq(0).Text())
		if stamp, ok := cells.Eq(1).Find(".submissionTimeChart--dueDate").First().Attr("datetime"); ok {
			if t, ok := parseTimestamp(stamp); ok {
				a.DueDate, a.DueTime = splitTime(t, loc)
			}
		}
		out = append(out, a)
	})
	return out, nil
}

func rowAssignmentID(th *goquery.Selection) string {
	if href, ok := th.Find("a[href]").First().Attr("href"); ok {
		parts := strings.Split(href, "/")
		for i, p := range parts {
			if p == "assignments" && i+1 < len(parts) {
				return parts[i+1]
			}
		}
		return ""
	}
	id, _ := th.Find("button.js-submitAssignment").First().Attr("data-assignment-id")
	return id
}

// ParseGradeCell reads the first cell of a student-view row. "X / Y" is
// graded with grade X out of Y; an empty cell, "No Submission" or "--" is
// pending; any other text is submitted.
func ParseGradeCell(text string) (status domain.Status, grade, outOf *float64) {
	text = cleanText(text)
	if left, right, ok := strings.Cut(text, " / "); ok {
		if m, err := strconv.ParseFloat(strings.TrimSpace(right), 64); err == nil {
			outOf = &m
		}
		if g, err := strconv.ParseFloat(strings.TrimSpace(left), 64); err == nil {
			return domain.StatusGraded, &g, outOf
		}
		return domain.StatusSubmitted, nil, outOf
	}
	switch text {
	case "", "No Submission", "--":
		return domain.StatusPending, nil, nil
	}
	return domain.StatusSubmitted, nil, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func splitTime(t time.Time, loc *time.Location) (*string, *string) {
	local := t.In(loc)
	date, clock := local.Format("2006-01-02"), local.Format("15:04")
	return &date, &clock
}

// looseFloat accepts a JSON number or a numeric string.
func looseFloat(raw json.RawMessage) *float64 {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v == 0 {
		return nil
	}
	return &v
}

func lastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
