// Package parser decodes the document-extraction service's answer into
// assignment items.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/duedeck/internal/domain"
)

var fencePattern = regexp.MustCompile("```(?:json)?")

// Item is one extracted deadline.
type Item struct {
	Title      string                `json:"title" validate:"required"`
	DueDate    *string               `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	DueTime    *string               `json:"due_time" validate:"omitempty,datetime=15:04"`
	Type       domain.AssignmentType `json:"type" validate:"oneof=homework exam project reading quiz other"`
	Platform   domain.Platform       `json:"platform" validate:"oneof=grading_platform lms in-class unknown"`
	Points     *float64              `json:"points" validate:"omitempty,gte=0"`
	Notes      *string               `json:"notes"`
	Confidence domain.Confidence     `json:"confidence" validate:"oneof=high medium low"`
}

type envelope struct {
	Assignments *[]Item `json:"assignments"`
}

var validate = validator.New()

// StripFences removes every markdown code fence token from a payload,
// wherever it sits, and trims any chatter before the first opening bracket
// or after the last closing one.
func StripFences(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(fencePattern.ReplaceAllString(string(raw), ""))

	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "}]")
	if start > 0 && end > start {
		text = text[start : end+1]
	}
	return text, nil
}

// Parse reads the service's text answer. It accepts either an object with an
// "assignments" array or a bare array. Missing type, platform and confidence
// take their defaults; any other deviation is an extraction error.
func Parse(r io.Reader) ([]Item, string, error) {
	clean, err := StripFences(r)
	if err != nil {
		return nil, "", domain.ExtractionError("Could not read the syllabus extraction", err)
	}

	items, err := decode([]byte(clean))
	if err != nil {
		return nil, clean, domain.ExtractionError("Could not parse the syllabus extraction", err)
	}

	for i := range items {
		normalize(&items[i])
		if err := validate.Struct(items[i]); err != nil {
			return nil, clean, domain.ExtractionError("Could not parse the syllabus extraction", fmt.Errorf("item %d: %w", i, err))
		}
	}
	return items, clean, nil
}

func decode(payload []byte) ([]Item, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty response")
	}
	switch payload[0] {
	case '{':
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		if env.Assignments == nil {
			return nil, errors.New(`response has no "assignments" array`)
		}
		return *env.Assignments, nil
	case '[':
		var items []Item
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	return nil, fmt.Errorf("response is not JSON: %q", firstLine(payload))
}

func normalize(it *Item) {
	it.Title = strings.TrimSpace(it.Title)
	it.DueDate = blankToNil(it.DueDate)
	it.DueTime = blankToNil(it.DueTime)
	it.Notes = blankToNil(it.Notes)
	if it.Type == "" {
		it.Type = domain.TypeOther
	}
	if it.Platform == "" {
		it.Platform = domain.PlatformUnknown
	}
	if it.Confidence == "" {
		it.Confidence = domain.ConfidenceMedium
	}
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" || strings.EqualFold(strings.TrimSpace(*s), "null") {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	if len(b) > 40 {
		b = b[:40]
	}
	return string(b)
}
