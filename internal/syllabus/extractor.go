package syllabus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const prompt = `You are parsing a university course syllabus. Extract every assignment, exam, quiz, project, paper, and graded deadline.

Return ONLY valid JSON with no markdown and no explanation:
{
  "assignments": [
    {
      "title": "string",
      "due_date": "YYYY-MM-DD or null if unclear",
      "due_time": "HH:MM or null",
      "type": "homework|exam|project|reading|quiz|other",
      "platform": "grading_platform|lms|in-class|unknown",
      "points": number or null,
      "notes": "string or null",
      "confidence": "high|medium|low"
    }
  ]
}

Rules:
- Include ALL graded items, do not skip anything
- If a due date is ambiguous or relative (e.g. "Week 3"), set due_date null and explain in notes
- Set confidence "low" for any date you are not certain about
- Course name for context: {{COURSE_NAME}}`

// Extractor turns a document into the extraction service's raw text answer.
type Extractor interface {
	Extract(ctx context.Context, document []byte, courseName string) (string, error)
}

// MessagesExtractor asks a hosted model to read the document.
type MessagesExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewMessagesExtractor creates an extractor. A nil httpClient gets a two
// minute timeout; opts are applied after the defaults.
func NewMessagesExtractor(baseURL, apiKey, model string, maxTokens int, httpClient *http.Client, opts ...option.RequestOption) *MessagesExtractor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	opts = append([]option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}, opts...)
	return &MessagesExtractor{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

// Extract sends the document as a base64 PDF block with the extraction
// prompt and returns the concatenated text of the answer.
func (e *MessagesExtractor) Extract(ctx context.Context, document []byte, courseName string) (string, error) {
	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
					Data: base64.StdEncoding.EncodeToString(document),
				}),
				anthropic.NewTextBlock(strings.ReplaceAll(prompt, "{{COURSE_NAME}}", courseName)),
			),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("extraction service returned %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("failed to call extraction service: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
