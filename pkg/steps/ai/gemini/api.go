package gemini

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidResponse is returned when a 2xx body does not carry a reply text.
var ErrInvalidResponse = errors.New("invalid response format")

// GenerateContentRequest is the body POSTed to the generateContent endpoint.
type GenerateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// NewUserRequest wraps a single user text the way the chat client sends it:
// one content entry, no history.
func NewUserRequest(text string, cfg GenerationConfig) *GenerateContentRequest {
	return &GenerateContentRequest{
		Contents: []Content{
			{
				Role:  "user",
				Parts: []Part{{Text: text}},
			},
		},
		GenerationConfig: cfg,
	}
}

type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Text returns candidates[0].content.parts[0].text, or ErrInvalidResponse if
// any step of that path is missing or the text is empty.
func (r *GenerateContentResponse) Text() (string, error) {
	if r == nil || len(r.Candidates) == 0 {
		return "", errors.Wrap(ErrInvalidResponse, "no candidates")
	}
	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", errors.Wrap(ErrInvalidResponse, "no parts in first candidate")
	}
	if parts[0].Text == "" {
		return "", errors.Wrap(ErrInvalidResponse, "empty text")
	}
	return parts[0].Text, nil
}

// ErrorResponse is the JSON error body of the API.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// APIError is returned for any non-2xx response. Message holds the server's
// explanation (JSON error.message or the plain-text body) and may be empty.
type APIError struct {
	StatusCode int
	Code       int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying: rate limiting or a
// server side failure.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func isJSONContentType(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "application/json")
}
