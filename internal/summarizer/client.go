// Package summarizer generates structured video summaries through an
// OpenAI-compatible chat completions API.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/internal/transcripts"
	"github.com/angelmondragon/recapz-backend/pkg/config"
)

const operation = "summarizer.generate"

var (
	errAPIKeyRequired  = errors.New("openai api key is required")
	errBaseURLRequired = errors.New("openai base url is required")
)

const systemPrompt = `You summarize video transcripts. Reply with a JSON object:
{"title": string, "overview": string,
 "segments": [{"start_seconds": int, "end_seconds": int, "heading": string, "body": string}],
 "takeaways": [string]}
Segments follow the video in order and cite transcript timestamps. Give 3 to 7 takeaways.`

// Request is the input for one generation.
type Request struct {
	Model         string
	Title         string
	PromptVersion string
	Transcript    transcripts.Transcript
}

// Segment is a timestamped section of the generated summary.
type Segment struct {
	StartSeconds int    `json:"start_seconds"`
	EndSeconds   int    `json:"end_seconds"`
	Heading      string `json:"heading"`
	Body         string `json:"body"`
}

// Summary is the structured model output.
type Summary struct {
	Model     string    `json:"model"`
	Title     string    `json:"title"`
	Overview  string    `json:"overview"`
	Segments  []Segment `json:"segments"`
	Takeaways []string  `json:"takeaways"`
}

// Client calls the chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg config.OpenAIConfig, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Generate produces a summary of req.Transcript with req.Model.
func (c *Client) Generate(ctx context.Context, req Request) (Summary, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Summary{}, fmt.Errorf("%s: model is required", operation)
	}
	payload, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: UserPrompt(req)},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("%s: marshal request: %w", operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Summary{}, fmt.Errorf("%s: build request: %w", operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	if err := resilience.DecodeJSON(operation, resp, &out); err != nil {
		return Summary{}, err
	}
	if len(out.Choices) == 0 {
		return Summary{}, &resilience.StatusError{Operation: operation, StatusCode: http.StatusBadGateway, Body: "no choices returned"}
	}
	return parseSummary(req.Model, out.Choices[0].Message.Content)
}

// UserPrompt renders the transcript with [mm:ss] markers.
func UserPrompt(req Request) string {
	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Title)
	}
	if req.PromptVersion != "" {
		fmt.Fprintf(&b, "Prompt version: %s\n", req.PromptVersion)
	}
	b.WriteString("Transcript:\n")
	for _, line := range req.Transcript.Lines {
		total := int(line.StartSeconds)
		fmt.Fprintf(&b, "[%02d:%02d] %s\n", total/60, total%60, strings.TrimSpace(line.Text))
	}
	return b.String()
}

func parseSummary(model, content string) (Summary, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var summary Summary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		// A malformed completion is worth another attempt.
		return Summary{}, &resilience.StatusError{Operation: operation, StatusCode: http.StatusBadGateway, Body: "malformed summary json"}
	}
	if strings.TrimSpace(summary.Overview) == "" && len(summary.Segments) == 0 {
		return Summary{}, &resilience.StatusError{Operation: operation, StatusCode: http.StatusBadGateway, Body: "empty summary"}
	}
	summary.Model = model
	return summary, nil
}
