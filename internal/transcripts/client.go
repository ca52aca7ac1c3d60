// Package transcripts talks to the transcript provider: video metadata for
// pricing a job, and the timed transcript the summary is generated from.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/pkg/config"
)

var errBaseURLRequired = errors.New("transcripts base url is required")

// Metadata describes a video before any work is done on it.
type Metadata struct {
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	Language        string `json:"language,omitempty"`
}

// Line is one timed transcript line.
type Line struct {
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Text         string  `json:"text"`
}

// Transcript is the full timed text of a video.
type Transcript struct {
	VideoID  string `json:"video_id"`
	Language string `json:"language"`
	Lines    []Line `json:"lines"`
}

// Text joins the transcript lines.
func (t Transcript) Text() string {
	var b strings.Builder
	for i, line := range t.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.TrimSpace(line.Text))
	}
	return b.String()
}

// Client calls the transcript provider. Errors for non-2xx responses are
// *resilience.StatusError so callers can classify them.
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

func NewClient(cfg config.TranscriptsConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Metadata loads title and duration for videoID.
func (c *Client) Metadata(ctx context.Context, videoID string) (Metadata, error) {
	var out Metadata
	if err := c.get(ctx, "transcripts.metadata", "/videos/"+url.PathEscape(videoID), &out); err != nil {
		return Metadata{}, err
	}
	if out.VideoID == "" {
		out.VideoID = videoID
	}
	return out, nil
}

// Transcript loads the timed transcript for videoID.
func (c *Client) Transcript(ctx context.Context, videoID string) (Transcript, error) {
	var out Transcript
	if err := c.get(ctx, "transcripts.fetch", "/videos/"+url.PathEscape(videoID)+"/transcript", &out); err != nil {
		return Transcript{}, err
	}
	if out.VideoID == "" {
		out.VideoID = videoID
	}
	if len(out.Lines) == 0 {
		return Transcript{}, &resilience.StatusError{
			Operation:  "transcripts.fetch",
			StatusCode: http.StatusUnprocessableEntity,
			Body:       "video has no transcript",
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resilience.DecodeJSON(operation, resp, out)
}
