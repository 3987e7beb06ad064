package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	// apiVersion is the messages API version header value.
	apiVersion = "2023-06-01"

	// DefaultMaxTokens bounds the model response size.
	DefaultMaxTokens = 4096

	// DefaultRequestTimeout is the per-call deadline.
	DefaultRequestTimeout = 120 * time.Second

	// statusOverloaded is the non-standard status the messages API
	// answers with when it is overloaded.
	statusOverloaded = 529
)

// ClientConfig configures the model API client.
type ClientConfig struct {
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int

	// RequestTimeout is the per-call deadline. Exceeding it surfaces as
	// ErrTimeout and follows the retry path.
	RequestTimeout time.Duration

	// RateLimit is the maximum requests per second to the model API.
	// Zero means unlimited.
	RateLimit float64
}

// Client generates artifacts by calling a messages-style model API.
//
// Retry is NOT handled here: transient failures are surfaced as typed
// errors so the worker's backoff policy stays the single source of
// truth for attempt accounting.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Generator = (*Client)(nil)

// NewClient creates a model API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// messagesRequest is the wire request to the messages API.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the wire response from the messages API.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Generate performs one generation attempt.
func (c *Client) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyTransport(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	text, err := c.sendRequest(ctx, buildPrompt(req))
	if err != nil {
		return nil, err
	}

	var artifact Artifact
	if err := json.Unmarshal([]byte(stripMarkdownCodeFences(text)), &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact: %v: %w", err, ErrMalformedOutput)
	}
	if artifact.Kind == "" {
		artifact.Kind = req.Kind
	}
	if artifact.SourceFingerprint == "" {
		artifact.SourceFingerprint = req.Fingerprint
	}
	return &artifact, nil
}

// sendRequest posts a prompt and extracts the first text block.
func (c *Client) sendRequest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == statusOverloaded:
		return "", fmt.Errorf("model API status %d: %w", resp.StatusCode, ErrRateLimited)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		// Server-side failures are transient from the pipeline's point of
		// view and share the timeout retry path.
		return "", fmt.Errorf("model API status %d: %w", resp.StatusCode, ErrTimeout)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("model API status %d: %s: %w", resp.StatusCode, truncate(respBody, 256), ErrMalformedOutput)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse model response: %v: %w", err, ErrMalformedOutput)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty model response: %w", ErrMalformedOutput)
	}
	return parsed.Content[0].Text, nil
}

// buildPrompt renders the generation instruction for one attempt.
//
// Prompt content quality is a collaborator concern; the pipeline only
// requires that the model answer with a JSON artifact carrying a
// claims block.
func buildPrompt(req Request) string {
	factsJSON, _ := json.Marshal(req.Facts)

	var b strings.Builder
	b.WriteString("Generate a ")
	b.WriteString(req.Kind)
	b.WriteString(" artifact for the candidate described by the source facts below.\n")
	b.WriteString("Respond with a single JSON object with fields kind, source_fingerprint, claims, body.\n")
	b.WriteString("claims.immutable must restate every immutable field you use, verbatim.\n")
	b.WriteString("claims.assertions must list every skill, certification, degree, or metric the body mentions.\n\n")
	b.WriteString("source_fingerprint: ")
	b.WriteString(req.Fingerprint)
	b.WriteString("\nsource facts: ")
	b.Write(factsJSON)
	b.WriteString("\nrequest: ")
	b.Write(req.Payload)
	return b.String()
}

// classifyTransport maps transport-level failures onto the contract's
// failure kinds.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("model call: %v: %w", err, ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Remaining transport failures (connection refused, reset, DNS) are
	// transient from the pipeline's point of view and share the timeout
	// retry path.
	return fmt.Errorf("model call: %v: %w", err, ErrTimeout)
}

// stripMarkdownCodeFences removes a ```json fence wrapper if present.
func stripMarkdownCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
