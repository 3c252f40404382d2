// Package deepseek implements the planning collaborator over the
// DeepSeek chat completions API (OpenAI-compatible wire format).
package deepseek

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

	"ideaforge/internal/logging"
	"ideaforge/internal/planner"
)

// ErrNotConfigured means no API key is available. Callers should treat
// the collaborator as absent rather than failing hard.
var ErrNotConfigured = errors.New("deepseek: api key not configured")

// TransportError wraps a failure to reach the API or read its response.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("deepseek: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("deepseek: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-200 response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deepseek: api returned %d: %s", e.StatusCode, e.Message)
}

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-chat"
	maxTokens      = 4000
	temperature    = 0.3
)

// Options configure the client. Zero values fall back to defaults.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the DeepSeek chat completions endpoint and satisfies
// the planner collaborator contract.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewClient builds a client. A missing API key is not an error here;
// Plan reports ErrNotConfigured when called.
func NewClient(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		apiKey:  opts.APIKey,
		model:   opts.Model,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
	}
}

// Available reports whether the client has credentials to work with.
func (c *Client) Available() bool { return c.apiKey != "" }

// Wire types for the chat completions endpoint.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// planPayload is the structured body the model is asked to produce.
type planPayload struct {
	Plan        string             `json:"plan"`
	Metrics     map[string]float64 `json:"metrics"`
	Suggestions []string           `json:"suggestions"`
}

const systemPrompt = `You are an expert system architect and project planner.
Given a planning context, produce one refined plan draft.
Respond with a single JSON object:
{"plan": "<the full plan text>",
 "metrics": {"feasibility": 0-10, "completeness": 0-10, "viability": 0-10},
 "suggestions": ["<refinement direction>", ...]}
Cover architecture, implementation phases, risks, timeline and technology choices in the plan text.`

// Plan sends the planning context to the model and parses the draft.
func (c *Client) Plan(ctx context.Context, planningContext string) (*planner.PlanResult, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: planningContext},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("deepseek: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("deepseek: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	logging.APIDebug("DeepSeek request: model=%s context=%d bytes", c.model, len(planningContext))
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		terr := &TransportError{Op: "chat completion", Err: err, Timeout: isTimeout(ctx, err)}
		logging.Get(logging.CategoryAPI).Error("DeepSeek call failed: %v", terr)
		logging.Audit().APICall(c.model, time.Since(start).Milliseconds(), false, terr.Error())
		return nil, terr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err, Timeout: isTimeout(ctx, err)}
	}

	if resp.StatusCode != http.StatusOK {
		aerr := &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(body)}
		logging.Get(logging.CategoryAPI).Error("DeepSeek call failed: %v", aerr)
		logging.Audit().APICall(c.model, time.Since(start).Milliseconds(), false, aerr.Error())
		return nil, aerr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "response contained no choices"}
	}

	elapsed := time.Since(start)
	logging.API("DeepSeek response: model=%s tokens=%d elapsed=%s",
		parsed.Model, parsed.Usage.TotalTokens, elapsed.Round(time.Millisecond))
	logging.Audit().APICall(c.model, elapsed.Milliseconds(), true, "")

	return parseResult(parsed.Choices[0].Message.Content), nil
}

// parseResult extracts the structured payload from the model output,
// tolerating markdown fences and falling back to the raw text when the
// model ignored the format.
func parseResult(content string) *planner.PlanResult {
	raw := extractJSON(content)
	if raw != "" {
		var p planPayload
		if err := json.Unmarshal([]byte(raw), &p); err == nil && p.Plan != "" {
			return &planner.PlanResult{
				ResultText:  p.Plan,
				Metrics:     p.Metrics,
				Suggestions: p.Suggestions,
			}
		}
	}
	logging.APIDebug("DeepSeek response was not structured JSON, using raw text")
	return &planner.PlanResult{ResultText: content}
}

// extractJSON returns the outermost JSON object in the text, if any.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func apiErrorMessage(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}
