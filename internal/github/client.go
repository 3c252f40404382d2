// Package github implements the repository automation collaborator
// over the GitHub REST v3 API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ideaforge/internal/logging"
)

// ErrNotConfigured means the client has no token (and, for reads, no
// username) to work with. Handlers report this as unavailable instead
// of failing the process.
var ErrNotConfigured = errors.New("github: credentials not configured")

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("github: not found")

// APIError is any other non-success response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: api returned %d: %s", e.StatusCode, e.Message)
}

const (
	defaultBaseURL = "https://api.github.com"
	userAgent      = "ideaforge/1.0"
)

// Options configure the client. Zero values fall back to defaults.
type Options struct {
	Username   string
	Token      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the GitHub REST API.
type Client struct {
	username string
	token    string
	baseURL  string
	http     *http.Client
}

// NewClient builds a client. Missing credentials are not an error
// here; operations that need them report ErrNotConfigured.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		username: opts.Username,
		token:    opts.Token,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
	}
}

// Available reports whether authenticated operations can be attempted.
func (c *Client) Available() bool { return c.token != "" }

// Repository is the subset of repository metadata the engine uses.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"html_url"`
	CloneURL      string    `json:"clone_url"`
	SSHURL        string    `json:"ssh_url"`
	DefaultBranch string    `json:"default_branch"`
	Private       bool      `json:"private"`
	Language      string    `json:"language,omitempty"`
	Stars         int       `json:"stargazers_count"`
	Forks         int       `json:"forks_count"`
	Topics        []string  `json:"topics,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Issue is a created or fetched issue.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	State     string    `json:"state"`
	URL       string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

// FileContents is a file fetched from a repository, decoded.
type FileContents struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    int64  `json:"size"`
	Content string `json:"content"`
}

// CreateRepository creates a repository under the authenticated user.
// Not idempotent: a blind retry can duplicate.
func (c *Client) CreateRepository(ctx context.Context, name, description string, private bool) (*Repository, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}

	body := map[string]any{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}
	var repo Repository
	if err := c.do(ctx, http.MethodPost, "/user/repos", body, &repo, http.StatusCreated); err != nil {
		return nil, err
	}
	logging.GitHub("Created repository %s", repo.FullName)
	return &repo, nil
}

// ListRepositories lists the authenticated user's repositories, or the
// configured username's public ones when no token is present.
func (c *Client) ListRepositories(ctx context.Context) ([]*Repository, error) {
	path := "/user/repos"
	if !c.Available() {
		if c.username == "" {
			return nil, ErrNotConfigured
		}
		path = "/users/" + url.PathEscape(c.username) + "/repos"
	}

	var repos []*Repository
	if err := c.do(ctx, http.MethodGet, path, nil, &repos, http.StatusOK); err != nil {
		return nil, err
	}
	logging.GitHub("Listed %d repositories", len(repos))
	return repos, nil
}

// contentsResponse is the wire shape of the contents endpoint.
type contentsResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContents fetches and decodes one file from a repository owned
// by the configured username. Idempotent.
func (c *Client) GetFileContents(ctx context.Context, repo, path string) (*FileContents, error) {
	owner := c.username
	if owner == "" {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(owner), url.PathEscape(repo), escapePath(path))
	var parsed contentsResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &parsed, http.StatusOK); err != nil {
		return nil, err
	}
	if parsed.Type != "" && parsed.Type != "file" {
		return nil, fmt.Errorf("github: %s is a %s, not a file", path, parsed.Type)
	}

	content := parsed.Content
	if parsed.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("github: decode %s: %w", path, err)
		}
		content = string(decoded)
	}

	return &FileContents{
		Name:    parsed.Name,
		Path:    parsed.Path,
		SHA:     parsed.SHA,
		Size:    parsed.Size,
		Content: content,
	}, nil
}

// CreateIssue opens an issue on a repository owned by the configured
// username. Not idempotent: a blind retry can duplicate.
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	if !c.Available() || c.username == "" {
		return nil, ErrNotConfigured
	}

	payload := map[string]any{"title": title, "body": body}
	endpoint := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(c.username), url.PathEscape(repo))
	var issue Issue
	if err := c.do(ctx, http.MethodPost, endpoint, payload, &issue, http.StatusCreated); err != nil {
		return nil, err
	}
	logging.GitHub("Created issue #%d on %s", issue.Number, repo)
	return &issue, nil
}

// do performs one API call and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any, wantStatus int) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logging.GitHubError("%s %s failed: %v", method, path, err)
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("github: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != wantStatus {
		aerr := &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(raw)}
		logging.GitHubError("%s %s: %v", method, path, aerr)
		return aerr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("github: decode response: %w", err)
		}
	}
	return nil
}

func apiErrorMessage(raw []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// escapePath escapes a slash-separated repo path segment by segment.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
