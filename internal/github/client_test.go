package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		Username: "octo",
		Token:    "test-token",
		BaseURL:  srv.URL,
		Timeout:  5 * time.Second,
	})
}

func TestCreateRepository(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": 7, "name": "planner", "full_name": "octo/planner",
			"html_url": "https://github.com/octo/planner", "default_branch": "main",
		})
	}))

	repo, err := c.CreateRepository(context.Background(), "planner", "a planning engine", true)
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}

	if gotPath != "POST /user/repos" {
		t.Errorf("request = %q", gotPath)
	}
	if gotAuth != "token test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["name"] != "planner" || gotBody["private"] != true || gotBody["auto_init"] != true {
		t.Errorf("body = %v", gotBody)
	}
	if repo.FullName != "octo/planner" || repo.ID != 7 {
		t.Errorf("repo = %+v", repo)
	}
}

func TestListRepositoriesUnauthenticatedUsesPublicEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "name": "a"}, {"id": 2, "name": "b"},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{Username: "octo", BaseURL: srv.URL})
	repos, err := c.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if gotPath != "/users/octo/repos" {
		t.Errorf("path = %q, want public endpoint", gotPath)
	}
	if len(repos) != 2 {
		t.Errorf("repos = %d, want 2", len(repos))
	}
}

func TestGetFileContentsDecodesBase64(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/planner/contents/docs/plan.md" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name": "plan.md", "path": "docs/plan.md", "sha": "abc", "size": 12,
			"type": "file", "encoding": "base64",
			"content": base64.StdEncoding.EncodeToString([]byte("# The Plan\n")),
		})
	}))

	file, err := c.GetFileContents(context.Background(), "planner", "docs/plan.md")
	if err != nil {
		t.Fatalf("GetFileContents: %v", err)
	}
	if file.Content != "# The Plan\n" {
		t.Errorf("content = %q", file.Content)
	}
	if file.SHA != "abc" || file.Name != "plan.md" {
		t.Errorf("file = %+v", file)
	}
}

func TestGetFileContentsNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))

	_, err := c.GetFileContents(context.Background(), "planner", "missing.md")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateIssue(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/planner/issues" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"number": 42, "title": "Scale the store", "state": "open",
		})
	}))

	issue, err := c.CreateIssue(context.Background(), "planner", "Scale the store", "details")
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.Number != 42 || issue.State != "open" {
		t.Errorf("issue = %+v", issue)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message": "name already exists"}`))
	}))

	_, err := c.CreateRepository(context.Background(), "dupe", "", false)
	var aerr *APIError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if aerr.StatusCode != http.StatusUnprocessableEntity || aerr.Message != "name already exists" {
		t.Errorf("api error = %+v", aerr)
	}
}

func TestUnconfiguredOperationsDegrade(t *testing.T) {
	c := NewClient(Options{})
	ctx := context.Background()

	if c.Available() {
		t.Error("client without token reports available")
	}
	if _, err := c.CreateRepository(ctx, "x", "", false); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateRepository err = %v", err)
	}
	if _, err := c.ListRepositories(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ListRepositories err = %v", err)
	}
	if _, err := c.GetFileContents(ctx, "r", "p"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("GetFileContents err = %v", err)
	}
	if _, err := c.CreateIssue(ctx, "r", "t", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateIssue err = %v", err)
	}
}
