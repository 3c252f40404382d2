package main

import (
	"context"
	"path/filepath"
	"testing"

	"ideaforge/internal/github"
	"ideaforge/internal/orchestrator"
	"ideaforge/internal/store"
)

func TestDevelopedProjectFromSteps(t *testing.T) {
	steps := []orchestrator.Result{
		{
			Command: "fs_create_structure",
			Success: true,
			Data:    map[string]any{"path": "/ws/demo", "template": "python_package"},
		},
		{
			Command: "github_create_repo",
			Success: true,
			Data:    &github.Repository{Name: "demo", URL: "https://github.com/octo/demo"},
		},
	}

	project := developedProject("demo", "Python", steps)
	if project.Name != "demo" || project.Language != "python" {
		t.Errorf("project = %+v", project)
	}
	if project.Path != "/ws/demo" {
		t.Errorf("path = %q, want /ws/demo", project.Path)
	}
	if project.GitHubURL != "https://github.com/octo/demo" {
		t.Errorf("github url = %q", project.GitHubURL)
	}
	if project.ID == "" {
		t.Error("expected a generated ID")
	}
}

func TestDevelopedProjectIgnoresFailedSteps(t *testing.T) {
	steps := []orchestrator.Result{
		{
			Command: "fs_create_structure",
			Success: true,
			Data:    map[string]any{"path": "/ws/demo"},
		},
		{
			Command: "github_create_repo",
			Success: false,
		},
	}

	project := developedProject("demo", "go", steps)
	if project.GitHubURL != "" {
		t.Errorf("github url = %q, want empty for a failed repo step", project.GitHubURL)
	}
	if project.Path != "/ws/demo" {
		t.Errorf("path = %q", project.Path)
	}
}

func TestDevelopedProjectPersistsAndLists(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cli.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	project := developedProject("demo", "python", []orchestrator.Result{
		{Command: "fs_create_structure", Success: true, Data: map[string]any{"path": "/ws/demo"}},
	})
	if err := st.SaveProject(context.Background(), project); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	projects, err := st.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "demo" {
		t.Errorf("projects = %+v", projects)
	}
}
