package github

import (
	"context"
	"fmt"

	"ideaforge/internal/tools"
)

// RegisterAll registers the repository automation tools backed by the
// given client.
func RegisterAll(registry *tools.Registry, client *Client) error {
	allTools := []*tools.Tool{
		createRepoTool(client),
		listReposTool(client),
		getFileTool(client),
		createIssueTool(client),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}

func createRepoTool(client *Client) *tools.Tool {
	return &tools.Tool{
		Name:        "github_create_repo",
		Description: "Create a repository under the configured account",
		Category:    tools.CategoryGitHub,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			if name == "" {
				return nil, fmt.Errorf("name is required")
			}
			description, _ := args["description"].(string)
			private, _ := args["private"].(bool)
			return client.CreateRepository(ctx, name, description, private)
		},
		Schema: tools.ToolSchema{
			Required: []string{"name"},
			Properties: map[string]tools.Property{
				"name":        {Type: "string", Description: "Repository name"},
				"description": {Type: "string", Description: "Repository description"},
				"private":     {Type: "boolean", Description: "Create as private", Default: false},
			},
		},
	}
}

func listReposTool(client *Client) *tools.Tool {
	return &tools.Tool{
		Name:        "github_list_repos",
		Description: "List repositories for the configured account",
		Category:    tools.CategoryGitHub,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			repos, err := client.ListRepositories(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"repositories": repos, "count": len(repos)}, nil
		},
	}
}

func getFileTool(client *Client) *tools.Tool {
	return &tools.Tool{
		Name:        "github_get_file",
		Description: "Fetch one file from a repository",
		Category:    tools.CategoryGitHub,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			repo, _ := args["repo"].(string)
			path, _ := args["path"].(string)
			if repo == "" || path == "" {
				return nil, fmt.Errorf("repo and path are required")
			}
			return client.GetFileContents(ctx, repo, path)
		},
		Schema: tools.ToolSchema{
			Required: []string{"repo", "path"},
			Properties: map[string]tools.Property{
				"repo": {Type: "string", Description: "Repository name"},
				"path": {Type: "string", Description: "File path within the repository"},
			},
		},
	}
}

func createIssueTool(client *Client) *tools.Tool {
	return &tools.Tool{
		Name:        "github_create_issue",
		Description: "Open an issue on a repository",
		Category:    tools.CategoryGitHub,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			repo, _ := args["repo"].(string)
			title, _ := args["title"].(string)
			if repo == "" || title == "" {
				return nil, fmt.Errorf("repo and title are required")
			}
			body, _ := args["body"].(string)
			return client.CreateIssue(ctx, repo, title, body)
		},
		Schema: tools.ToolSchema{
			Required: []string{"repo", "title"},
			Properties: map[string]tools.Property{
				"repo":  {Type: "string", Description: "Repository name"},
				"title": {Type: "string", Description: "Issue title"},
				"body":  {Type: "string", Description: "Issue body"},
			},
		},
	}
}
