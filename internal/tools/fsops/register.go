package fsops

import (
	"context"
	"fmt"

	"ideaforge/internal/tools"
)

// RegisterAll registers the filesystem tools with the given registry.
// workspaceRoot is where fs_create_structure places new projects.
func RegisterAll(registry *tools.Registry, workspaceRoot string) error {
	allTools := []*tools.Tool{
		ScanProjectTool(),
		CreateStructureTool(workspaceRoot),
		SearchFilesTool(),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}

// ScanProjectTool returns the tool for inventorying a project tree.
func ScanProjectTool() *tools.Tool {
	return &tools.Tool{
		Name:        "fs_scan_project",
		Description: "Scan a project directory and return its file inventory",
		Category:    tools.CategoryFilesystem,
		Priority:    90,
		Execute:     executeScanProject,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The project directory to scan",
				},
				"include_hidden": {
					Type:        "boolean",
					Description: "Include dot-files and dot-directories",
					Default:     false,
				},
			},
		},
	}
}

func executeScanProject(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("%w: path", tools.ErrMissingRequiredArg)
	}
	includeHidden, _ := args["include_hidden"].(bool)

	return ScanProject(path, ScanOptions{IncludeHidden: includeHidden})
}

// CreateStructureTool returns the tool for scaffolding a new project.
func CreateStructureTool(workspaceRoot string) *tools.Tool {
	return &tools.Tool{
		Name:        "fs_create_structure",
		Description: "Create a new project directory from a template",
		Category:    tools.CategoryFilesystem,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return executeCreateStructure(workspaceRoot, args)
		},
		Schema: tools.ToolSchema{
			Required: []string{"name"},
			Properties: map[string]tools.Property{
				"name": {
					Type:        "string",
					Description: "Project name, created under the workspace root",
				},
				"template": {
					Type:        "string",
					Description: "Template to apply",
					Default:     "default",
					Enum:        []any{"default", "python_package", "web_app"},
				},
				"structure": {
					Type:        "object",
					Description: "Custom structure overriding the template; maps are directories, strings are file contents",
				},
			},
		},
	}
}

func executeCreateStructure(workspaceRoot string, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	template, _ := args["template"].(string)
	if template == "" {
		template = "default"
	}

	var custom Node
	if raw, ok := args["structure"].(map[string]any); ok {
		custom = Node(raw)
	}

	path, err := CreateStructure(workspaceRoot, name, template, custom)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "template": template}, nil
}

// SearchFilesTool returns the tool for text search across a tree.
func SearchFilesTool() *tools.Tool {
	return &tools.Tool{
		Name:        "fs_search_files",
		Description: "Search files for lines containing a query string",
		Category:    tools.CategoryFilesystem,
		Execute:     executeSearchFiles,
		Schema: tools.ToolSchema{
			Required: []string{"path", "query"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "Directory to search under",
				},
				"query": {
					Type:        "string",
					Description: "Text to search for",
				},
				"pattern": {
					Type:        "string",
					Description: "Glob filter on file names (e.g. '*.go')",
				},
				"case_sensitive": {
					Type:        "boolean",
					Description: "Match case exactly",
					Default:     false,
				},
				"max_matches": {
					Type:        "integer",
					Description: "Cap on returned matches (default 200)",
				},
			},
		},
	}
}

func executeSearchFiles(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	query, _ := args["query"].(string)
	if path == "" || query == "" {
		return nil, fmt.Errorf("%w: path and query", tools.ErrMissingRequiredArg)
	}

	opts := SearchOptions{}
	opts.Pattern, _ = args["pattern"].(string)
	opts.CaseSensitive, _ = args["case_sensitive"].(bool)
	switch v := args["max_matches"].(type) {
	case int:
		opts.MaxMatches = v
	case float64:
		opts.MaxMatches = int(v)
	}

	matches, err := SearchFiles(path, query, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}
