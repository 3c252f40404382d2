package fsops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ideaforge/internal/tools"
)

// writeTree lays out a small fixture project.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestScanProject(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":            "package main\n",
		"internal/app/app.go": "package app\n",
		"docs/readme.md":     "# docs\n",
		".git/config":        "hidden\n",
		".env":               "SECRET=1\n",
	})

	structure, err := ScanProject(root, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanProject: %v", err)
	}

	if structure.TotalFiles != 3 {
		t.Errorf("total files = %d, want 3 (hidden excluded)", structure.TotalFiles)
	}
	if structure.Languages["Go"] != 2 || structure.Languages["Markdown"] != 1 {
		t.Errorf("languages = %v", structure.Languages)
	}
	if structure.TotalSize == 0 {
		t.Error("total size should be nonzero")
	}

	foundApp := false
	for _, f := range structure.Files {
		if f.Path == "internal/app/app.go" {
			foundApp = true
			if f.Language != "Go" || f.Extension != ".go" {
				t.Errorf("app.go classified as %s/%s", f.Language, f.Extension)
			}
		}
	}
	if !foundApp {
		t.Errorf("nested file missing from inventory: %+v", structure.Files)
	}

	dirs := map[string]bool{}
	for _, d := range structure.Directories {
		dirs[d] = true
	}
	for _, want := range []string{"internal", "internal/app", "docs"} {
		if !dirs[want] {
			t.Errorf("directory %q missing: %v", want, structure.Directories)
		}
	}
	if dirs[".git"] {
		t.Error("hidden directory should be excluded")
	}
}

func TestScanProjectIncludeHidden(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.py": "print(1)\n",
		".env":    "SECRET=1\n",
	})

	structure, err := ScanProject(root, ScanOptions{IncludeHidden: true})
	if err != nil {
		t.Fatalf("ScanProject: %v", err)
	}
	if structure.TotalFiles != 2 {
		t.Errorf("total files = %d, want 2", structure.TotalFiles)
	}
}

func TestScanProjectMissingPath(t *testing.T) {
	_, err := ScanProject(filepath.Join(t.TempDir(), "nope"), ScanOptions{})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestSearchFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":     "package main\n// TODO rework handler\n",
		"b.go":     "package main\nvar Handler int\n",
		"notes.md": "the handler is slow\n",
	})

	matches, err := SearchFiles(root, "handler", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("matches = %d, want 3 (case folded): %+v", len(matches), matches)
	}

	matches, err = SearchFiles(root, "Handler", SearchOptions{CaseSensitive: true})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(matches) != 1 || matches[0].File != "b.go" || matches[0].Line != 2 {
		t.Errorf("case sensitive matches = %+v", matches)
	}

	matches, err = SearchFiles(root, "handler", SearchOptions{Pattern: "*.go"})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("pattern filtered matches = %+v", matches)
	}

	matches, err = SearchFiles(root, "handler", SearchOptions{MaxMatches: 1})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("capped matches = %+v", matches)
	}
}

func TestCreateStructureTemplates(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"default", []string{"src", "tests", "docs", "README.md", ".gitignore"}},
		{"python_package", []string{"src/main.py", "tests/test_main.py", "setup.py"}},
		{"web_app", []string{"frontend/src/index.html", "backend/app.py"}},
		{"unknown_template", []string{"src", "README.md"}},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			root := t.TempDir()
			path, err := CreateStructure(root, "proj", tt.template, nil)
			if err != nil {
				t.Fatalf("CreateStructure: %v", err)
			}
			for _, rel := range tt.want {
				if _, err := os.Stat(filepath.Join(path, filepath.FromSlash(rel))); err != nil {
					t.Errorf("missing %s: %v", rel, err)
				}
			}
		})
	}
}

func TestCreateStructureCustom(t *testing.T) {
	root := t.TempDir()
	custom := Node{
		"cmd": Node{
			"main.go": "package main\n",
		},
		"go.mod": "module proj\n",
	}
	path, err := CreateStructure(root, "proj", "", custom)
	if err != nil {
		t.Fatalf("CreateStructure: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(path, "cmd", "main.go"))
	if err != nil {
		t.Fatalf("read created file: %v", err)
	}
	if string(content) != "package main\n" {
		t.Errorf("file content = %q", content)
	}
}

func TestCreateStructureRejectsExisting(t *testing.T) {
	root := t.TempDir()
	if _, err := CreateStructure(root, "proj", "default", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateStructure(root, "proj", "default", nil); err == nil {
		t.Fatal("expected error for existing project")
	}
}

func TestCreateStructureRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"", "a/b", "../escape"} {
		if _, err := CreateStructure(root, name, "default", nil); err == nil {
			t.Errorf("name %q should be rejected", name)
		}
	}
}

func TestRegisteredToolsExecute(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n"})

	reg := tools.NewRegistry()
	if err := RegisterAll(reg, root); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	for _, name := range []string{"fs_scan_project", "fs_create_structure", "fs_search_files"} {
		if !reg.Has(name) {
			t.Errorf("tool %s not registered", name)
		}
	}
	ctx := context.Background()

	result, err := reg.Execute(ctx, "fs_scan_project", map[string]any{"path": root})
	if err != nil {
		t.Fatalf("fs_scan_project: %v", err)
	}
	structure, ok := result.Payload.(*ProjectStructure)
	if !ok || structure.TotalFiles != 1 {
		t.Errorf("payload = %#v", result.Payload)
	}

	result, err = reg.Execute(ctx, "fs_create_structure", map[string]any{
		"name":     "scaffold",
		"template": "python_package",
	})
	if err != nil {
		t.Fatalf("fs_create_structure: %v", err)
	}
	payload, ok := result.Payload.(map[string]any)
	if !ok || payload["template"] != "python_package" {
		t.Errorf("payload = %#v", result.Payload)
	}

	result, err = reg.Execute(ctx, "fs_search_files", map[string]any{
		"path":  root,
		"query": "package",
	})
	if err != nil {
		t.Fatalf("fs_search_files: %v", err)
	}
	searchPayload, ok := result.Payload.(map[string]any)
	if !ok || searchPayload["count"].(int) < 1 {
		t.Errorf("payload = %#v", result.Payload)
	}
}

func TestEmptyArgsAreMissingRequiredArg(t *testing.T) {
	ctx := context.Background()

	scan := ScanProjectTool()
	if _, err := scan.Execute(ctx, map[string]any{"path": ""}); !errors.Is(err, tools.ErrMissingRequiredArg) {
		t.Errorf("fs_scan_project err = %v, want ErrMissingRequiredArg", err)
	}

	search := SearchFilesTool()
	if _, err := search.Execute(ctx, map[string]any{"path": t.TempDir(), "query": ""}); !errors.Is(err, tools.ErrMissingRequiredArg) {
		t.Errorf("fs_search_files err = %v, want ErrMissingRequiredArg", err)
	}
}
