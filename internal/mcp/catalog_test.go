package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCatalogMissingFile(t *testing.T) {
	specs, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if specs != nil {
		t.Errorf("expected nil specs, got %v", specs)
	}
}

func TestLoadCatalogParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_servers.yaml")
	content := `servers:
  - name: custom
    command: my-mcp-server
    args: ["--port", "0"]
    env:
      MODE: stdio
    required_env: ["CUSTOM_TOKEN"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	specs, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	spec := specs[0]
	if spec.Name != "custom" || spec.Command != "my-mcp-server" {
		t.Errorf("unexpected spec: %+v", spec)
	}
	if spec.Env["MODE"] != "stdio" {
		t.Errorf("env not parsed: %+v", spec.Env)
	}
	if len(spec.RequiredEnv) != 1 || spec.RequiredEnv[0] != "CUSTOM_TOKEN" {
		t.Errorf("required_env not parsed: %+v", spec.RequiredEnv)
	}
}

func TestLoadCatalogRejectsIncompleteEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_servers.yaml")
	if err := os.WriteFile(path, []byte("servers:\n  - name: broken\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Error("expected error for entry without command")
	}
}

func TestRegisterCatalogOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_servers.yaml")
	content := `servers:
  - name: filesystem
    command: custom-fs-server
  - name: extra
    command: extra-server
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := newTestSupervisor()
	if err := RegisterCatalog(s, path); err != nil {
		t.Fatalf("RegisterCatalog: %v", err)
	}

	names := s.Specs()
	want := map[string]bool{"filesystem": true, "git": true, "search": true, "database": true, "extra": true}
	if len(names) != len(want) {
		t.Errorf("expected %d specs, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected spec %s", n)
		}
	}

	// The file entry replaced the built-in filesystem command
	for _, info := range s.Status() {
		if info.Name == "filesystem" && info.Command != "custom-fs-server" {
			t.Errorf("catalog file should win on collision, got command %q", info.Command)
		}
	}
}

func TestWatchCatalogReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.yaml")

	s := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		WatchCatalog(ctx, s, path)
	}()

	// Give the watcher a moment to attach
	time.Sleep(100 * time.Millisecond)

	content := "servers:\n  - name: hotloaded\n    command: some-server\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	found := false
	for time.Now().Before(deadline) {
		for _, n := range s.Specs() {
			if n == "hotloaded" {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	<-watchDone

	if !found {
		t.Error("expected hotloaded spec after catalog write")
	}
}
