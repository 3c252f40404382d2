package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"ideaforge/internal/logging"
)

// DefaultCatalog returns the built-in server specs. Executables are
// resolved from PATH at start time, never from hardcoded install paths.
func DefaultCatalog() []ServerSpec {
	return []ServerSpec{
		{
			Name:    "filesystem",
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "."},
		},
		{
			Name:    "git",
			Command: "uvx",
			Args:    []string{"mcp-server-git"},
		},
		{
			Name:        "search",
			Command:     "npx",
			Args:        []string{"-y", "@modelcontextprotocol/server-brave-search"},
			RequiredEnv: []string{"BRAVE_API_KEY"},
		},
		{
			Name:    "database",
			Command: "uvx",
			Args:    []string{"mcp-server-sqlite", "--db-path", ".ideaforge/mcp.db"},
		},
	}
}

// catalogFile is the on-disk shape of mcp_servers.yaml.
type catalogFile struct {
	Servers []ServerSpec `yaml:"servers"`
}

// LoadCatalog reads server specs from a YAML file. A missing file is not
// an error; it yields an empty list.
func LoadCatalog(path string) ([]ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read server catalog: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse server catalog: %w", err)
	}

	for i, spec := range cf.Servers {
		if spec.Name == "" || spec.Command == "" {
			return nil, fmt.Errorf("server catalog entry %d missing name or command", i)
		}
	}
	return cf.Servers, nil
}

// RegisterCatalog registers the built-in specs, then overlays any specs
// from the catalog file (file entries win on name collision).
func RegisterCatalog(s *Supervisor, path string) error {
	for _, spec := range DefaultCatalog() {
		s.Register(spec)
	}
	if path == "" {
		return nil
	}
	specs, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		s.Register(spec)
	}
	if len(specs) > 0 {
		logging.MCP("Loaded %d server specs from %s", len(specs), path)
	}
	return nil
}

// WatchCatalog re-registers specs whenever the catalog file changes.
// Running servers keep their current process; new specs apply on the
// next start. Blocks until ctx is done.
func WatchCatalog(ctx context.Context, s *Supervisor, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory; editors often replace the file wholesale,
	// which drops a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			specs, err := LoadCatalog(path)
			if err != nil {
				logging.MCPWarn("Catalog reload failed: %v", err)
				continue
			}
			for _, spec := range specs {
				s.Register(spec)
			}
			logging.MCP("Reloaded %d server specs from %s", len(specs), path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.MCPWarn("Catalog watcher error: %v", err)
		}
	}
}
