// Package fsops implements the filesystem tools: project scanning,
// structure scaffolding, and text search.
package fsops

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ideaforge/internal/logging"
)

// FileInfo describes one file found during a scan.
type FileInfo struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Extension string    `json:"extension,omitempty"`
	Language  string    `json:"language,omitempty"`
}

// ProjectStructure is the transparent inventory of a project tree.
// All fields serialize directly to JSON.
type ProjectStructure struct {
	Root        string         `json:"root"`
	Files       []FileInfo     `json:"files"`
	Directories []string       `json:"directories"`
	TotalFiles  int            `json:"total_files"`
	TotalSize   int64          `json:"total_size"`
	Languages   map[string]int `json:"languages"`
}

// languageByExtension maps file extensions to language names for the
// scan inventory.
var languageByExtension = map[string]string{
	".py":    "Python",
	".js":    "JavaScript",
	".ts":    "TypeScript",
	".html":  "HTML",
	".css":   "CSS",
	".java":  "Java",
	".cpp":   "C++",
	".c":     "C",
	".go":    "Go",
	".rs":    "Rust",
	".php":   "PHP",
	".rb":    "Ruby",
	".swift": "Swift",
	".kt":    "Kotlin",
	".sql":   "SQL",
	".sh":    "Shell",
	".yml":   "YAML",
	".yaml":  "YAML",
	".json":  "JSON",
	".xml":   "XML",
	".md":    "Markdown",
	".tf":    "Terraform",
}

// ScanOptions control ScanProject.
type ScanOptions struct {
	// IncludeHidden includes dot-files and dot-directories.
	IncludeHidden bool
}

// ScanProject walks the tree rooted at path and returns its inventory.
// Paths in the result are relative to the root and slash-separated.
func ScanProject(path string, opts ScanOptions) (*ProjectStructure, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path %s is not a directory", path)
	}

	logging.ToolsDebug("Scanning project: %s", root)

	structure := &ProjectStructure{
		Root:        root,
		Files:       []FileInfo{},
		Directories: []string{},
		Languages:   map[string]int{},
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, not fatal
			logging.ToolsDebug("Skipping %s: %v", p, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if hidden && !opts.IncludeHidden {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			structure.Directories = append(structure.Directories, rel)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		lang := languageByExtension[ext]
		if lang == "" {
			lang = "Other"
		}

		structure.Files = append(structure.Files, FileInfo{
			Path:      rel,
			Name:      d.Name(),
			Size:      fi.Size(),
			Modified:  fi.ModTime().UTC(),
			Extension: ext,
			Language:  lang,
		})
		structure.TotalSize += fi.Size()
		structure.Languages[lang]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	structure.TotalFiles = len(structure.Files)
	logging.Tools("Scanned %d files in %d directories under %s",
		structure.TotalFiles, len(structure.Directories), root)
	return structure, nil
}

// Match is one search hit.
type Match struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SearchOptions control SearchFiles.
type SearchOptions struct {
	// Pattern filters file names with a glob, e.g. "*.go". Empty
	// matches everything.
	Pattern string

	// CaseSensitive disables the default case folding.
	CaseSensitive bool

	// MaxMatches caps the result count. Zero means 200.
	MaxMatches int
}

const defaultMaxMatches = 200

// SearchFiles scans files under path for lines containing query.
func SearchFiles(path, query string, opts SearchOptions) ([]Match, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	maxMatches := opts.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatches
	}
	needle := query
	if !opts.CaseSensitive {
		needle = strings.ToLower(query)
	}

	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	matches := []Match{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxMatches {
			return filepath.SkipAll
		}
		if opts.Pattern != "" {
			ok, _ := filepath.Match(opts.Pattern, d.Name())
			if !ok {
				return nil
			}
		}

		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return nil
		}
		fileMatches, serr := searchFile(p, filepath.ToSlash(rel), needle, opts.CaseSensitive, maxMatches-len(matches))
		if serr != nil {
			logging.ToolsDebug("Skipping %s: %v", p, serr)
			return nil
		}
		matches = append(matches, fileMatches...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", path, err)
	}

	logging.Tools("Search for %q under %s: %d matches", query, root, len(matches))
	return matches, nil
}

func searchFile(path, rel, needle string, caseSensitive bool, limit int) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		haystack := line
		if !caseSensitive {
			haystack = strings.ToLower(line)
		}
		if strings.Contains(haystack, needle) {
			matches = append(matches, Match{File: rel, Line: lineNo, Text: strings.TrimSpace(line)})
			if len(matches) >= limit {
				break
			}
		}
	}
	// binary files make the scanner fail; treat as no matches
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}
