package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ideaforge/internal/logging"
)

// Node is one entry in a structure template: a map value is a
// directory, a string value is a file with that content.
type Node map[string]any

// templates are the built-in project layouts.
var templates = map[string]Node{
	"default": {
		"src":   Node{},
		"tests": Node{},
		"docs":  Node{},
		"README.md":        "# Project\n\nDescription of the project.\n",
		"requirements.txt": "# Add your dependencies here\n",
		".gitignore":       "*.pyc\n__pycache__/\n.env\n",
	},
	"python_package": {
		"src": Node{
			"__init__.py": "",
			"main.py":     "#!/usr/bin/env python3\n\ndef main():\n    print('Hello, World!')\n\nif __name__ == '__main__':\n    main()\n",
		},
		"tests": Node{
			"__init__.py":  "",
			"test_main.py": "import unittest\n\nclass TestMain(unittest.TestCase):\n    def test_example(self):\n        self.assertTrue(True)\n",
		},
		"setup.py":         "from setuptools import setup, find_packages\n\nsetup(\n    name='project',\n    version='0.1.0',\n    packages=find_packages()\n)\n",
		"requirements.txt": "pytest>=6.0.0\n",
		"README.md":        "# Python Package\n\nA Python package template.\n",
		".gitignore":       "*.pyc\n__pycache__/\n*.egg-info/\ndist/\nbuild/\n.pytest_cache/\n",
	},
	"web_app": {
		"frontend": Node{
			"src": Node{
				"index.html": "<!DOCTYPE html>\n<html>\n<head>\n    <title>Web App</title>\n</head>\n<body>\n    <h1>Hello, World!</h1>\n</body>\n</html>\n",
				"style.css":  "body { font-family: Arial, sans-serif; }\n",
				"script.js":  "console.log('Hello, World!');\n",
			},
		},
		"backend": Node{
			"app.py": "from flask import Flask\n\napp = Flask(__name__)\n\n@app.route('/')\ndef hello():\n    return 'Hello, World!'\n\nif __name__ == '__main__':\n    app.run(debug=True)\n",
		},
		"requirements.txt": "flask>=2.0.0\n",
		"README.md":        "# Web Application\n\nA web application template.\n",
	},
}

// TemplateNames lists the built-in templates, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateStructure creates a new project directory under workspaceRoot.
// A custom structure wins over the named template; an unknown template
// falls back to "default". The project must not already exist.
func CreateStructure(workspaceRoot, projectName, template string, custom Node) (string, error) {
	if projectName == "" {
		return "", fmt.Errorf("project name cannot be empty")
	}
	if filepath.Base(projectName) != projectName {
		return "", fmt.Errorf("project name %q must not contain path separators", projectName)
	}

	projectPath := filepath.Join(workspaceRoot, projectName)
	if _, err := os.Stat(projectPath); err == nil {
		return "", fmt.Errorf("project already exists: %s", projectPath)
	}

	structure := custom
	if structure == nil {
		var ok bool
		structure, ok = templates[template]
		if !ok {
			structure = templates["default"]
		}
	}

	logging.Tools("Creating project %s (template=%s)", projectPath, template)
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		return "", fmt.Errorf("create project root: %w", err)
	}
	if err := writeNode(projectPath, structure); err != nil {
		return "", err
	}
	return projectPath, nil
}

func writeNode(base string, node Node) error {
	for name, content := range node {
		path := filepath.Join(base, name)
		switch v := content.(type) {
		case Node:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", path, err)
			}
			if err := writeNode(path, v); err != nil {
				return err
			}
		case map[string]any:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", path, err)
			}
			if err := writeNode(path, Node(v)); err != nil {
				return err
			}
		case string:
			if err := os.WriteFile(path, []byte(v), 0o644); err != nil {
				return fmt.Errorf("write file %s: %w", path, err)
			}
		default:
			return fmt.Errorf("structure entry %s has unsupported type %T", name, content)
		}
	}
	return nil
}
