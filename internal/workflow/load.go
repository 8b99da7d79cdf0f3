package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apexhq/apex/internal/aerrors"
)

// Dir is the workflow definition directory relative to the project root.
const Dir = ".apex/workflows"

// Parse decodes a single workflow definition and validates it.
func Parse(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadFile reads one workflow definition from disk. The filename supplies
// the name when the definition omits one.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", filepath.Base(path), err)
	}
	if w.Name == "" {
		w.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", filepath.Base(path), err)
	}
	return &w, nil
}

// LoadDir loads every *.yaml / *.yml definition under <projectPath>/.apex/workflows.
// A missing directory yields an empty map, not an error.
func LoadDir(projectPath string) (map[string]*Workflow, error) {
	dir := filepath.Join(projectPath, Dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Workflow{}, nil
		}
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	workflows := make(map[string]*Workflow)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		w, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		workflows[w.Name] = w
	}
	return workflows, nil
}

// Get returns the named workflow from a loaded set, with the store's
// not-found error shape when absent.
func Get(workflows map[string]*Workflow, name string) (*Workflow, error) {
	w, ok := workflows[name]
	if !ok {
		return nil, aerrors.ErrWorkflowNotFound(name)
	}
	return w, nil
}
