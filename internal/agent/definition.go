// Package agent provides agent definitions and the invocation transport.
// Definitions live as markdown files with YAML front-matter under
// <project>/.apex/agents/; the body after the front-matter is the agent's
// system prompt.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/apexhq/apex/internal/aerrors"
)

// Dir is the agent definition directory relative to the project root.
const Dir = ".apex/agents"

// Definition describes one named agent: its model routing, tool allow-list,
// and system prompt.
type Definition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Tools        []string `yaml:"tools,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	Role         string   `yaml:"role,omitempty"`
	Instructions string   `yaml:"instructions,omitempty"`

	// SystemPrompt is the markdown body after the front-matter.
	SystemPrompt string `yaml:"-"`
}

// ParseDefinition parses a markdown agent file: YAML front-matter between
// "---" fences, then the system prompt body.
func ParseDefinition(content string) (*Definition, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, fmt.Errorf("invalid agent file: missing front-matter")
	}

	endIdx := strings.Index(content[4:], "\n---\n")
	if endIdx == -1 {
		return nil, fmt.Errorf("invalid agent file: unclosed front-matter")
	}

	frontmatter := content[4 : 4+endIdx]
	body := strings.TrimPrefix(content[4+endIdx+5:], "\n")

	var def Definition
	if err := yaml.Unmarshal([]byte(frontmatter), &def); err != nil {
		return nil, fmt.Errorf("parse agent front-matter: %w", err)
	}
	def.SystemPrompt = strings.TrimSpace(body)
	return &def, nil
}

// LoadFile reads one agent definition from disk. The filename supplies the
// name when the front-matter omits one.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent %s: %w", path, err)
	}

	def, err := ParseDefinition(string(data))
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", filepath.Base(path), err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

// LoadDir loads every *.md definition under <projectPath>/.apex/agents.
// A missing directory yields an empty map, not an error.
func LoadDir(projectPath string) (map[string]*Definition, error) {
	dir := filepath.Join(projectPath, Dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Definition{}, nil
		}
		return nil, fmt.Errorf("read agent dir: %w", err)
	}

	defs := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs[def.Name] = def
	}
	return defs, nil
}

// Get returns the named agent from a loaded set.
func Get(defs map[string]*Definition, name string) (*Definition, error) {
	def, ok := defs[name]
	if !ok {
		return nil, aerrors.ErrAgentNotFound(name)
	}
	return def, nil
}

// AllowsTool reports whether the agent's tool allow-list permits the tool.
// Entries are glob patterns ("read_*", "mcp__*/search"); an empty list
// allows everything. Enforcement stays with the transport; the executor
// only logs violations.
func (d *Definition) AllowsTool(name string) bool {
	if len(d.Tools) == 0 {
		return true
	}
	for _, pattern := range d.Tools {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
