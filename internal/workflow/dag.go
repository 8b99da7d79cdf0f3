package workflow

import (
	"fmt"

	"github.com/apexhq/apex/internal/aerrors"
)

// Validate checks structural soundness: non-empty name and stages, unique
// stage names, agent set on every stage, dependsOn referencing declared
// stages, and an acyclic dependency graph.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return aerrors.ErrInvalidInput("workflow", "name is required")
	}
	if len(w.Stages) == 0 {
		return aerrors.ErrInvalidInput("workflow "+w.Name, "at least one stage is required")
	}

	seen := make(map[string]bool, len(w.Stages))
	for _, s := range w.Stages {
		if s.Name == "" {
			return aerrors.ErrInvalidInput("workflow "+w.Name, "stage name is required")
		}
		if seen[s.Name] {
			return aerrors.ErrInvalidInput("workflow "+w.Name, fmt.Sprintf("duplicate stage %q", s.Name))
		}
		seen[s.Name] = true
		if s.Agent == "" {
			return aerrors.ErrInvalidInput("workflow "+w.Name, fmt.Sprintf("stage %q has no agent", s.Name))
		}
	}

	for _, s := range w.Stages {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return aerrors.ErrInvalidInput("workflow "+w.Name, fmt.Sprintf("stage %q depends on itself", s.Name))
			}
			if !seen[dep] {
				return aerrors.ErrInvalidInput("workflow "+w.Name, fmt.Sprintf("stage %q depends on unknown stage %q", s.Name, dep))
			}
		}
	}

	if _, err := w.TopoOrder(); err != nil {
		return err
	}
	return nil
}

// TopoOrder returns the stages in dependency order using Kahn's algorithm.
// Among stages whose dependencies are all satisfied, declaration order wins,
// so linear workflows execute exactly as written.
func (w *Workflow) TopoOrder() ([]Stage, error) {
	indegree := make(map[string]int, len(w.Stages))
	for _, s := range w.Stages {
		indegree[s.Name] = len(s.DependsOn)
	}

	ordered := make([]Stage, 0, len(w.Stages))
	done := make(map[string]bool, len(w.Stages))

	for len(ordered) < len(w.Stages) {
		progressed := false
		for _, s := range w.Stages {
			if done[s.Name] || indegree[s.Name] != 0 {
				continue
			}
			ordered = append(ordered, s)
			done[s.Name] = true
			progressed = true

			for _, other := range w.Stages {
				for _, dep := range other.DependsOn {
					if dep == s.Name {
						indegree[other.Name]--
					}
				}
			}
		}
		if !progressed {
			return nil, aerrors.ErrInvalidInput("workflow "+w.Name, "stage dependency cycle detected")
		}
	}

	return ordered, nil
}
