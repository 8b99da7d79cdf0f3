// Package workflow provides workflow definitions for apex.
// A workflow is a named DAG of stages; each stage delegates to one agent.
// Definitions live as YAML files under <project>/.apex/workflows/.
package workflow

// Workflow is a named ordered DAG of stages.
type Workflow struct {
	// Name identifies the workflow; tasks reference it by this name.
	Name string `yaml:"name" json:"name"`

	// Description explains what the workflow is for.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Stages lists the workflow's stages in declaration order.
	Stages []Stage `yaml:"stages" json:"stages"`
}

// Stage is one atomic agent invocation within a workflow.
type Stage struct {
	// Name identifies the stage within its workflow.
	Name string `yaml:"name" json:"name"`

	// Agent names the agent definition that runs this stage.
	Agent string `yaml:"agent" json:"agent"`

	// DependsOn lists stage names that must complete before this stage runs.
	DependsOn []string `yaml:"dependsOn,omitempty" json:"depends_on,omitempty"`

	// Description explains the stage's purpose.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// StageNames returns the workflow's stage names in declaration order.
func (w *Workflow) StageNames() []string {
	names := make([]string, len(w.Stages))
	for i, s := range w.Stages {
		names[i] = s.Name
	}
	return names
}

// Stage returns the stage with the given name, or nil.
func (w *Workflow) Stage(name string) *Stage {
	for i := range w.Stages {
		if w.Stages[i].Name == name {
			return &w.Stages[i]
		}
	}
	return nil
}
