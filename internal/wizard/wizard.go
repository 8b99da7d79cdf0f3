// Package wizard implements the interactive setup flow that writes
// .apex/config.yaml, built on a small Bubbletea step framework.
package wizard

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// State is the data collected across steps, keyed by step ID unless a
// step overrides its state key.
type State map[string]any

// Step is one screen of the wizard.
type Step interface {
	ID() string
	Title() string
	Description() string

	// Skip reports whether the step applies given what was answered so
	// far.
	Skip(state State) bool

	// Init builds the step's Bubbletea model, seeded from state.
	Init(state State) tea.Model

	// Result stores the completed model's answer into state.
	Result(model tea.Model, state State)
}

// Styles holds the lipgloss styling shared by all steps.
type Styles struct {
	Title    lipgloss.Style
	Desc     lipgloss.Style
	Progress lipgloss.Style
	Error    lipgloss.Style
	Accent   lipgloss.Style
	Subtle   lipgloss.Style
}

// DefaultStyles returns the apex color scheme.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1),
		Desc:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginBottom(1),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Accent:   lipgloss.NewStyle().Foreground(lipgloss.Color("170")),
		Subtle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// ErrCancelled is returned by Run when the user aborts the wizard.
var ErrCancelled = fmt.Errorf("setup cancelled")

// Wizard steps through its screens in order, skipping the ones that do
// not apply.
type Wizard struct {
	steps   []Step
	current int
	state   State
	model   tea.Model
	err     error
	styles  Styles
}

// New creates a wizard over the given steps.
func New(steps ...Step) *Wizard {
	return &Wizard{
		steps:  steps,
		state:  make(State),
		styles: DefaultStyles(),
	}
}

// WithState seeds the wizard state, letting a re-run present current
// values as defaults.
func (w *Wizard) WithState(state State) *Wizard {
	w.state = state
	return w
}

// State returns the collected answers.
func (w *Wizard) State() State { return w.state }

// Run drives the wizard to completion on the terminal.
func (w *Wizard) Run() error {
	w.advance()
	if w.current >= len(w.steps) {
		return nil
	}

	w.model = w.steps[w.current].Init(w.state)
	if _, err := tea.NewProgram(w).Run(); err != nil {
		return fmt.Errorf("run setup wizard: %w", err)
	}
	return w.err
}

// Init implements tea.Model.
func (w *Wizard) Init() tea.Cmd {
	if w.model == nil {
		return nil
	}
	return w.model.Init()
}

// Update implements tea.Model.
func (w *Wizard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			w.err = ErrCancelled
			return w, tea.Quit
		}

	case stepDoneMsg:
		w.steps[w.current].Result(w.model, w.state)
		w.current++
		w.advance()
		if w.current >= len(w.steps) {
			return w, tea.Quit
		}
		w.model = w.steps[w.current].Init(w.state)
		return w, w.model.Init()
	}

	if w.model != nil {
		var cmd tea.Cmd
		w.model, cmd = w.model.Update(msg)
		return w, cmd
	}
	return w, nil
}

// View implements tea.Model.
func (w *Wizard) View() string {
	if w.current >= len(w.steps) {
		return ""
	}
	step := w.steps[w.current]

	s := w.styles.Progress.Render(fmt.Sprintf("Step %d of %d", w.current+1, len(w.steps))) + "\n\n"
	s += w.styles.Title.Render(step.Title()) + "\n"
	if desc := step.Description(); desc != "" {
		s += w.styles.Desc.Render(desc) + "\n"
	}
	if w.model != nil {
		s += w.model.View()
	}
	return s
}

func (w *Wizard) advance() {
	for w.current < len(w.steps) && w.steps[w.current].Skip(w.state) {
		w.current++
	}
}

type stepDoneMsg struct{}

// Done signals that the current step finished.
func Done() tea.Cmd {
	return func() tea.Msg { return stepDoneMsg{} }
}
