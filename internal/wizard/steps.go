package wizard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Option is a single choice offered by a select step.
type Option struct {
	Value string
	Label string
	Hint  string
}

// SelectStep picks one value from a list.
type SelectStep struct {
	id       string
	title    string
	desc     string
	options  []Option
	stateKey string
	skipFn   func(State) bool
	styles   Styles
}

// NewSelectStep creates a select step; the answer is stored under the
// step ID.
func NewSelectStep(id, title string, options []Option) *SelectStep {
	return &SelectStep{id: id, title: title, options: options, stateKey: id, styles: DefaultStyles()}
}

func (s *SelectStep) WithDescription(desc string) *SelectStep { s.desc = desc; return s }
func (s *SelectStep) WithStateKey(key string) *SelectStep     { s.stateKey = key; return s }
func (s *SelectStep) WithSkipFunc(fn func(State) bool) *SelectStep {
	s.skipFn = fn
	return s
}

func (s *SelectStep) ID() string          { return s.id }
func (s *SelectStep) Title() string       { return s.title }
func (s *SelectStep) Description() string { return s.desc }

func (s *SelectStep) Skip(state State) bool {
	return s.skipFn != nil && s.skipFn(state)
}

func (s *SelectStep) Init(state State) tea.Model {
	cursor := 0
	// Re-runs start on the currently configured value.
	if cur, ok := state[s.stateKey].(string); ok {
		for i, opt := range s.options {
			if opt.Value == cur {
				cursor = i
				break
			}
		}
	}
	return &selectModel{options: s.options, cursor: cursor, chosen: -1, styles: s.styles}
}

func (s *SelectStep) Result(model tea.Model, state State) {
	if m, ok := model.(*selectModel); ok && m.chosen >= 0 {
		state[s.stateKey] = m.options[m.chosen].Value
	}
}

type selectModel struct {
	options []Option
	cursor  int
	chosen  int
	styles  Styles
}

func (m *selectModel) Init() tea.Cmd { return nil }

func (m *selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.options)-1 {
				m.cursor++
			}
		case "enter", " ":
			m.chosen = m.cursor
			return m, Done()
		}
	}
	return m, nil
}

func (m *selectModel) View() string {
	var b strings.Builder
	for i, opt := range m.options {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		line := marker + opt.Label
		if opt.Hint != "" {
			line += " " + m.styles.Subtle.Render("("+opt.Hint+")")
		}
		if i == m.cursor {
			line = m.styles.Accent.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + m.styles.Subtle.Render("up/down: move, enter: select"))
	return b.String()
}

// ConfirmStep asks a yes/no question.
type ConfirmStep struct {
	id       string
	title    string
	desc     string
	def      bool
	stateKey string
	skipFn   func(State) bool
	styles   Styles
}

// NewConfirmStep creates a yes/no step, defaulting to yes.
func NewConfirmStep(id, title string) *ConfirmStep {
	return &ConfirmStep{id: id, title: title, def: true, stateKey: id, styles: DefaultStyles()}
}

func (s *ConfirmStep) WithDescription(desc string) *ConfirmStep { s.desc = desc; return s }
func (s *ConfirmStep) WithDefault(v bool) *ConfirmStep          { s.def = v; return s }
func (s *ConfirmStep) WithStateKey(key string) *ConfirmStep     { s.stateKey = key; return s }
func (s *ConfirmStep) WithSkipFunc(fn func(State) bool) *ConfirmStep {
	s.skipFn = fn
	return s
}

func (s *ConfirmStep) ID() string          { return s.id }
func (s *ConfirmStep) Title() string       { return s.title }
func (s *ConfirmStep) Description() string { return s.desc }

func (s *ConfirmStep) Skip(state State) bool {
	return s.skipFn != nil && s.skipFn(state)
}

func (s *ConfirmStep) Init(state State) tea.Model {
	def := s.def
	if cur, ok := state[s.stateKey].(bool); ok {
		def = cur
	}
	return &confirmModel{value: def, styles: s.styles}
}

func (s *ConfirmStep) Result(model tea.Model, state State) {
	if m, ok := model.(*confirmModel); ok {
		state[s.stateKey] = m.value
	}
}

type confirmModel struct {
	value  bool
	styles Styles
}

func (m *confirmModel) Init() tea.Cmd { return nil }

func (m *confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "y", "Y":
			m.value = true
			return m, Done()
		case "n", "N":
			m.value = false
			return m, Done()
		case "left", "h", "right", "l", "tab":
			m.value = !m.value
		case "enter":
			return m, Done()
		}
	}
	return m, nil
}

func (m *confirmModel) View() string {
	yes, no := " Yes ", " No "
	if m.value {
		yes = m.styles.Accent.Bold(true).Render("[Yes]")
		no = m.styles.Subtle.Render(no)
	} else {
		yes = m.styles.Subtle.Render(yes)
		no = m.styles.Accent.Bold(true).Render("[No]")
	}
	return fmt.Sprintf("%s / %s\n\n%s", yes, no,
		m.styles.Subtle.Render("y/n: answer, left/right: toggle, enter: confirm"))
}

// InputStep reads a line of text, optionally validated before the step
// can complete.
type InputStep struct {
	id          string
	title       string
	desc        string
	placeholder string
	def         string
	stateKey    string
	skipFn      func(State) bool
	validate    func(string) error
	styles      Styles
}

// NewInputStep creates a free-text step.
func NewInputStep(id, title string) *InputStep {
	return &InputStep{id: id, title: title, stateKey: id, styles: DefaultStyles()}
}

func (s *InputStep) WithDescription(desc string) *InputStep  { s.desc = desc; return s }
func (s *InputStep) WithPlaceholder(p string) *InputStep     { s.placeholder = p; return s }
func (s *InputStep) WithDefault(v string) *InputStep         { s.def = v; return s }
func (s *InputStep) WithStateKey(key string) *InputStep      { s.stateKey = key; return s }
func (s *InputStep) WithValidate(fn func(string) error) *InputStep {
	s.validate = fn
	return s
}
func (s *InputStep) WithSkipFunc(fn func(State) bool) *InputStep {
	s.skipFn = fn
	return s
}

func (s *InputStep) ID() string          { return s.id }
func (s *InputStep) Title() string       { return s.title }
func (s *InputStep) Description() string { return s.desc }

func (s *InputStep) Skip(state State) bool {
	return s.skipFn != nil && s.skipFn(state)
}

func (s *InputStep) Init(state State) tea.Model {
	def := s.def
	if cur, ok := state[s.stateKey].(string); ok && cur != "" {
		def = cur
	}
	ti := textinput.New()
	ti.Placeholder = s.placeholder
	ti.SetValue(def)
	ti.Focus()
	ti.Width = 50
	return &inputModel{input: ti, validate: s.validate, styles: s.styles}
}

func (s *InputStep) Result(model tea.Model, state State) {
	if m, ok := model.(*inputModel); ok {
		state[s.stateKey] = strings.TrimSpace(m.input.Value())
	}
}

type inputModel struct {
	input    textinput.Model
	validate func(string) error
	err      error
	styles   Styles
}

func (m *inputModel) Init() tea.Cmd { return textinput.Blink }

func (m *inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		if m.validate != nil {
			if err := m.validate(strings.TrimSpace(m.input.Value())); err != nil {
				m.err = err
				return m, nil
			}
		}
		return m, Done()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *inputModel) View() string {
	s := m.input.View() + "\n\n"
	if m.err != nil {
		s += m.styles.Error.Render(m.err.Error()) + "\n"
	}
	return s + m.styles.Subtle.Render("enter: confirm")
}

// DisplayStep shows rendered content and waits for acknowledgement.
type DisplayStep struct {
	id      string
	title   string
	desc    string
	content func(State) string
	skipFn  func(State) bool
	styles  Styles
}

// NewDisplayStep creates an informational step. content is rendered
// from the state collected so far.
func NewDisplayStep(id, title string, content func(State) string) *DisplayStep {
	return &DisplayStep{id: id, title: title, content: content, styles: DefaultStyles()}
}

func (s *DisplayStep) WithDescription(desc string) *DisplayStep { s.desc = desc; return s }
func (s *DisplayStep) WithSkipFunc(fn func(State) bool) *DisplayStep {
	s.skipFn = fn
	return s
}

func (s *DisplayStep) ID() string          { return s.id }
func (s *DisplayStep) Title() string       { return s.title }
func (s *DisplayStep) Description() string { return s.desc }

func (s *DisplayStep) Skip(state State) bool {
	return s.skipFn != nil && s.skipFn(state)
}

func (s *DisplayStep) Init(state State) tea.Model {
	return &displayModel{content: s.content(state), styles: s.styles}
}

func (s *DisplayStep) Result(tea.Model, State) {}

type displayModel struct {
	content string
	styles  Styles
}

func (m *displayModel) Init() tea.Cmd { return nil }

func (m *displayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter", " ":
			return m, Done()
		}
	}
	return m, nil
}

func (m *displayModel) View() string {
	return m.content + "\n\n" + m.styles.Subtle.Render("enter: continue")
}
