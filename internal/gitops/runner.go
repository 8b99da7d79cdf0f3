package gitops

import (
	"bytes"
	"os/exec"
	"strings"
)

// CommandRunner executes external commands. All shell-outs (git, gh) go
// through this interface so tests can mock them.
type CommandRunner interface {
	// Run executes a command in workDir and returns the trimmed stdout.
	// On failure the error carries the command's stderr (or stdout when
	// stderr is empty).
	Run(workDir string, name string, args ...string) (stdout string, err error)
}

// ExecRunner is the default CommandRunner using exec.Command.
type ExecRunner struct{}

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command.
func (r *ExecRunner) Run(workDir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return msg, &CommandError{
			Command: name,
			Args:    args,
			WorkDir: workDir,
			Output:  msg,
			Err:     err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandError is a failed external command with its captured output.
type CommandError struct {
	Command string
	Args    []string
	WorkDir string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
