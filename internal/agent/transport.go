package agent

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Invocation is one agent call: the prompt, routing, and session environment.
type Invocation struct {
	TaskID       string
	Agent        *Definition
	Prompt       string
	WorkDir      string
	ProjectPath  string
	WorkspaceEnv WorkspaceEnv
	Model        string
}

// WorkspaceEnv carries the optional per-task workspace identifiers exported
// to the transport.
type WorkspaceEnv struct {
	WorkspacePath string
	ContainerID   string
}

// Stream yields transport messages. Recv blocks until the next message,
// returns io.EOF on clean stream end, and any other error on failure.
type Stream interface {
	Recv() (Message, error)
}

// Transport invokes an external agent and streams its typed messages.
// Implementations must respect ctx cancellation between messages.
type Transport interface {
	Invoke(ctx context.Context, inv Invocation) (Stream, error)
}

// Env assembles the process environment for one stage invocation: the
// current environment plus the APEX_* session variables. Empty workspace
// fields are omitted.
func Env(inv Invocation) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		fmt.Sprintf("APEX_TASK_ID=%s", inv.TaskID),
		fmt.Sprintf("APEX_PROJECT=%s", inv.ProjectPath),
	)
	if inv.WorkspaceEnv.ContainerID != "" {
		env = append(env, fmt.Sprintf("APEX_CONTAINER_ID=%s", inv.WorkspaceEnv.ContainerID))
	}
	if inv.WorkspaceEnv.WorkspacePath != "" {
		env = append(env, fmt.Sprintf("APEX_WORKSPACE_PATH=%s", inv.WorkspaceEnv.WorkspacePath))
	}
	return env
}

// ChanStream adapts a message channel into a Stream. The channel must be
// closed at stream end; a non-nil Err is surfaced after drain. Used by
// in-process transports and tests.
type ChanStream struct {
	Ch  <-chan Message
	Err error
}

// Recv implements Stream.
func (s *ChanStream) Recv() (Message, error) {
	msg, ok := <-s.Ch
	if !ok {
		if s.Err != nil {
			return Message{}, s.Err
		}
		return Message{}, io.EOF
	}
	return msg, nil
}
