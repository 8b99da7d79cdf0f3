package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

// CLITransport invokes an external agent command per stage. The command
// reads the prompt on stdin and emits one JSON object per stdout line.
type CLITransport struct {
	// Command is the agent binary (e.g. "claude").
	Command string

	// Args are fixed arguments prepended to every invocation.
	Args []string

	// ModelFlag passes Invocation.Model when non-empty. Default "--model".
	ModelFlag string

	// SystemPromptFlag passes the agent's system prompt. Default
	// "--system-prompt".
	SystemPromptFlag string

	Logger *slog.Logger

	// Larger tool results arrive as single lines; the scanner buffer must
	// hold them.
	MaxLineBytes int
}

const defaultMaxLineBytes = 10 * 1024 * 1024

// NewCLITransport creates a transport around the given agent command.
func NewCLITransport(command string, args []string, logger *slog.Logger) *CLITransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLITransport{
		Command:          command,
		Args:             args,
		ModelFlag:        "--model",
		SystemPromptFlag: "--system-prompt",
		Logger:           logger,
		MaxLineBytes:     defaultMaxLineBytes,
	}
}

// Invoke implements Transport. The returned stream yields messages until
// the process exits; a non-zero exit surfaces as the stream error after
// the output drains.
func (t *CLITransport) Invoke(ctx context.Context, inv Invocation) (Stream, error) {
	args := append([]string{}, t.Args...)
	if inv.Model != "" && t.ModelFlag != "" {
		args = append(args, t.ModelFlag, inv.Model)
	}
	if inv.Agent != nil && inv.Agent.SystemPrompt != "" && t.SystemPromptFlag != "" {
		args = append(args, t.SystemPromptFlag, inv.Agent.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, t.Command, args...)
	cmd.Dir = inv.WorkDir
	cmd.Env = Env(inv)
	cmd.Stdin = strings.NewReader(inv.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", t.Command, err)
	}

	s := &cliStream{ch: make(chan Message, 16)}
	maxLine := t.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}

	go func() {
		defer close(s.ch)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			msg, ok := ParseLine(line)
			if !ok {
				t.Logger.Debug("skipping unrecognized agent output", "task", inv.TaskID, "line", truncate(line, 200))
				continue
			}
			select {
			case s.ch <- msg:
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			}
		}

		if err := scanner.Err(); err != nil {
			s.err = fmt.Errorf("read agent output: %w", err)
			_ = cmd.Wait()
			return
		}
		if err := cmd.Wait(); err != nil {
			s.err = fmt.Errorf("agent %s: %w", t.Command, err)
		}
	}()

	return s, nil
}

type cliStream struct {
	ch  chan Message
	err error
}

// Recv implements Stream. The goroutine writes err strictly before closing
// ch, so the read after drain is ordered.
func (s *cliStream) Recv() (Message, error) {
	msg, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return Message{}, s.err
		}
		return Message{}, io.EOF
	}
	return msg, nil
}

// ParseLine decodes one JSON line of agent output into a Message.
// Unrecognized or malformed lines report ok=false and are skipped.
//
// Wire shapes:
//
//	{"type":"text","content":"..."}
//	{"type":"thinking","content":"..."}
//	{"type":"tool_use","name":"bash","input":{...}}
//	{"type":"tool_result","content":<string or object>}
//	{"type":"usage","input_tokens":123,"output_tokens":45,"cost_usd":0.01}
func ParseLine(line string) (Message, bool) {
	if !gjson.Valid(line) {
		return Message{}, false
	}

	switch gjson.Get(line, "type").String() {
	case "text":
		return Text(gjson.Get(line, "content").String()), true

	case "thinking":
		return Thinking(gjson.Get(line, "content").String()), true

	case "tool_use":
		name := gjson.Get(line, "name").String()
		if name == "" {
			return Message{}, false
		}
		var input any
		if in := gjson.Get(line, "input"); in.Exists() {
			input = in.Value()
		}
		return ToolUse(name, input), true

	case "tool_result":
		content := gjson.Get(line, "content")
		if !content.Exists() {
			return ToolResult(nil), true
		}
		return ToolResult(content.Value()), true

	case "usage":
		msg := UsageUpdate(
			int(gjson.Get(line, "input_tokens").Int()),
			int(gjson.Get(line, "output_tokens").Int()),
		)
		msg.Usage.CostUSD = gjson.Get(line, "cost_usd").Float()
		return msg, true

	default:
		return Message{}, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
