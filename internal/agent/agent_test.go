package agent

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	content := `---
name: coder
description: Implements features
tools:
  - read_*
  - write_file
  - bash
model: sonnet
---

You are a careful software engineer.
Follow the plan exactly.
`

	def, err := ParseDefinition(content)
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}
	if def.Name != "coder" {
		t.Errorf("Name = %q, want coder", def.Name)
	}
	if def.Model != "sonnet" {
		t.Errorf("Model = %q, want sonnet", def.Model)
	}
	if !strings.HasPrefix(def.SystemPrompt, "You are a careful software engineer.") {
		t.Errorf("SystemPrompt = %q, want body after front-matter", def.SystemPrompt)
	}
	if len(def.Tools) != 3 {
		t.Errorf("Tools = %v, want 3 entries", def.Tools)
	}
}

func TestParseDefinitionRejectsMalformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseDefinition("no front matter here"); err == nil {
		t.Error("missing front-matter should fail")
	}
	if _, err := ParseDefinition("---\nname: x\nno closing fence"); err == nil {
		t.Error("unclosed front-matter should fail")
	}
}

func TestLoadDirFallsBackToFilename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	agentDir := filepath.Join(dir, Dir)
	if err := os.MkdirAll(agentDir, 0755); err != nil {
		t.Fatal(err)
	}

	content := "---\ndescription: planner agent\n---\n\nPlan the work.\n"
	if err := os.WriteFile(filepath.Join(agentDir, "planner.md"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if _, ok := defs["planner"]; !ok {
		t.Fatalf("want agent named after file, got %v", defs)
	}

	if _, err := Get(defs, "ghost"); err == nil {
		t.Error("Get should fail for unknown agent")
	}
}

func TestAllowsTool(t *testing.T) {
	t.Parallel()

	def := &Definition{Tools: []string{"read_*", "bash", "mcp__*"}}

	allowed := []string{"read_file", "read_dir", "bash", "mcp__github"}
	for _, tool := range allowed {
		if !def.AllowsTool(tool) {
			t.Errorf("AllowsTool(%q) = false, want true", tool)
		}
	}

	denied := []string{"write_file", "Bash", "rm"}
	for _, tool := range denied {
		if def.AllowsTool(tool) {
			t.Errorf("AllowsTool(%q) = true, want false", tool)
		}
	}

	// Empty allow-list permits everything.
	open := &Definition{}
	if !open.AllowsTool("anything") {
		t.Error("empty allow-list should permit all tools")
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want func(Message) bool
	}{
		{
			"text",
			`{"type":"text","content":"hello"}`,
			func(m Message) bool { return m.Type == MessageText && m.Content == "hello" },
		},
		{
			"thinking",
			`{"type":"thinking","content":"hmm"}`,
			func(m Message) bool { return m.Type == MessageThinking && m.Content == "hmm" },
		},
		{
			"tool use",
			`{"type":"tool_use","name":"bash","input":{"command":"ls"}}`,
			func(m Message) bool {
				input, ok := m.ToolInput.(map[string]any)
				return m.Type == MessageToolUse && m.ToolName == "bash" && ok && input["command"] == "ls"
			},
		},
		{
			"tool result string",
			`{"type":"tool_result","content":"ok"}`,
			func(m Message) bool { return m.Type == MessageToolResult && m.Content == "ok" },
		},
		{
			"tool result object",
			`{"type":"tool_result","content":{"files":3}}`,
			func(m Message) bool {
				_, ok := m.Content.(map[string]any)
				return m.Type == MessageToolResult && ok
			},
		},
		{
			"usage",
			`{"type":"usage","input_tokens":100,"output_tokens":50,"cost_usd":0.0123}`,
			func(m Message) bool {
				return m.Type == MessageUsage &&
					m.Usage.InputTokens == 100 &&
					m.Usage.OutputTokens == 50 &&
					m.Usage.CostUSD == 0.0123
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := ParseLine(tt.line)
			if !ok {
				t.Fatalf("ParseLine(%q) not recognized", tt.line)
			}
			if !tt.want(msg) {
				t.Errorf("ParseLine(%q) = %+v, fields wrong", tt.line, msg)
			}
		})
	}
}

func TestParseLineSkipsGarbage(t *testing.T) {
	t.Parallel()

	bad := []string{
		"not json",
		`{"type":"unknown","content":"x"}`,
		`{"type":"tool_use"}`,
		`{}`,
	}
	for _, line := range bad {
		if _, ok := ParseLine(line); ok {
			t.Errorf("ParseLine(%q) should be skipped", line)
		}
	}
}

func TestEnvExportsSessionVariables(t *testing.T) {
	inv := Invocation{
		TaskID:      "task_1_abc",
		ProjectPath: "/repo",
		WorkspaceEnv: WorkspaceEnv{
			WorkspacePath: "/tmp/ws",
			ContainerID:   "c-42",
		},
	}

	env := Env(inv)
	want := []string{
		"APEX_TASK_ID=task_1_abc",
		"APEX_PROJECT=/repo",
		"APEX_CONTAINER_ID=c-42",
		"APEX_WORKSPACE_PATH=/tmp/ws",
	}
	for _, kv := range want {
		if !containsString(env, kv) {
			t.Errorf("env missing %q", kv)
		}
	}

	// Empty workspace fields are omitted entirely.
	bare := Env(Invocation{TaskID: "t", ProjectPath: "/p"})
	for _, kv := range bare {
		if strings.HasPrefix(kv, "APEX_CONTAINER_ID=") || strings.HasPrefix(kv, "APEX_WORKSPACE_PATH=") {
			t.Errorf("empty workspace vars should not be exported: %s", kv)
		}
	}
}

func TestChanStream(t *testing.T) {
	t.Parallel()

	ch := make(chan Message, 2)
	ch <- Text("a")
	ch <- Text("b")
	close(ch)

	s := &ChanStream{Ch: ch}
	if msg, err := s.Recv(); err != nil || msg.Content != "a" {
		t.Fatalf("first Recv = %v, %v", msg, err)
	}
	if msg, err := s.Recv(); err != nil || msg.Content != "b" {
		t.Fatalf("second Recv = %v, %v", msg, err)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("drained stream error = %v, want io.EOF", err)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
