package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apexhq/apex/internal/agent"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/orchestrator"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

type idleTransport struct{}

func (idleTransport) Invoke(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	ch := make(chan agent.Message, 1)
	ch <- agent.UsageUpdate(10, 5)
	close(ch)
	return &agent.ChanStream{Ch: ch}, nil
}

type nullRunner struct{}

func (nullRunner) Run(workDir, name string, args ...string) (string, error) {
	return "", nil
}

type serverEnv struct {
	srv  *Server
	ts   *httptest.Server
	orch *orchestrator.Orchestrator
	st   *store.Store
	pub  *events.MemoryPublisher
}

func writeDefs(t *testing.T, root string) {
	t.Helper()
	wfDir := filepath.Join(root, ".apex", "workflows")
	agDir := filepath.Join(root, ".apex", "agents")
	for _, dir := range []string{wfDir, agDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	wf := "name: oneshot\nstages:\n  - name: do\n    agent: coder\n"
	if err := os.WriteFile(filepath.Join(wfDir, "oneshot.yaml"), []byte(wf), 0o644); err != nil {
		t.Fatal(err)
	}
	ag := "---\nname: coder\n---\nYou write code.\n"
	if err := os.WriteFile(filepath.Join(agDir, "coder.md"), []byte(ag), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()

	root := t.TempDir()
	writeDefs(t, root)

	st := store.NewTestStore(t)
	cfg := config.Default()
	cfg.Daemon.PollIntervalMs = 10
	// Admission must not depend on the wall-clock hour the tests run at.
	cfg.Daemon.TimeBasedUsage.Enabled = false

	pub := events.NewMemoryPublisher(events.WithBufferSize(1000))
	t.Cleanup(pub.Close)

	o := orchestrator.New(root,
		orchestrator.WithStore(st),
		orchestrator.WithConfig(cfg),
		orchestrator.WithPublisher(pub),
		orchestrator.WithTransport(idleTransport{}),
		orchestrator.WithRunner(nullRunner{}),
	)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(o.Stop)

	s := New(o)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(s.ws.Close)

	return &serverEnv{srv: s, ts: ts, orch: o, st: st, pub: pub}
}

func (v *serverEnv) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, v.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	v := newServerEnv(t)

	resp, raw := v.request(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, raw)
	if body["status"] != "stopped" {
		t.Errorf("daemon status = %v", body["status"])
	}
	uptime, ok := body["uptime"].(string)
	if !ok {
		t.Fatalf("uptime = %T(%v), want string", body["uptime"], body["uptime"])
	}
	if _, err := time.ParseDuration(uptime); err != nil {
		t.Errorf("uptime %q not a duration: %v", uptime, err)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	v := newServerEnv(t)

	resp, raw := v.request(t, http.MethodPost, "/api/tasks", map[string]any{
		"description": "Add rate limiting to the login endpoint",
		"workflow":    "oneshot",
		"priority":    "high",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	created := decode[task.Task](t, raw)
	if created.ID == "" || created.Priority != task.PriorityHigh {
		t.Fatalf("created = %+v", created)
	}

	resp, raw = v.request(t, http.MethodGet, "/api/tasks/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decode[task.Task](t, raw)
	if got.ID != created.ID {
		t.Errorf("got id %s, want %s", got.ID, created.ID)
	}
}

func TestCreateTask_InvalidBody(t *testing.T) {
	v := newServerEnv(t)

	resp, raw := v.request(t, http.MethodPost, "/api/tasks", map[string]any{
		"description": "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	body := decode[apiError](t, raw)
	if body.Code != "INVALID_INPUT" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	v := newServerEnv(t)

	resp, raw := v.request(t, http.MethodGet, "/api/tasks/task_nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	body := decode[apiError](t, raw)
	if body.Code != "TASK_NOT_FOUND" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	v := newServerEnv(t)

	for i := 0; i < 3; i++ {
		if _, err := v.orch.CreateTask(orchestrator.CreateTaskOptions{
			Description: fmt.Sprintf("task %d", i),
			Workflow:    "oneshot",
		}); err != nil {
			t.Fatal(err)
		}
	}

	resp, raw := v.request(t, http.MethodGet, "/api/tasks/?status=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Count int `json:"count"`
	}](t, raw)
	if body.Count != 3 {
		t.Errorf("count = %d, want 3", body.Count)
	}

	resp, raw = v.request(t, http.MethodGet, "/api/tasks/?status=completed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body = decode[struct {
		Count int `json:"count"`
	}](t, raw)
	if body.Count != 0 {
		t.Errorf("count = %d, want 0", body.Count)
	}
}

func TestPauseTask(t *testing.T) {
	v := newServerEnv(t)
	tk, err := v.orch.CreateTask(orchestrator.CreateTaskOptions{
		Description: "pausable work",
		Workflow:    "oneshot",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, raw := v.request(t, http.MethodPost, "/api/tasks/"+tk.ID+"/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	paused := decode[task.Task](t, raw)
	if paused.Status != task.StatusPaused {
		t.Errorf("status = %s", paused.Status)
	}
}

func TestDeleteTask(t *testing.T) {
	v := newServerEnv(t)
	tk, err := v.orch.CreateTask(orchestrator.CreateTaskOptions{
		Description: "short-lived",
		Workflow:    "oneshot",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, _ := v.request(t, http.MethodDelete, "/api/tasks/"+tk.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, _ = v.request(t, http.MethodGet, "/api/tasks/"+tk.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d", resp.StatusCode)
	}
}

func TestGateEndpoints(t *testing.T) {
	v := newServerEnv(t)
	tk, err := v.orch.CreateTask(orchestrator.CreateTaskOptions{
		Description: "guarded work",
		Workflow:    "oneshot",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := v.orch.RequireGate(tk.ID, "deploy"); err != nil {
		t.Fatal(err)
	}

	resp, raw := v.request(t, http.MethodPost, "/api/tasks/"+tk.ID+"/gates/deploy/approve", map[string]any{
		"approver": "alice",
		"comment":  "ship it",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d: %s", resp.StatusCode, raw)
	}
	gate := decode[store.Gate](t, raw)
	if gate.Status != store.GateApproved || gate.Approver != "alice" {
		t.Errorf("gate = %+v", gate)
	}

	resp, raw = v.request(t, http.MethodGet, "/api/tasks/"+tk.ID+"/gates", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Gates []store.Gate `json:"gates"`
	}](t, raw)
	if len(body.Gates) != 1 {
		t.Errorf("gates = %d, want 1", len(body.Gates))
	}
}

func TestGetLogs_BadLimit(t *testing.T) {
	v := newServerEnv(t)

	resp, _ := v.request(t, http.MethodGet, "/api/tasks/task_x/logs?limit=zero", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCancelTask_NotFound(t *testing.T) {
	v := newServerEnv(t)

	resp, raw := v.request(t, http.MethodPost, "/api/tasks/task_nope/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
}
