package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/agent"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
	"github.com/apexhq/apex/internal/workspace"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func (s *stubRunner) Run(workDir, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()
	for prefix, err := range s.errs {
		if strings.HasPrefix(cmd, prefix) {
			return "", err
		}
	}
	for prefix, out := range s.outputs {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (s *stubRunner) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

type instantTransport struct {
	mu    sync.Mutex
	calls int
}

func (f *instantTransport) Invoke(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	ch := make(chan agent.Message, 1)
	ch <- agent.UsageUpdate(100, 50)
	close(ch)
	return &agent.ChanStream{Ch: ch}, nil
}

func (f *instantTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWorkspaces struct {
	mu         sync.Mutex
	cleanups   []string
	cleanupErr error
}

func (f *fakeWorkspaces) Acquire(taskID, branch string) (*workspace.Workspace, error) {
	return nil, nil
}
func (f *fakeWorkspaces) Get(taskID string) *workspace.Workspace { return nil }
func (f *fakeWorkspaces) Release(taskID string) error            { return nil }
func (f *fakeWorkspaces) Cleanup(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, taskID)
	return f.cleanupErr
}

func (f *fakeWorkspaces) cleaned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cleanups))
	copy(out, f.cleanups)
	return out
}

func writeDefinitions(t *testing.T, root string) {
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

type orchEnv struct {
	orch       *Orchestrator
	store      *store.Store
	pub        *events.MemoryPublisher
	transport  *instantTransport
	workspaces *fakeWorkspaces
	runner     *stubRunner
	cfg        *config.Config
	root       string
}

func newOrchEnv(t *testing.T, opts ...Option) *orchEnv {
	t.Helper()

	root := t.TempDir()
	writeDefinitions(t, root)

	st := store.NewTestStore(t)
	cfg := config.Default()
	cfg.Daemon.PollIntervalMs = 10
	cfg.Limits.RetryDelayMs = 1
	// Admission must not depend on the wall-clock hour the tests run at.
	cfg.Daemon.TimeBasedUsage.Enabled = false

	pub := events.NewMemoryPublisher(events.WithBufferSize(1000))
	t.Cleanup(pub.Close)

	tr := &instantTransport{}
	ws := &fakeWorkspaces{}
	runner := &stubRunner{outputs: map[string]string{
		"gh --version":              "gh version 2.49.0",
		"git remote get-url origin": "https://github.com/acme/app.git",
		"gh pr create":              "https://github.com/acme/app/pull/42",
	}}

	all := append([]Option{
		WithStore(st),
		WithConfig(cfg),
		WithPublisher(pub),
		WithTransport(tr),
		WithWorkspaceManager(ws),
		WithRunner(runner),
	}, opts...)

	o := New(root, all...)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(o.Stop)

	return &orchEnv{
		orch: o, store: st, pub: pub, transport: tr,
		workspaces: ws, runner: runner, cfg: cfg, root: root,
	}
}

func (v *orchEnv) createTask(t *testing.T) *task.Task {
	t.Helper()
	tk, err := v.orch.CreateTask(CreateTaskOptions{
		Description: "wire the daemon together",
		Workflow:    "oneshot",
	})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (v *orchEnv) waitForStatus(t *testing.T, id string, want task.Status) {
	t.Helper()
	waitFor(t, fmt.Sprintf("task %s to reach %s", id, want), func() bool {
		got, err := v.store.GetTask(id)
		return err == nil && got.Status == want
	})
}

func drainTypes(ch <-chan events.Event) map[events.EventType]int {
	counts := make(map[events.EventType]int)
	for {
		select {
		case ev := <-ch:
			counts[ev.Type]++
		default:
			return counts
		}
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	v := newOrchEnv(t)
	if err := v.orch.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if got := v.orch.Status().Status; got != StatusStopped {
		t.Fatalf("status = %s before Start, want stopped", got)
	}
}

func TestCreateTask_DefaultsAndEvent(t *testing.T) {
	v := newOrchEnv(t)
	ch := v.pub.Subscribe(events.GlobalTaskID)

	tk, err := v.orch.CreateTask(CreateTaskOptions{
		Description: "add login form validation",
		Workflow:    "oneshot",
	})
	if err != nil {
		t.Fatal(err)
	}

	if tk.Autonomy != task.AutonomyReviewBeforeMerge {
		t.Errorf("autonomy = %s, want config default review-before-merge", tk.Autonomy)
	}
	if !strings.HasPrefix(tk.BranchName, "apex/") {
		t.Errorf("branch = %q, want apex/ prefix", tk.BranchName)
	}
	if tk.ProjectPath != v.root {
		t.Errorf("project path = %q, want %q", tk.ProjectPath, v.root)
	}
	if tk.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", tk.Status)
	}

	counts := drainTypes(ch)
	if counts[events.EventTaskCreated] != 1 {
		t.Errorf("task:created events = %d, want 1", counts[events.EventTaskCreated])
	}
}

func TestCreateTask_Dependencies(t *testing.T) {
	v := newOrchEnv(t)
	dep := v.createTask(t)

	tk, err := v.orch.CreateTask(CreateTaskOptions{
		Description: "depends on the first",
		Workflow:    "oneshot",
		DependsOn:   []string{dep.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := v.store.GetTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != dep.ID {
		t.Fatalf("DependsOn = %v", got.DependsOn)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	v := newOrchEnv(t)

	_, err := v.orch.CreateTask(CreateTaskOptions{})
	if aerrors.CodeOf(err) != aerrors.CodeInvalidInput {
		t.Errorf("empty description: code = %v", aerrors.CodeOf(err))
	}

	_, err = v.orch.CreateTask(CreateTaskOptions{Description: "x", Priority: "whenever"})
	if aerrors.CodeOf(err) != aerrors.CodeInvalidInput {
		t.Errorf("bad priority: code = %v", aerrors.CodeOf(err))
	}

	_, err = v.orch.CreateTask(CreateTaskOptions{Description: "x", Autonomy: "yolo"})
	if aerrors.CodeOf(err) != aerrors.CodeInvalidInput {
		t.Errorf("bad autonomy: code = %v", aerrors.CodeOf(err))
	}
}

func TestCreateTask_AutonomyNotAllowed(t *testing.T) {
	v := newOrchEnv(t)
	v.cfg.Autonomy.Allowed = []string{"manual"}

	_, err := v.orch.CreateTask(CreateTaskOptions{
		Description: "x",
		Autonomy:    task.AutonomyFull,
	})
	if aerrors.CodeOf(err) != aerrors.CodeInvalidInput {
		t.Errorf("code = %v, want INVALID_INPUT", aerrors.CodeOf(err))
	}
}

func TestStart_RunsTaskToCompletion(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)

	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	v.waitForStatus(t, tk.ID, task.StatusCompleted)

	got, err := v.store.GetTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Usage.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", got.Usage.TotalTokens)
	}
}

func TestStart_Idempotent(t *testing.T) {
	v := newOrchEnv(t)
	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if got := v.orch.Status().Status; got != StatusRunning {
		t.Fatalf("status = %s, want running", got)
	}
	v.orch.Stop()
	if got := v.orch.Status().Status; got != StatusStopped {
		t.Fatalf("status after Stop = %s, want stopped", got)
	}
}

func TestAutoCleanup_OnCompletion(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)

	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	v.waitForStatus(t, tk.ID, task.StatusCompleted)

	waitFor(t, "workspace cleanup", func() bool {
		for _, id := range v.workspaces.cleaned() {
			if id == tk.ID {
				return true
			}
		}
		return false
	})
}

func TestAutoCleanup_FailureLoggedNotFatal(t *testing.T) {
	v := newOrchEnv(t)
	v.workspaces.cleanupErr = errors.New("worktree is locked")
	tk := v.createTask(t)

	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	v.waitForStatus(t, tk.ID, task.StatusCompleted)

	waitFor(t, "cleanup failure log entry", func() bool {
		logs, err := v.store.GetLogs(tk.ID, 50)
		if err != nil {
			return false
		}
		for _, entry := range logs {
			if entry.Component == "workspace-cleanup" &&
				strings.Contains(entry.Message, "worktree is locked") {
				return true
			}
		}
		return false
	})

	// The task stays completed despite the cleanup failure.
	got, err := v.store.GetTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestAutoCleanup_DisabledByConfig(t *testing.T) {
	off := false
	v := newOrchEnv(t)
	v.cfg.Workspace.CleanupOnComplete = &off
	tk := v.createTask(t)

	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	v.waitForStatus(t, tk.ID, task.StatusCompleted)

	time.Sleep(100 * time.Millisecond)
	if got := v.workspaces.cleaned(); len(got) != 0 {
		t.Fatalf("cleanups = %v, want none", got)
	}
}

func TestPauseTask_Manual(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)

	got, err := v.orch.PauseTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusPaused || got.PauseReason != task.PauseManual {
		t.Fatalf("status = %s reason = %s", got.Status, got.PauseReason)
	}
	if got.PausedAt == nil {
		t.Fatal("PausedAt not set")
	}
}

func TestPauseTask_TerminalRejected(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)
	if _, err := v.store.UpdateTaskStatus(tk.ID, task.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	_, err := v.orch.PauseTask(tk.ID)
	if aerrors.CodeOf(err) != aerrors.CodeTaskInvalidState {
		t.Fatalf("code = %v, want TASK_INVALID_STATE", aerrors.CodeOf(err))
	}
}

func TestResumeTask_ManualPause(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)
	if _, err := v.orch.PauseTask(tk.ID); err != nil {
		t.Fatal(err)
	}

	resumed, err := v.orch.ResumeTask(context.Background(), tk.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !resumed {
		t.Fatal("expected resume to run")
	}
	v.waitForStatus(t, tk.ID, task.StatusCompleted)
}

func TestCancelTask(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)

	cancelled, err := v.orch.CancelTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled {
		t.Fatal("expected cancellation")
	}
	got, err := v.store.GetTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestTemplates_EventsAndInstantiation(t *testing.T) {
	v := newOrchEnv(t)
	ch := v.pub.Subscribe(events.GlobalTaskID)

	tpl := &store.Template{Name: "refactor-module", Workflow: "oneshot"}
	if err := v.orch.SaveTemplate(tpl); err != nil {
		t.Fatal(err)
	}
	if tpl.ID == "" {
		t.Fatal("template id not assigned")
	}

	tpl.Description = "standard module refactor"
	if err := v.orch.SaveTemplate(tpl); err != nil {
		t.Fatal(err)
	}

	tk, err := v.orch.CreateTaskFromTemplate(tpl.ID, &task.Task{
		Description: "refactor the store package",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tk.Workflow != "oneshot" {
		t.Errorf("workflow = %q, want template's oneshot", tk.Workflow)
	}
	if tk.ProjectPath != v.root {
		t.Errorf("project path = %q", tk.ProjectPath)
	}

	counts := drainTypes(ch)
	if counts[events.EventTemplateCreated] != 1 {
		t.Errorf("template:created = %d, want 1", counts[events.EventTemplateCreated])
	}
	if counts[events.EventTemplateUpdated] != 1 {
		t.Errorf("template:updated = %d, want 1", counts[events.EventTemplateUpdated])
	}
	if counts[events.EventTaskCreated] != 1 {
		t.Errorf("task:created = %d, want 1", counts[events.EventTaskCreated])
	}
}

func TestGates_Lifecycle(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)
	ch := v.pub.Subscribe(events.GlobalTaskID)

	if err := v.orch.RequireGate(tk.ID, "review"); err != nil {
		t.Fatal(err)
	}
	g, err := v.orch.ApproveGate(tk.ID, "review", "alice", "looks good")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != store.GateApproved || g.Approver != "alice" {
		t.Fatalf("gate = %+v", g)
	}

	if err := v.orch.RequireGate(tk.ID, "merge"); err != nil {
		t.Fatal(err)
	}
	g, err = v.orch.RejectGate(tk.ID, "merge", "bob", "needs tests")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != store.GateRejected {
		t.Fatalf("gate status = %s, want rejected", g.Status)
	}

	counts := drainTypes(ch)
	if counts[events.EventGateRequired] != 2 ||
		counts[events.EventGateApproved] != 1 ||
		counts[events.EventGateRejected] != 1 {
		t.Fatalf("gate events = %v", counts)
	}
}

func TestRequireGate_UnknownTask(t *testing.T) {
	v := newOrchEnv(t)
	err := v.orch.RequireGate("task_missing", "review")
	if aerrors.CodeOf(err) != aerrors.CodeTaskNotFound {
		t.Fatalf("code = %v, want TASK_NOT_FOUND", aerrors.CodeOf(err))
	}
}

func TestIdleTask_Promotion(t *testing.T) {
	v := newOrchEnv(t)

	it := &store.IdleTask{
		Title:             "Tighten store error wrapping",
		Description:       "Wrap driver errors with operation context",
		SuggestedWorkflow: "oneshot",
		Rationale:         "bare errors lose the failing query",
	}
	if err := v.orch.SaveIdleTask(it); err != nil {
		t.Fatal(err)
	}

	tk, err := v.orch.PromoteIdleTask(it.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Workflow != "oneshot" {
		t.Errorf("workflow = %q", tk.Workflow)
	}
	if tk.ProjectPath != v.root {
		t.Errorf("project path = %q", tk.ProjectPath)
	}

	idle, err := v.orch.ListIdleTasks(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(idle) != 1 || !idle[0].Implemented || idle[0].ImplementedTaskID != tk.ID {
		t.Fatalf("idle = %+v", idle)
	}
}

func TestDetectSessionLimit(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)

	conversation := []task.Message{{Role: "assistant", Content: strings.Repeat("x", 400)}}
	if _, err := v.store.UpdateTask(tk.ID, store.TaskPatch{Conversation: conversation}); err != nil {
		t.Fatal(err)
	}

	// Default window (200k tokens) leaves the conversation tiny.
	status, err := v.orch.DetectSessionLimit(tk.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if status.NearLimit {
		t.Fatalf("near limit with default window: %+v", status)
	}

	// A 100-token window is saturated by 100 estimated tokens.
	status, err = v.orch.DetectSessionLimit(tk.ID, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !status.NearLimit {
		t.Fatalf("expected near limit with tiny window: %+v", status)
	}
}

func TestUsageStatsProvider(t *testing.T) {
	v := newOrchEnv(t)
	tk := v.createTask(t)

	usage := task.Usage{InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500, EstimatedCost: 1.25}
	if _, err := v.store.UpdateTask(tk.ID, store.TaskPatch{Usage: &usage}); err != nil {
		t.Fatal(err)
	}

	daily := v.orch.CurrentDailyUsage()
	if daily.TotalTokens != 1500 {
		t.Errorf("daily tokens = %d, want 1500", daily.TotalTokens)
	}
	if daily.TotalCost != 1.25 {
		t.Errorf("daily cost = %f, want 1.25", daily.TotalCost)
	}
	if v.orch.DailyBudget() != v.cfg.Limits.DailyBudget {
		t.Errorf("budget = %f", v.orch.DailyBudget())
	}
	if v.orch.ActiveTasks() != 0 {
		t.Errorf("active = %d, want 0", v.orch.ActiveTasks())
	}
}

func TestUsageStatsProvider_OffUTCZone(t *testing.T) {
	// Timestamps are stored in UTC; usage recorded just now must count
	// toward today even when the local zone's calendar day differs from
	// the UTC one.
	offset := -12 * 3600
	if time.Now().UTC().Hour() >= 12 {
		offset = 13 * 3600
	}
	prev := time.Local
	time.Local = time.FixedZone("elsewhere", offset)
	defer func() { time.Local = prev }()

	v := newOrchEnv(t)
	tk := v.createTask(t)

	usage := task.Usage{TotalTokens: 700, EstimatedCost: 5}
	if _, err := v.store.UpdateTask(tk.ID, store.TaskPatch{Usage: &usage}); err != nil {
		t.Fatal(err)
	}

	daily := v.orch.CurrentDailyUsage()
	if daily.TotalCost != 5 {
		t.Errorf("daily cost = %f, want 5", daily.TotalCost)
	}
	if daily.TotalTokens != 700 {
		t.Errorf("daily tokens = %d, want 700", daily.TotalTokens)
	}
}

func TestStatusSnapshot(t *testing.T) {
	v := newOrchEnv(t)
	v.createTask(t)

	st := v.orch.Status()
	if st.Status != StatusStopped {
		t.Errorf("status = %s", st.Status)
	}
	if st.QueueLength != 1 {
		t.Errorf("queue length = %d, want 1", st.QueueLength)
	}
	if st.MaxConcurrent != v.cfg.Limits.MaxConcurrentTasks {
		t.Errorf("max concurrent = %d", st.MaxConcurrent)
	}
	if st.Health == nil {
		t.Error("health snapshot missing with healthCheck enabled")
	}
}

func TestUninitializedRejected(t *testing.T) {
	o := New(t.TempDir())
	_, err := o.CreateTask(CreateTaskOptions{Description: "x"})
	if aerrors.CodeOf(err) != aerrors.CodeNotInitialized {
		t.Fatalf("code = %v, want APEX_NOT_INITIALIZED", aerrors.CodeOf(err))
	}
}

func TestReloadDefinitions_OnWatcherChange(t *testing.T) {
	v := newOrchEnv(t)
	if err := v.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch := v.pub.Subscribe(events.GlobalTaskID)

	// A new workflow definition becomes runnable after the watcher fires.
	wf := "name: second\nstages:\n  - name: go\n    agent: coder\n"
	path := filepath.Join(v.root, ".apex", "workflows", "second.yaml")
	if err := os.WriteFile(path, []byte(wf), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "definition:changed event", func() bool {
		for {
			select {
			case ev := <-ch:
				if ev.Type == events.EventDefinitionChanged {
					return true
				}
			default:
				return false
			}
		}
	})
	// The reload callback runs right after the publish; give it a beat.
	time.Sleep(50 * time.Millisecond)

	tk, err := v.orch.CreateTask(CreateTaskOptions{
		Description: "use the hot-reloaded workflow",
		Workflow:    "second",
	})
	if err != nil {
		t.Fatal(err)
	}
	v.waitForStatus(t, tk.ID, task.StatusCompleted)
}
