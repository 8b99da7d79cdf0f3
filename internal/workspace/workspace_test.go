package workspace

import (
	"strings"
	"testing"

	"github.com/apexhq/apex/internal/gitops"
)

// scriptedRunner succeeds on every git command.
type scriptedRunner struct {
	calls []string
}

func (s *scriptedRunner) Run(workDir, name string, args ...string) (string, error) {
	s.calls = append(s.calls, name+" "+strings.Join(args, " "))
	return "", nil
}

func newManager(t *testing.T) (*LocalManager, *scriptedRunner) {
	t.Helper()
	r := &scriptedRunner{}
	g := gitops.New(t.TempDir(), gitops.WithRunner(r))
	return NewLocalManager(g), r
}

func TestAcquire_CreatesWorktreeOnce(t *testing.T) {
	t.Parallel()
	m, r := newManager(t)

	ws, err := m.Acquire("task_1", "apex/feature")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if ws.Path == "" || !strings.Contains(ws.Path, "task_1") {
		t.Errorf("unexpected path %q", ws.Path)
	}
	if ws.ContainerID != "" {
		t.Errorf("local workspaces have no container id, got %q", ws.ContainerID)
	}

	before := len(r.calls)
	again, err := m.Acquire("task_1", "apex/feature")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if again != ws {
		t.Error("second Acquire should return the cached workspace")
	}
	if len(r.calls) != before {
		t.Error("second Acquire must not run git again")
	}
}

func TestGet(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)

	if m.Get("task_1") != nil {
		t.Error("Get before Acquire should be nil")
	}
	if _, err := m.Acquire("task_1", "apex/x"); err != nil {
		t.Fatal(err)
	}
	if m.Get("task_1") == nil {
		t.Error("Get after Acquire should return the workspace")
	}
}

func TestCleanup_RemovesWorktree(t *testing.T) {
	t.Parallel()
	m, r := newManager(t)

	if _, err := m.Acquire("task_1", "apex/x"); err != nil {
		t.Fatal(err)
	}
	if err := m.Cleanup("task_1"); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if m.Get("task_1") != nil {
		t.Error("workspace should be forgotten after Cleanup")
	}

	removed := false
	for _, call := range r.calls {
		if strings.HasPrefix(call, "git worktree remove") {
			removed = true
		}
	}
	if !removed {
		t.Errorf("expected a worktree remove call, got %v", r.calls)
	}
}

func TestRelease_KeepsWorktree(t *testing.T) {
	t.Parallel()
	m, r := newManager(t)

	if _, err := m.Acquire("task_1", "apex/x"); err != nil {
		t.Fatal(err)
	}
	before := len(r.calls)
	if err := m.Release("task_1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if m.Get("task_1") != nil {
		t.Error("workspace should be forgotten after Release")
	}
	if len(r.calls) != before {
		t.Error("Release must not touch git")
	}
}
