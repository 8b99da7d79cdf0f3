package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

func prTask(t *testing.T, v *orchEnv) *task.Task {
	t.Helper()
	tk, err := v.orch.CreateTask(CreateTaskOptions{
		Description: "Implement the search endpoint",
		Workflow:    "oneshot",
	})
	if err != nil {
		t.Fatal(err)
	}
	usage := task.Usage{InputTokens: 10000, OutputTokens: 2345, TotalTokens: 12345, EstimatedCost: 0.42}
	if _, err := v.store.UpdateTask(tk.ID, store.TaskPatch{Usage: &usage}); err != nil {
		t.Fatal(err)
	}
	got, err := v.store.GetTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestCreatePullRequest(t *testing.T) {
	v := newOrchEnv(t)
	tk := prTask(t, v)
	ch := v.pub.Subscribe(events.GlobalTaskID)

	url, err := v.orch.CreatePullRequest(tk.ID, PROptions{})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://github.com/acme/app/pull/42" {
		t.Fatalf("url = %q", url)
	}

	got, err := v.store.GetTask(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PRURL != url {
		t.Errorf("PRURL = %q", got.PRURL)
	}
	if got.PRStatus != "open" {
		t.Errorf("PRStatus = %q", got.PRStatus)
	}
	// Review-before-merge tasks wait for approval once the PR is up.
	if got.Status != task.StatusWaitingApproval {
		t.Errorf("status = %s, want waiting-approval", got.Status)
	}

	counts := drainTypes(ch)
	if counts[events.EventPRCreated] != 1 {
		t.Errorf("pr:created = %d, want 1", counts[events.EventPRCreated])
	}

	var created string
	for _, call := range v.runner.recorded() {
		if strings.HasPrefix(call, "gh pr create") {
			created = call
		}
	}
	if created == "" {
		t.Fatal("gh pr create never invoked")
	}
	if !strings.Contains(created, "feat: search endpoint") {
		t.Errorf("generated title missing from %q", created)
	}
	if !strings.Contains(created, "--head "+tk.BranchName) {
		t.Errorf("head branch missing from %q", created)
	}
	if !strings.Contains(created, "12,345") || !strings.Contains(created, "$0.42") {
		t.Errorf("usage details missing from %q", created)
	}
	if !strings.Contains(created, "Created by APEX") {
		t.Errorf("footer missing from %q", created)
	}
}

func TestCreatePullRequest_Overrides(t *testing.T) {
	v := newOrchEnv(t)
	tk := prTask(t, v)

	if _, err := v.orch.CreatePullRequest(tk.ID, PROptions{
		Title: "custom title",
		Body:  "custom body",
		Draft: true,
	}); err != nil {
		t.Fatal(err)
	}

	var created string
	for _, call := range v.runner.recorded() {
		if strings.HasPrefix(call, "gh pr create") {
			created = call
		}
	}
	if !strings.Contains(created, "custom title") || !strings.Contains(created, "custom body") {
		t.Errorf("overrides missing from %q", created)
	}
	if !strings.Contains(created, "--draft") {
		t.Errorf("draft flag missing from %q", created)
	}
}

func TestCreatePullRequest_GhUnavailable(t *testing.T) {
	v := newOrchEnv(t)
	tk := prTask(t, v)
	ch := v.pub.Subscribe(events.GlobalTaskID)
	v.runner.errs = map[string]error{"gh --version": errors.New("command not found")}

	_, err := v.orch.CreatePullRequest(tk.ID, PROptions{})
	if err == nil || !strings.Contains(err.Error(), "gh CLI not found") {
		t.Fatalf("err = %v", err)
	}

	counts := drainTypes(ch)
	if counts[events.EventPRFailed] != 1 {
		t.Errorf("pr:failed = %d, want 1", counts[events.EventPRFailed])
	}
}

func TestCreatePullRequest_NonGitHubRemote(t *testing.T) {
	v := newOrchEnv(t)
	tk := prTask(t, v)
	v.runner.outputs["git remote get-url origin"] = "https://gitlab.com/acme/app.git"

	_, err := v.orch.CreatePullRequest(tk.ID, PROptions{})
	if err == nil || !strings.Contains(err.Error(), "not a GitHub repository") {
		t.Fatalf("err = %v", err)
	}
}

func TestCreatePullRequest_CommandFailure(t *testing.T) {
	v := newOrchEnv(t)
	tk := prTask(t, v)
	ch := v.pub.Subscribe(events.GlobalTaskID)
	v.runner.errs = map[string]error{"gh pr create": errors.New("a pull request already exists")}

	_, err := v.orch.CreatePullRequest(tk.ID, PROptions{})
	if err == nil {
		t.Fatal("expected error")
	}

	got, _ := v.store.GetTask(tk.ID)
	if got.PRURL != "" {
		t.Errorf("PRURL persisted on failure: %q", got.PRURL)
	}
	counts := drainTypes(ch)
	if counts[events.EventPRFailed] != 1 {
		t.Errorf("pr:failed = %d, want 1", counts[events.EventPRFailed])
	}
}

func TestPushBranch_DisabledByConfig(t *testing.T) {
	v := newOrchEnv(t)
	tk := prTask(t, v)

	res, err := v.orch.PushBranch(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "disabled") {
		t.Fatalf("result = %+v", res)
	}
}

func TestPushBranch_ValidatorBlocks(t *testing.T) {
	v := newOrchEnv(t, WithPushValidator(func(projectPath string) error {
		return errors.New("tests failed")
	}))
	v.cfg.Git.PushAfterTask = true
	tk := prTask(t, v)

	res, err := v.orch.PushBranch(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "tests failed") {
		t.Fatalf("result = %+v", res)
	}
	for _, call := range v.runner.recorded() {
		if strings.HasPrefix(call, "git push") {
			t.Fatal("push ran despite failed validation")
		}
	}
}

func TestPushBranch_Success(t *testing.T) {
	validated := false
	v := newOrchEnv(t, WithPushValidator(func(projectPath string) error {
		validated = true
		return nil
	}))
	v.cfg.Git.PushAfterTask = true
	tk := prTask(t, v)

	res, err := v.orch.PushBranch(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.RemoteBranch != "origin/"+tk.BranchName {
		t.Errorf("remote branch = %q", res.RemoteBranch)
	}
	if !validated {
		t.Error("validator not invoked")
	}
}

func TestGeneratePRTitle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		workflow    string
		description string
		want        string
	}{
		{"build", "Implement the search endpoint", "feat: search endpoint"},
		{"bugfix", "Fix the flaky login test", "fix: flaky login test"},
		{"refactor", "Update a session store abstraction", "refactor: session store abstraction"},
		{"docs", "Add an architecture overview", "docs: architecture overview"},
		{"testing", "Create integration coverage for the store", "test: integration coverage for the store"},
		{"", "Ship dark mode", "feat: ship dark mode"},
	}
	for _, tc := range cases {
		tk := &task.Task{Workflow: tc.workflow, Description: tc.description}
		if got := generatePRTitle(tk); got != tc.want {
			t.Errorf("generatePRTitle(%q, %q) = %q, want %q", tc.workflow, tc.description, got, tc.want)
		}
	}
}

func TestGeneratePRTitle_Truncation(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("verylongword ", 10)
	tk := &task.Task{Workflow: "build", Description: long}
	got := generatePRTitle(tk)
	if len(got) > len("feat: ")+maxTitleSuffix {
		t.Fatalf("title too long (%d): %q", len(got), got)
	}
	if strings.HasSuffix(got, " ") {
		t.Fatalf("trailing space in %q", got)
	}
}

func TestFormatThousands(t *testing.T) {
	t.Parallel()
	cases := map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		12345:    "12,345",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for n, want := range cases {
		if got := formatThousands(n); got != want {
			t.Errorf("formatThousands(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestPRNumberFromURL(t *testing.T) {
	t.Parallel()
	if got := prNumberFromURL("https://github.com/acme/app/pull/42"); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if got := prNumberFromURL("https://github.com/acme/app/pulls"); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}
