package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/github"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

// PROptions override the generated pull request fields.
type PROptions struct {
	Title string
	Body  string
	Draft bool
}

// PushValidator runs before a branch push, typically build and tests.
// A non-nil error aborts the push.
type PushValidator func(projectPath string) error

// PushResult reports the outcome of PushBranch.
type PushResult struct {
	Success      bool   `json:"success"`
	RemoteBranch string `json:"remote_branch,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CreatePullRequest opens a PR for the task's branch via the gh CLI.
// Title and body are generated from the task unless overridden. The PR
// URL is persisted on the task and pr:created is emitted; failures emit
// pr:failed.
func (o *Orchestrator) CreatePullRequest(id string, opts PROptions) (string, error) {
	if err := o.requireInitialized(); err != nil {
		return "", err
	}
	t, err := o.store.GetTask(id)
	if err != nil {
		return "", err
	}
	if t.BranchName == "" {
		return "", aerrors.ErrInvalidInput("task "+id, "has no branch to open a PR from")
	}

	if !o.gh.IsAvailable() {
		err := fmt.Errorf("gh CLI not found; install it from https://cli.github.com")
		o.events.PRFailed(id, t.BranchName, err)
		return "", err
	}
	isGitHub, err := o.gh.RemoteIsGitHub()
	if err != nil {
		o.events.PRFailed(id, t.BranchName, err)
		return "", fmt.Errorf("check origin remote: %w", err)
	}
	if !isGitHub {
		err := fmt.Errorf("origin remote is not a GitHub repository")
		o.events.PRFailed(id, t.BranchName, err)
		return "", err
	}

	title := opts.Title
	if title == "" {
		title = generatePRTitle(t)
	}
	body := opts.Body
	if body == "" {
		body = generatePRBody(t)
	}

	url, err := o.gh.CreatePR(github.PRCreateOptions{
		Title: title,
		Body:  body,
		Head:  t.BranchName,
		Draft: opts.Draft,
	})
	if err != nil {
		o.events.PRFailed(id, t.BranchName, err)
		return "", fmt.Errorf("create pull request: %w", err)
	}

	patch := store.TaskPatch{PRURL: &url}
	prStatus := "open"
	patch.PRStatus = &prStatus
	if t.Autonomy == task.AutonomyReviewBeforeMerge && !t.IsTerminal() {
		status := task.StatusWaitingApproval
		patch.Status = &status
	}
	if _, err := o.store.UpdateTask(id, patch); err != nil {
		return "", fmt.Errorf("record PR URL: %w", err)
	}

	o.events.PRCreated(id, t.BranchName, url, prNumberFromURL(url))
	o.logger.Info("pull request created", "task", id, "url", url)
	return url, nil
}

// PushBranch pushes the task's branch to origin, guarded by the
// git.pushAfterTask setting and the pre-push validator.
func (o *Orchestrator) PushBranch(id string) (PushResult, error) {
	if err := o.requireInitialized(); err != nil {
		return PushResult{}, err
	}
	t, err := o.store.GetTask(id)
	if err != nil {
		return PushResult{}, err
	}

	if !o.cfg.Git.PushAfterTask {
		return PushResult{Error: "git.pushAfterTask is disabled"}, nil
	}
	if t.BranchName == "" {
		return PushResult{Error: "task has no branch"}, nil
	}

	if o.prePush != nil {
		if err := o.prePush(o.projectPath); err != nil {
			o.logger.Warn("pre-push validation failed", "task", id, "error", err)
			return PushResult{Error: fmt.Sprintf("pre-push validation failed: %v", err)}, nil
		}
	}

	if err := o.git.Push(t.BranchName); err != nil {
		return PushResult{Error: err.Error()}, nil
	}
	return PushResult{Success: true, RemoteBranch: "origin/" + t.BranchName}, nil
}

// prTitlePrefixes maps workflow names to conventional-commit types.
var prTitlePrefixes = map[string]string{
	"bugfix":        "fix",
	"fix":           "fix",
	"hotfix":        "fix",
	"refactor":      "refactor",
	"refactoring":   "refactor",
	"docs":          "docs",
	"documentation": "docs",
	"test":          "test",
	"testing":       "test",
}

// titleStopWords are leading words dropped from the description before it
// becomes a conventional-commit suffix.
var titleStopWords = map[string]bool{
	"implement": true,
	"create":    true,
	"add":       true,
	"fix":       true,
	"update":    true,
	"the":       true,
	"a":         true,
	"an":        true,
}

const maxTitleSuffix = 60

// generatePRTitle builds "type: summary" from the workflow and the task
// description.
func generatePRTitle(t *task.Task) string {
	prefix := prTitlePrefixes[strings.ToLower(t.Workflow)]
	if prefix == "" {
		prefix = "feat"
	}

	words := strings.Fields(t.Description)
	for len(words) > 0 && titleStopWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	suffix := strings.Join(words, " ")
	if suffix == "" {
		suffix = t.Description
	}
	if len(suffix) > 0 {
		suffix = strings.ToLower(suffix[:1]) + suffix[1:]
	}
	suffix = truncateAtWord(suffix, maxTitleSuffix)

	return prefix + ": " + suffix
}

func truncateAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// generatePRBody builds the PR description: summary, acceptance criteria,
// task metadata, and usage totals.
func generatePRBody(t *task.Task) string {
	var b strings.Builder

	b.WriteString("## Summary\n\n")
	b.WriteString(t.Description)
	b.WriteString("\n")

	if t.AcceptanceCriteria != "" {
		b.WriteString("\n## Acceptance Criteria\n\n")
		b.WriteString(t.AcceptanceCriteria)
		b.WriteString("\n")
	}

	b.WriteString("\n## Details\n\n")
	fmt.Fprintf(&b, "- Task: `%s`\n", t.ID)
	if t.Workflow != "" {
		fmt.Fprintf(&b, "- Workflow: %s\n", t.Workflow)
	}
	fmt.Fprintf(&b, "- Branch: `%s`\n", t.BranchName)
	fmt.Fprintf(&b, "- Tokens: %s\n", formatThousands(t.Usage.TotalTokens))
	fmt.Fprintf(&b, "- Cost: $%.2f\n", t.Usage.EstimatedCost)

	b.WriteString("\n---\nCreated by APEX\n")
	return b.String()
}

// formatThousands renders 1234567 as "1,234,567".
func formatThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}

// prNumberFromURL extracts the trailing PR number, or 0 when the URL does
// not end in one.
func prNumberFromURL(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
