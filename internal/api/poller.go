package api

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/gitops"
	"github.com/apexhq/apex/internal/hosting"
	_ "github.com/apexhq/apex/internal/hosting/github"
	_ "github.com/apexhq/apex/internal/hosting/gitlab"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

// PR status values persisted on tasks by the poller. "open" is what
// CreatePullRequest writes initially.
const (
	prStatusOpen             = "open"
	prStatusDraft            = "draft"
	prStatusChangesRequested = "changes-requested"
	prStatusApproved         = "approved"
	prStatusMerged           = "merged"
	prStatusClosed           = "closed"
)

const defaultPollInterval = time.Minute

// Poller watches open pull requests and mirrors their review state onto
// the owning tasks. Tasks waiting for approval complete once their PR
// is approved or merged.
type Poller struct {
	store       *store.Store
	cfg         *config.Config
	projectPath string
	interval    time.Duration
	logger      *slog.Logger
	events      *events.PublishHelper

	runner      gitops.CommandRunner
	newProvider func() (hosting.Provider, error)

	providerOnce sync.Once
	provider     hosting.Provider
	providerErr  error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the poller logger.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// WithPollerInterval overrides the polling interval.
func WithPollerInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollerPublisher sets the event publisher.
func WithPollerPublisher(pub events.Publisher) PollerOption {
	return func(p *Poller) { p.events = events.NewPublishHelper(pub) }
}

// WithPollerRunner replaces the command runner used to resolve the
// origin remote.
func WithPollerRunner(r gitops.CommandRunner) PollerOption {
	return func(p *Poller) { p.runner = r }
}

// WithPollerProvider injects a ready-made hosting provider, bypassing
// remote detection.
func WithPollerProvider(prov hosting.Provider) PollerOption {
	return func(p *Poller) {
		p.newProvider = func() (hosting.Provider, error) { return prov, nil }
	}
}

// NewPoller creates a PR status poller for the project at projectPath.
func NewPoller(st *store.Store, cfg *config.Config, projectPath string, opts ...PollerOption) *Poller {
	p := &Poller{
		store:       st,
		cfg:         cfg,
		projectPath: projectPath,
		interval:    defaultPollInterval,
		logger:      slog.Default(),
		events:      events.NewPublishHelper(nil),
		runner:      gitops.NewExecRunner(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.newProvider == nil {
		p.newProvider = p.buildProvider
	}
	return p
}

func (p *Poller) buildProvider() (hosting.Provider, error) {
	remoteURL, err := p.runner.Run(p.projectPath, "git", "remote", "get-url", "origin")
	if err != nil {
		return nil, err
	}
	return hosting.New(remoteURL, hosting.Config{
		Provider:    p.cfg.Hosting.Provider,
		BaseURL:     p.cfg.Hosting.BaseURL,
		TokenEnvVar: p.cfg.Hosting.TokenEnvVar,
	})
}

// Start launches the polling loop. It polls once immediately, then on
// every interval tick until Stop or context cancellation.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll checks every task that still has an open pull request.
func (p *Poller) PollAll(ctx context.Context) {
	tasks, err := p.store.ListTasks(store.ListOptions{})
	if err != nil {
		p.logger.Warn("pr poll: list tasks", "error", err)
		return
	}

	var candidates []*task.Task
	for _, t := range tasks {
		if shouldPoll(t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return
	}

	p.providerOnce.Do(func() {
		p.provider, p.providerErr = p.newProvider()
	})
	if p.providerErr != nil {
		p.logger.Debug("pr poll: no hosting provider", "error", p.providerErr)
		return
	}

	p.logger.Debug("polling pull requests", "count", len(candidates))
	for _, t := range candidates {
		if err := p.pollTask(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("pr poll failed", "task", t.ID, "error", err)
		}
	}
}

func shouldPoll(t *task.Task) bool {
	if t.PRURL == "" || t.BranchName == "" {
		return false
	}
	return t.PRStatus != prStatusMerged && t.PRStatus != prStatusClosed
}

func (p *Poller) pollTask(ctx context.Context, t *task.Task) error {
	pr, err := p.provider.FindPRByBranch(ctx, t.BranchName)
	if err != nil {
		if errors.Is(err, hosting.ErrNoPRFound) {
			// The PR vanished from the open list: merged or closed
			// outside our view. Fetch it by number when we have one,
			// otherwise record it closed.
			return p.resolveVanished(ctx, t)
		}
		return err
	}

	summary, err := p.provider.StatusSummary(ctx, pr)
	if err != nil {
		return err
	}
	return p.apply(t, determinePRStatus(pr, summary), summary)
}

func (p *Poller) resolveVanished(ctx context.Context, t *task.Task) error {
	status := prStatusClosed
	if n := prNumber(t.PRURL); n > 0 {
		pr, err := p.provider.GetPR(ctx, n)
		if err == nil && pr.State == "merged" {
			status = prStatusMerged
		}
	}
	return p.apply(t, status, nil)
}

// apply persists a status change, emits pr:status-changed, and
// completes waiting-approval tasks whose PR got approved or merged.
func (p *Poller) apply(t *task.Task, status string, summary *hosting.StatusSummary) error {
	if status == t.PRStatus {
		return nil
	}

	patch := store.TaskPatch{PRStatus: &status}
	completes := (status == prStatusApproved || status == prStatusMerged) &&
		t.Status == task.StatusWaitingApproval
	if completes {
		done := task.StatusCompleted
		patch.Status = &done
	}

	updated, err := p.store.UpdateTask(t.ID, patch)
	if err != nil {
		return err
	}

	checks := ""
	approvals := 0
	if summary != nil {
		checks = summary.ChecksStatus
		approvals = summary.ApprovalCount
	}
	p.events.PRStatusChanged(t.ID, t.PRURL, status, checks, approvals)
	p.logger.Info("pull request status changed", "task", t.ID, "status", status)

	if completes {
		p.events.TaskCompleted(t.ID, time.Since(updated.CreatedAt), updated.Usage.TotalTokens, updated.Usage.EstimatedCost)
		p.logger.Info("task completed via pull request approval", "task", t.ID)
	}
	return nil
}

// determinePRStatus folds the PR state and its review summary into the
// status string stored on the task.
func determinePRStatus(pr *hosting.PR, summary *hosting.StatusSummary) string {
	switch pr.State {
	case "merged":
		return prStatusMerged
	case "closed":
		return prStatusClosed
	}
	if pr.Draft {
		return prStatusDraft
	}
	switch summary.ReviewStatus {
	case hosting.ReviewApproved:
		return prStatusApproved
	case hosting.ReviewChangesRequested:
		return prStatusChangesRequested
	default:
		return prStatusOpen
	}
}

// prNumber extracts the trailing number of a PR URL, 0 when absent.
func prNumber(url string) int {
	i := strings.LastIndex(url, "/")
	if i < 0 || i == len(url)-1 {
		return 0
	}
	n, err := strconv.Atoi(url[i+1:])
	if err != nil {
		return 0
	}
	return n
}
