// Package gitlab implements hosting.Provider on top of the GitLab
// client, mapping merge requests onto the shared PR vocabulary.
package gitlab

import (
	"context"
	"fmt"
	"strings"
	"time"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/apexhq/apex/internal/hosting"
)

var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.Register(hosting.ProviderGitLab, newProvider)
}

// Provider talks to the GitLab API for one project. The project is
// addressed by its full path, so nested groups work unchanged.
type Provider struct {
	client    *gogitlab.Client
	projectID string
	owner     string
	repo      string
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	token, err := hosting.Token(cfg, "GITLAB_TOKEN")
	if err != nil {
		return nil, err
	}

	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("cannot parse owner/repo from remote %q", remoteURL)
	}

	var client *gogitlab.Client
	if cfg.BaseURL != "" {
		base := strings.TrimSuffix(cfg.BaseURL, "/")
		client, err = gogitlab.NewClient(token, gogitlab.WithBaseURL(base+"/api/v4"))
	} else {
		client, err = gogitlab.NewClient(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	return &Provider{
		client:    client,
		projectID: owner + "/" + repo,
		owner:     owner,
		repo:      repo,
	}, nil
}

func (p *Provider) Name() hosting.ProviderType { return hosting.ProviderGitLab }

func (p *Provider) OwnerRepo() (string, string) { return p.owner, p.repo }

// CheckAuth fetches the authenticated user to validate the token.
func (p *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := p.client.Users.CurrentUser(gogitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: %v", hosting.ErrAuthFailed, err)
	}
	return nil
}

// GetPR fetches a merge request by IID.
func (p *Provider) GetPR(ctx context.Context, number int) (*hosting.PR, error) {
	mr, _, err := p.client.MergeRequests.GetMergeRequest(p.projectID, int64(number), nil, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get MR %d: %w", number, err)
	}
	return &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		State:      mapState(mr.State),
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		URL:        mr.WebURL,
		Draft:      mr.Draft,
		Mergeable:  mr.DetailedMergeStatus == "mergeable",
		CreatedAt:  deref(mr.CreatedAt),
		UpdatedAt:  deref(mr.UpdatedAt),
	}, nil
}

// FindPRByBranch returns the open merge request whose source is branch.
func (p *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	mrs, _, err := p.client.MergeRequests.ListProjectMergeRequests(p.projectID, &gogitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gogitlab.Ptr(branch),
		State:        gogitlab.Ptr("opened"),
		ListOptions:  gogitlab.ListOptions{PerPage: 1},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("find MR for branch %q: %w", branch, err)
	}
	if len(mrs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	mr := mrs[0]
	return &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		State:      mapState(mr.State),
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		URL:        mr.WebURL,
		Draft:      mr.Draft,
		Mergeable:  mr.DetailedMergeStatus == "mergeable",
		CreatedAt:  deref(mr.CreatedAt),
		UpdatedAt:  deref(mr.UpdatedAt),
	}, nil
}

// MergePR accepts the merge request.
func (p *Provider) MergePR(ctx context.Context, number int, opts hosting.MergeOptions) error {
	accept := &gogitlab.AcceptMergeRequestOptions{}
	if opts.CommitTitle != "" {
		accept.MergeCommitMessage = gogitlab.Ptr(opts.CommitTitle)
	}
	if opts.Method == "squash" {
		accept.Squash = gogitlab.Ptr(true)
		if opts.CommitTitle != "" {
			accept.SquashCommitMessage = gogitlab.Ptr(opts.CommitTitle)
		}
	}
	if opts.DeleteBranch {
		accept.ShouldRemoveSourceBranch = gogitlab.Ptr(true)
	}

	_, _, err := p.client.MergeRequests.AcceptMergeRequest(p.projectID, int64(number), accept, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("merge MR %d: %w", number, err)
	}
	return nil
}

// Reviews maps GitLab approvals to review decisions. GitLab has no
// changes-requested state, so everything surfaces as APPROVED.
func (p *Provider) Reviews(ctx context.Context, number int) ([]hosting.Review, error) {
	state, _, err := p.client.MergeRequestApprovals.GetApprovalState(p.projectID, int64(number), gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get approval state for MR %d: %w", number, err)
	}

	var reviews []hosting.Review
	for _, rule := range state.Rules {
		for _, approver := range rule.ApprovedBy {
			reviews = append(reviews, hosting.Review{
				ID:     approver.ID,
				Author: approver.Username,
				State:  "APPROVED",
			})
		}
	}
	return reviews, nil
}

// CheckRuns maps the latest pipeline's jobs for a ref to check runs.
func (p *Provider) CheckRuns(ctx context.Context, ref string) ([]hosting.CheckRun, error) {
	pipelines, _, err := p.client.Pipelines.ListProjectPipelines(p.projectID, &gogitlab.ListProjectPipelinesOptions{
		Ref:         gogitlab.Ptr(ref),
		ListOptions: gogitlab.ListOptions{PerPage: 1},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list pipelines for %q: %w", ref, err)
	}
	if len(pipelines) == 0 {
		return nil, nil
	}

	jobs, _, err := p.client.Jobs.ListPipelineJobs(p.projectID, pipelines[0].ID, nil, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list jobs for pipeline %d: %w", pipelines[0].ID, err)
	}

	checks := make([]hosting.CheckRun, 0, len(jobs))
	for _, job := range jobs {
		status, conclusion := mapJobStatus(job.Status)
		checks = append(checks, hosting.CheckRun{
			ID:         job.ID,
			Name:       job.Name,
			Status:     status,
			Conclusion: conclusion,
		})
	}
	return checks, nil
}

// StatusSummary aggregates approvals and pipeline state for an MR.
func (p *Provider) StatusSummary(ctx context.Context, pr *hosting.PR) (*hosting.StatusSummary, error) {
	reviews, err := p.Reviews(ctx, pr.Number)
	if err != nil {
		return nil, err
	}
	status, approvals := hosting.SummarizeReviews(reviews)

	summary := &hosting.StatusSummary{
		ReviewStatus:  status,
		ApprovalCount: approvals,
		Mergeable:     pr.Mergeable,
	}

	checks, err := p.CheckRuns(ctx, pr.HeadBranch)
	if err != nil {
		summary.ChecksStatus = hosting.ChecksUnknown
		return summary, nil
	}
	summary.ChecksStatus = hosting.SummarizeChecks(checks)
	return summary, nil
}

func mapState(state string) string {
	if state == "opened" {
		return "open"
	}
	return state
}

// mapJobStatus converts a GitLab job status to the check-run pair.
func mapJobStatus(status string) (string, string) {
	switch status {
	case "success":
		return "completed", "success"
	case "failed":
		return "completed", "failure"
	case "canceled":
		return "completed", "cancelled"
	case "skipped":
		return "completed", "skipped"
	case "running":
		return "in_progress", ""
	default:
		// pending, created, manual
		return "queued", ""
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
