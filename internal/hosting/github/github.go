// Package github implements hosting.Provider on top of the go-github
// client.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/apexhq/apex/internal/hosting"
)

var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.Register(hosting.ProviderGitHub, newProvider)
}

// Provider talks to the GitHub REST API for one repository.
type Provider struct {
	client *gogithub.Client
	owner  string
	repo   string
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	token, err := hosting.Token(cfg, "GITHUB_TOKEN")
	if err != nil {
		return nil, err
	}

	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("cannot parse owner/repo from remote %q", remoteURL)
	}

	client := gogithub.NewClient(&http.Client{
		Transport: &bearerTransport{token: token},
	})

	// GitHub Enterprise serves the API under /api/v3/.
	if cfg.BaseURL != "" {
		base := strings.TrimSuffix(cfg.BaseURL, "/")
		client.BaseURL, err = client.BaseURL.Parse(base + "/api/v3/")
		if err != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
		}
		client.UploadURL, err = client.UploadURL.Parse(base + "/api/uploads/")
		if err != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", cfg.BaseURL, err)
		}
	}

	return &Provider{client: client, owner: owner, repo: repo}, nil
}

// bearerTransport injects the Authorization header on every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(cloned)
}

func (p *Provider) Name() hosting.ProviderType { return hosting.ProviderGitHub }

func (p *Provider) OwnerRepo() (string, string) { return p.owner, p.repo }

// CheckAuth fetches the authenticated user to validate the token.
func (p *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := p.client.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("%w: %v", hosting.ErrAuthFailed, err)
	}
	return nil
}

// GetPR fetches a pull request by number.
func (p *Provider) GetPR(ctx context.Context, number int) (*hosting.PR, error) {
	pr, _, err := p.client.PullRequests.Get(ctx, p.owner, p.repo, number)
	if err != nil {
		return nil, fmt.Errorf("get PR %d: %w", number, err)
	}
	return mapPR(pr), nil
}

// FindPRByBranch returns the open PR whose head is branch.
func (p *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	prs, _, err := p.client.PullRequests.List(ctx, p.owner, p.repo, &gogithub.PullRequestListOptions{
		Head:        p.owner + ":" + branch,
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("find PR for branch %q: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	return mapPR(prs[0]), nil
}

// MergePR merges the pull request, optionally deleting the head branch.
func (p *Provider) MergePR(ctx context.Context, number int, opts hosting.MergeOptions) error {
	method := "merge"
	switch opts.Method {
	case "squash", "rebase":
		method = opts.Method
	}

	_, _, err := p.client.PullRequests.Merge(ctx, p.owner, p.repo, number, "", &gogithub.PullRequestOptions{
		MergeMethod: method,
		CommitTitle: opts.CommitTitle,
	})
	if err != nil {
		return fmt.Errorf("merge PR %d: %w", number, err)
	}

	if opts.DeleteBranch {
		pr, _, getErr := p.client.PullRequests.Get(ctx, p.owner, p.repo, number)
		if getErr != nil {
			return nil
		}
		ref := "refs/heads/" + pr.GetHead().GetRef()
		_, _ = p.client.Git.DeleteRef(ctx, p.owner, p.repo, ref)
	}
	return nil
}

// Reviews returns all reviews on a pull request.
func (p *Provider) Reviews(ctx context.Context, number int) ([]hosting.Review, error) {
	var all []*gogithub.PullRequestReview
	opts := &gogithub.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := p.client.PullRequests.ListReviews(ctx, p.owner, p.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list reviews for PR %d: %w", number, err)
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	result := make([]hosting.Review, 0, len(all))
	for _, r := range all {
		result = append(result, hosting.Review{
			ID:     r.GetID(),
			Author: r.GetUser().GetLogin(),
			State:  r.GetState(),
		})
	}
	return result, nil
}

// CheckRuns returns CI check runs for a ref.
func (p *Provider) CheckRuns(ctx context.Context, ref string) ([]hosting.CheckRun, error) {
	result, _, err := p.client.Checks.ListCheckRunsForRef(ctx, p.owner, p.repo, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("list check runs for %q: %w", ref, err)
	}
	checks := make([]hosting.CheckRun, 0, len(result.CheckRuns))
	for _, cr := range result.CheckRuns {
		checks = append(checks, hosting.CheckRun{
			ID:         cr.GetID(),
			Name:       cr.GetName(),
			Status:     cr.GetStatus(),
			Conclusion: cr.GetConclusion(),
		})
	}
	return checks, nil
}

// StatusSummary aggregates review and check state for a PR. Check run
// errors degrade to ChecksUnknown rather than failing the summary.
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

func mapPR(pr *gogithub.PullRequest) *hosting.PR {
	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}
	return &hosting.PR{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		State:      state,
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		URL:        pr.GetHTMLURL(),
		Draft:      pr.GetDraft(),
		Mergeable:  pr.GetMergeable(),
		CreatedAt:  pr.GetCreatedAt().Time,
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}
}
