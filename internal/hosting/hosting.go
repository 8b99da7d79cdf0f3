// Package hosting abstracts the git hosting service (GitHub or GitLab)
// behind a provider interface used by the PR status poller.
package hosting

import (
	"context"
	"time"
)

// ProviderType identifies a hosting service.
type ProviderType string

const (
	ProviderGitHub  ProviderType = "github"
	ProviderGitLab  ProviderType = "gitlab"
	ProviderUnknown ProviderType = "unknown"
)

// Provider is the read-and-merge surface the daemon needs against a
// hosting service. GitLab merge requests are mapped onto the same PR
// vocabulary.
type Provider interface {
	// GetPR fetches a pull request by number (MR IID on GitLab).
	GetPR(ctx context.Context, number int) (*PR, error)

	// FindPRByBranch returns the open PR whose head is the given branch,
	// or ErrNoPRFound.
	FindPRByBranch(ctx context.Context, branch string) (*PR, error)

	// MergePR merges the pull request.
	MergePR(ctx context.Context, number int, opts MergeOptions) error

	// Reviews returns the review decisions on a pull request.
	Reviews(ctx context.Context, number int) ([]Review, error)

	// CheckRuns returns CI results for a ref. GitLab pipeline jobs are
	// mapped to the check-run shape.
	CheckRuns(ctx context.Context, ref string) ([]CheckRun, error)

	// StatusSummary aggregates reviews and checks into a single status.
	StatusSummary(ctx context.Context, pr *PR) (*StatusSummary, error)

	// CheckAuth verifies the API token by fetching the current user.
	CheckAuth(ctx context.Context) error

	Name() ProviderType
	OwnerRepo() (owner, repo string)
}

// PR is a pull request or merge request.
type PR struct {
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	State      string    `json:"state"` // open, closed, merged
	HeadBranch string    `json:"head_branch"`
	BaseBranch string    `json:"base_branch"`
	URL        string    `json:"url"`
	Draft      bool      `json:"draft"`
	Mergeable  bool      `json:"mergeable"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MergeOptions control how a PR is merged.
type MergeOptions struct {
	Method       string `json:"method"` // merge, squash, rebase
	CommitTitle  string `json:"commit_title,omitempty"`
	DeleteBranch bool   `json:"delete_branch"`
}

// Review is a single review decision on a PR.
type Review struct {
	ID     int64  `json:"id"`
	Author string `json:"author"`
	State  string `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED, PENDING
}

// CheckRun is one CI check result.
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`               // queued, in_progress, completed
	Conclusion string `json:"conclusion,omitempty"` // success, failure, cancelled, skipped, ...
}

// StatusSummary aggregates a PR's review and CI state.
type StatusSummary struct {
	ReviewStatus  string `json:"review_status"` // pending_review, changes_requested, approved
	ApprovalCount int    `json:"approval_count"`
	ChecksStatus  string `json:"checks_status"` // none, pending, success, failure, unknown
	Mergeable     bool   `json:"mergeable"`
}

// Review status values.
const (
	ReviewPending          = "pending_review"
	ReviewChangesRequested = "changes_requested"
	ReviewApproved         = "approved"
)

// Checks status values.
const (
	ChecksNone    = "none"
	ChecksPending = "pending"
	ChecksSuccess = "success"
	ChecksFailure = "failure"
	ChecksUnknown = "unknown"
)
