package hosting

import "errors"

var (
	// ErrNoPRFound means no open PR exists for the queried branch.
	ErrNoPRFound = errors.New("no pull request found for branch")

	// ErrAuthFailed means the API token was rejected.
	ErrAuthFailed = errors.New("hosting authentication failed")
)
