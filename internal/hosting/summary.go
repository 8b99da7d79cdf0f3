package hosting

// SummarizeReviews reduces a review list to a status and approval count.
// Only the latest decisive review per author counts, so a re-review
// supersedes an earlier one. COMMENTED and PENDING never change the
// outcome, and changes_requested wins over approved.
func SummarizeReviews(reviews []Review) (status string, approvals int) {
	latest := make(map[string]string)
	for _, r := range reviews {
		if r.State == "COMMENTED" || r.State == "PENDING" {
			continue
		}
		latest[r.Author] = r.State
	}

	var changesRequested int
	for _, state := range latest {
		switch state {
		case "APPROVED":
			approvals++
		case "CHANGES_REQUESTED":
			changesRequested++
		}
	}

	status = ReviewPending
	if changesRequested > 0 {
		status = ReviewChangesRequested
	} else if approvals > 0 {
		status = ReviewApproved
	}
	return status, approvals
}

// SummarizeChecks reduces CI check runs to a single status. Any failure
// wins, then any still-running check, then success.
func SummarizeChecks(checks []CheckRun) string {
	if len(checks) == 0 {
		return ChecksNone
	}
	var failed, pending int
	for _, c := range checks {
		if c.Status != "completed" {
			pending++
			continue
		}
		switch c.Conclusion {
		case "failure", "timed_out", "cancelled", "action_required":
			failed++
		}
	}
	switch {
	case failed > 0:
		return ChecksFailure
	case pending > 0:
		return ChecksPending
	default:
		return ChecksSuccess
	}
}
