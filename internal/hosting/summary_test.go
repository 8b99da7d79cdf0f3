package hosting

import "testing"

func TestSummarizeReviews(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		status, approvals := SummarizeReviews(nil)
		if status != ReviewPending || approvals != 0 {
			t.Errorf("got (%s, %d)", status, approvals)
		}
	})

	t.Run("approved", func(t *testing.T) {
		status, approvals := SummarizeReviews([]Review{
			{Author: "alice", State: "APPROVED"},
			{Author: "bob", State: "COMMENTED"},
		})
		if status != ReviewApproved || approvals != 1 {
			t.Errorf("got (%s, %d)", status, approvals)
		}
	})

	t.Run("changes requested wins over approvals", func(t *testing.T) {
		status, approvals := SummarizeReviews([]Review{
			{Author: "alice", State: "APPROVED"},
			{Author: "bob", State: "CHANGES_REQUESTED"},
		})
		if status != ReviewChangesRequested {
			t.Errorf("status = %s", status)
		}
		if approvals != 1 {
			t.Errorf("approvals = %d", approvals)
		}
	})

	t.Run("re-review supersedes earlier decision", func(t *testing.T) {
		status, approvals := SummarizeReviews([]Review{
			{Author: "alice", State: "CHANGES_REQUESTED"},
			{Author: "alice", State: "APPROVED"},
		})
		if status != ReviewApproved || approvals != 1 {
			t.Errorf("got (%s, %d)", status, approvals)
		}
	})

	t.Run("comments never decide", func(t *testing.T) {
		status, _ := SummarizeReviews([]Review{
			{Author: "alice", State: "COMMENTED"},
			{Author: "bob", State: "PENDING"},
		})
		if status != ReviewPending {
			t.Errorf("status = %s", status)
		}
	})
}

func TestSummarizeChecks(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		checks []CheckRun
		want   string
	}{
		{"no checks", nil, ChecksNone},
		{"all green", []CheckRun{
			{Status: "completed", Conclusion: "success"},
			{Status: "completed", Conclusion: "skipped"},
		}, ChecksSuccess},
		{"one failure", []CheckRun{
			{Status: "completed", Conclusion: "success"},
			{Status: "completed", Conclusion: "failure"},
		}, ChecksFailure},
		{"failure wins over pending", []CheckRun{
			{Status: "in_progress"},
			{Status: "completed", Conclusion: "timed_out"},
		}, ChecksFailure},
		{"still running", []CheckRun{
			{Status: "completed", Conclusion: "success"},
			{Status: "queued"},
		}, ChecksPending},
	}
	for _, tc := range cases {
		if got := SummarizeChecks(tc.checks); got != tc.want {
			t.Errorf("%s: SummarizeChecks = %s, want %s", tc.name, got, tc.want)
		}
	}
}
