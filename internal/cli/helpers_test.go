package cli

import (
	"testing"

	"github.com/apexhq/apex/internal/task"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a long description that keeps going", 10, "a long ..."},
		{"abc", 2, "ab"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}
	for _, tc := range cases {
		if got := formatTokens(tc.in); got != tc.want {
			t.Errorf("formatTokens(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatCost(t *testing.T) {
	if got := formatCost(1.2345); got != "$1.23" {
		t.Errorf("formatCost = %q", got)
	}
}

func TestStatusGlyph(t *testing.T) {
	if statusGlyph(task.StatusCompleted) == statusGlyph(task.StatusFailed) {
		t.Error("completed and failed should render differently")
	}
	if statusGlyph(task.StatusPending) == "" {
		t.Error("pending glyph empty")
	}
}
