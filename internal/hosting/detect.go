package hosting

import (
	"regexp"
	"strings"
)

var (
	githubHosts = []*regexp.Regexp{
		regexp.MustCompile(`github\.com[:/]`),
		// GitHub Enterprise, e.g. github.example.com
		regexp.MustCompile(`github\.[a-z0-9-]+\.[a-z]+[:/]`),
	}
	gitlabHosts = []*regexp.Regexp{
		regexp.MustCompile(`gitlab\.com[:/]`),
		// self-hosted GitLab, e.g. gitlab.example.com
		regexp.MustCompile(`gitlab\.[a-z0-9-]+\.[a-z]+[:/]`),
	}
)

// DetectProvider classifies a git remote URL by its host. Works for
// https, scp-style ssh, and ssh:// forms.
func DetectProvider(remoteURL string) ProviderType {
	url := strings.ToLower(strings.TrimSpace(remoteURL))
	for _, p := range githubHosts {
		if p.MatchString(url) {
			return ProviderGitHub
		}
	}
	for _, p := range gitlabHosts {
		if p.MatchString(url) {
			return ProviderGitLab
		}
	}
	return ProviderUnknown
}

// ParseOwnerRepo splits a remote URL into owner and repository name.
// GitLab subgroups fold into the owner: group/subgroup/repo yields
// owner "group/subgroup".
func ParseOwnerRepo(remoteURL string) (owner, repo string) {
	raw := strings.TrimSuffix(strings.TrimSpace(remoteURL), ".git")

	switch {
	case strings.HasPrefix(raw, "ssh://"):
		// ssh://git@host:port/owner/repo
		raw = strings.TrimPrefix(raw, "ssh://")
		if i := strings.Index(raw, "/"); i >= 0 {
			raw = strings.TrimLeft(raw[i+1:], "/")
		}
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		raw = strings.TrimPrefix(raw, "https://")
		raw = strings.TrimPrefix(raw, "http://")
		if i := strings.Index(raw, "/"); i >= 0 {
			raw = raw[i+1:]
		}
	default:
		// scp-style: git@host:owner/repo
		if i := strings.Index(raw, ":"); i >= 0 {
			raw = raw[i+1:]
		}
	}

	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return raw, ""
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1]
}
