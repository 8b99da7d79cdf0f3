// Package github shells out to the gh CLI for pull-request creation.
// Commands run through a gitops.CommandRunner so tests can script them.
package github

import (
	"fmt"
	"strings"

	"github.com/apexhq/apex/internal/gitops"
)

// Client runs gh commands rooted at a repository.
type Client struct {
	repoPath string
	runner   gitops.CommandRunner
}

// NewClient creates a gh client for a repository.
func NewClient(repoPath string, runner gitops.CommandRunner) *Client {
	if runner == nil {
		runner = gitops.NewExecRunner()
	}
	return &Client{repoPath: repoPath, runner: runner}
}

// IsAvailable reports whether the gh CLI is installed and runnable.
func (c *Client) IsAvailable() bool {
	_, err := c.runner.Run(c.repoPath, "gh", "--version")
	return err == nil
}

// RemoteIsGitHub reports whether the origin remote points at GitHub.
func (c *Client) RemoteIsGitHub() (bool, error) {
	url, err := c.runner.Run(c.repoPath, "git", "remote", "get-url", "origin")
	if err != nil {
		return false, fmt.Errorf("get remote URL: %w", err)
	}
	return strings.Contains(url, "github.com"), nil
}

// PRCreateOptions configures CreatePR.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// CreatePR creates a pull request and returns its URL, which gh prints as
// the last stdout line.
func (c *Client) CreatePR(opts PRCreateOptions) (string, error) {
	args := []string{"pr", "create",
		"--title", opts.Title,
		"--body", opts.Body,
	}
	if opts.Head != "" {
		args = append(args, "--head", opts.Head)
	}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	out, err := c.runner.Run(c.repoPath, "gh", args...)
	if err != nil {
		return "", fmt.Errorf("gh pr create: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	url := strings.TrimSpace(lines[len(lines)-1])
	if url == "" {
		return "", fmt.Errorf("gh pr create returned no URL")
	}
	return url, nil
}
