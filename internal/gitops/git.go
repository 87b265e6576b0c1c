// Package gitops wraps the git operations the orchestrator needs. Worker
// side-effects are committed as git changes rather than replayed, so this
// is the durability boundary for task output.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"conductor/internal/logging"
)

// Client runs git commands against a working directory. The zero value is
// usable; all methods take cwd explicitly so one client serves any number
// of repositories.
type Client struct{}

// NewClient returns a git client.
func NewClient() *Client { return &Client{} }

func (c *Client) run(ctx context.Context, cwd string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsRepo reports whether cwd is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context, cwd string) bool {
	out, err := c.run(ctx, cwd, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Status returns porcelain status output. Empty output means a clean tree.
func (c *Client) Status(ctx context.Context, cwd string) (string, error) {
	return c.run(ctx, cwd, "status", "--porcelain")
}

// Diff returns the unstaged working-tree diff.
func (c *Client) Diff(ctx context.Context, cwd string) (string, error) {
	return c.run(ctx, cwd, "diff")
}

// StagedDiff returns the staged diff.
func (c *Client) StagedDiff(ctx context.Context, cwd string) (string, error) {
	return c.run(ctx, cwd, "diff", "--cached")
}

// Stage adds a path (or pathspec) to the index.
func (c *Client) Stage(ctx context.Context, cwd, path string) error {
	_, err := c.run(ctx, cwd, "add", "--", path)
	return err
}

// Commit records the staged changes and returns the new commit hash.
func (c *Client) Commit(ctx context.Context, cwd, message string) (string, error) {
	if _, err := c.run(ctx, cwd, "commit", "-m", message); err != nil {
		return "", err
	}
	hash, err := c.run(ctx, cwd, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	hash = strings.TrimSpace(hash)
	logging.Get(logging.CategoryGit).Infof("committed %s: %s", hash[:minInt(8, len(hash))], message)
	return hash, nil
}

// RecentCommits returns the latest n commit lines (hash + subject).
func (c *Client) RecentCommits(ctx context.Context, cwd string, n int) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	out, err := c.run(ctx, cwd, "log", fmt.Sprintf("-n%d", n), "--pretty=format:%h %s")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
