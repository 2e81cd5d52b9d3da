package step

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/pkg/logger"
)

// gitRunner shells out to git in a fixed working directory and records the
// exact command trail for the step result.
type gitRunner struct {
	dir   string
	trail []string
}

func (g *gitRunner) run(ctx context.Context, args ...string) (string, error) {
	g.trail = append(g.trail, "git "+strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Executor) runGit(ctx context.Context, rc *run.Context, c GitConfig) (json.RawMessage, error) {
	g := &gitRunner{dir: c.WorkDir}
	if g.dir == "" {
		g.dir = rc.ProjectRoot
	}
	res := &GitResult{Operation: c.Operation}
	var err error
	switch c.Operation {
	case GitCommit:
		err = e.gitCommit(ctx, g, c, res)
	case GitBranch:
		err = e.gitBranch(ctx, rc, g, c, res)
	case GitCommitAndBranch:
		if err = e.gitCommit(ctx, g, c, res); err == nil {
			err = e.gitBranch(ctx, rc, g, c, res)
		}
	case GitMerge:
		err = e.gitMerge(ctx, g, c, res)
	case GitPR:
		err = e.gitPR(ctx, g, c, res)
	default:
		return nil, fmt.Errorf("unknown git operation %q", c.Operation)
	}
	res.Commands = g.trail
	if err != nil {
		return nil, err
	}
	return core.RawJSON(res)
}

func (e *Executor) gitCommit(ctx context.Context, g *gitRunner, c GitConfig, res *GitResult) error {
	if c.Message == "" {
		return fmt.Errorf("git commit requires a message")
	}
	addArgs := []string{"add"}
	if len(c.Files) == 0 {
		addArgs = append(addArgs, "-A")
	} else {
		addArgs = append(addArgs, "--")
		addArgs = append(addArgs, c.Files...)
	}
	if _, err := g.run(ctx, addArgs...); err != nil {
		return err
	}
	if _, err := g.run(ctx, "commit", "-m", c.Message); err != nil {
		return err
	}
	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return err
	}
	res.CommitSHA = sha
	res.Success = true
	return nil
}

// gitBranch snapshots any dirty working tree with a generated commit, moves
// to the base branch when one is given, then creates and switches to the new
// branch.
func (e *Executor) gitBranch(ctx context.Context, rc *run.Context, g *gitRunner, c GitConfig, res *GitResult) error {
	if c.Branch == "" {
		return fmt.Errorf("git branch requires a branch name")
	}
	dirty, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if dirty != "" {
		if _, err := g.run(ctx, "add", "-A"); err != nil {
			return err
		}
		msg := fmt.Sprintf("wip: snapshot working tree before %s", c.Branch)
		if _, err := g.run(ctx, "commit", "-m", msg); err != nil {
			return err
		}
	}
	if c.BaseBranch != "" {
		if _, err := g.run(ctx, "checkout", c.BaseBranch); err != nil {
			return err
		}
	}
	if _, err := g.run(ctx, "checkout", "-b", c.Branch); err != nil {
		return err
	}
	res.Branch = c.Branch
	res.Success = true
	rc.Run.BranchName = c.Branch
	if err := rc.Runs.Update(ctx, rc.Run); err != nil {
		logger.FromContext(ctx).Warn("Recording run branch name", "branch", c.Branch, "error", err)
	}
	return nil
}

// gitMerge attempts the merge; a conflicted merge is aborted and reported as
// a non-error result so the workflow can decide what to do next.
func (e *Executor) gitMerge(ctx context.Context, g *gitRunner, c GitConfig, res *GitResult) error {
	if c.MergeBranch == "" {
		return fmt.Errorf("git merge requires merge_branch")
	}
	if _, err := g.run(ctx, "merge", "--no-edit", c.MergeBranch); err == nil {
		sha, shaErr := g.run(ctx, "rev-parse", "HEAD")
		if shaErr != nil {
			return shaErr
		}
		res.CommitSHA = sha
		res.Success = true
		return nil
	}
	conflicted, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return err
	}
	if conflicted == "" {
		return fmt.Errorf("git merge of %s failed without conflicts", c.MergeBranch)
	}
	if _, err := g.run(ctx, "merge", "--abort"); err != nil {
		return err
	}
	res.Success = false
	res.Conflicts = strings.Split(conflicted, "\n")
	res.Message = fmt.Sprintf("merge of %s aborted: %d conflicting files", c.MergeBranch, len(res.Conflicts))
	return nil
}

func (e *Executor) gitPR(ctx context.Context, g *gitRunner, c GitConfig, res *GitResult) error {
	if e.GitHubToken == "" {
		return fmt.Errorf("git pr requires a configured GitHub token")
	}
	branch, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return err
	}
	remote, err := g.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		return err
	}
	owner, repo, err := parseGitHubRemote(remote)
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, "push", "-u", "origin", branch); err != nil {
		return err
	}
	base := c.PRBase
	if base == "" {
		base = "main"
	}
	client := github.NewClient(oauth2.NewClient(ctx,
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: e.GitHubToken})))
	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(c.PRTitle),
		Body:  github.Ptr(c.PRBody),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return fmt.Errorf("creating pull request on %s/%s: %w", owner, repo, err)
	}
	res.Branch = branch
	res.PRNumber = pr.GetNumber()
	res.PRURL = pr.GetHTMLURL()
	res.Success = true
	return nil
}

// parseGitHubRemote extracts owner/repo from ssh and https remote URLs.
func parseGitHubRemote(remote string) (string, string, error) {
	trimmed := strings.TrimSuffix(remote, ".git")
	switch {
	case strings.HasPrefix(trimmed, "git@"):
		_, after, ok := strings.Cut(trimmed, ":")
		if !ok {
			break
		}
		trimmed = after
	case strings.Contains(trimmed, "://"):
		_, after, _ := strings.Cut(trimmed, "://")
		parts := strings.SplitN(after, "/", 2)
		if len(parts) != 2 {
			break
		}
		trimmed = parts[1]
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("remote %q is not a recognizable owner/repo URL", remote)
	}
	return parts[0], parts[1], nil
}
