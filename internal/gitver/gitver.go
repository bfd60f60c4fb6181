// Package gitver answers the verification questions bmadloop asks of git:
// is there a commit for this story, and is the working tree a repository
// at all.
package gitver

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"bmadloop/internal/domain"
)

// commitLogDepth bounds how far back the commit scan looks. Story commits
// land at the tip; a deep scan would only slow verification down.
const commitLogDepth = 100

// CommitPattern returns the regexp a story's commit subject must match:
// a feat or fix commit scoped to story work that mentions the identifier.
func CommitPattern(id domain.StoryID) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?m)^\w+ (feat|fix)\(story\):.*\b%d-%d\b`, id.Epic, id.Seq))
}

// MatchesCommitLog reports whether a oneline git log contains a commit
// for the story.
func MatchesCommitLog(log string, id domain.StoryID) bool {
	return CommitPattern(id).MatchString(log)
}

// HasCommitMatching runs git log in workDir and reports whether a commit
// for the story exists. A missing repository reports false without error;
// verification treats it as a failed check, not a fault.
func HasCommitMatching(ctx context.Context, workDir string, id domain.StoryID) (bool, error) {
	if !IsGitRepo(workDir) {
		return false, nil
	}
	cmd := exec.CommandContext(ctx, "git", "log", "--oneline", fmt.Sprintf("-%d", commitLogDepth))
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("git log: %w", err)
	}
	return MatchesCommitLog(string(output), id), nil
}

// IsGitRepo checks if the directory is inside a git work tree.
func IsGitRepo(workDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// Branch gets the current branch name.
func Branch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}
